package mat

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/overlay"
)

// TestOutputSnapshot renders a blank frame and checks a JPEG is published.
func TestOutputSnapshot(t *testing.T) {
	snap := NewSnapshot()
	if _, _, ok := snap.Latest(); ok {
		t.Fatal("snapshot populated before first render")
	}

	out := NewOutput(overlay.DefaultStyle(), snap)
	defer out.Close()

	if err := out.Render(capture.Blank(320, 240), nil, overlay.HUD{Technique: "jab", Reps: 2}); err != nil {
		t.Fatalf("Render: %v", err)
	}

	jpeg, takenAt, ok := snap.Latest()
	if !ok {
		t.Fatal("no snapshot after render")
	}
	if !bytes.HasPrefix(jpeg, []byte{0xff, 0xd8}) {
		t.Errorf("snapshot is not a JPEG: % x", jpeg[:4])
	}
	if takenAt.IsZero() {
		t.Error("takenAt not set")
	}
}

// TestCanvasRejectsShortFrame verifies a frame whose buffer does not match its
// dimensions is refused before touching OpenCV.
func TestCanvasRejectsShortFrame(t *testing.T) {
	c := NewCanvas()
	defer c.Close()

	f := capture.Frame{Width: 10, Height: 10, Data: make([]byte, 10)}
	if err := c.DrawFrame(f); err == nil {
		t.Error("expected error")
	}
}

// TestCanvasPrimitives draws each primitive on a black frame and checks the
// pixels under it changed.
func TestCanvasPrimitives(t *testing.T) {
	c := NewCanvas()
	defer c.Close()

	if err := c.DrawFrame(capture.Blank(60, 60)); err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	c.Line(image.Pt(0, 5), image.Pt(59, 5), white, 1)
	c.Circle(image.Pt(15, 30), 4, white, -1)
	c.Rect(image.Rect(40, 40, 55, 55), white, -1)
	c.Text("7", image.Pt(30, 30), 1, white, 2)

	lit := func(x, y int) bool {
		v := c.Mat().GetVecbAt(y, x)
		return v[0] != 0 || v[1] != 0 || v[2] != 0
	}
	for _, pt := range []image.Point{{30, 5}, {15, 30}, {47, 47}} {
		if !lit(pt.X, pt.Y) {
			t.Errorf("pixel %v not drawn", pt)
		}
	}
	if lit(58, 20) {
		t.Error("untouched pixel changed")
	}
}
