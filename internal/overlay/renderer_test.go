package overlay

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/pose"
)

type op struct {
	kind string
	a, b image.Point
	text string
	fill bool
}

type recordingCanvas struct {
	frameErr error
	frames   int
	ops      []op
}

func (c *recordingCanvas) DrawFrame(capture.Frame) error {
	c.frames++
	return c.frameErr
}

func (c *recordingCanvas) Line(from, to image.Point, _ color.RGBA, _ int) {
	c.ops = append(c.ops, op{kind: "line", a: from, b: to})
}

func (c *recordingCanvas) Circle(center image.Point, _ int, _ color.RGBA, thickness int) {
	c.ops = append(c.ops, op{kind: "circle", a: center, fill: thickness < 0})
}

func (c *recordingCanvas) Rect(r image.Rectangle, _ color.RGBA, thickness int) {
	c.ops = append(c.ops, op{kind: "rect", a: r.Min, b: r.Max, fill: thickness < 0})
}

func (c *recordingCanvas) Text(s string, at image.Point, _ float64, _ color.RGBA, _ int) {
	c.ops = append(c.ops, op{kind: "text", a: at, text: s})
}

func (c *recordingCanvas) count(kind string) int {
	n := 0
	for _, o := range c.ops {
		if o.kind == kind {
			n++
		}
	}
	return n
}

func (c *recordingCanvas) hasText(sub string) bool {
	for _, o := range c.ops {
		if o.kind == "text" && strings.Contains(o.text, sub) {
			return true
		}
	}
	return false
}

var frame = capture.Frame{Width: 640, Height: 480}

// TestRenderNoPose verifies the advisory text and HUD are drawn without a pose.
func TestRenderNoPose(t *testing.T) {
	c := &recordingCanvas{}
	r := NewRenderer(c, DefaultStyle())

	if err := r.Render(frame, nil, HUD{Technique: "jab", Reps: 3, State: "resting"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if c.frames != 1 {
		t.Errorf("frames = %d, want 1", c.frames)
	}
	if !c.hasText(NoSkeletonText) {
		t.Error("advisory text missing")
	}
	if c.count("line") != 0 || c.count("circle") != 0 {
		t.Errorf("drew skeleton without a pose: %+v", c.ops)
	}
	if !c.hasText("JAB") || !c.hasText("reps 3") || !c.hasText("resting") {
		t.Errorf("HUD incomplete: %+v", c.ops)
	}
}

// TestRenderInvisiblePose verifies a pose with no visible keypoint is treated
// like no pose.
func TestRenderInvisiblePose(t *testing.T) {
	c := &recordingCanvas{}
	r := NewRenderer(c, DefaultStyle())

	p := pose.New(time.Now())
	p.Set(pose.Keypoint{Joint: pose.Nose, X: 10, Y: 10, Confidence: 0.1})

	if err := r.Render(frame, &p, HUD{Technique: "jab"}); err != nil {
		t.Fatal(err)
	}
	if !c.hasText(NoSkeletonText) {
		t.Error("advisory text missing")
	}
	if c.count("circle") != 0 {
		t.Error("drew an invisible keypoint")
	}
}

// TestRenderSkeleton verifies bones need both endpoints visible and every
// visible keypoint gets a marker.
func TestRenderSkeleton(t *testing.T) {
	c := &recordingCanvas{}
	r := NewRenderer(c, DefaultStyle())

	p := pose.New(time.Now())
	p.Set(pose.Keypoint{Joint: pose.LeftShoulder, X: 300, Y: 200, Confidence: 0.9})
	p.Set(pose.Keypoint{Joint: pose.LeftElbow, X: 260.4, Y: 210.6, Confidence: 0.8})
	p.Set(pose.Keypoint{Joint: pose.LeftWrist, X: 220, Y: 200, Confidence: 0.05})

	if err := r.Render(frame, &p, HUD{Technique: "jab", Reps: 1}); err != nil {
		t.Fatal(err)
	}

	if got := c.count("line"); got != 1 {
		t.Fatalf("lines = %d, want 1 (shoulder-elbow only)", got)
	}
	for _, o := range c.ops {
		if o.kind == "line" && (o.b != image.Pt(260, 211) && o.a != image.Pt(260, 211)) {
			t.Errorf("unexpected bone %+v", o)
		}
	}
	if got := c.count("circle"); got != 2 {
		t.Errorf("markers = %d, want 2", got)
	}
	if c.hasText(NoSkeletonText) {
		t.Error("advisory drawn with visible keypoints")
	}
	if !c.hasText("conf 0.85") {
		t.Errorf("confidence label missing: %+v", c.ops)
	}

	var box *op
	for i := range c.ops {
		if c.ops[i].kind == "rect" && !c.ops[i].fill {
			box = &c.ops[i]
		}
	}
	if box == nil {
		t.Fatal("bounding box missing")
	}
	if box.a.X > 260 || box.b.X < 300 {
		t.Errorf("box %v-%v does not cover keypoints", box.a, box.b)
	}
}

func TestRenderFrameError(t *testing.T) {
	c := &recordingCanvas{frameErr: errors.New("bad buffer")}
	r := NewRenderer(c, DefaultStyle())

	if err := r.Render(frame, nil, HUD{}); err == nil {
		t.Fatal("expected error")
	}
	if len(c.ops) != 0 {
		t.Errorf("drew %d ops after frame error", len(c.ops))
	}
}
