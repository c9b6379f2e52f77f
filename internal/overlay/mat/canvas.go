// Package mat renders overlays onto OpenCV matrices and publishes them to a
// desktop window or an in-memory JPEG snapshot.
package mat

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/claude/repcam/internal/capture"
)

// Canvas implements overlay.Canvas on a BGR gocv.Mat.
type Canvas struct {
	mat gocv.Mat
}

// NewCanvas allocates an empty canvas. Call Close to free the native memory.
func NewCanvas() *Canvas {
	return &Canvas{mat: gocv.NewMat()}
}

// DrawFrame replaces the canvas content with the RGB frame.
func (c *Canvas) DrawFrame(frame capture.Frame) error {
	if want := frame.Width * frame.Height * 3; want == 0 || len(frame.Data) != want {
		return fmt.Errorf("frame %d: %d bytes for %dx%d RGB", frame.Seq, len(frame.Data), frame.Width, frame.Height)
	}

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return fmt.Errorf("wrapping frame %d: %w", frame.Seq, err)
	}
	defer src.Close()

	gocv.CvtColor(src, &c.mat, gocv.ColorRGBToBGR)
	return nil
}

// Line draws a segment between two points.
func (c *Canvas) Line(from, to image.Point, col color.RGBA, thickness int) {
	gocv.Line(&c.mat, from, to, col, thickness)
}

// Circle draws a circle; a negative thickness fills it.
func (c *Canvas) Circle(center image.Point, radius int, col color.RGBA, thickness int) {
	gocv.Circle(&c.mat, center, radius, col, thickness)
}

// Rect draws the outline of r.
func (c *Canvas) Rect(r image.Rectangle, col color.RGBA, thickness int) {
	gocv.Rectangle(&c.mat, r, col, thickness)
}

// Text writes s with its baseline starting at at.
func (c *Canvas) Text(s string, at image.Point, scale float64, col color.RGBA, thickness int) {
	gocv.PutText(&c.mat, s, at, gocv.FontHersheySimplex, scale, col, thickness)
}

// Mat exposes the underlying matrix; it stays owned by the canvas.
func (c *Canvas) Mat() *gocv.Mat {
	return &c.mat
}

// Close frees the matrix.
func (c *Canvas) Close() error {
	return c.mat.Close()
}
