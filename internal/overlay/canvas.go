// Package overlay draws the diagnostic view: the source frame, the detected
// skeleton, a bounding box and a HUD with the rep count.
package overlay

import (
	"image"
	"image/color"

	"github.com/claude/repcam/internal/capture"
)

// Canvas is a drawing surface. A negative thickness fills the shape.
type Canvas interface {
	DrawFrame(frame capture.Frame) error
	Line(from, to image.Point, c color.RGBA, thickness int)
	Circle(center image.Point, radius int, c color.RGBA, thickness int)
	Rect(r image.Rectangle, c color.RGBA, thickness int)
	Text(s string, at image.Point, scale float64, c color.RGBA, thickness int)
}

// Style holds colors and sizes used by the Renderer.
type Style struct {
	LineThickness int
	JointRadius   int
	BoxPadding    int
	TextScale     float64

	SkeletonColor color.RGBA
	JointColor    color.RGBA
	BoxColor      color.RGBA
	TextColor     color.RGBA
	WarnColor     color.RGBA
	PanelColor    color.RGBA
}

// DefaultStyle returns the stock overlay style.
func DefaultStyle() Style {
	return Style{
		LineThickness: 2,
		JointRadius:   4,
		BoxPadding:    12,
		TextScale:     0.6,
		SkeletonColor: color.RGBA{R: 0, G: 220, B: 255, A: 255},
		JointColor:    color.RGBA{R: 255, G: 80, B: 80, A: 255},
		BoxColor:      color.RGBA{R: 80, G: 255, B: 120, A: 255},
		TextColor:     color.RGBA{R: 255, G: 255, B: 255, A: 255},
		WarnColor:     color.RGBA{R: 255, G: 200, B: 0, A: 255},
		PanelColor:    color.RGBA{R: 20, G: 20, B: 20, A: 255},
	}
}
