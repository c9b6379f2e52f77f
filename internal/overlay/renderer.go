package overlay

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/features"
	"github.com/claude/repcam/internal/pose"
)

// NoSkeletonText is drawn when no keypoint is visible.
const NoSkeletonText = "no skeleton detected"

// HUD is the session summary shown in the corner panel.
type HUD struct {
	Technique string
	Reps      int
	State     string
}

// Renderer composes one overlay per tick onto a Canvas.
type Renderer struct {
	canvas Canvas
	style  Style
}

// NewRenderer creates a renderer drawing onto canvas.
func NewRenderer(canvas Canvas, style Style) *Renderer {
	return &Renderer{canvas: canvas, style: style}
}

// Render draws frame, then the skeleton and box for p (which may be nil), then
// the HUD.
func (r *Renderer) Render(frame capture.Frame, p *pose.Pose, hud HUD) error {
	if err := r.canvas.DrawFrame(frame); err != nil {
		return fmt.Errorf("drawing frame: %w", err)
	}

	r.drawSkeleton(p)
	r.drawBounds(p, frame.Height)
	r.drawHUD(hud)
	return nil
}

func (r *Renderer) drawSkeleton(p *pose.Pose) {
	if p == nil {
		return
	}

	for _, edge := range pose.Skeleton {
		from, to := p.Get(edge.From), p.Get(edge.To)
		if !features.IsVisible(from) || !features.IsVisible(to) {
			continue
		}
		r.canvas.Line(point(from), point(to), r.style.SkeletonColor, r.style.LineThickness)
	}

	for _, k := range p.Keypoints {
		if !features.IsVisible(k) {
			continue
		}
		r.canvas.Circle(point(k), r.style.JointRadius, r.style.JointColor, -1)
	}
}

func (r *Renderer) drawBounds(p *pose.Pose, frameHeight int) {
	b := features.VisibleBounds(p)
	if b.Visible == 0 {
		r.canvas.Text(NoSkeletonText, image.Pt(16, frameHeight-16), r.style.TextScale, r.style.WarnColor, 2)
		return
	}

	box := b.Rect.Inset(-r.style.BoxPadding)
	r.canvas.Rect(box, r.style.BoxColor, r.style.LineThickness)
	label := fmt.Sprintf("conf %.2f", b.AvgConfidence)
	r.canvas.Text(label, image.Pt(box.Min.X, max(box.Min.Y-6, 14)), r.style.TextScale, r.style.BoxColor, 1)
}

func (r *Renderer) drawHUD(hud HUD) {
	panel := image.Rect(8, 8, 228, 92)
	r.canvas.Rect(panel, r.style.PanelColor, -1)

	technique := strings.ToUpper(hud.Technique)
	if technique == "" {
		technique = "-"
	}
	r.canvas.Text(technique, image.Pt(18, 32), r.style.TextScale, r.style.TextColor, 2)
	r.canvas.Text(fmt.Sprintf("reps %d", hud.Reps), image.Pt(18, 58), r.style.TextScale*1.4, r.style.TextColor, 2)
	if hud.State != "" {
		r.canvas.Text(hud.State, image.Pt(18, 82), r.style.TextScale*0.8, r.style.TextColor, 1)
	}
}

func point(k pose.Keypoint) image.Point {
	return image.Pt(int(math.Round(k.X)), int(math.Round(k.Y)))
}
