// Package features derives geometric measurements from a pose.
//
// Every function is pure. Measurements that depend on an invisible keypoint
// report ok == false instead of a number; callers treat that as "no signal
// this tick", never as zero.
package features

import (
	"image"
	"math"

	"github.com/claude/repcam/internal/pose"
)

// VisibilityThreshold is the minimum confidence for a keypoint to count as present.
const VisibilityThreshold = 0.2

// IsVisible reports whether k is confident enough to be used.
func IsVisible(k pose.Keypoint) bool {
	return k.Confidence >= VisibilityThreshold
}

// AngleAt returns the angle in degrees at vertex between the rays to a and b.
// A zero-length ray yields 0.
func AngleAt(vertex, a, b pose.Keypoint) float64 {
	ax, ay := a.X-vertex.X, a.Y-vertex.Y
	bx, by := b.X-vertex.X, b.Y-vertex.Y

	magA := math.Hypot(ax, ay)
	magB := math.Hypot(bx, by)
	if magA == 0 || magB == 0 {
		return 0
	}

	cos := (ax*bx + ay*by) / (magA * magB)
	// rounding can push cos just outside [-1, 1]
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// JointAngle measures the angle at vertex formed with joints a and b.
func JointAngle(p *pose.Pose, a, vertex, b pose.JointName) (float64, bool) {
	if p == nil {
		return 0, false
	}
	ka, kv, kb := p.Get(a), p.Get(vertex), p.Get(b)
	if !IsVisible(ka) || !IsVisible(kv) || !IsVisible(kb) {
		return 0, false
	}
	return AngleAt(kv, ka, kb), true
}

// Displacement returns the vector from joint from to joint to.
func Displacement(p *pose.Pose, from, to pose.JointName) (dx, dy float64, ok bool) {
	if p == nil {
		return 0, 0, false
	}
	kf, kt := p.Get(from), p.Get(to)
	if !IsVisible(kf) || !IsVisible(kt) {
		return 0, 0, false
	}
	return kt.X - kf.X, kt.Y - kf.Y, true
}

// Bounds summarizes the visible keypoints of a pose.
type Bounds struct {
	Rect          image.Rectangle
	AvgConfidence float64
	Visible       int
}

// VisibleBounds returns the box spanning all visible keypoints and their mean
// confidence. Visible is zero when nothing is visible (or p is nil).
func VisibleBounds(p *pose.Pose) Bounds {
	var b Bounds
	if p == nil {
		return b
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	var sum float64
	for _, k := range p.Keypoints {
		if !IsVisible(k) {
			continue
		}
		b.Visible++
		sum += k.Confidence
		minX, minY = math.Min(minX, k.X), math.Min(minY, k.Y)
		maxX, maxY = math.Max(maxX, k.X), math.Max(maxY, k.Y)
	}
	if b.Visible == 0 {
		return b
	}

	b.AvgConfidence = sum / float64(b.Visible)
	b.Rect = image.Rect(int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX)), int(math.Ceil(maxY)))
	return b
}
