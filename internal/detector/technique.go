package detector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/claude/repcam/internal/pose"
)

// ErrUnknownTechnique is returned by Lookup for unregistered names.
var ErrUnknownTechnique = errors.New("unknown technique")

// DefaultMargin is the deadband in source pixels the wrist must clear past the
// shoulder before the arm counts as extended.
const DefaultMargin = 20.0

// Technique names the arm a rep is measured on.
type Technique struct {
	Name     string
	Shoulder pose.JointName
	Elbow    pose.JointName
	Wrist    pose.JointName
	Margin   float64
}

var techniques = map[string]Technique{
	"jab": {
		Name:     "jab",
		Shoulder: pose.LeftShoulder,
		Elbow:    pose.LeftElbow,
		Wrist:    pose.LeftWrist,
		Margin:   DefaultMargin,
	},
	"cross": {
		Name:     "cross",
		Shoulder: pose.RightShoulder,
		Elbow:    pose.RightElbow,
		Wrist:    pose.RightWrist,
		Margin:   DefaultMargin,
	},
}

// Lookup returns the technique registered under name.
func Lookup(name string) (Technique, error) {
	t, ok := techniques[name]
	if !ok {
		return Technique{}, fmt.Errorf("%w %q", ErrUnknownTechnique, name)
	}
	return t, nil
}

// Techniques returns the registered technique names in sorted order.
func Techniques() []string {
	names := make([]string, 0, len(techniques))
	for name := range techniques {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithMargin returns a copy of t using margin, or t unchanged when margin <= 0.
func (t Technique) WithMargin(margin float64) Technique {
	if margin > 0 {
		t.Margin = margin
	}
	return t
}
