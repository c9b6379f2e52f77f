package mat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/overlay"
	"github.com/claude/repcam/internal/pose"
)

// Presenter publishes a finished overlay.
type Presenter interface {
	Present(m *gocv.Mat) error
}

// Output renders onto its own Canvas and hands each result to the presenters.
type Output struct {
	mu         sync.Mutex
	canvas     *Canvas
	renderer   *overlay.Renderer
	presenters []Presenter
}

// NewOutput creates an Output using style.
func NewOutput(style overlay.Style, presenters ...Presenter) *Output {
	canvas := NewCanvas()
	return &Output{
		canvas:     canvas,
		renderer:   overlay.NewRenderer(canvas, style),
		presenters: presenters,
	}
}

// Render draws one overlay and presents it.
func (o *Output) Render(frame capture.Frame, p *pose.Pose, hud overlay.HUD) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.renderer.Render(frame, p, hud); err != nil {
		return err
	}

	var errs []error
	for _, pr := range o.presenters {
		if err := pr.Present(o.canvas.Mat()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close frees the canvas.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canvas.Close()
}

// Snapshot keeps the latest overlay encoded as JPEG.
type Snapshot struct {
	mu      sync.RWMutex
	jpeg    []byte
	takenAt time.Time
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Present encodes m as JPEG and replaces the held snapshot.
func (s *Snapshot) Present(m *gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *m)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	s.mu.Lock()
	s.jpeg = data
	s.takenAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Latest returns the most recent JPEG and when it was taken. ok is false before
// the first overlay.
func (s *Snapshot) Latest() (jpeg []byte, takenAt time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg, s.takenAt, s.jpeg != nil
}

// Window shows overlays in a desktop window.
type Window struct {
	win *gocv.Window
}

// NewWindow opens a window titled name.
func NewWindow(name string) *Window {
	return &Window{win: gocv.NewWindow(name)}
}

// Present shows m and pumps the window event loop once.
func (w *Window) Present(m *gocv.Mat) error {
	w.win.IMShow(*m)
	w.win.WaitKey(1)
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}
