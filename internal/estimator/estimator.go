// Package estimator owns the pose model lifecycle and turns frames into poses.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/pose"
)

var (
	// ErrModelLoad means the model could not be configured, loaded or warmed up.
	ErrModelLoad = errors.New("pose model load failed")
	// ErrEstimation means a single inference call failed.
	ErrEstimation = errors.New("pose estimation failed")
	// ErrNotReady is returned by Estimate outside the Ready state.
	ErrNotReady = errors.New("pose estimator not ready")
)

// State is the estimator lifecycle stage.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ModelSpec names the model and where it runs.
type ModelSpec struct {
	Model     string
	Device    string
	InputSize int
}

// Candidate is one person detected in a frame.
type Candidate struct {
	Score float64
	Pose  pose.Pose
}

// Backend performs inference. Implementations need not be safe for concurrent
// Infer calls.
type Backend interface {
	Load(ctx context.Context, spec ModelSpec) error
	Infer(ctx context.Context, frame capture.Frame) ([]Candidate, error)
	Close() error
}

// Config controls model loading and pose selection.
type Config struct {
	Model        ModelSpec
	WarmupRuns   int
	MinPoseScore float64
}

// Estimator wraps a Backend with the Uninitialized -> Loading -> Ready ->
// Disposed lifecycle. A disposed estimator may be initialized again.
type Estimator struct {
	backend Backend
	cfg     Config
	log     *slog.Logger

	mu    sync.Mutex
	state State
	// gen changes on every Initialize and Dispose so a load that lost a race
	// with Dispose can tell.
	gen uint64
}

// New creates an Uninitialized estimator.
func New(backend Backend, cfg Config, logger *slog.Logger) *Estimator {
	if cfg.WarmupRuns < 1 {
		cfg.WarmupRuns = 1
	}
	if cfg.Model.InputSize <= 0 {
		cfg.Model.InputSize = 256
	}
	return &Estimator{backend: backend, cfg: cfg, log: logger}
}

// State returns the current lifecycle stage.
func (e *Estimator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Initialize loads the model and runs the warm-up inferences. On failure the
// estimator returns to Uninitialized and the error wraps ErrModelLoad.
func (e *Estimator) Initialize(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case Ready:
		e.mu.Unlock()
		return nil
	case Loading:
		e.mu.Unlock()
		return fmt.Errorf("%w: initialization already in progress", ErrModelLoad)
	}
	e.state = Loading
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	e.log.Info("loading pose model",
		"model", e.cfg.Model.Model,
		"device", e.cfg.Model.Device,
		"warmup_runs", e.cfg.WarmupRuns,
	)

	err := e.load(ctx)

	e.mu.Lock()
	current := e.state == Loading && e.gen == gen
	if current {
		if err != nil {
			e.state = Uninitialized
		} else {
			e.state = Ready
		}
	}
	e.mu.Unlock()

	if err != nil {
		if closeErr := e.backend.Close(); closeErr != nil {
			e.log.Warn("closing backend after failed load", "error", closeErr)
		}
		return fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if !current {
		// Dispose ran while loading.
		if closeErr := e.backend.Close(); closeErr != nil {
			e.log.Warn("closing backend after cancelled load", "error", closeErr)
		}
		return fmt.Errorf("%w: disposed during initialization", ErrModelLoad)
	}

	e.log.Info("pose model ready", "model", e.cfg.Model.Model)
	return nil
}

func (e *Estimator) load(ctx context.Context) error {
	if err := e.backend.Load(ctx, e.cfg.Model); err != nil {
		return err
	}

	blank := capture.Blank(e.cfg.Model.InputSize, e.cfg.Model.InputSize)
	for i := 0; i < e.cfg.WarmupRuns; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.backend.Infer(ctx, blank); err != nil {
			return fmt.Errorf("warm-up run %d: %w", i+1, err)
		}
	}
	return nil
}

// Estimate returns the highest-scoring pose in frame, or nil when no candidate
// reaches MinPoseScore.
func (e *Estimator) Estimate(ctx context.Context, frame capture.Frame) (*pose.Pose, error) {
	if s := e.State(); s != Ready {
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, s)
	}

	candidates, err := e.backend.Infer(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %w", ErrEstimation, frame.Seq, err)
	}

	best := -1
	for i, c := range candidates {
		if c.Score < e.cfg.MinPoseScore {
			continue
		}
		if best < 0 || c.Score > candidates[best].Score {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	p := candidates[best].Pose
	p.Score = candidates[best].Score
	p.Timestamp = frame.Timestamp
	return &p, nil
}

// Dispose releases the backend. It is idempotent and safe to call during or
// after a failed Initialize.
func (e *Estimator) Dispose() error {
	e.mu.Lock()
	prev := e.state
	if prev == Disposed {
		e.mu.Unlock()
		return nil
	}
	e.state = Disposed
	e.gen++
	e.mu.Unlock()

	if prev == Uninitialized {
		return nil
	}
	if err := e.backend.Close(); err != nil {
		return fmt.Errorf("closing pose backend: %w", err)
	}
	e.log.Info("pose model disposed")
	return nil
}
