// Package loop drives one camera session: frames in, poses estimated, reps
// counted, overlay rendered, reps recorded.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/detector"
	"github.com/claude/repcam/internal/models"
	"github.com/claude/repcam/internal/overlay"
	"github.com/claude/repcam/internal/pose"
	"github.com/claude/repcam/internal/session"
	"github.com/claude/repcam/internal/telemetry"
)

// ErrBusy is returned by Start when a session is already starting, running
// or stopping.
var ErrBusy = errors.New("capture loop busy")

const defaultFinishTimeout = 10 * time.Second

// State is the loop lifecycle.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FrameSource delivers camera frames.
type FrameSource interface {
	Open(ctx context.Context, c capture.Constraints) error
	Next(ctx context.Context) (capture.Frame, error)
	Close() error
}

// PoseEstimator turns frames into at most one pose.
type PoseEstimator interface {
	Initialize(ctx context.Context) error
	Estimate(ctx context.Context, frame capture.Frame) (*pose.Pose, error)
	Dispose() error
}

// Renderer composes the overlay for one tick.
type Renderer interface {
	Render(frame capture.Frame, p *pose.Pose, hud overlay.HUD) error
}

// Recorder owns the session lifecycle against persistence.
type Recorder interface {
	Start(ctx context.Context, technique string, identity *session.Identity) session.Session
	RecordRep(ev detector.RepEvent)
	Finish(ctx context.Context, s session.Session, totalReps int) error
}

// Publisher streams live events. Calls must not block.
type Publisher interface {
	PublishRep(ev detector.RepEvent, count int)
	PublishState(msg telemetry.StateMessage)
}

// SourceStats is implemented by frame sources that count captured and
// dropped frames.
type SourceStats interface {
	Stats() capture.Stats
}

// PublisherStats is implemented by publishers that count their messages.
type PublisherStats interface {
	Stats() telemetry.Stats
}

// Config tunes a Loop.
type Config struct {
	Constraints capture.Constraints
	// Margins overrides the detector margin per technique name.
	Margins       map[string]float64
	FinishTimeout time.Duration
}

// Summary describes the most recently finished session.
type Summary = models.LastSession

// Status is a point-in-time snapshot of the loop.
type Status = models.LiveStatus

// run holds everything acquired for one session. Fields written by the start
// sequence or the tick goroutine are guarded by Loop.mu.
type run struct {
	technique detector.Technique
	detector  *detector.RepDetector

	session    session.Session
	hasSession bool
	startedAt  time.Time

	reps          int
	detectorState detector.State
	ticks         uint64
	noPose        uint64
	estimateErrs  uint64
	renderErrs    uint64
}

// Loop is the capture loop. Start and Stop may be called from any goroutine.
type Loop struct {
	cfg       Config
	source    FrameSource
	estimator PoseEstimator
	renderer  Renderer
	recorder  Recorder
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	run       *run
	last      *Summary
	cancel    context.CancelFunc
	startDone chan struct{}
	tickDone  chan struct{}
	stopped   chan struct{}
}

// New creates an idle loop. renderer and publisher may be nil.
func New(cfg Config, source FrameSource, estimator PoseEstimator, renderer Renderer, recorder Recorder, publisher Publisher, logger *slog.Logger) *Loop {
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = defaultFinishTimeout
	}
	return &Loop{
		cfg:       cfg,
		source:    source,
		estimator: estimator,
		renderer:  renderer,
		recorder:  recorder,
		publisher: publisher,
		log:       logger,
		now:       time.Now,
	}
}

// Start acquires the camera, loads the model, opens a session and begins
// ticking. It returns once ticking has begun. On failure everything acquired
// so far is released and the error wraps capture.ErrAcquisition or
// estimator.ErrModelLoad.
func (l *Loop) Start(ctx context.Context, technique string, identity *session.Identity) error {
	tech, err := detector.Lookup(technique)
	if err != nil {
		return err
	}
	if m, ok := l.cfg.Margins[tech.Name]; ok {
		tech = tech.WithMargin(m)
	}

	l.mu.Lock()
	if l.state != Idle {
		l.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{technique: tech, startedAt: l.now()}
	l.state = Starting
	l.run = r
	l.cancel = cancel
	l.startDone = make(chan struct{})
	l.tickDone = nil
	l.mu.Unlock()

	// The caller's context bounds the start sequence only.
	stopAfter := context.AfterFunc(ctx, cancel)
	err = l.startSequence(runCtx, r, identity)
	stopAfter()

	l.mu.Lock()
	stopping := l.state == Stopping
	if err == nil && !stopping {
		l.state = Running
		l.tickDone = make(chan struct{})
		go l.tick(runCtx, r, l.tickDone)
		close(l.startDone)
		l.mu.Unlock()

		l.log.Info("capture loop running", "technique", tech.Name, "session_id", r.session.ID)
		l.publishState(r, "running")
		return nil
	}
	if !stopping {
		// Concurrent Stop calls wait for this release.
		l.state = Stopping
		l.stopped = make(chan struct{})
	}
	close(l.startDone)
	l.mu.Unlock()

	if stopping {
		// Stop owns the release.
		if err == nil {
			err = fmt.Errorf("start interrupted: %w", context.Canceled)
		}
		return err
	}

	cancel()
	l.log.Warn("capture loop start failed", "technique", tech.Name, "error", err)
	if relErr := l.release(r); relErr != nil {
		l.log.Warn("releasing after failed start", "error", relErr)
	}
	l.mu.Lock()
	l.state = Idle
	l.run = nil
	close(l.stopped)
	l.mu.Unlock()
	return err
}

func (l *Loop) startSequence(ctx context.Context, r *run, identity *session.Identity) error {
	if err := l.source.Open(ctx, l.cfg.Constraints); err != nil {
		return fmt.Errorf("opening frame source: %w", err)
	}
	if err := l.estimator.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing pose estimator: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	s := l.recorder.Start(ctx, r.technique.Name, identity)
	det := detector.New(s.ID, r.technique)

	l.mu.Lock()
	r.session = s
	r.hasSession = true
	r.detector = det
	r.detectorState = det.State()
	l.mu.Unlock()
	return nil
}

// Stop ends the current session. It may be called at any time, including
// during Start. It returns after the camera is released, the model disposed
// and the session finalized. Calling Stop while idle is a no-op; concurrent
// calls wait for the first one to complete.
func (l *Loop) Stop(ctx context.Context) error {
	return l.stop(ctx, nil)
}

// stopRun stops r only if it is still the current run.
func (l *Loop) stopRun(ctx context.Context, r *run) error {
	return l.stop(ctx, r)
}

func (l *Loop) stop(ctx context.Context, only *run) error {
	l.mu.Lock()
	if only != nil && l.run != only {
		l.mu.Unlock()
		return nil
	}
	switch l.state {
	case Idle:
		l.mu.Unlock()
		return nil
	case Stopping:
		stopped := l.stopped
		l.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.state = Stopping
	l.stopped = make(chan struct{})
	cancel, startDone, r := l.cancel, l.startDone, l.run
	l.mu.Unlock()

	cancel()
	<-startDone

	l.mu.Lock()
	tickDone := l.tickDone
	l.mu.Unlock()
	if tickDone != nil {
		<-tickDone
	}

	err := l.release(r)

	l.mu.Lock()
	if r.hasSession {
		l.last = &Summary{
			SessionID:  r.session.ID,
			Technique:  r.session.Technique,
			Local:      !r.session.Remote,
			Reps:       r.reps,
			StartedAt:  r.startedAt,
			FinishedAt: l.now(),
		}
	}
	l.state = Idle
	l.run = nil
	l.tickDone = nil
	close(l.stopped)
	l.mu.Unlock()

	l.log.Info("capture loop stopped", "reps", r.reps, "ticks", r.ticks)
	return err
}

// release closes the source, disposes the estimator and finalizes the session.
// Every step runs even when an earlier one fails.
func (l *Loop) release(r *run) error {
	var errs []error
	if err := l.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing frame source: %w", err))
	}
	if err := l.estimator.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("disposing pose estimator: %w", err))
	}

	if r.hasSession {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FinishTimeout)
		defer cancel()
		if err := l.recorder.Finish(ctx, r.session, r.reps); err != nil {
			l.log.Error("finalizing session", "session_id", r.session.ID, "error", err)
		}
		l.publishState(r, "stopped")
	}
	return errors.Join(errs...)
}

func (l *Loop) tick(ctx context.Context, r *run, done chan<- struct{}) {
	defer close(done)
	for {
		frame, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, capture.ErrClosed) {
				l.log.Info("frame source ended", "session_id", r.session.ID)
			} else {
				l.log.Error("frame source failed", "session_id", r.session.ID, "error", err)
			}
			go func() {
				if err := l.stopRun(context.Background(), r); err != nil {
					l.log.Warn("stopping after end of stream", "error", err)
				}
			}()
			return
		}
		l.step(ctx, r, frame)
	}
}

func (l *Loop) step(ctx context.Context, r *run, frame capture.Frame) {
	var estimateFailed, renderFailed bool

	p, err := l.estimator.Estimate(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		estimateFailed = true
		p = nil
		l.log.Debug("pose estimation failed", "seq", frame.Seq, "trace_id", frame.TraceID, "error", err)
	}

	at := frame.Timestamp
	if at.IsZero() {
		at = l.now()
	}
	ev, rep := r.detector.Update(p, at)
	count, state := r.detector.Count(), r.detector.State()

	if l.renderer != nil {
		hud := overlay.HUD{Technique: r.technique.Name, Reps: count, State: state.String()}
		if err := l.renderer.Render(frame, p, hud); err != nil {
			renderFailed = true
			l.log.Debug("overlay render failed", "seq", frame.Seq, "error", err)
		}
	}

	l.mu.Lock()
	r.ticks++
	if p == nil {
		r.noPose++
	}
	if estimateFailed {
		r.estimateErrs++
	}
	if renderFailed {
		r.renderErrs++
	}
	r.reps = count
	r.detectorState = state
	l.mu.Unlock()

	if rep {
		l.log.Info("rep counted", "session_id", ev.SessionID, "technique", ev.Technique, "count", count)
		l.recorder.RecordRep(ev)
		if l.publisher != nil {
			l.publisher.PublishRep(ev, count)
		}
	}
}

func (l *Loop) publishState(r *run, state string) {
	if l.publisher == nil {
		return
	}
	l.mu.Lock()
	msg := telemetry.StateMessage{
		SessionID: r.session.ID,
		Technique: r.technique.Name,
		State:     state,
		Reps:      r.reps,
		Local:     !r.session.Remote,
		At:        l.now(),
	}
	l.mu.Unlock()
	l.publisher.PublishState(msg)
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns a snapshot of the loop and the running session, if any.
// Frame counters are reported while running; publisher counters always.
func (l *Loop) Status() Status {
	st, running := l.status()

	// Source and publisher take their own locks, so they are read after l.mu
	// is released.
	if running {
		if ss, ok := l.source.(SourceStats); ok {
			fs := ss.Stats()
			st.FramesCaptured = fs.FramesCaptured
			st.FramesDropped = fs.FramesDropped
		}
	}
	if ps, ok := l.publisher.(PublisherStats); ok {
		ts := ps.Stats()
		st.Telemetry = &models.Telemetry{
			Connected: ts.Connected,
			Published: ts.Published,
			Errors:    ts.Errors,
		}
	}
	return st
}

func (l *Loop) status() (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{State: l.state.String(), Last: l.last}
	r := l.run
	if r == nil {
		return st, false
	}
	startedAt := r.startedAt
	st.Technique = r.technique.Name
	st.StartedAt = &startedAt
	st.Ticks = r.ticks
	st.FramesWithoutPose = r.noPose
	st.EstimationErrors = r.estimateErrs
	st.RenderErrors = r.renderErrs
	st.Reps = r.reps
	if r.hasSession {
		st.SessionID = r.session.ID
		st.Local = !r.session.Remote
		st.DetectorState = r.detectorState.String()
	}
	return st, l.state == Running
}
