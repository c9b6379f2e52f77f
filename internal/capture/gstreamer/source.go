// Package gstreamer implements capture sources on GStreamer pipelines.
package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/claude/repcam/internal/capture"
)

const defaultFirstFrameTimeout = 10 * time.Second

// Config selects the video source.
type Config struct {
	// URI is one of v4l2://<device>, file://<path>, rtsp://<host>/<path> or
	// test://<pattern>.
	URI string
	// UserDevice and EnvironmentDevice back a v4l2:// URI without a device,
	// chosen by capture.Constraints.Facing.
	UserDevice        string
	EnvironmentDevice string
	FirstFrameTimeout time.Duration
}

// Source is a GStreamer pipeline feeding an RGB appsink.
type Source struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	box      *mailbox
	cancel   context.CancelFunc
	busDone  chan struct{}

	seq atomic.Uint64
}

// NewSource creates a closed source.
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = defaultFirstFrameTimeout
	}
	return &Source{cfg: cfg, log: logger}
}

// Open builds and starts the pipeline, then blocks until the first frame
// arrives. Every failure wraps capture.ErrAcquisition.
func (s *Source) Open(ctx context.Context, c capture.Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		return fmt.Errorf("%w: source already open", capture.ErrAcquisition)
	}

	launch, err := LaunchString(s.cfg, c)
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrAcquisition, err)
	}
	return s.openPipeline(ctx, launch, c)
}

// openPipeline starts launch and waits for its first frame. s.mu must be held.
func (s *Source) openPipeline(ctx context.Context, launch string, c capture.Constraints) error {
	gst.Init(nil)

	s.log.Debug("creating capture pipeline", "pipeline", launch)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("%w: creating pipeline: %w", capture.ErrAcquisition, err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("%w: finding appsink: %w", capture.ErrAcquisition, err)
	}
	sink := app.SinkFromElement(elem)

	box := newMailbox()
	width, height := c.Width, c.Height
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onSample(sink, box, width, height)
		},
		EOSFunc: func(*app.Sink) {
			box.end()
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("%w: starting pipeline: %w", capture.ErrAcquisition, err)
	}

	busCtx, cancel := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go s.watchBus(busCtx, pipeline, box, busDone)

	release := func() {
		cancel()
		<-busDone
		box.close()
		pipeline.SetState(gst.StateNull)
	}

	timer := time.NewTimer(s.cfg.FirstFrameTimeout)
	defer timer.Stop()

	select {
	case <-box.first:
	case <-box.done:
		release()
		return fmt.Errorf("%w: stream ended before the first frame", capture.ErrAcquisition)
	case <-timer.C:
		release()
		return fmt.Errorf("%w: no frame within %s", capture.ErrAcquisition, s.cfg.FirstFrameTimeout)
	case <-ctx.Done():
		release()
		return fmt.Errorf("%w: %w", capture.ErrAcquisition, ctx.Err())
	}

	s.pipeline = pipeline
	s.box = box
	s.cancel = cancel
	s.busDone = busDone

	s.log.Info("capture source opened",
		"uri", s.cfg.URI,
		"width", c.Width,
		"height", c.Height,
		"fps", c.FPS,
	)
	return nil
}

// Next returns the most recent unconsumed frame, waiting for one if needed.
// Frames that arrive while the consumer is busy replace each other.
func (s *Source) Next(ctx context.Context) (capture.Frame, error) {
	s.mu.Lock()
	box := s.box
	s.mu.Unlock()

	if box == nil {
		return capture.Frame{}, capture.ErrClosed
	}
	return box.next(ctx)
}

// Close stops and releases the pipeline. It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		return nil
	}

	s.box.close()
	s.cancel()
	<-s.busDone

	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline = nil

	stats := s.box.stats()
	s.log.Info("capture source closed",
		"frames_captured", stats.FramesCaptured,
		"frames_dropped", stats.FramesDropped,
	)

	if err != nil {
		return fmt.Errorf("stopping pipeline: %w", err)
	}
	return nil
}

// Stats reports frame counters for the current or last opened pipeline.
func (s *Source) Stats() capture.Stats {
	s.mu.Lock()
	box := s.box
	s.mu.Unlock()

	if box == nil {
		return capture.Stats{}
	}
	return box.stats()
}

func (s *Source) onSample(sink *app.Sink, box *mailbox, width, height int) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.log.Warn("capture: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		s.log.Warn("capture: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	// GStreamer reuses the buffer once unmapped.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	box.put(capture.Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	})
	return gst.FlowOK
}

func (s *Source) watchBus(ctx context.Context, pipeline *gst.Pipeline, box *mailbox, done chan<- struct{}) {
	defer close(done)

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.log.Info("capture: end of stream", "uri", s.cfg.URI)
			box.end()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.log.Error("capture: pipeline error",
				"uri", s.cfg.URI,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			box.end()
			return
		}
	}
}

// LaunchString builds the gst-launch description for cfg.URI. The pipeline
// always ends in an appsink named "sink" producing RGB at the requested size.
func LaunchString(cfg Config, c capture.Constraints) (string, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return "", fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}

	u, err := url.Parse(cfg.URI)
	if err != nil {
		return "", fmt.Errorf("parsing source uri: %w", err)
	}

	var src string
	clocked := false
	switch u.Scheme {
	case "v4l2":
		device := u.Host + u.Path
		if device == "" {
			switch c.Facing {
			case capture.FacingUser:
				device = cfg.UserDevice
			case capture.FacingEnvironment:
				device = cfg.EnvironmentDevice
			}
		}
		if device == "" {
			device = "/dev/video0"
		}
		src = fmt.Sprintf("v4l2src device=%s", device)
	case "file":
		if u.Path == "" {
			return "", fmt.Errorf("file uri %q has no path", cfg.URI)
		}
		src = fmt.Sprintf("filesrc location=%q ! decodebin", u.Path)
		// play files at their native rate instead of as fast as possible
		clocked = true
	case "rtsp", "rtsps":
		// protocols=4 forces TCP
		src = fmt.Sprintf("rtspsrc location=%s protocols=4 latency=200 ! decodebin", cfg.URI)
	case "test":
		pattern := u.Host
		if pattern == "" {
			pattern = "smpte"
		}
		src = fmt.Sprintf("videotestsrc is-live=true pattern=%s", pattern)
		if n := u.Query().Get("num-buffers"); n != "" {
			count, err := strconv.Atoi(n)
			if err != nil || count <= 0 {
				return "", fmt.Errorf("invalid num-buffers %q", n)
			}
			src += fmt.Sprintf(" num-buffers=%d", count)
		}
	default:
		return "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}

	caps := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", c.Width, c.Height)
	if c.FPS > 0 {
		num, den := framerate(c.FPS)
		caps += fmt.Sprintf(",framerate=%d/%d", num, den)
	}

	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate drop-only=true ! %s ! appsink name=sink sync=%t max-buffers=1 drop=true",
		src, caps, clocked,
	), nil
}

func framerate(fps float64) (int, int) {
	if fps < 1 {
		return 1, int(1 / fps)
	}
	return int(fps), 1
}
