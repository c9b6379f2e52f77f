package gstreamer

import (
	"context"
	"sync"

	"github.com/claude/repcam/internal/capture"
)

// mailbox holds the newest frame not yet consumed. A put that overwrites an
// unread frame counts it as dropped.
type mailbox struct {
	mu       sync.Mutex
	frame    capture.Frame
	has      bool
	ended    bool
	captured uint64
	dropped  uint64

	notify chan struct{}
	first  chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) put(f capture.Frame) {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	if m.has {
		m.dropped++
	}
	m.frame = f
	m.has = true
	m.captured++
	if m.captured == 1 {
		close(m.first)
	}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// next blocks until a frame is available. After end the pending frame, if any,
// is still delivered before ErrClosed.
func (m *mailbox) next(ctx context.Context) (capture.Frame, error) {
	for {
		m.mu.Lock()
		if m.has {
			f := m.frame
			m.has = false
			m.frame = capture.Frame{}
			m.mu.Unlock()
			return f, nil
		}
		ended := m.ended
		m.mu.Unlock()
		if ended {
			return capture.Frame{}, capture.ErrClosed
		}

		select {
		case <-ctx.Done():
			return capture.Frame{}, ctx.Err()
		case <-m.notify:
		case <-m.done:
		}
	}
}

// end marks end of stream.
func (m *mailbox) end() {
	m.mu.Lock()
	m.ended = true
	m.mu.Unlock()
	m.once.Do(func() { close(m.done) })
}

// close ends the stream and discards the pending frame.
func (m *mailbox) close() {
	m.mu.Lock()
	m.ended = true
	m.has = false
	m.frame = capture.Frame{}
	m.mu.Unlock()
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) stats() capture.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capture.Stats{FramesCaptured: m.captured, FramesDropped: m.dropped}
}
