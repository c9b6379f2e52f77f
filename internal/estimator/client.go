package estimator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errWorkerGone = errors.New("inference worker exited")

// client multiplexes requests to a worker over a pair of streams. Replies are
// matched to callers by sequence number; replies nobody waits for are dropped.
type client struct {
	log *slog.Logger

	w   io.WriteCloser
	wmu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan response

	done    chan struct{}
	readErr error
}

func newClient(w io.WriteCloser, r io.Reader, logger *slog.Logger) *client {
	c := &client{
		log:     logger,
		w:       w,
		pending: make(map[uint64]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *client) readLoop(r io.Reader) {
	defer close(c.done)

	for {
		var resp response
		if err := readMessage(r, &resp); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.log.Error("reading from inference worker", "error", err)
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.Seq]
		delete(c.pending, resp.Seq)
		c.mu.Unlock()

		if !ok {
			c.log.Debug("discarding stale worker reply", "seq", resp.Seq, "type", resp.Type)
			continue
		}
		ch <- resp
	}
}

// call sends req and waits for the reply with the same sequence number.
func (c *client) call(ctx context.Context, req request, timeout time.Duration) (response, error) {
	c.mu.Lock()
	c.seq++
	req.Seq = c.seq
	ch := make(chan response, 1)
	c.pending[req.Seq] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.Seq)
		c.mu.Unlock()
	}()

	writeErr := make(chan error, 1)
	go func() {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		writeErr <- writeMessage(c.w, req)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case err := <-writeErr:
			if err != nil {
				return response{}, fmt.Errorf("sending %s request: %w", req.Type, err)
			}
			writeErr = nil
		case resp := <-ch:
			if resp.Type == msgError {
				return response{}, fmt.Errorf("worker error: %s", resp.Error)
			}
			return resp, nil
		case <-c.done:
			c.mu.Lock()
			readErr := c.readErr
			c.mu.Unlock()
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				return response{}, fmt.Errorf("%w: %w", errWorkerGone, readErr)
			}
			return response{}, errWorkerGone
		case <-timer.C:
			return response{}, fmt.Errorf("%s request timed out after %s", req.Type, timeout)
		case <-ctx.Done():
			return response{}, ctx.Err()
		}
	}
}

func (c *client) close() error {
	return c.w.Close()
}
