package estimator

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/claude/repcam/internal/capture"
)

const (
	defaultLoadTimeout  = 60 * time.Second
	defaultInferTimeout = 2 * time.Second
	stopGrace           = 2 * time.Second
)

// ProcessConfig describes how to launch the inference worker.
type ProcessConfig struct {
	Command      string
	Args         []string
	Dir          string
	LoadTimeout  time.Duration
	InferTimeout time.Duration
}

// ProcessBackend runs inference in a child process speaking length-prefixed
// msgpack over stdin and stdout.
type ProcessBackend struct {
	cfg ProcessConfig
	log *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	client   *client
	cancel   context.CancelFunc
	waitDone chan struct{}
}

// NewProcessBackend creates a backend; no process runs until Load.
func NewProcessBackend(cfg ProcessConfig, logger *slog.Logger) *ProcessBackend {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.InferTimeout <= 0 {
		cfg.InferTimeout = defaultInferTimeout
	}
	return &ProcessBackend{cfg: cfg, log: logger}
}

// Load spawns the worker and asks it to load the model.
func (b *ProcessBackend) Load(ctx context.Context, spec ModelSpec) error {
	if err := b.Close(); err != nil {
		b.log.Warn("closing previous inference worker", "error", err)
	}

	c, err := b.spawn()
	if err != nil {
		return err
	}

	resp, err := c.call(ctx, request{
		Type:      msgLoad,
		Model:     spec.Model,
		Device:    spec.Device,
		InputSize: spec.InputSize,
	}, b.cfg.LoadTimeout)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", spec.Model, err)
	}
	if resp.Type != msgReady {
		return fmt.Errorf("loading model %s: unexpected reply %q", spec.Model, resp.Type)
	}
	return nil
}

// Infer sends one frame and returns the detected pose candidates.
func (b *ProcessBackend) Infer(ctx context.Context, frame capture.Frame) ([]Candidate, error) {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()
	if c == nil {
		return nil, errWorkerGone
	}

	resp, err := c.call(ctx, request{
		Type:      msgInfer,
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
	}, b.cfg.InferTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type != msgResult {
		return nil, fmt.Errorf("unexpected reply %q", resp.Type)
	}
	return toCandidates(resp.Poses), nil
}

// Close closes the worker's stdin, waits briefly for it to exit and kills it
// otherwise. It is safe to call when no worker runs.
func (b *ProcessBackend) Close() error {
	b.mu.Lock()
	cmd, c, cancel, waitDone := b.cmd, b.client, b.cancel, b.waitDone
	b.cmd, b.client, b.cancel, b.waitDone = nil, nil, nil, nil
	b.mu.Unlock()

	if cmd == nil {
		return nil
	}

	c.close()

	select {
	case <-waitDone:
	case <-time.After(stopGrace):
		b.log.Warn("inference worker did not exit, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			b.log.Error("killing inference worker", "pid", cmd.Process.Pid, "error", err)
		}
		<-waitDone
	}
	cancel()
	return nil
}

func (b *ProcessBackend) spawn() (*client, error) {
	if b.cfg.Command == "" {
		return nil, fmt.Errorf("no inference worker command configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, b.cfg.Command, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting inference worker: %w", err)
	}
	b.log.Info("inference worker spawned", "command", b.cfg.Command, "pid", cmd.Process.Pid)

	var pipes sync.WaitGroup
	pipes.Go(func() { b.logStderr(bufio.NewScanner(stderr)) })

	c := newClient(stdin, stdout, b.log)

	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		// Wait closes the pipes, so drain them first.
		<-c.done
		pipes.Wait()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			b.log.Warn("inference worker exited", "pid", cmd.Process.Pid, "error", err)
			return
		}
		b.log.Debug("inference worker exited", "pid", cmd.Process.Pid)
	}()

	b.mu.Lock()
	b.cmd = cmd
	b.client = c
	b.cancel = cancel
	b.waitDone = waitDone
	b.mu.Unlock()

	return c, nil
}

// logStderr maps the worker's "[LEVEL] message" lines onto slog levels.
func (b *ProcessBackend) logStderr(scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			b.log.Error("inference worker", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			b.log.Warn("inference worker", "log", line)
		default:
			b.log.Debug("inference worker", "log", line)
		}
	}
}
