// Package spawner manages the server and client subprocesses of a match.
package spawner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// DefaultKillAfter is how long Stop waits after an interrupt before killing
const DefaultKillAfter = 1 * time.Second

// maxLine bounds a buffered partial line before it is emitted as is
const maxLine = 64 * 1024

// Process is a managed subprocess.
type Process struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string

	output    func(line string)
	killAfter time.Duration
	clock     quartz.Clock

	cmd       *exec.Cmd
	sink      *lineWriter
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
	startTime time.Time
	mu        sync.Mutex
	done      chan struct{}
	exitErr   error
	stopping  atomic.Bool
}

// Option configures a Process
type Option func(*Process)

// WithOutput receives every line the process writes to stdout or stderr.
// Both streams feed one sink so line order is preserved.
func WithOutput(fn func(line string)) Option {
	return func(p *Process) { p.output = fn }
}

// WithEnv adds environment variables on top of the parent environment
func WithEnv(env map[string]string) Option {
	return func(p *Process) { p.Env = env }
}

// WithKillAfter sets the interrupt-to-kill escalation delay
func WithKillAfter(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.killAfter = d
		}
	}
}

// WithClock sets the clock timing the kill escalation
func WithClock(clock quartz.Clock) Option {
	return func(p *Process) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewProcess creates a process for argv. Cancelling ctx kills it.
func NewProcess(ctx context.Context, name string, argv []string, logger zerolog.Logger, opts ...Option) *Process {
	procCtx, cancel := context.WithCancel(ctx)

	p := &Process{
		Name:      name,
		killAfter: DefaultKillAfter,
		clock:     quartz.NewReal(),
		ctx:       procCtx,
		cancel:    cancel,
		logger:    logger.With().Str("process", name).Logger(),
		done:      make(chan struct{}),
	}
	if len(argv) > 0 {
		p.Command = argv[0]
		p.Args = append([]string(nil), argv[1:]...)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the process. A failed start marks the process as exited.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.Name)
	}

	p.cmd = exec.CommandContext(p.ctx, p.Command, p.Args...)
	p.cmd.Env = os.Environ()
	for k, v := range p.Env {
		p.cmd.Env = append(p.cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	p.sink = &lineWriter{emit: p.emit}
	p.cmd.Stdout = p.sink
	p.cmd.Stderr = p.sink
	p.cmd.WaitDelay = p.killAfter

	if p.Command == "" {
		return p.failStart(fmt.Errorf("process %s: empty command", p.Name))
	}
	if err := p.cmd.Start(); err != nil {
		return p.failStart(fmt.Errorf("failed to start %s: %w", p.Name, err))
	}

	p.startTime = p.clock.Now()
	p.logger.Debug().
		Str("command", p.Command).
		Strs("args", p.Args).
		Int("pid", p.cmd.Process.Pid).
		Msg("Process started")

	go p.monitor()
	return nil
}

func (p *Process) failStart(err error) error {
	p.exitErr = err
	p.cancel()
	close(p.done)
	return err
}

// Stop interrupts the process and kills it if it has not exited within the
// kill-after delay. Stopping a process that never started or already exited
// returns nil, so Stop may be called any number of times.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	defer p.cancel()

	select {
	case <-p.done:
		return nil
	default:
	}

	p.stopping.Store(true)

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-p.done
			return nil
		}
		// Interrupt unsupported or refused, go straight to kill
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to stop %s: %w", p.Name, err)
		}
	}

	timer := p.clock.NewTimer(p.killAfter, "spawner", "kill")
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		p.logger.Debug().Msg("Force killing process")
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill %s: %w", p.Name, err)
		}
		<-p.done
	}

	return nil
}

// Wait blocks until the process exits and returns its exit error
func (p *Process) Wait() error {
	<-p.done
	return p.ExitErr()
}

// Done is closed once the process has exited and its output is drained
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the exit error; nil while running or after a clean exit
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// IsAlive returns true if the process is still running.
func (p *Process) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Process) monitor() {
	defer close(p.done)

	err := p.cmd.Wait()
	p.sink.Flush()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	duration := p.clock.Since(p.startTime)
	switch {
	case err == nil:
		p.logger.Debug().Dur("duration", duration).Msg("Process exited")
	case p.stopping.Load() || p.ctx.Err() != nil:
		p.logger.Debug().Err(err).Dur("duration", duration).Msg("Process terminated")
	default:
		p.logger.Warn().Err(err).Dur("duration", duration).Msg("Process exited with error")
	}
}

func (p *Process) emit(line string) {
	if p.output != nil {
		p.output(line)
	}
	if len(line) > 0 {
		p.logger.Debug().Msg(line)
	}
}

// lineWriter splits written bytes into lines
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimSuffix(string(w.buf[:i]), "\r"))
		w.buf = append(w.buf[:0], w.buf[i+1:]...)
	}
	if len(w.buf) > maxLine {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(b), nil
}

// Flush emits a trailing line that had no newline
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(strings.TrimSuffix(string(w.buf), "\r"))
		w.buf = w.buf[:0]
	}
}
