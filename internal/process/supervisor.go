package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Status is the supervised program's state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultRestartDelay    = 2 * time.Second
	DefaultMaxRestartDelay = time.Minute
	DefaultStableThreshold = 2 * time.Minute
	DefaultGracefulTimeout = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("process: already running")

// Config describes the program to supervise.
type Config struct {
	Name   string
	Binary string
	Args   []string

	// Restart enables restarting after an unexpected exit.
	Restart bool

	// RestartDelay is the first backoff delay; it doubles per consecutive
	// failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long the program must run before the failure
	// count resets.
	StableThreshold time.Duration

	// MaxRestarts bounds consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnExit is called after every exit with the exit error (nil on a
	// requested stop).
	OnExit func(err error)
}

// Logger is the subset of logging.Logger the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs one program and keeps it alive.
type Supervisor struct {
	cfg Config

	loggerMu sync.RWMutex
	logger   Logger

	mu       sync.RWMutex
	cmd      *exec.Cmd
	status   Status
	failures int
	restarts int
	lastErr  error
	started  time.Time
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// New creates a stopped supervisor.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = DefaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	return &Supervisor{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger.
func (s *Supervisor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Supervisor) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Start launches the program. A launch failure is returned directly;
// later exits are handled by the restart loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting || s.status == StatusBackoff {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.Name)
	}
	s.status = StatusStarting
	s.stopping = false
	s.failures = 0
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if err := s.launch(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()
		close(done)
		return err
	}

	go s.supervise(ctx, stop, done)
	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Binary, s.cfg.Args...) //nolint:gosec // operator-configured helper
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	go s.forward("stdout", stdout)
	go s.forward("stderr", stderr)

	s.log().Info("helper started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

// forward logs the program's output line by line.
func (s *Supervisor) forward(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.log().Debug("helper output", "name", s.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// supervise waits for exits and restarts until stopped, out of attempts or
// ctx is cancelled.
func (s *Supervisor) supervise(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := cmd.Wait()

		s.mu.Lock()
		requested := s.stopping || ctx.Err() != nil
		uptime := time.Since(s.started)
		if requested {
			s.status = StatusStopped
		} else {
			s.lastErr = exitError(err)
			if uptime >= s.cfg.StableThreshold {
				s.failures = 0
			}
		}
		s.mu.Unlock()

		if requested {
			s.log().Info("helper stopped", "name", s.cfg.Name)
			s.onExit(nil)
			return
		}

		s.log().Warn("helper exited unexpectedly", "name", s.cfg.Name, "error", err, "uptime", uptime)
		s.onExit(exitError(err))

		if !s.cfg.Restart {
			s.setStatus(StatusFailed)
			return
		}
		if !s.relaunch(ctx, stop) {
			return
		}
	}
}

// relaunch backs off and starts the program again, retrying failed launches.
// It reports false when supervision should end.
func (s *Supervisor) relaunch(ctx context.Context, stop chan struct{}) bool {
	for {
		s.mu.Lock()
		s.failures++
		attempt := s.failures
		s.mu.Unlock()

		if s.cfg.MaxRestarts > 0 && attempt > s.cfg.MaxRestarts {
			s.log().Error("helper restart limit reached", "name", s.cfg.Name, "attempts", s.cfg.MaxRestarts)
			s.setStatus(StatusFailed)
			return false
		}

		delay := s.backoff(attempt)
		s.setStatus(StatusBackoff)
		s.log().Info("restarting helper", "name", s.cfg.Name, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusStopped)
			return false
		case <-stop:
			timer.Stop()
			s.setStatus(StatusStopped)
			return false
		case <-timer.C:
		}

		err := s.launch(ctx)
		if err == nil {
			s.mu.Lock()
			s.restarts++
			cmd := s.cmd
			s.mu.Unlock()
			// Stop may have run while the launch was in flight.
			select {
			case <-stop:
				terminate(cmd) //nolint:errcheck // Wait in supervise reaps it
			default:
			}
			return true
		}
		s.log().Error("helper relaunch failed", "name", s.cfg.Name, "error", err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

// backoff returns the delay before restart attempt n (1-based).
func (s *Supervisor) backoff(n int) time.Duration {
	d := s.cfg.RestartDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.cfg.MaxRestartDelay {
			return s.cfg.MaxRestartDelay
		}
	}
	return d
}

func (s *Supervisor) onExit(err error) {
	if s.cfg.OnExit != nil {
		s.cfg.OnExit(err)
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Stop terminates the program, escalating to SIGKILL after
// GracefulTimeout. Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status == StatusStopped || s.status == StatusFailed || s.done == nil {
		s.mu.Unlock()
		return nil
	}
	if s.stopping {
		done := s.done
		s.mu.Unlock()
		<-done
		return nil
	}
	s.stopping = true
	close(s.stop)
	cmd := s.cmd
	done := s.done
	backingOff := s.status == StatusBackoff
	s.mu.Unlock()

	if backingOff || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.log().Info("stopping helper", "name", s.cfg.Name, "pid", pid)
	if err := terminate(cmd); err != nil {
		s.log().Warn("signalling helper failed", "name", s.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.log().Warn("helper ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.GracefulTimeout)
	}

	if err := kill(cmd); err != nil {
		return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
	}
	<-done
	return nil
}

// Status returns the current state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats is a snapshot for health reporting.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the supervisor.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Name: s.cfg.Name, Status: s.status, Restarts: s.restarts}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// exitError normalises a clean exit into an error so callers always learn
// that an unrequested exit happened.
func exitError(err error) error {
	if err == nil {
		return errors.New("exited with status 0")
	}
	return err
}
