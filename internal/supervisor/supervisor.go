// Package supervisor keeps the single agent gateway process alive. It has
// no authoritative lock over the container: multiple callers may race to
// ensure the gateway is running, so correctness rests on discovery being
// conservative (never false-negative on a live process), not on mutual
// exclusion.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/executor"
	"github.com/gatewarden/gatewarden/internal/metrics"
)

// Defaults for startup and shutdown handling.
const (
	DefaultStartTimeout = 180 * time.Second
	DefaultKillGrace    = 2 * time.Second
)

// DialFn probes TCP reachability of the gateway port.
type DialFn func(addr string, timeout time.Duration) error

func netDial(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Config describes the gateway process the supervisor manages.
type Config struct {
	// StartCommand launches the gateway (the startup-script path).
	StartCommand string
	// Signatures are command-line substrings that identify a gateway
	// process: the direct CLI invocation and the startup-script path.
	Signatures []string
	// Port is the gateway's listening port, probed to confirm startup.
	Port int
	// APIKeyEnv names the environment variable that must hold the
	// gateway's API key before a launch is attempted.
	APIKeyEnv string
	// StartTimeout bounds EnsureRunning; zero means DefaultStartTimeout.
	StartTimeout time.Duration
	// KillGrace is how long Restart waits after a kill request.
	KillGrace time.Duration
}

// ProcessRef is a snapshot of a discovered gateway process.
type ProcessRef struct {
	ID          string          `json:"id"`
	CommandLine string          `json:"command_line"`
	Status      executor.Status `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	ExitCode    *int            `json:"exit_code,omitempty"`
}

// RestartResult reports what Restart did before handing the relaunch off.
type RestartResult struct {
	KilledPrevious bool `json:"killed_previous"`
}

// Supervisor discovers, starts, and restarts the gateway process through
// the remote command executor.
type Supervisor struct {
	cfg  Config
	exec executor.Executor
	dial DialFn
	log  *slog.Logger
}

func New(cfg Config, exec executor.Executor, log *slog.Logger) *Supervisor {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, exec: exec, dial: netDial, log: log}
}

// SetDialFn overrides the port probe. Tests use this; production keeps the
// default TCP dial.
func (s *Supervisor) SetDialFn(fn DialFn) { s.dial = fn }

// FindExisting returns the first listed process whose command line matches
// a gateway signature and whose status is non-terminal, or nil. A listing
// failure degrades to nil: supervision favors availability over precision.
func (s *Supervisor) FindExisting(ctx context.Context) *ProcessRef {
	lctx, cancel := context.WithTimeout(ctx, executor.ListTimeout)
	defer cancel()
	handles, err := s.exec.List(lctx)
	if err != nil {
		s.log.Warn("process listing failed, treating as no gateway found", "error", err)
		return nil
	}
	for _, h := range handles {
		st := h.Status()
		if st.Terminal() {
			continue
		}
		if !s.matchesSignature(h.CommandLine()) {
			continue
		}
		ref := &ProcessRef{
			ID:          h.ID(),
			CommandLine: h.CommandLine(),
			Status:      st,
			StartedAt:   h.StartedAt(),
		}
		if code, done := h.ExitCode(); done {
			ref.ExitCode = &code
		}
		return ref
	}
	return nil
}

func (s *Supervisor) matchesSignature(cmdLine string) bool {
	for _, sig := range s.cfg.Signatures {
		if sig != "" && strings.Contains(cmdLine, sig) {
			return true
		}
	}
	return false
}

// EnsureRunning starts the gateway if no live process is found and blocks
// until its port answers or the start timeout elapses. Calling it while
// the gateway runs is a no-op.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	if ref := s.FindExisting(ctx); ref != nil {
		s.log.Debug("gateway already running", "id", ref.ID, "status", ref.Status)
		return nil
	}

	if s.cfg.APIKeyEnv != "" && os.Getenv(s.cfg.APIKeyEnv) == "" {
		return &StartupError{
			Kind: KindConfigurationMissing,
			Hint: fmt.Sprintf("set %s before starting the gateway", s.cfg.APIKeyEnv),
		}
	}

	s.log.Info("starting gateway", "command", s.cfg.StartCommand)
	h, err := s.exec.Start(ctx, s.cfg.StartCommand)
	if err != nil {
		return &StartupError{
			Kind: KindLaunchFailed,
			Hint: "gateway launch command could not be started",
			Err:  err,
		}
	}
	metrics.IncGatewayStart()

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	deadline := time.Now().Add(s.cfg.StartTimeout)
	for time.Now().Before(deadline) {
		if err := s.dial(addr, time.Second); err == nil {
			s.log.Info("gateway is up", "addr", addr)
			return nil
		}
		if st := h.Status(); st.Terminal() {
			// The launch handle died; classify from its output.
			return classifyTimeout(h)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(executor.PollInterval):
		}
	}
	return classifyTimeout(h)
}

// Restart kills any existing gateway, waits the grace period, then fires
// the relaunch without blocking: the response reports only whether a
// previous process was found and killed. The caller's next request will
// trigger EnsureRunning again if the background relaunch loses a race.
func (s *Supervisor) Restart(ctx context.Context) RestartResult {
	killed := false
	if ref := s.FindExisting(ctx); ref != nil {
		if err := s.killByID(ctx, ref.ID); err != nil {
			s.log.Warn("kill request failed", "id", ref.ID, "error", err)
		} else {
			killed = true
		}
		time.Sleep(s.cfg.KillGrace)
	}
	metrics.IncGatewayRestart()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StartTimeout+executor.ListTimeout)
		defer cancel()
		if err := s.EnsureRunning(ctx); err != nil {
			s.log.Error("relaunch after restart failed", "error", err)
		}
	}()
	return RestartResult{KilledPrevious: killed}
}

func (s *Supervisor) killByID(ctx context.Context, id string) error {
	lctx, cancel := context.WithTimeout(ctx, executor.ListTimeout)
	defer cancel()
	handles, err := s.exec.List(lctx)
	if err != nil {
		return err
	}
	for _, h := range handles {
		if h.ID() == id {
			return h.Kill()
		}
	}
	return fmt.Errorf("process %s no longer listed", id)
}

