package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Local runs commands as child processes of the current container process.
// Handles stay listed after completion so callers can distinguish a command
// that finished from one that never ran.
type Local struct {
	mu      sync.Mutex
	handles []*localHandle
}

func NewLocal() *Local { return &Local{} }

// Start launches commandLine and begins monitoring it. The returned handle
// reports "starting" until the process is observed alive, then "running"
// until it exits.
func (l *Local) Start(_ context.Context, commandLine string) (Handle, error) {
	h := &localHandle{
		id:        uuid.NewString(),
		cmdLine:   commandLine,
		status:    StatusStarting,
		startedAt: time.Now(),
	}
	cmd := buildCommand(commandLine)
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.cmd = cmd
	h.status = StatusRunning
	h.mu.Unlock()

	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()

	go h.wait()
	return h, nil
}

// List returns snapshots of every command started through this executor,
// in launch order.
func (l *Local) List(_ context.Context) ([]Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Handle, len(l.handles))
	for i, h := range l.handles {
		out[i] = h
	}
	return out, nil
}

type localHandle struct {
	id        string
	cmdLine   string
	startedAt time.Time

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	exitCode int
	exited   bool
	stdout   lockedBuffer
	stderr   lockedBuffer
}

func (h *localHandle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
	if err == nil {
		h.status = StatusCompleted
		h.exitCode = 0
		return
	}
	h.status = StatusFailed
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		h.exitCode = ee.ExitCode()
	} else {
		h.exitCode = -1
	}
}

func (h *localHandle) ID() string           { return h.id }
func (h *localHandle) CommandLine() string  { return h.cmdLine }
func (h *localHandle) StartedAt() time.Time { return h.startedAt }

func (h *localHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *localHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

func (h *localHandle) Logs() Logs {
	return Logs{Stdout: h.stdout.String(), Stderr: h.stderr.String()}
}

// Kill signals the whole process group so shell children die with the shell.
func (h *localHandle) Kill() error {
	h.mu.Lock()
	cmd := h.cmd
	exited := h.exited
	h.mu.Unlock()
	if exited || cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	return nil
}

// buildCommand constructs an *exec.Cmd for commandLine. It avoids invoking
// a shell when no metacharacters are present, and honors an explicit
// "sh -c ..." prefix without double-wrapping.
func buildCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if after, ok := stripExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// stripExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// argument with one pair of surrounding quotes removed, so the script is
// handed to the shell verbatim.
func stripExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}

// lockedBuffer is a bytes.Buffer safe for a writer goroutine plus readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
