package executor

import (
	"context"
	"time"
)

// Status is the lifecycle state of a command started through an Executor.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Logs holds the output accumulated by a command so far.
type Logs struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Handle is an observable reference to a command started through an Executor.
// Implementations must be safe for concurrent use.
type Handle interface {
	// ID uniquely identifies this invocation.
	ID() string
	// CommandLine returns the command line the handle was started with.
	CommandLine() string
	// Status returns the current lifecycle status.
	Status() Status
	// ExitCode returns the exit code and true once the command has finished.
	ExitCode() (int, bool)
	// Logs returns the output captured so far.
	Logs() Logs
	// Kill terminates the command. Killing a finished command is a no-op.
	Kill() error
	// StartedAt is the time the command was launched.
	StartedAt() time.Time
}

// Executor launches shell commands inside the container and lists the
// commands it knows about. It is the only capability the supervision and
// backup subsystems consume to run work.
type Executor interface {
	Start(ctx context.Context, commandLine string) (Handle, error)
	List(ctx context.Context) ([]Handle, error)
}
