// Package volume attaches the object-storage bucket that gives the
// gateway durability across container recycles. Mounting is best effort:
// the gateway runs fine without it, so callers treat "not mounted" as a
// valid state rather than an error.
package volume

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gatewarden/gatewarden/internal/executor"
)

// Credentials identify the object-storage account backing the durable
// volume. All three parts are required for a mount attempt.
type Credentials struct {
	AccessKey string
	SecretKey string
	AccountID string
}

// Present reports whether a mount can be attempted at all.
func (c Credentials) Present() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.AccountID != ""
}

// Options carries mount parameters beyond bucket and path.
type Options struct {
	Endpoint string
}

// MountFn is the primitive that performs one mount attempt. It throws
// (returns an error) on failure; retry policy belongs to callers.
type MountFn func(ctx context.Context, bucket, localPath string, opts Options) error

// Mounter idempotently attaches the durable bucket at a fixed mount path.
// The mounted flag lives here, not in package state, so tests and callers
// always go through the same object.
type Mounter struct {
	Bucket    string
	Path      string
	Endpoint  string // template with {account} placeholder
	fn        MountFn
	log       *slog.Logger
	mu        sync.Mutex
	mounted   bool
	lastCreds Credentials
}

func NewMounter(bucket, path, endpoint string, fn MountFn, log *slog.Logger) *Mounter {
	if log == nil {
		log = slog.Default()
	}
	return &Mounter{Bucket: bucket, Path: path, Endpoint: endpoint, fn: fn, log: log}
}

// Mount attaches the bucket using creds. It returns false, never an error,
// when credentials are absent or the mount primitive fails; callers
// re-invoke on each operation that needs durability, so there is no
// automatic retry here.
func (m *Mounter) Mount(ctx context.Context, creds Credentials) bool {
	if !creds.Present() {
		m.log.Debug("durable volume credentials absent, skipping mount")
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mounted && creds == m.lastCreds {
		return true
	}
	endpoint := strings.ReplaceAll(m.Endpoint, "{account}", creds.AccountID)
	if err := m.fn(ctx, m.Bucket, m.Path, Options{Endpoint: endpoint}); err != nil {
		m.log.Warn("durable volume mount failed", "bucket", m.Bucket, "path", m.Path, "error", err)
		return false
	}
	m.mounted = true
	m.lastCreds = creds
	return true
}

// Mounted reports whether a mount attempt has succeeded.
func (m *Mounter) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// CommandMountFn builds a MountFn that renders template (placeholders
// {bucket}, {path}, {endpoint}) and runs it through exec, awaiting
// completion. A non-terminal or failed command is a mount failure.
func CommandMountFn(exec executor.Executor, template string) MountFn {
	return func(ctx context.Context, bucket, localPath string, opts Options) error {
		cmd := strings.NewReplacer(
			"{bucket}", bucket,
			"{path}", localPath,
			"{endpoint}", opts.Endpoint,
		).Replace(template)
		h, err := exec.Start(ctx, cmd)
		if err != nil {
			return err
		}
		st, err := executor.AwaitExit(ctx, h, executor.CopyTimeout)
		if err != nil {
			return err
		}
		if st != executor.StatusCompleted {
			logs := h.Logs()
			return fmt.Errorf("mount command failed: %s", strings.TrimSpace(logs.Stderr))
		}
		return nil
	}
}
