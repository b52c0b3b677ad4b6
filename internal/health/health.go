// Package health classifies the local state directory before any backup
// or sync is allowed to write over durable data. A fresh container looks
// structurally valid (directories exist) but has no accumulated identity
// content; backing it up would silently destroy a previously good backup.
package health

import (
	"fmt"
	"os"
	"strings"

	"github.com/gatewarden/gatewarden/internal/state"
)

// Class describes how the identity document failed (or passed) inspection.
type Class string

const (
	ClassMissing Class = "missing"
	ClassEmpty   Class = "empty"
	ClassMinimal Class = "minimal"
	ClassHealthy Class = "healthy"
)

// MinIdentityBytes is the smallest identity document considered to hold
// real accumulated content.
const MinIdentityBytes = 100

// Result is the outcome of a health check.
type Result struct {
	Healthy bool   `json:"healthy"`
	Class   Class  `json:"class"`
	Reason  string `json:"reason,omitempty"`
}

// Gate inspects a state layout. The zero value is usable.
type Gate struct{}

// Check runs both required checks: the configuration file must exist
// (current or legacy filename), and the identity document must exist,
// be non-empty, contain a heading marker, and exceed MinIdentityBytes.
// Any inspection error is treated as unhealthy with the error as reason.
func (Gate) Check(l state.Layout) Result {
	if !state.FileExists(l.LocalConfig()) && !state.FileExists(l.LocalLegacyConfig()) {
		return Result{
			Healthy: false,
			Class:   ClassMissing,
			Reason:  fmt.Sprintf("configuration file %s does not exist", l.LocalConfig()),
		}
	}

	identity := l.LocalIdentity()
	info, err := os.Stat(identity)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{
				Healthy: false,
				Class:   ClassMissing,
				Reason:  fmt.Sprintf("identity document %s does not exist", identity),
			}
		}
		return Result{Healthy: false, Class: ClassMissing, Reason: err.Error()}
	}
	if info.Size() == 0 {
		return Result{
			Healthy: false,
			Class:   ClassEmpty,
			Reason:  fmt.Sprintf("identity document %s is empty", identity),
		}
	}

	raw, err := os.ReadFile(identity) // #nosec G304 -- path derives from Layout
	if err != nil {
		return Result{Healthy: false, Class: ClassMinimal, Reason: err.Error()}
	}
	content := string(raw)
	if !strings.Contains(content, "#") || len(raw) <= MinIdentityBytes {
		return Result{
			Healthy: false,
			Class:   ClassMinimal,
			Reason:  fmt.Sprintf("identity document %s has no accumulated content yet", identity),
		}
	}

	return Result{Healthy: true, Class: ClassHealthy}
}
