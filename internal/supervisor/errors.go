package supervisor

import (
	"fmt"
	"strings"

	"github.com/gatewarden/gatewarden/internal/executor"
)

// Kind classifies a startup failure so the HTTP surface can always return
// a bounded, actionable response.
type Kind string

const (
	KindConfigurationMissing Kind = "configuration-missing"
	KindStartupTimeout       Kind = "startup-timeout"
	KindResourceExhaustion   Kind = "resource-exhaustion"
	KindLaunchFailed         Kind = "launch-failed"
)

// StartupError is a classified gateway startup failure with an
// operator-facing hint.
type StartupError struct {
	Kind Kind
	Hint string
	Err  error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (%s)", e.Kind, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Hint)
}

func (e *StartupError) Unwrap() error { return e.Err }

// oomSignatures are substrings in captured output that indicate the
// gateway died from memory pressure rather than misconfiguration.
var oomSignatures = []string{
	"Out of memory",
	"OOMKilled",
	"JavaScript heap out of memory",
	"Cannot allocate memory",
}

// classifyTimeout inspects the launch handle's captured logs to upgrade a
// generic timeout into a more specific failure class.
func classifyTimeout(h executor.Handle) *StartupError {
	if h != nil {
		logs := h.Logs()
		combined := logs.Stdout + "\n" + logs.Stderr
		for _, sig := range oomSignatures {
			if strings.Contains(combined, sig) {
				return &StartupError{
					Kind: KindResourceExhaustion,
					Hint: "gateway ran out of memory during startup; increase the container memory limit",
				}
			}
		}
	}
	return &StartupError{
		Kind: KindStartupTimeout,
		Hint: "gateway did not open its port in time; check the gateway logs and configuration",
	}
}
