// Package bootstrap prepares the local state directory when the process
// comes up in a fresh container: it decides whether durable state should be
// pulled down, performs the restore across layout generations, and leaves
// the config normalized for the gateway.
package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gatewarden/gatewarden/internal/state"
)

// Decision explains a boot-time restore choice, for logs and the facade.
type Decision struct {
	Restore bool   `json:"restore"`
	Reason  string `json:"reason"`
}

// RestoreResult reports what the boot restore actually did.
type RestoreResult struct {
	Restored      bool   `json:"restored"`
	Source        string `json:"source,omitempty"` // current, legacy, legacy-flat
	ConfigRenamed bool   `json:"config_renamed"`
	ConfigSeeded  bool   `json:"config_seeded"`
	Normalized    bool   `json:"normalized"`
}

// ShouldRestore compares the durable and local sync markers. Durable state
// wins only when it is provably fresher; a missing local marker counts as
// stale, but without a durable marker there is nothing trustworthy to pull,
// so a restore never happens regardless of local state.
func ShouldRestore(l state.Layout) Decision {
	if !hasDurableState(l) {
		return Decision{Restore: false, Reason: "no durable state present"}
	}

	durRaw := state.ReadMarker(l.DurableMarker())
	locRaw := state.ReadMarker(l.LocalMarker())

	durT := state.ParseMarker(durRaw)
	locT := state.ParseMarker(locRaw)

	switch {
	case durRaw == "":
		return Decision{Restore: false, Reason: "durable state has no sync marker"}
	case locRaw == "":
		return Decision{Restore: true, Reason: "local state has no sync marker"}
	case durT.IsZero() && locT.IsZero():
		// Both markers unparseable: freshness is undecidable, keep local.
		return Decision{Restore: false, Reason: "markers are malformed, keeping local state"}
	case locT.IsZero():
		return Decision{Restore: true, Reason: "local sync marker is malformed"}
	case durT.IsZero():
		return Decision{Restore: false, Reason: "durable sync marker is malformed"}
	case durT.After(locT):
		return Decision{Restore: true, Reason: "durable state is newer than local"}
	default:
		return Decision{Restore: false, Reason: "local state is up to date"}
	}
}

func hasDurableState(l state.Layout) bool {
	return state.FileExists(l.DurableConfig()) ||
		state.FileExists(l.DurableLegacyConfig()) ||
		state.FileExists(l.DurableFlatLegacyConfig())
}

// RestoreAtBoot runs the full boot sequence against the layout: restore
// durable state when it is fresher, rename a legacy config to the current
// filename, seed the config template when nothing was restored, and
// normalize legacy config fields. It never launches anything.
func RestoreAtBoot(l state.Layout, log *slog.Logger) (RestoreResult, error) {
	if log == nil {
		log = slog.Default()
	}
	var res RestoreResult

	dec := ShouldRestore(l)
	log.Info("boot restore decision", "restore", dec.Restore, "reason", dec.Reason)
	if dec.Restore {
		src, err := pullDurable(l)
		if err != nil {
			return res, err
		}
		res.Restored = true
		res.Source = src
	}

	// A restore may have landed relaybot.json; the gateway reads agentgw.json.
	if state.FileExists(l.LocalLegacyConfig()) && !state.FileExists(l.LocalConfig()) {
		if err := os.Rename(l.LocalLegacyConfig(), l.LocalConfig()); err != nil {
			return res, err
		}
		res.ConfigRenamed = true
		log.Info("renamed legacy config", "from", state.LegacyConfigFile, "to", state.ConfigFile)
	}

	seeded, err := state.InitConfigIfMissing(l)
	if err != nil {
		return res, err
	}
	res.ConfigSeeded = seeded

	changed, err := state.NormalizeConfig(l.LocalConfig())
	if err != nil {
		return res, err
	}
	res.Normalized = changed
	if changed {
		log.Info("normalized legacy config fields", "path", l.LocalConfig())
	}

	if res.Restored {
		// Record the durable marker locally so the next boot does not
		// re-restore the same generation.
		if m := state.ReadMarker(l.DurableMarker()); m != "" {
			if err := state.WriteMarker(l.LocalMarker(), m); err != nil {
				log.Warn("local marker update failed", "error", err)
			}
		}
	}

	return res, nil
}

// pullDurable copies durable state into the local state directory, newest
// layout generation first: current structured, then legacy structured, then
// the flat legacy config at the volume root.
func pullDurable(l state.Layout) (string, error) {
	if err := os.MkdirAll(l.StateDir, 0o750); err != nil {
		return "", err
	}

	var src string
	switch {
	case state.FileExists(l.DurableConfig()):
		src = "current"
		if err := state.CopyTree(l.DurableStateDir(), l.StateDir); err != nil {
			return src, err
		}
	case state.FileExists(l.DurableLegacyConfig()):
		src = "legacy"
		if err := state.CopyTree(l.DurableLegacyDir(), l.StateDir); err != nil {
			return src, err
		}
	case state.FileExists(l.DurableFlatLegacyConfig()):
		src = "legacy-flat"
		if err := state.CopyFileIfExists(l.DurableFlatLegacyConfig(), filepath.Join(l.StateDir, state.LegacyConfigFile)); err != nil {
			return src, err
		}
	default:
		return "", nil
	}

	if state.DirExists(l.DurableSkills()) {
		if err := state.CopyTree(l.DurableSkills(), l.LocalSkills()); err != nil {
			return src, err
		}
	}
	return src, nil
}
