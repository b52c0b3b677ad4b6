package state

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Well-known file and directory names. The durable volume may still hold
// state written under the old product name; both are recognized everywhere.
const (
	ProductDir       = ".agentgw"
	ConfigFile       = "agentgw.json"
	LegacyProductDir = ".relaybot"
	LegacyConfigFile = "relaybot.json"
	IdentityFile     = "IDENTITY.md"
	SkillsDir        = "skills"
	MarkerFile       = ".last-sync"
	BackupsDir       = "backups"
	GoldenDir        = "golden-backup"
)

// BackupTimestampFormat names versioned and golden backup directories.
// UTC and lexicographically sortable, so name order equals creation order.
const BackupTimestampFormat = "20060102-150405"

// markerPattern accepts any ISO-8601-looking timestamp prefix. Sync success
// is judged by this file matching the pattern, not by command exit status.
var markerPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// Layout derives every path the engine and the startup restore decision
// touch, for the local state directory and the durable volume root.
type Layout struct {
	// StateDir is the local, ephemeral state directory (e.g. ~/.agentgw).
	StateDir string
	// DurableRoot is the mount path of the durable volume.
	DurableRoot string
}

func (l Layout) LocalConfig() string       { return filepath.Join(l.StateDir, ConfigFile) }
func (l Layout) LocalLegacyConfig() string { return filepath.Join(l.StateDir, LegacyConfigFile) }
func (l Layout) LocalIdentity() string     { return filepath.Join(l.StateDir, IdentityFile) }
func (l Layout) LocalSkills() string       { return filepath.Join(l.StateDir, SkillsDir) }
func (l Layout) LocalMarker() string       { return filepath.Join(l.StateDir, MarkerFile) }

func (l Layout) DurableStateDir() string { return filepath.Join(l.DurableRoot, ProductDir) }
func (l Layout) DurableConfig() string {
	return filepath.Join(l.DurableRoot, ProductDir, ConfigFile)
}
func (l Layout) DurableLegacyDir() string { return filepath.Join(l.DurableRoot, LegacyProductDir) }
func (l Layout) DurableLegacyConfig() string {
	return filepath.Join(l.DurableRoot, LegacyProductDir, LegacyConfigFile)
}
func (l Layout) DurableFlatLegacyConfig() string {
	return filepath.Join(l.DurableRoot, LegacyConfigFile)
}
func (l Layout) DurableSkills() string  { return filepath.Join(l.DurableRoot, SkillsDir) }
func (l Layout) DurableMarker() string  { return filepath.Join(l.DurableRoot, MarkerFile) }
func (l Layout) DurableBackups() string { return filepath.Join(l.DurableRoot, BackupsDir) }
func (l Layout) DurableGolden() string  { return filepath.Join(l.DurableRoot, GoldenDir) }

// MarkerValue formats t as the sync marker value: ISO-8601 UTC with an
// explicit +00:00 offset.
func MarkerValue(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "+00:00"
}

// ValidMarker reports whether raw looks like a sync marker value.
func ValidMarker(raw string) bool {
	return markerPattern.MatchString(strings.TrimSpace(raw))
}

// ReadMarker returns the trimmed marker value at path, or "" when the file
// is absent or unreadable.
func ReadMarker(path string) string {
	b, err := os.ReadFile(path) // #nosec G304 -- paths derive from Layout
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// WriteMarker writes value to path, creating the parent directory if needed.
func WriteMarker(path, value string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(value+"\n"), 0o600)
}

// ParseMarker parses a marker value. Malformed values parse to the zero
// time, which loses any freshness comparison.
func ParseMarker(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
