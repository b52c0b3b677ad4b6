package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/executor"
	"github.com/gatewarden/gatewarden/internal/health"
	"github.com/gatewarden/gatewarden/internal/history"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/state"
	"github.com/gatewarden/gatewarden/internal/volume"
)

// MaxVersionedBackups is the number of automatic pre-sync snapshots kept
// under the backups directory. Older snapshots are pruned after each new one.
const MaxVersionedBackups = 5

// DefaultMirrorCommand mirrors a directory tree with deletion of files that
// no longer exist at the source. Lock, log and temp files never travel.
const DefaultMirrorCommand = "rsync -a --delete --exclude '*.lock' --exclude '*.log' --exclude '*.tmp' {src}/ {dst}/"

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeBackupName strips every character that could alter path resolution.
// "../../etc" collapses to "etc".
func SanitizeBackupName(name string) string {
	return nameSanitizer.ReplaceAllString(name, "")
}

// SyncResult reports the outcome of one state sync to the durable volume.
type SyncResult struct {
	Success       bool   `json:"success"`
	LastSync      string `json:"last_sync,omitempty"`
	SkippedReason string `json:"skipped_reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BackupInfo describes one snapshot under the backups or golden directory.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupList enumerates both snapshot namespaces. Absent namespaces yield
// empty lists, never an error.
type BackupList struct {
	Versioned []BackupInfo `json:"versioned"`
	Golden    []BackupInfo `json:"golden"`
}

// Backup kinds, naming the two snapshot namespaces on the durable volume.
const (
	KindVersioned = "versioned"
	KindGolden    = "golden"
)

// GoldenBackupResult reports the outcome of a manual full snapshot.
type GoldenBackupResult struct {
	Success       bool   `json:"success"`
	Path          string `json:"path,omitempty"`
	SkippedReason string `json:"skipped_reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CredentialsFn supplies object-storage credentials at call time, so rotated
// credentials are picked up without restarting the engine.
type CredentialsFn func() volume.Credentials

// Engine performs health-gated state sync, versioned snapshots and restores
// between the local state directory and the durable volume.
type Engine struct {
	layout  state.Layout
	exec    executor.Executor
	mounter *volume.Mounter
	gate    health.Gate
	creds   CredentialsFn
	sinks   []history.Sink
	log     *slog.Logger

	// MirrorCommand is the executor template used to mirror directory
	// trees, with {src} and {dst} placeholders.
	MirrorCommand string
}

// New builds an Engine. mounter may be nil when the durable root is a plain
// directory that needs no mount step.
func New(l state.Layout, ex executor.Executor, m *volume.Mounter, creds CredentialsFn, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if creds == nil {
		creds = func() volume.Credentials { return volume.Credentials{} }
	}
	return &Engine{
		layout:        l,
		exec:          ex,
		mounter:       m,
		gate:          health.Gate{},
		creds:         creds,
		log:           log,
		MirrorCommand: DefaultMirrorCommand,
	}
}

// AddSink registers a history sink notified after sync/backup/restore
// operations. Sink failures never affect operation outcomes.
func (e *Engine) AddSink(s history.Sink) {
	if s != nil {
		e.sinks = append(e.sinks, s)
	}
}

func (e *Engine) notify(typ history.EventType, outcome, detail, path string) {
	if len(e.sinks) == 0 {
		return
	}
	ev := history.Event{Type: typ, OccurredAt: time.Now().UTC(), Outcome: outcome, Detail: detail, Path: path}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range e.sinks {
		if err := s.Send(ctx, ev); err != nil {
			e.log.Warn("history sink send failed", "type", typ, "error", err)
		}
	}
}

// SyncToDurable mirrors the local state directory to the durable volume.
// The sync is refused while local state fails the health gate, so a wiped or
// half-written state directory can never clobber the last good durable copy.
// Success is judged by re-reading the durable marker, not by tool exit codes.
func (e *Engine) SyncToDurable(ctx context.Context) SyncResult {
	started := time.Now()
	res := e.syncToDurable(ctx)
	metrics.ObserveSyncDuration(time.Since(started).Seconds())
	switch {
	case res.Success:
		metrics.IncSync("success")
		e.notify(history.EventSync, "success", res.LastSync, e.layout.DurableRoot)
	case res.SkippedReason != "":
		metrics.IncSync("skipped")
		e.notify(history.EventSync, "skipped", res.SkippedReason, "")
	default:
		metrics.IncSync("failed")
		e.notify(history.EventSync, "failed", res.Error, "")
	}
	return res
}

func (e *Engine) syncToDurable(ctx context.Context) SyncResult {
	creds := e.creds()
	if e.mounter != nil && !e.mounter.Mounted() {
		if !creds.Present() {
			return SyncResult{SkippedReason: "durable volume credentials not configured"}
		}
		if !e.mounter.Mount(ctx, creds) {
			return SyncResult{Error: "durable volume mount failed"}
		}
	}

	if hr := e.gate.Check(e.layout); !hr.Healthy {
		e.log.Warn("sync refused by health gate", "class", hr.Class, "reason", hr.Reason)
		return SyncResult{SkippedReason: hr.Reason}
	}

	// Snapshot the current durable data before overwriting it. A snapshot
	// failure is logged but never blocks the sync itself.
	if _, err := e.CreateVersionedBackup(ctx); err != nil {
		e.log.Warn("pre-sync snapshot failed", "error", err)
	}

	if err := os.MkdirAll(e.layout.DurableStateDir(), 0o755); err != nil {
		return SyncResult{Error: fmt.Sprintf("create durable state dir: %v", err)}
	}

	if err := e.mirror(ctx, e.layout.StateDir, e.layout.DurableStateDir()); err != nil {
		e.log.Warn("state mirror reported failure, checking marker anyway", "error", err)
	}
	if state.DirExists(e.layout.LocalSkills()) {
		if err := e.mirror(ctx, e.layout.LocalSkills(), e.layout.DurableSkills()); err != nil {
			e.log.Warn("skills mirror reported failure", "error", err)
		}
	}

	stamp := state.MarkerValue(time.Now())
	if err := e.writeDurableMarker(ctx, stamp); err != nil {
		e.log.Warn("marker write reported failure, checking marker anyway", "error", err)
	}

	// The sync only counts when the marker we just wrote is readable back
	// from the durable side. Exit codes of the mirror tool are advisory.
	got := state.ReadMarker(e.layout.DurableMarker())
	if !state.ValidMarker(got) {
		return SyncResult{Error: "durable marker not written, sync not confirmed"}
	}

	if err := state.WriteMarker(e.layout.LocalMarker(), got); err != nil {
		e.log.Warn("local marker update failed", "error", err)
	}

	e.log.Info("state synced to durable volume", "marker", got)
	return SyncResult{Success: true, LastSync: got}
}

func (e *Engine) mirror(ctx context.Context, src, dst string) error {
	cmd := strings.ReplaceAll(e.MirrorCommand, "{src}", strings.TrimRight(src, "/"))
	cmd = strings.ReplaceAll(cmd, "{dst}", strings.TrimRight(dst, "/"))
	h, err := e.exec.Start(ctx, cmd)
	if err != nil {
		return err
	}
	st, err := executor.AwaitExit(ctx, h, executor.CopyTimeout)
	if err != nil {
		return err
	}
	if st != executor.StatusCompleted {
		return fmt.Errorf("mirror command finished with status %s", st)
	}
	return nil
}

// writeDurableMarker stamps the durable volume through the executor. It is
// a quick check: a handful of polls, not the full copy timeout. The result
// is advisory either way; the marker re-read decides the sync outcome.
func (e *Engine) writeDurableMarker(ctx context.Context, stamp string) error {
	cmd := fmt.Sprintf("sh -c 'echo %q > %q'", stamp, e.layout.DurableMarker())
	h, err := e.exec.Start(ctx, cmd)
	if err != nil {
		return err
	}
	st, done := executor.AwaitQuick(ctx, h)
	if !done {
		return fmt.Errorf("marker write still running after %d polls", executor.QuickAttempts)
	}
	if st != executor.StatusCompleted {
		return fmt.Errorf("marker write finished with status %s", st)
	}
	return nil
}

// hasDurableData reports whether the durable volume holds anything worth
// snapshotting under any supported layout generation.
func (e *Engine) hasDurableData() bool {
	return state.DirExists(e.layout.DurableStateDir()) ||
		state.DirExists(e.layout.DurableLegacyDir()) ||
		state.FileExists(e.layout.DurableFlatLegacyConfig()) ||
		state.DirExists(e.layout.DurableSkills())
}

// CreateVersionedBackup snapshots the current durable data into
// backups/<timestamp> and prunes snapshots beyond MaxVersionedBackups.
// With nothing durable to snapshot it succeeds trivially with an empty path.
func (e *Engine) CreateVersionedBackup(ctx context.Context) (string, error) {
	if !e.hasDurableData() {
		return "", nil
	}
	name := time.Now().UTC().Format(state.BackupTimestampFormat)
	dest := filepath.Join(e.layout.DurableBackups(), name)
	if err := e.snapshotInto(dest); err != nil {
		metrics.IncBackup("versioned_failed")
		return "", err
	}
	metrics.IncBackup("versioned")
	e.notify(history.EventBackup, "success", "versioned", dest)
	if err := e.pruneVersioned(); err != nil {
		e.log.Warn("backup rotation failed", "error", err)
	}
	return dest, nil
}

// CreateGoldenBackup takes a manual full snapshot under golden-backup/<ts>.
// It runs the same preamble as a sync: credentials must be present, the
// volume mounted, and the local state healthy. Golden snapshots are never
// pruned automatically.
func (e *Engine) CreateGoldenBackup(ctx context.Context) GoldenBackupResult {
	if e.mounter != nil && !e.mounter.Mounted() {
		if !e.creds().Present() {
			return GoldenBackupResult{SkippedReason: "durable volume credentials not configured"}
		}
		if !e.mounter.Mount(ctx, e.creds()) {
			return GoldenBackupResult{Error: "durable volume mount failed"}
		}
	}
	if hr := e.gate.Check(e.layout); !hr.Healthy {
		e.log.Warn("golden backup refused by health gate", "class", hr.Class, "reason", hr.Reason)
		return GoldenBackupResult{SkippedReason: hr.Reason}
	}
	if !e.hasDurableData() {
		return GoldenBackupResult{Error: "no durable state to snapshot"}
	}
	name := time.Now().UTC().Format(state.BackupTimestampFormat)
	dest := filepath.Join(e.layout.DurableGolden(), name)
	if err := e.snapshotInto(dest); err != nil {
		metrics.IncBackup("golden_failed")
		return GoldenBackupResult{Error: err.Error()}
	}
	metrics.IncBackup("golden")
	e.notify(history.EventBackup, "success", "golden", dest)
	e.log.Info("golden backup created", "path", dest)
	return GoldenBackupResult{Success: true, Path: dest}
}

// snapshotInto copies every durable layout generation into dest so a later
// restore sees exactly what the volume held at snapshot time.
func (e *Engine) snapshotInto(dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if state.DirExists(e.layout.DurableStateDir()) {
		if err := state.CopyTree(e.layout.DurableStateDir(), filepath.Join(dest, state.ProductDir)); err != nil {
			return err
		}
	}
	if state.DirExists(e.layout.DurableLegacyDir()) {
		if err := state.CopyTree(e.layout.DurableLegacyDir(), filepath.Join(dest, state.LegacyProductDir)); err != nil {
			return err
		}
	}
	if err := state.CopyFileIfExists(e.layout.DurableFlatLegacyConfig(), filepath.Join(dest, state.LegacyConfigFile)); err != nil {
		return err
	}
	if state.DirExists(e.layout.DurableSkills()) {
		if err := state.CopyTree(e.layout.DurableSkills(), filepath.Join(dest, state.SkillsDir)); err != nil {
			return err
		}
	}
	return state.CopyFileIfExists(e.layout.DurableMarker(), filepath.Join(dest, state.MarkerFile))
}

// pruneVersioned keeps the newest MaxVersionedBackups snapshots. Timestamped
// names sort lexically in creation order.
func (e *Engine) pruneVersioned() error {
	entries, err := os.ReadDir(e.layout.DurableBackups())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	if len(names) <= MaxVersionedBackups {
		return nil
	}
	sort.Strings(names)
	var firstErr error
	for _, n := range names[:len(names)-MaxVersionedBackups] {
		if err := os.RemoveAll(filepath.Join(e.layout.DurableBackups(), n)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListBackups returns versioned and golden snapshots, newest first within
// each namespace.
func (e *Engine) ListBackups() (BackupList, error) {
	collect := func(dir string) ([]BackupInfo, error) {
		out := []BackupInfo{}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return out, nil
			}
			return nil, err
		}
		for _, ent := range entries {
			if !ent.IsDir() {
				continue
			}
			info := BackupInfo{Name: ent.Name(), Path: filepath.Join(dir, ent.Name())}
			if t, err := time.Parse(state.BackupTimestampFormat, ent.Name()); err == nil {
				info.CreatedAt = t
			}
			out = append(out, info)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
		return out, nil
	}

	versioned, err := collect(e.layout.DurableBackups())
	if err != nil {
		return BackupList{}, err
	}
	golden, err := collect(e.layout.DurableGolden())
	if err != nil {
		return BackupList{}, err
	}
	return BackupList{Versioned: versioned, Golden: golden}, nil
}

// RestoreFromBackup copies the named snapshot from the selected namespace
// back over the live state directory. The name is sanitized before any path
// is built, so traversal attempts resolve to plain directory names.
func (e *Engine) RestoreFromBackup(ctx context.Context, kind, name string) error {
	clean := SanitizeBackupName(name)
	if clean == "" {
		metrics.IncRestore("failed")
		return errors.New("invalid backup name")
	}

	var dir string
	switch kind {
	case KindVersioned:
		dir = e.layout.DurableBackups()
	case KindGolden:
		dir = e.layout.DurableGolden()
	default:
		metrics.IncRestore("failed")
		return fmt.Errorf("invalid backup kind %q", kind)
	}

	src := filepath.Join(dir, clean)
	if !state.DirExists(src) {
		metrics.IncRestore("failed")
		return fmt.Errorf("%s backup %q not found", kind, clean)
	}

	if err := e.restoreSnapshot(src); err != nil {
		metrics.IncRestore("failed")
		e.notify(history.EventRestore, "failed", err.Error(), src)
		return err
	}
	metrics.IncRestore("success")
	e.notify(history.EventRestore, "success", clean, src)
	e.log.Info("state restored from backup", "kind", kind, "name", clean)
	return nil
}

// restoreSnapshot replaces the live state directory with the snapshot's
// content. Snapshots hold one of three internal layouts; the newest present
// generation wins, and a legacy config filename is renamed to the current
// one so the gateway finds it.
func (e *Engine) restoreSnapshot(src string) error {
	if err := os.RemoveAll(e.layout.StateDir); err != nil {
		return err
	}
	if err := os.MkdirAll(e.layout.StateDir, 0o750); err != nil {
		return err
	}

	switch {
	case state.DirExists(filepath.Join(src, state.ProductDir)):
		if err := state.CopyTree(filepath.Join(src, state.ProductDir), e.layout.StateDir); err != nil {
			return err
		}
	case state.DirExists(filepath.Join(src, state.LegacyProductDir)):
		if err := state.CopyTree(filepath.Join(src, state.LegacyProductDir), e.layout.StateDir); err != nil {
			return err
		}
	case state.FileExists(filepath.Join(src, state.LegacyConfigFile)):
		if err := state.CopyFileIfExists(filepath.Join(src, state.LegacyConfigFile), e.layout.LocalLegacyConfig()); err != nil {
			return err
		}
	}

	if state.FileExists(e.layout.LocalLegacyConfig()) && !state.FileExists(e.layout.LocalConfig()) {
		if err := os.Rename(e.layout.LocalLegacyConfig(), e.layout.LocalConfig()); err != nil {
			return err
		}
	}

	if skills := filepath.Join(src, state.SkillsDir); state.DirExists(skills) {
		if err := state.CopyTree(skills, e.layout.LocalSkills()); err != nil {
			return err
		}
	}

	// The local marker follows the snapshot so the next boot decision
	// compares against what was actually restored.
	return state.CopyFileIfExists(filepath.Join(src, state.MarkerFile), e.layout.LocalMarker())
}
