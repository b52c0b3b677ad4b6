package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/executor"
	"github.com/gatewarden/gatewarden/internal/state"
	"github.com/gatewarden/gatewarden/internal/volume"
)

// testMirrorCommand avoids depending on rsync in the test environment.
const testMirrorCommand = "cp -a {src}/. {dst}/"

func newTestEngine(t *testing.T) (*Engine, state.Layout) {
	t.Helper()
	l := state.Layout{
		StateDir:    filepath.Join(t.TempDir(), ".agentgw"),
		DurableRoot: t.TempDir(),
	}
	if err := os.MkdirAll(l.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	e := New(l, executor.NewLocal(), nil, nil, nil)
	e.MirrorCommand = testMirrorCommand
	return e, l
}

func makeHealthy(t *testing.T, l state.Layout) {
	t.Helper()
	if err := os.WriteFile(l.LocalConfig(), []byte(`{"port":18789}`), 0o600); err != nil {
		t.Fatal(err)
	}
	identity := "# Identity\n\n" + strings.Repeat("accumulated context line\n", 10)
	if err := os.WriteFile(l.LocalIdentity(), []byte(identity), 0o600); err != nil {
		t.Fatal(err)
	}
}

func seedDurable(t *testing.T, l state.Layout) {
	t.Helper()
	if err := os.MkdirAll(l.DurableStateDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.DurableConfig(), []byte(`{"port":18789}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := state.WriteMarker(l.DurableMarker(), state.MarkerValue(time.Now())); err != nil {
		t.Fatal(err)
	}
}

func TestSyncToDurableSuccess(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)

	res := e.SyncToDurable(context.Background())
	if !res.Success {
		t.Fatalf("sync failed: skipped=%q error=%q", res.SkippedReason, res.Error)
	}
	if !state.ValidMarker(res.LastSync) {
		t.Fatalf("LastSync %q is not a valid marker", res.LastSync)
	}

	// Success must be observable on the durable side, not just reported.
	if got := state.ReadMarker(l.DurableMarker()); got != res.LastSync {
		t.Fatalf("durable marker = %q, want %q", got, res.LastSync)
	}
	if !state.FileExists(l.DurableConfig()) {
		t.Fatalf("config was not mirrored to the durable volume")
	}
	if got := state.ReadMarker(l.LocalMarker()); got != res.LastSync {
		t.Fatalf("local marker = %q, want %q", got, res.LastSync)
	}
}

func TestSyncMirrorsSkills(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	if err := os.MkdirAll(filepath.Join(l.LocalSkills(), "search"), 0o755); err != nil {
		t.Fatal(err)
	}
	skill := filepath.Join(l.LocalSkills(), "search", "SKILL.md")
	if err := os.WriteFile(skill, []byte("# search"), 0o600); err != nil {
		t.Fatal(err)
	}

	if res := e.SyncToDurable(context.Background()); !res.Success {
		t.Fatalf("sync failed: %+v", res)
	}
	if !state.FileExists(filepath.Join(l.DurableSkills(), "search", "SKILL.md")) {
		t.Fatalf("skills were not mirrored")
	}
}

// countingExec records starts and never runs anything.
type countingExec struct {
	mu     sync.Mutex
	starts []string
}

func (c *countingExec) Start(_ context.Context, commandLine string) (executor.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, commandLine)
	return nil, nil
}

func (c *countingExec) List(context.Context) ([]executor.Handle, error) { return nil, nil }

func TestSyncRefusedWhenUnhealthy(t *testing.T) {
	l := state.Layout{
		StateDir:    filepath.Join(t.TempDir(), ".agentgw"),
		DurableRoot: t.TempDir(),
	}
	if err := os.MkdirAll(l.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	ex := &countingExec{}
	e := New(l, ex, nil, nil, nil)

	res := e.SyncToDurable(context.Background())
	if res.Success {
		t.Fatalf("unhealthy state must never sync")
	}
	if !strings.Contains(res.SkippedReason, "does not exist") {
		t.Fatalf("skip reason %q should carry the gate's verbatim reason", res.SkippedReason)
	}
	if len(ex.starts) != 0 {
		t.Fatalf("no command may run for a refused sync, got %v", ex.starts)
	}
	if state.FileExists(l.DurableMarker()) {
		t.Fatalf("refused sync must not touch the durable marker")
	}
}

func TestSyncCredentialsMissing(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	e.mounter = volume.NewMounter("bucket", l.DurableRoot, "", func(context.Context, string, string, volume.Options) error {
		t.Fatalf("mount must not be attempted without credentials")
		return nil
	}, nil)

	res := e.SyncToDurable(context.Background())
	if res.Success {
		t.Fatalf("sync must not succeed without credentials")
	}
	if !strings.Contains(res.SkippedReason, "credentials") {
		t.Fatalf("skip reason = %q, want credential mention", res.SkippedReason)
	}
}

func TestVersionedBackupTrivialWhenEmpty(t *testing.T) {
	e, l := newTestEngine(t)

	path, err := e.CreateVersionedBackup(context.Background())
	if err != nil {
		t.Fatalf("empty durable volume should succeed trivially: %v", err)
	}
	if path != "" {
		t.Fatalf("trivial success should report no path, got %q", path)
	}
	if state.DirExists(l.DurableBackups()) {
		t.Fatalf("no backups directory should be created")
	}
}

func TestVersionedBackupAndPrune(t *testing.T) {
	e, l := newTestEngine(t)
	seedDurable(t, l)

	// Pre-existing snapshots, oldest first.
	old := []string{
		"20240101-000000", "20240102-000000", "20240103-000000",
		"20240104-000000", "20240105-000000", "20240106-000000",
	}
	for _, name := range old {
		if err := os.MkdirAll(filepath.Join(l.DurableBackups(), name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	path, err := e.CreateVersionedBackup(context.Background())
	if err != nil {
		t.Fatalf("CreateVersionedBackup: %v", err)
	}
	if path == "" {
		t.Fatalf("snapshot path expected with durable data present")
	}
	if !state.FileExists(filepath.Join(path, state.ProductDir, state.ConfigFile)) {
		t.Fatalf("snapshot missing config copy")
	}
	if !state.FileExists(filepath.Join(path, state.MarkerFile)) {
		t.Fatalf("snapshot missing marker copy")
	}

	entries, err := os.ReadDir(l.DurableBackups())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxVersionedBackups {
		t.Fatalf("kept %d snapshots, want %d", len(entries), MaxVersionedBackups)
	}
	for _, name := range old[:2] {
		if state.DirExists(filepath.Join(l.DurableBackups(), name)) {
			t.Errorf("oldest snapshot %s should have been pruned", name)
		}
	}
}

func TestGoldenBackup(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	seedDurable(t, l)

	res := e.CreateGoldenBackup(context.Background())
	if !res.Success {
		t.Fatalf("golden backup failed: %s", res.Error)
	}
	if !strings.HasPrefix(res.Path, l.DurableGolden()) {
		t.Fatalf("golden path %q not under %q", res.Path, l.DurableGolden())
	}

	list, err := e.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Golden) != 1 || len(list.Versioned) != 0 {
		t.Fatalf("ListBackups = %+v, want one golden entry", list)
	}
}

func TestGoldenBackupRefusedWhenUnhealthy(t *testing.T) {
	e, l := newTestEngine(t)
	seedDurable(t, l)

	// The gate runs before golden creation too: an empty local state must
	// not be able to pin a snapshot as golden.
	res := e.CreateGoldenBackup(context.Background())
	if res.Success {
		t.Fatalf("unhealthy state must not produce a golden backup: %+v", res)
	}
	if res.SkippedReason == "" {
		t.Fatalf("skip reason expected, got %+v", res)
	}
	if state.DirExists(l.DurableGolden()) {
		t.Fatalf("refused golden backup must write nothing")
	}
}

func TestGoldenBackupCredentialsMissing(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	seedDurable(t, l)
	e.mounter = volume.NewMounter("bucket", l.DurableRoot, "", func(context.Context, string, string, volume.Options) error {
		t.Fatalf("mount must not be attempted without credentials")
		return nil
	}, nil)

	res := e.CreateGoldenBackup(context.Background())
	if res.Success {
		t.Fatalf("golden backup must not succeed without credentials")
	}
	if !strings.Contains(res.SkippedReason, "credentials") {
		t.Fatalf("skip reason = %q, want credential mention", res.SkippedReason)
	}
}

func TestGoldenBackupNothingToSnapshot(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	res := e.CreateGoldenBackup(context.Background())
	if res.Success {
		t.Fatalf("golden backup of nothing should fail with a reason")
	}
	if res.Error == "" {
		t.Fatalf("error detail expected")
	}
}

func TestSanitizeBackupName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"../../etc", "etc"},
		{"20250101-120000", "20250101-120000"},
		{"back up!", "backup"},
		{"a/b\\c", "abc"},
		{"..", ""},
	}
	for _, c := range cases {
		if got := SanitizeBackupName(c.in); got != c.want {
			t.Errorf("SanitizeBackupName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRestoreNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.RestoreFromBackup(context.Background(), KindVersioned, "20990101-000000"); err == nil {
		t.Fatalf("restoring a missing backup must fail")
	}
	if err := e.RestoreFromBackup(context.Background(), KindVersioned, "../.."); err == nil {
		t.Fatalf("fully sanitized-away name must fail")
	}
	if err := e.RestoreFromBackup(context.Background(), "latest", "20990101-000000"); err == nil {
		t.Fatalf("unknown backup kind must fail")
	}
}

func TestRestoreKindSelectsNamespace(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	seedDurable(t, l)

	res := e.CreateGoldenBackup(context.Background())
	if !res.Success {
		t.Fatalf("golden backup: %s", res.Error)
	}
	name := filepath.Base(res.Path)

	// The snapshot lives under golden-backup only; the versioned kind
	// must not find it.
	if err := e.RestoreFromBackup(context.Background(), KindVersioned, name); err == nil {
		t.Fatalf("versioned kind must not resolve a golden snapshot")
	}
	if err := e.RestoreFromBackup(context.Background(), KindGolden, name); err != nil {
		t.Fatalf("RestoreFromBackup: %v", err)
	}
}

func TestRestoreReplacesLiveState(t *testing.T) {
	e, l := newTestEngine(t)
	makeHealthy(t, l)
	seedDurable(t, l)

	res := e.CreateGoldenBackup(context.Background())
	if !res.Success {
		t.Fatalf("golden backup: %s", res.Error)
	}
	name := filepath.Base(res.Path)

	// Corrupt the live config, then restore over it.
	if err := os.WriteFile(l.LocalConfig(), []byte(`{"corrupted":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := e.RestoreFromBackup(context.Background(), KindGolden, name); err != nil {
		t.Fatalf("RestoreFromBackup: %v", err)
	}

	b, err := os.ReadFile(l.LocalConfig())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "corrupted") {
		t.Fatalf("live config not restored: %s", b)
	}
	// The local marker follows the snapshot.
	if got := state.ReadMarker(l.LocalMarker()); !state.ValidMarker(got) {
		t.Fatalf("local marker after restore = %q", got)
	}
}

func TestRestoreLegacySnapshotRenamesConfig(t *testing.T) {
	e, l := newTestEngine(t)

	// Snapshot holding only the legacy structured layout plus skills.
	src := filepath.Join(l.DurableBackups(), "20240601-000000")
	if err := os.MkdirAll(filepath.Join(src, state.LegacyProductDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, state.LegacyProductDir, state.LegacyConfigFile), []byte(`{"port":18789}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, state.SkillsDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, state.SkillsDir, "SKILL.md"), []byte("# s"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := e.RestoreFromBackup(context.Background(), KindVersioned, "20240601-000000"); err != nil {
		t.Fatalf("RestoreFromBackup: %v", err)
	}

	if !state.FileExists(l.LocalConfig()) {
		t.Fatalf("legacy config should land under the current filename")
	}
	if state.FileExists(l.LocalLegacyConfig()) {
		t.Fatalf("legacy filename should be renamed away")
	}
	if !state.FileExists(filepath.Join(l.LocalSkills(), "SKILL.md")) {
		t.Fatalf("skills subtree not restored")
	}
}

func TestListBackupsNewestFirst(t *testing.T) {
	e, l := newTestEngine(t)
	for _, name := range []string{"20240101-000000", "20240301-000000", "20240201-000000"} {
		if err := os.MkdirAll(filepath.Join(l.DurableBackups(), name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	list, err := e.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Golden) != 0 {
		t.Fatalf("golden list should be empty, got %+v", list.Golden)
	}
	want := []string{"20240301-000000", "20240201-000000", "20240101-000000"}
	if len(list.Versioned) != len(want) {
		t.Fatalf("got %d entries, want %d", len(list.Versioned), len(want))
	}
	for i, name := range want {
		if list.Versioned[i].Name != name {
			t.Errorf("versioned[%d] = %s, want %s", i, list.Versioned[i].Name, name)
		}
		if list.Versioned[i].CreatedAt.IsZero() {
			t.Errorf("timestamped name should parse to CreatedAt")
		}
	}
}
