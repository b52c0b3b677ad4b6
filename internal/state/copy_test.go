package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"a.txt":          "alpha",
		"nested/b.txt":   "beta",
		"nested/deep.md": "# deep",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	for name, content := range files {
		b, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(b) != content {
			t.Errorf("%s = %q, want %q", name, b, content)
		}
	}
}

func TestCopyFileIfExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "present")
	dst := filepath.Join(dir, "sub", "copied")

	if err := CopyFileIfExists(filepath.Join(dir, "absent"), dst); err != nil {
		t.Fatalf("absent source should be a no-op, got %v", err)
	}
	if FileExists(dst) {
		t.Fatalf("no file should have been created")
	}

	if err := os.WriteFile(src, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileIfExists(src, dst); err != nil {
		t.Fatalf("CopyFileIfExists: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "data" {
		t.Fatalf("copied content = %q, err %v", b, err)
	}
}

func TestInitConfigIfMissing(t *testing.T) {
	l := Layout{StateDir: filepath.Join(t.TempDir(), ".agentgw")}

	written, err := InitConfigIfMissing(l)
	if err != nil {
		t.Fatalf("InitConfigIfMissing: %v", err)
	}
	if !written {
		t.Fatalf("expected template to be written")
	}
	if !FileExists(l.LocalConfig()) {
		t.Fatalf("config file missing after init")
	}

	// Second call is a no-op.
	written, err = InitConfigIfMissing(l)
	if err != nil || written {
		t.Fatalf("second init: written=%v err=%v", written, err)
	}
}

func TestInitConfigSkipsWhenLegacyPresent(t *testing.T) {
	l := Layout{StateDir: t.TempDir()}
	if err := os.WriteFile(l.LocalLegacyConfig(), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	written, err := InitConfigIfMissing(l)
	if err != nil {
		t.Fatal(err)
	}
	if written {
		t.Fatalf("legacy config present, template should not be written")
	}
}
