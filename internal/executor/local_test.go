package executor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalStartCompletes(t *testing.T) {
	ex := NewLocal()
	h, err := ex.Start(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st, err := AwaitExit(context.Background(), h, 10*time.Second)
	if err != nil {
		t.Fatalf("AwaitExit: %v", err)
	}
	if st != StatusCompleted {
		t.Fatalf("status = %s, want %s", st, StatusCompleted)
	}
	if code, done := h.ExitCode(); !done || code != 0 {
		t.Fatalf("ExitCode = %d done=%v", code, done)
	}
	if got := h.Logs().Stdout; !strings.Contains(got, "hello") {
		t.Fatalf("stdout = %q, want hello", got)
	}
}

func TestLocalStartFails(t *testing.T) {
	ex := NewLocal()
	h, err := ex.Start(context.Background(), "sh -c 'exit 3'")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := AwaitExit(context.Background(), h, 10*time.Second)
	if err != nil {
		t.Fatalf("AwaitExit: %v", err)
	}
	if st != StatusFailed {
		t.Fatalf("status = %s, want %s", st, StatusFailed)
	}
	if code, _ := h.ExitCode(); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestLocalShellMetacharacters(t *testing.T) {
	ex := NewLocal()
	h, err := ex.Start(context.Background(), "echo a && echo b")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := AwaitExit(context.Background(), h, 10*time.Second); err != nil {
		t.Fatalf("AwaitExit: %v", err)
	}
	out := h.Logs().Stdout
	if !strings.Contains(out, "a") || !strings.Contains(out, "b") {
		t.Fatalf("stdout = %q, want both a and b", out)
	}
}

func TestLocalListIncludesFinished(t *testing.T) {
	ex := NewLocal()
	h, err := ex.Start(context.Background(), "echo done")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := AwaitExit(context.Background(), h, 10*time.Second); err != nil {
		t.Fatal(err)
	}

	handles, err := ex.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(handles) != 1 {
		t.Fatalf("len(handles) = %d, want 1", len(handles))
	}
	if handles[0].ID() != h.ID() {
		t.Fatalf("listed handle ID mismatch")
	}
	if !handles[0].Status().Terminal() {
		t.Fatalf("finished command should be terminal in listing")
	}
}

func TestLocalKill(t *testing.T) {
	ex := NewLocal()
	h, err := ex.Start(context.Background(), "sleep 30")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	st, err := AwaitExit(context.Background(), h, 10*time.Second)
	if err != nil {
		t.Fatalf("AwaitExit after kill: %v", err)
	}
	if st != StatusFailed {
		t.Fatalf("killed command status = %s, want %s", st, StatusFailed)
	}
	// Killing again is a no-op.
	if err := h.Kill(); err != nil {
		t.Fatalf("second Kill: %v", err)
	}
}

func TestStripExplicitShell(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"sh -c 'echo hi'", "echo hi", true},
		{`/bin/sh -c "echo hi"`, "echo hi", true},
		{"sh -c echo", "echo", true},
		{"echo plain", "", false},
	}
	for _, c := range cases {
		got, ok := stripExplicitShell(c.in)
		if ok != c.wantOK || got != c.want {
			t.Errorf("stripExplicitShell(%q) = %q,%v want %q,%v", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusStarting.Terminal() || StatusRunning.Terminal() {
		t.Fatalf("starting/running must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("completed/failed must be terminal")
	}
}

func TestAwaitExitTimeout(t *testing.T) {
	ex := NewLocal()
	h, err := ex.Start(context.Background(), "sleep 30")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Kill() }()

	start := time.Now()
	if _, err := AwaitExit(context.Background(), h, 600*time.Millisecond); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout took too long")
	}
}
