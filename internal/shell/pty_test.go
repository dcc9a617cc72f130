package shell

import (
	"strings"
	"testing"
	"time"
)

func newTestPool(t *testing.T) *TerminalPool {
	t.Helper()
	pool := NewTerminalPool(nil, "/bin/sh")
	t.Cleanup(pool.Shutdown)
	return pool
}

// TestTerminalOpenRunClose: open a terminal, run
// a command, see its output settle, then close it.
func TestTerminalOpenRunClose(t *testing.T) {
	pool := newTestPool(t)

	id, _, err := pool.Open("test", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pool.Count() != 1 {
		t.Fatalf("expected 1 open terminal, got %d", pool.Count())
	}

	out, err := pool.Run(id, "echo hello-agentd", 5000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "hello-agentd") {
		t.Fatalf("expected command output, got %q", out)
	}
	if strings.Contains(out, "\r") {
		t.Fatalf("expected carriage returns stripped, got %q", out)
	}

	if err := pool.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pool.Count() != 0 {
		t.Fatalf("expected 0 open terminals after close, got %d", pool.Count())
	}
}

func TestTerminalViewSentinelWhenNoNewOutput(t *testing.T) {
	pool := newTestPool(t)

	id, _, err := pool.Open("test", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := pool.Run(id, "echo first", 5000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first, err := pool.View(id, 10)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if first == noNewOutputSentinel {
		t.Fatal("expected real output on first view after a command")
	}

	second, err := pool.View(id, 10)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if second != noNewOutputSentinel {
		t.Fatalf("expected sentinel on repeated view with no new output, got %q", second)
	}
}

func TestTerminalInputAnswersPrompt(t *testing.T) {
	pool := newTestPool(t)

	id, _, err := pool.Open("test", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := pool.Run(id, "read -r name; echo \"hi $name\"", 2000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := pool.Input(id, "agentd\n", 5000)
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	if !strings.Contains(out, "hi agentd") {
		t.Fatalf("expected prompt answer reflected in output, got %q", out)
	}
}

func TestTerminalBufferStaysWithinCap(t *testing.T) {
	buf := &terminalBuffer{}
	chunk := make([]byte, 4096)
	for i := range chunk {
		chunk[i] = 'x'
	}
	for i := 0; i < 100; i++ {
		buf.append(chunk)
	}
	if buf.len() > MaxTerminalBufferBytes {
		t.Fatalf("buffer exceeded cap: %d > %d", buf.len(), MaxTerminalBufferBytes)
	}
}

func TestTerminalRunOnUnknownIDErrors(t *testing.T) {
	pool := newTestPool(t)
	if _, err := pool.Run("does-not-exist", "echo hi", 1000); err == nil {
		t.Fatal("expected error running command on unknown terminal")
	}
}

func TestTerminalRunTimeoutMarksStillRunning(t *testing.T) {
	pool := newTestPool(t)
	id, _, err := pool.Open("test", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	out, err := pool.Run(id, "sleep 3", 300)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "still running") {
		t.Fatalf("expected timeout marker, got %q", out)
	}

	// Let the sleep finish so Shutdown doesn't leave an orphan in CI.
	time.Sleep(3 * time.Second)
}
