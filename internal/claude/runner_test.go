package claude

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func TestLaunchSpawnFailureIsAsync(t *testing.T) {
	l := NewLauncher("/nonexistent/claude-binary", logger.Default())

	proc, sessionID := l.Launch(context.Background(), "hi", &Options{})
	if sessionID != "" {
		t.Errorf("expected empty session id on spawn failure, got %s", sessionID)
	}

	select {
	case res := <-proc.Done():
		if res.SpawnErr == nil {
			t.Error("expected SpawnErr to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("expected spawn failure on Done channel")
	}

	// Event and stderr channels are closed, not left dangling
	if _, ok := <-proc.Events(); ok {
		t.Error("expected events channel closed")
	}
	if _, ok := <-proc.Stderr(); ok {
		t.Error("expected stderr channel closed")
	}
}

// writeStub installs a shell script standing in for the CLI binary
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude-stub")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLaunchExtractsSessionID(t *testing.T) {
	stub := writeStub(t, `echo '{"type":"system","subtype":"init","session_id":"sess-stub","model":"m"}'
echo '{"type":"result","session_id":"sess-stub","result":"ok"}'
`)

	l := NewLauncher(stub, logger.Default())
	proc, sessionID := l.Launch(context.Background(), "hi", &Options{})

	if sessionID != "sess-stub" {
		t.Errorf("expected session sess-stub, got %q", sessionID)
	}

	select {
	case res := <-proc.Done():
		if res.SpawnErr != nil || res.Code != 0 {
			t.Errorf("unexpected exit: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("process did not finish")
	}
}

func TestLaunchSessionWaitReturnsEarlyWithoutInit(t *testing.T) {
	// The stub exits immediately without ever printing an init event,
	// so the session wait resolves via pipe close, well before the
	// full wait elapses.
	stub := writeStub(t, `exit 0`)

	l := NewLauncher(stub, logger.Default())

	start := time.Now()
	proc, sessionID := l.Launch(context.Background(), "hi", &Options{})
	_ = proc

	if sessionID != "" {
		t.Errorf("expected empty session id, got %q", sessionID)
	}
	if elapsed := time.Since(start); elapsed >= sessionWaitTimeout {
		t.Errorf("launch waited the full timeout (%v) for a dead process", elapsed)
	}
}
