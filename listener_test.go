// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestBootstrapBindListenAcceptClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	l, err := Bootstrap(path, discardLogger())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if l.LaunchedBySocket() {
		t.Fatal("LaunchedBySocket() = true, want false for a freshly bound socket")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket path missing after bind: %v", err)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var accepted *net.UnixConn
	deadlineErr := pollUntil(t, func() bool {
		c, err := l.Accept()
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if c != nil {
			accepted = c
			return true
		}
		return false
	})
	if deadlineErr {
		t.Fatal("Accept never returned the dialed connection")
	}
	accepted.Close()

	if c, err := l.Accept(); err != nil || c != nil {
		t.Fatalf("Accept on empty backlog = (%v, %v), want (nil, nil)", c, err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket path still exists after Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close must be idempotent: %v", err)
	}
}

func TestBootstrapBindFailureLeavesNoStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing-subdir", "test.sock")
	if _, err := Bootstrap(path, discardLogger()); err == nil {
		t.Fatal("Bootstrap into a nonexistent directory should fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket path exists after failed Bootstrap: %v", err)
	}
}

func TestInheritedListenFDsRequiresMatchingPID(t *testing.T) {
	t.Setenv("LISTEN_PID", "1")
	t.Setenv("LISTEN_FDS", "1")
	fds, err := inheritedListenFDs()
	if err != nil {
		t.Fatalf("inheritedListenFDs: %v", err)
	}
	if fds != nil {
		t.Fatalf("fds = %v, want nil when LISTEN_PID does not match this process", fds)
	}
}

func TestInheritedListenFDsAbsentByDefault(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")
	fds, err := inheritedListenFDs()
	if err != nil {
		t.Fatalf("inheritedListenFDs: %v", err)
	}
	if fds != nil {
		t.Fatalf("fds = %v, want nil with no LISTEN_PID/LISTEN_FDS set", fds)
	}
}

// pollUntil spins cond until it returns true or a short deadline elapses,
// returning true if the deadline was hit first.
func pollUntil(t *testing.T, cond func() bool) bool {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if cond() {
			return false
		}
	}
	return true
}
