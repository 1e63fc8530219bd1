// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSocketPathPrefersRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	want := filepath.Join("/run/user/1000", defaultSocketName)
	if got := defaultSocketPath(); got != want {
		t.Fatalf("defaultSocketPath() = %q, want %q", got, want)
	}
}

func TestDefaultSocketPathFallsBackToTmp(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	want := filepath.Join("/tmp", defaultSocketName)
	if got := defaultSocketPath(); got != want {
		t.Fatalf("defaultSocketPath() = %q, want %q", got, want)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := defaultConfig()
	SocketPath("/custom/path")(&cfg)
	ExitOnDisconnect()(&cfg)
	Fixture("/dev/fixture.yaml")(&cfg)
	Debug()(&cfg)

	if cfg.socketPath != "/custom/path" {
		t.Errorf("socketPath = %q, want /custom/path", cfg.socketPath)
	}
	if !cfg.exitOnDisconnect {
		t.Error("exitOnDisconnect = false, want true")
	}
	if cfg.fixturePath != "/dev/fixture.yaml" {
		t.Errorf("fixturePath = %q, want /dev/fixture.yaml", cfg.fixturePath)
	}
	if !cfg.debug {
		t.Error("debug = false, want true")
	}
}

func TestEnvExitOnDisconnect(t *testing.T) {
	cases := []struct {
		val  string
		set  bool
		want bool
	}{
		{set: false, want: false},
		{val: "1", set: true, want: true},
		{val: "true", set: true, want: true},
		{val: "0", set: true, want: false},
		{val: "garbage", set: true, want: false},
	}
	for _, c := range cases {
		if c.set {
			t.Setenv("IPC_EXIT_ON_DISCONNECT", c.val)
		} else {
			os.Unsetenv("IPC_EXIT_ON_DISCONNECT")
		}
		if got := envExitOnDisconnect(); got != c.want {
			t.Errorf("envExitOnDisconnect() with val=%q set=%v = %v, want %v", c.val, c.set, got, c.want)
		}
	}
}
