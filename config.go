// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import "path/filepath"

// config.go reduces the ServerLifecycle init API footprint using
// functional options, the same idiom the teacher engine uses for its own
// Config (see NewEngine in the pack this module was adapted from).

// defaultSocketName is the filename ListenerBootstrap binds under
// $XDG_RUNTIME_DIR when no supervisor has handed over a listening fd.
const defaultSocketName = "monado_comp_ipc"

// Config carries the attributes ServerLifecycle needs before Init runs.
// Values are frozen once Init starts; nothing below may be mutated by a
// running server.
type Config struct {
	socketPath       string // filesystem path for ListenerBootstrap's own bind.
	exitOnDisconnect bool   // IPC_EXIT_ON_DISCONNECT, spec.md §6.
	fixturePath      string // optional YAML DeviceCatalogue, dev/in-process mode.
	debug            bool   // verbose slog output.
}

// defaultConfig matches the environment-variable defaults of spec.md §6:
// IPC_EXIT_ON_DISCONNECT defaults to false, and the socket path is derived
// from XDG_RUNTIME_DIR with a /tmp fallback (SPEC_FULL.md §6).
func defaultConfig() Config {
	return Config{
		socketPath:       defaultSocketPath(),
		exitOnDisconnect: false,
	}
}

func defaultSocketPath() string {
	if dir := runtimeDir(); dir != "" {
		return filepath.Join(dir, defaultSocketName)
	}
	return filepath.Join("/tmp", defaultSocketName)
}

// Option configures a Config. For use with NewServer:
//
//	srv, err := xrcompd.NewServer(catalogue, renderer,
//	    xrcompd.SocketPath("/run/user/1000/monado_comp_ipc"),
//	    xrcompd.ExitOnDisconnect(),
//	)
type Option func(*Config)

// SocketPath overrides the well-known filesystem path ListenerBootstrap
// binds to when no supervisor has handed over a listening fd. Ignored
// entirely when a supervisor handoff is detected (spec.md §4.2).
func SocketPath(path string) Option {
	return func(c *Config) { c.socketPath = path }
}

// ExitOnDisconnect sets the policy matching IPC_EXIT_ON_DISCONNECT=1:
// the server stops its main loop as soon as the single active client
// disconnects.
func ExitOnDisconnect() Option {
	return func(c *Config) { c.exitOnDisconnect = true }
}

// Fixture records the path of the YAML-described DeviceCatalogue
// (catalogue.LoadFixture) the caller loaded for the opt-in dev/in-process
// mode and for tests. NewServer does not read the file: it uses the
// DeviceCatalogue it is passed, and only publishes this path as the
// xrcompd.fixture_path debug variable.
func Fixture(path string) Option {
	return func(c *Config) { c.fixturePath = path }
}

// Debug raises the server's slog level to Debug.
func Debug() Option {
	return func(c *Config) { c.debug = true }
}
