// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import (
	"os"
	"strconv"
)

// runtimeDir returns XDG_RUNTIME_DIR, or "" if unset.
func runtimeDir() string { return os.Getenv("XDG_RUNTIME_DIR") }

// envExitOnDisconnect implements the IPC_EXIT_ON_DISCONNECT convention of
// spec.md §6: any value strconv.ParseBool accepts as true sets the
// policy; unset or unparseable leaves the default (false) in place.
func envExitOnDisconnect() bool {
	v, ok := os.LookupEnv("IPC_EXIT_ON_DISCONNECT")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
