// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package debugvars is a process-global named debug-variable registry,
// modeled on the standard library's expvar idiom. It exists as its own
// package (rather than importing expvar) because ServerLifecycle's
// teardown step needs to remove exactly the variables it published
// (spec.md §4.7 step 10 / teardown step 1), and expvar.Publish has no
// matching Unpublish.
package debugvars

import "sync"

// Func is a debug variable's value, computed on demand at Dump time
// rather than cached, matching expvar.Func's own laziness.
type Func func() string

var (
	mu   sync.Mutex
	vars = map[string]Func{}
)

// Publish registers name, replacing any prior registration under the
// same name. Called once per variable during ServerLifecycle init.
func Publish(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	vars[name] = fn
}

// Remove unregisters name, a no-op if it was never published. Called by
// ServerLifecycle teardown as its first step, mirroring init's last step
// (spec.md §4.7).
func Remove(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(vars, name)
}

// Dump snapshots every currently published variable's value.
func Dump() map[string]string {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]string, len(vars))
	for name, fn := range vars {
		out[name] = fn()
	}
	return out
}

// RemoveAll clears the registry. Exported for tests; production code
// should prefer Remove(name) for each variable a single ServerLifecycle
// published, so an embedder running more than one lifecycle in-process
// cannot stomp on another's variables.
func RemoveAll() {
	mu.Lock()
	defer mu.Unlock()
	vars = map[string]Func{}
}
