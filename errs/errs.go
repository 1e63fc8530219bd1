// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package errs names the error taxonomy shared by the compositor server.
// Each sentinel is a kind, not a formatted message; call sites wrap it
// with fmt.Errorf("...: %w", ErrX) so errors.Is still matches the kind
// once the offending detail (fd number, swapchain id, syscall name) is
// folded in.
package errs

import "errors"

// Fatal init-time errors. Any of these aborts ServerLifecycle and
// triggers full teardown (spec.md §7).
var (
	// ErrCatalogueInit covers shm_open/ftruncate/mmap equivalent failures
	// while building the SharedCatalogue.
	ErrCatalogueInit = errors.New("catalogue init failed")

	// ErrListenerBind covers bind/listen failures, including a prior
	// instance already owning the well-known path or socket unit.
	ErrListenerBind = errors.New("listener bind failed")

	// ErrTooManyInheritedSockets is returned when the supervisor handoff
	// protocol reports more than one inherited listening fd.
	ErrTooManyInheritedSockets = errors.New("too many inherited sockets")
)

// Runtime errors. Each has its own recovery policy, documented below and
// alongside its call site; only ErrAcceptError always stops the server,
// and ErrWorkerProtocol does so when exit-on-disconnect is set.
var (
	// ErrAcceptError is a transient per-connection accept(2) failure.
	// Treated as fatal to the server per the source's conservative
	// policy (spec.md §9 open question: not yet observed to warrant
	// a retry).
	ErrAcceptError = errors.New("accept failed")

	// ErrClientAlreadyConnected is non-fatal: the new fd is closed and
	// the existing session continues uninterrupted.
	ErrClientAlreadyConnected = errors.New("client already connected")

	// ErrFrameReconcile marks a layer referencing a swapchain id that
	// does not exist in the active session. Non-fatal: the frame is
	// skipped, the loop continues.
	ErrFrameReconcile = errors.New("frame reconcile failed")

	// ErrVulkan wraps an error surfaced by the external CompositorRenderer.
	// During the main loop it is fatal to the frame that produced it, not
	// to the server; a failed Renderer.Init aborts server init.
	ErrVulkan = errors.New("vulkan error")

	// ErrWorkerProtocol marks a malformed IPC message. The worker tears
	// its session down; if exit-on-disconnect is set this propagates to
	// server shutdown.
	ErrWorkerProtocol = errors.New("worker protocol error")
)
