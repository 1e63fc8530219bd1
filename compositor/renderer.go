// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package compositor names the external CompositorRenderer collaborator
// (spec.md §1, §6): Vulkan pipeline construction, layer-renderer
// pipelines, and shader modules are out of scope for this module. This
// package only states the interface CompositorDriver drives and, in
// compositor/soft, a GPU-free double that satisfies it for tests.
package compositor

import "github.com/gazed/xrcompd/catalogue"

// SwapchainImage identifies one image a session's swapchain exposes, the
// handle an implementation needs to bind it as a sampled layer source.
type SwapchainImage struct {
	SwapchainID int
	ImageIndex  uint32
	ArrayIndex  uint32
}

// Renderer is the external compositor pipeline (spec.md §4.6), modeled
// on the teacher's render.Renderer shape (Init first, explicit per-call
// errors) but re-scoped to layer-stack operations rather than general 3D
// model rendering.
type Renderer interface {
	// Init is called once at startup, before ServerLifecycle builds the
	// SharedCatalogue and before the main loop starts.
	Init() error

	// DestroyLayers releases every layer object currently allocated,
	// bringing the layer count back to zero. Called whenever the active
	// client's layer count changes or disappears (spec.md §4.6).
	DestroyLayers()

	// SetProjectionLayer assigns layer i as a stereo projection layer
	// sampling left/right swapchain images. flipY mirrors the client's
	// LayerFlags.FlipY.
	SetProjectionLayer(i int, left, right SwapchainImage, flipY bool) error

	// SetQuadLayer assigns layer i as a quad (or cube/equirect/cylinder,
	// dispatched identically pending differentiation) layer sampling a
	// single swapchain image at pose/size.
	SetQuadLayer(i int, img SwapchainImage, pose catalogue.Pose, size [2]float32, flipY bool) error

	// Draw issues one frame's worth of draws. idle is true when no
	// client is active or it owns no swapchains; the compositor still
	// draws (an idle background) so HMD frame timing remains stable
	// (spec.md §4.6).
	Draw(idle bool) error

	// GarbageCollect reclaims any GPU resources queued for deletion once
	// their in-flight frames have retired. Called once per loop
	// iteration, after Draw.
	GarbageCollect()

	// Shutdown waits for the device queue to idle and releases every
	// handle the renderer owns. Called once by ServerLifecycle teardown.
	Shutdown()
}
