// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package session

import (
	"sync/atomic"

	"github.com/gazed/xrcompd/catalogue"
)

// MaxLayers bounds the per-frame layer list a single client may submit.
// A bounded array, not a slice, so RenderState has no allocation on the
// hot EndFrame/Draw path.
const MaxLayers = 16

// LayerType tags which union member of Layer is populated. Additional
// layer kinds (cube, equirect, cylinder) are reserved here but dispatched
// identically to quad by the compositor driver until a renderer actually
// differentiates them.
type LayerType int

const (
	LayerStereoProjection LayerType = iota
	LayerQuad
	LayerCube
	LayerEquirect1
	LayerEquirect2
	LayerCylinder
)

// SubRect is decoded off the wire but deliberately ignored this revision
// (see SPEC_FULL.md §4.6): a client may request a sub-region of a
// swapchain image, but the compositor driver always composites the full
// image. Kept as a field so a future revision can honor it without a
// wire change, and so the MsgFrameEnd handler logs a single warning the
// first time a
// non-identity rect is seen instead of silently dropping information.
type SubRect struct {
	OffsetX, OffsetY, ExtentW, ExtentH float32
}

func (r SubRect) isIdentity() bool {
	return r == SubRect{}
}

// LayerFlags are the per-layer submission bits a client may set.
type LayerFlags struct {
	UnpremultipliedAlpha bool
	FlipY                bool
}

// EyeLayer is one eye of a stereo projection layer: the client-assigned
// swapchain id to sample, which image in its ring, and the (ignored)
// sub-rect within it.
type EyeLayer struct {
	SwapchainID uint32
	ImageIndex  uint32
	ArrayIndex  uint32
	Rect        SubRect
}

// StereoProjectionData is the body of a LayerStereoProjection layer.
type StereoProjectionData struct {
	Eyes [2]EyeLayer
}

// QuadData is the body of a LayerQuad (or cube/equirect/cylinder,
// pending differentiation) layer: a single swapchain image composited at
// a world-space pose and size.
type QuadData struct {
	Pose        catalogue.Pose
	Size        [2]float32
	SwapchainID uint32
	ImageIndex  uint32
	ArrayIndex  uint32
	Rect        SubRect
}

// Layer is one entry of a client's per-frame layer list. Exactly one of
// Stereo or Quad is populated, selected by Type.
type Layer struct {
	Type   LayerType
	Flags  LayerFlags
	Stereo StereoProjectionData
	Quad   QuadData
}

// RenderState is the single-slot, lock-free handoff between a client's
// worker goroutine (the sole producer) and the compositor driver's main
// loop (the sole consumer). There is no queue: Submit always overwrites
// whatever the previous call wrote, so a client that submits faster than
// the compositor drains simply loses the intermediate frames.
//
// rendering gates visibility of Layers/NumLayers, not mutual exclusion:
// Submit performs the payload writes before the release store, and
// Pending performs the acquire load before reading the payload, so a
// consumer never observes a torn write.
type RenderState struct {
	rendering atomic.Bool
	numLayers int
	layers    [MaxLayers]Layer
}

// Submit publishes n layers as the next frame to draw. Called only by
// the session's worker goroutine.
func (rs *RenderState) Submit(layers []Layer) {
	n := copy(rs.layers[:], layers)
	rs.numLayers = n
	rs.rendering.Store(true)
}

// Pending reports whether a frame is waiting to be drawn, and returns it
// without clearing the flag. Called only by the compositor driver's main
// loop.
func (rs *RenderState) Pending() ([]Layer, bool) {
	if !rs.rendering.Load() {
		return nil, false
	}
	return rs.layers[:rs.numLayers], true
}

// Done clears the rendering flag after the compositor driver has
// finished reconciling the frame returned by Pending.
func (rs *RenderState) Done() {
	rs.rendering.Store(false)
}
