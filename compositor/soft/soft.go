// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package soft implements compositor.Renderer without a GPU, so tests
// can exercise CompositorDriver's reconciliation and idle-draw logic
// without depending on Vulkan. Grounded on the teacher's own practice of
// shipping a default, non-hardware-bound Renderer for its own tests (see
// render.New in the example pack).
package soft

import (
	"io"
	"log/slog"
	"sync"

	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/compositor"
)

// layer is the software double's record of one set-layer call; kept only
// so tests can assert what CompositorDriver reconciled.
type layer struct {
	projection bool
	left       compositor.SwapchainImage
	right      compositor.SwapchainImage
	quadImg    compositor.SwapchainImage
	pose       catalogue.Pose
	size       [2]float32
	flipY      bool
}

// Renderer is a compositor.Renderer that records calls instead of
// issuing Vulkan draws. deviceQueue stands in for the real renderer's
// Vulkan device-queue mutex (spec.md §5): held across Draw and around
// Shutdown's vkDeviceWaitIdle-equivalent, so a race test can assert the
// same discipline a GPU-backed implementation must honor.
type Renderer struct {
	log *slog.Logger

	deviceQueue sync.Mutex
	layers      []layer
	drawCount   int
	idleDraws   int
	initialized bool
	shutdown    bool

	garbage []int // retired draw counts awaiting GarbageCollect.
}

// New returns a Renderer ready for Init. log may be nil; a discard
// logger is used in that case.
func New(log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Renderer{log: log}
}

func (r *Renderer) Init() error {
	r.deviceQueue.Lock()
	r.initialized = true
	r.deviceQueue.Unlock()
	r.log.Debug("soft: renderer initialized")
	return nil
}

func (r *Renderer) DestroyLayers() {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	r.layers = nil
}

func (r *Renderer) SetProjectionLayer(i int, left, right compositor.SwapchainImage, flipY bool) error {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	r.ensureSlot(i)
	r.layers[i] = layer{projection: true, left: left, right: right, flipY: flipY}
	return nil
}

func (r *Renderer) SetQuadLayer(i int, img compositor.SwapchainImage, pose catalogue.Pose, size [2]float32, flipY bool) error {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	r.ensureSlot(i)
	r.layers[i] = layer{quadImg: img, pose: pose, size: size, flipY: flipY}
	return nil
}

func (r *Renderer) ensureSlot(i int) {
	for len(r.layers) <= i {
		r.layers = append(r.layers, layer{})
	}
}

func (r *Renderer) Draw(idle bool) error {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	r.drawCount++
	if idle {
		r.idleDraws++
	}
	r.garbage = append(r.garbage, r.drawCount)
	return nil
}

func (r *Renderer) GarbageCollect() {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	if len(r.garbage) > 1 {
		r.garbage = r.garbage[len(r.garbage)-1:]
	}
}

func (r *Renderer) Shutdown() {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	r.shutdown = true
	r.layers = nil
	r.log.Debug("soft: renderer shut down")
}

// LayerCount is exported for tests asserting CompositorDriver's
// reconciliation reallocated the layer array to the expected size.
func (r *Renderer) LayerCount() int {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	return len(r.layers)
}

// DrawCount, IdleDraws and ShutdownCalled are exported for the same
// reason.
func (r *Renderer) DrawCount() int {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	return r.drawCount
}
func (r *Renderer) IdleDraws() int {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	return r.idleDraws
}
func (r *Renderer) ShutdownCalled() bool {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	return r.shutdown
}

// Initialized reports whether Init has run.
func (r *Renderer) Initialized() bool {
	r.deviceQueue.Lock()
	defer r.deviceQueue.Unlock()
	return r.initialized
}
