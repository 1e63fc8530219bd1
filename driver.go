// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import (
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/gazed/xrcompd/compositor"
	"github.com/gazed/xrcompd/errs"
	"github.com/gazed/xrcompd/session"
)

// clientSlot holds the server's single ClientSession thread (spec.md
// §4.4: the core maintains exactly one). started/stopping mirror the
// atomic booleans spec.md §5 calls for; done is closed by the worker
// goroutine so Accept can reap ("join") a finished thread before
// spawning a fresh one.
type clientSlot struct {
	started  atomic.Bool
	stopping atomic.Bool
	session  *session.Session
	done     chan struct{}
}

// CompositorDriver owns the steady-state main loop: it drains
// EventPoller, enforces the single-client accept policy, reconciles the
// active session's layer stack into the external compositor.Renderer,
// and keeps drawing (idle or not) every iteration so HMD timing stays
// stable (spec.md §4.6).
type CompositorDriver struct {
	log      *slog.Logger
	listener *Listener
	poller   *EventPoller
	renderer compositor.Renderer

	exitOnDisconnect bool
	running          atomic.Bool
	currentLayers    int

	slot clientSlot

	// newSession is overridden by tests to inject a session.Session
	// without a real catalogue fd.
	newSession func() *session.Session
}

// NewCompositorDriver wires the accepted listener, poller, and external
// renderer together. The caller has already run Renderer.Init.
func NewCompositorDriver(log *slog.Logger, l *Listener, p *EventPoller, r compositor.Renderer, exitOnDisconnect bool, newSession func() *session.Session) *CompositorDriver {
	d := &CompositorDriver{log: log, listener: l, poller: p, renderer: r, exitOnDisconnect: exitOnDisconnect, newSession: newSession}
	d.running.Store(true)
	return d
}

// Running reports whether the main loop should keep iterating. Any
// goroutine may clear it; only the main loop reads it between
// iterations (spec.md §5).
func (d *CompositorDriver) Running() bool { return d.running.Load() }

// Stop requests the main loop exit at its next iteration boundary.
func (d *CompositorDriver) Stop() { d.running.Store(false) }

// Step runs one iteration of the loop body described in spec.md §4.6.
// Exported (rather than folded into an unexported Run loop) so tests can
// drive it deterministically without a real epoll/poll cadence.
func (d *CompositorDriver) Step() {
	for _, ev := range d.poller.Poll() {
		d.handle(ev)
	}
	d.drawIteration()
}

// drawIteration is Step's loop body minus the poll, split out so tests
// can exercise reconciliation and idle behavior without a live listener
// fd backing the poller.
func (d *CompositorDriver) drawIteration() {
	active := d.activeSession()
	idle := active == nil || active.NumSwapchains() == 0
	if idle {
		if d.currentLayers != 0 {
			d.renderer.DestroyLayers()
			d.currentLayers = 0
		}
	} else if layers, pending := active.RenderState.Pending(); pending {
		if !d.reconcile(active, layers) {
			// FrameReconcileError already logged by reconcile. Per
			// spec.md §4.6 the frame is skipped entirely — no draw, no
			// garbage collect — and the next iteration may retry once
			// the client resubmits, so rendering stays true.
			return
		}
		d.currentLayers = len(layers)
		active.RenderState.Done()
	}

	if err := d.renderer.Draw(idle); err != nil {
		d.log.Error("compositor draw failed", "error", err, "kind", errs.ErrVulkan)
	}
	d.renderer.GarbageCollect()
}

func (d *CompositorDriver) activeSession() *session.Session {
	s := d.slot.session
	if s == nil || !s.Active() {
		return nil
	}
	return s
}

func (d *CompositorDriver) handle(ev Event) {
	switch ev.Kind {
	case EventNewConnection:
		d.acceptOne()
	case EventShutdownRequested:
		d.log.Info("shutdown requested by operator")
		d.Stop()
	case EventError:
		d.log.Error("poller error", "error", ev.Err)
		d.Stop()
	}
}

// acceptOne implements the single-client policy of spec.md §4.4.
func (d *CompositorDriver) acceptOne() {
	conn, err := d.listener.Accept()
	if err != nil {
		d.log.Error("accept failed", "error", err)
		d.Stop()
		return
	}
	if conn == nil {
		return // spurious wakeup; backlog already drained.
	}

	switch {
	case !d.slot.started.Load():
		d.spawn(conn)
	case !d.slot.stopping.Load():
		d.log.Warn("rejecting connection: client already connected", "error", errs.ErrClientAlreadyConnected)
		conn.Close()
	default:
		<-d.slot.done // reap the finished worker.
		d.slot.started.Store(false)
		d.slot.stopping.Store(false)
		d.spawn(conn)
	}
}

func (d *CompositorDriver) spawn(conn *net.UnixConn) {
	s := d.newSession()
	done := make(chan struct{})
	s.OnDisconnect = func() {
		d.slot.stopping.Store(true)
		if d.exitOnDisconnect {
			d.Stop()
		}
		close(done)
	}
	d.slot.session = s
	d.slot.done = done
	d.slot.started.Store(true)
	d.slot.stopping.Store(false)

	go func() {
		if err := s.Run(conn); err != nil {
			d.log.Error("session worker exited", "error", err)
		}
	}()
}

// reconcile implements spec.md §4.6's per-layer dispatch. If the
// incoming layer count differs from the previous frame's, every existing
// layer object is destroyed and a fresh array is (conceptually)
// allocated before reconciliation; the simple path, not an in-place
// resize (spec.md §4.6 allows either). Returns false (a non-fatal
// FrameReconcileError, logged once) if any layer references a swapchain
// id the active session does not own.
func (d *CompositorDriver) reconcile(active *session.Session, layers []session.Layer) bool {
	if len(layers) != d.currentLayers {
		d.renderer.DestroyLayers()
	}
	for i, l := range layers {
		switch l.Type {
		case session.LayerStereoProjection:
			left, leftOK := swapchainImage(active, l.Stereo.Eyes[0])
			right, rightOK := swapchainImage(active, l.Stereo.Eyes[1])
			if !leftOK || !rightOK {
				d.log.Warn("frame reconcile failed: invalid swapchain id", "layer", i, "error", errs.ErrFrameReconcile)
				return false
			}
			if err := d.renderer.SetProjectionLayer(i, left, right, l.Flags.FlipY); err != nil {
				d.log.Error("set projection layer failed", "layer", i, "error", err, "kind", errs.ErrVulkan)
				return false
			}
		default:
			img, ok := swapchainImageFromQuad(active, l.Quad)
			if !ok {
				d.log.Warn("frame reconcile failed: invalid swapchain id", "layer", i, "error", errs.ErrFrameReconcile)
				return false
			}
			if err := d.renderer.SetQuadLayer(i, img, l.Quad.Pose, l.Quad.Size, l.Flags.FlipY); err != nil {
				d.log.Error("set quad layer failed", "layer", i, "error", err, "kind", errs.ErrVulkan)
				return false
			}
		}
	}
	return true
}

func swapchainImage(active *session.Session, eye session.EyeLayer) (compositor.SwapchainImage, bool) {
	sc, ok := active.Swapchain(int(eye.SwapchainID))
	if !ok {
		return compositor.SwapchainImage{}, false
	}
	return compositor.SwapchainImage{SwapchainID: sc.ID, ImageIndex: eye.ImageIndex, ArrayIndex: eye.ArrayIndex}, true
}

func swapchainImageFromQuad(active *session.Session, q session.QuadData) (compositor.SwapchainImage, bool) {
	sc, ok := active.Swapchain(int(q.SwapchainID))
	if !ok {
		return compositor.SwapchainImage{}, false
	}
	return compositor.SwapchainImage{SwapchainID: sc.ID, ImageIndex: q.ImageIndex, ArrayIndex: q.ArrayIndex}, true
}
