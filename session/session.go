// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package session owns the per-client worker goroutine: it speaks the
// ipcwire framing, maintains the client's swapchain handles, and is the
// sole producer into that client's RenderState, which the compositor
// driver's main loop drains.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/errs"
	"github.com/gazed/xrcompd/ipcwire"
	"golang.org/x/sys/unix"
)

// Swapchain is a client-owned set of memfd-backed image buffers. Real GPU
// buffer import/export is out of scope; memfd stands in as the
// inheritable handle so the SCM_RIGHTS path has something concrete to
// carry (see newSwapchainImage).
type Swapchain struct {
	ID         int
	ImageCount int
	Width      int
	Height     int
	fds        []int
}

// Session is one connected client: its transport, its swapchain table,
// and the render state the compositor driver consumes. One Session is
// created per accepted connection by CompositorDriver.
type Session struct {
	log              *slog.Logger
	cat              *catalogue.SharedCatalogue
	exitOnDisconnect bool
	OnDisconnect     func()

	mu         sync.Mutex
	swapchains map[int]*Swapchain
	nextID     int
	closed     bool

	warnedSubRect atomic.Bool

	// active is set once the client completes MsgHandshake (spec.md
	// §4.4). CompositorDriver only reconciles and drains the render
	// state of a session for which Active reports true.
	active atomic.Bool

	RenderState RenderState
}

// Active reports whether this session has completed its handshake.
func (s *Session) Active() bool { return s.active.Load() }

// NumSwapchains reports how many swapchains this session currently owns,
// so CompositorDriver can tell an active-but-not-yet-rendering client
// apart from one that should fall back to the idle draw (spec.md §4.6).
func (s *Session) NumSwapchains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.swapchains)
}

// Swapchain looks up a client-assigned swapchain id. Returns false if no
// such swapchain exists, the FrameReconcileError case of spec.md §4.6.
func (s *Session) Swapchain(id int) (*Swapchain, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.swapchains[id]
	return sc, ok
}

// ExitOnDisconnect reports whether the server should terminate when this
// session's client disconnects, per the IPC_EXIT_ON_DISCONNECT
// single-client convenience mode (SPEC_FULL.md §7).
func (s *Session) ExitOnDisconnect() bool { return s.exitOnDisconnect }

// New returns a Session ready to run. cat may be nil in tests that don't
// exercise MsgWaitFrame.
func New(log *slog.Logger, cat *catalogue.SharedCatalogue, exitOnDisconnect bool) *Session {
	return &Session{
		log:              log,
		cat:              cat,
		exitOnDisconnect: exitOnDisconnect,
		swapchains:       make(map[int]*Swapchain),
	}
}

// Run reads and dispatches frames from conn until the client disconnects
// or sends a malformed message. It always returns nil on a clean
// disconnect; transport and protocol errors are returned so the caller
// can log them, per spec.md's per-client fault isolation requirement: a
// single worker's error never propagates to any other session.
func (s *Session) Run(conn *net.UnixConn) error {
	defer s.teardown()
	for {
		frame, err := ipcwire.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("session: read: %w", err)
		}
		if err := s.dispatch(conn, frame); err != nil {
			return fmt.Errorf("session: %w: %w", err, errs.ErrWorkerProtocol)
		}
	}
}

func (s *Session) dispatch(conn *net.UnixConn, f ipcwire.Frame) error {
	switch f.Kind {
	case MsgHandshake:
		if err := ipcwire.WriteFrame(conn, ipcwire.Frame{Kind: MsgHandshakeAck}); err != nil {
			return err
		}
		s.active.Store(true)
		return nil

	case MsgSwapchainCreate:
		req, err := decodeSwapchainCreateRequest(f.Payload)
		if err != nil {
			return err
		}
		sc, fds, err := s.createSwapchain(req)
		if err != nil {
			return err
		}
		return ipcwire.WriteFrame(conn, ipcwire.Frame{
			Kind:    MsgSwapchainCreateAck,
			Payload: encodeSwapchainCreateAck(sc.ID),
			FDs:     fds,
		})

	case MsgSwapchainDestroy:
		id, err := decodeSwapchainDestroyRequest(f.Payload)
		if err != nil {
			return err
		}
		return s.destroySwapchain(id)

	case MsgFrameEnd:
		layers, err := DecodeFrameEnd(f.Payload)
		if err != nil {
			return err
		}
		s.warnNonIdentitySubRects(layers)
		s.RenderState.Submit(layers)
		return nil

	case MsgWaitFrame:
		if s.cat == nil {
			return fmt.Errorf("session: wait-frame requested without a catalogue")
		}
		if err := s.cat.WaitFrame(); err != nil {
			return fmt.Errorf("wait-frame: %w", err)
		}
		return ipcwire.WriteFrame(conn, ipcwire.Frame{Kind: MsgWaitFrameAck})

	default:
		return fmt.Errorf("unknown message kind %d", f.Kind)
	}
}

// warnNonIdentitySubRects logs once, at this session's first sighting of
// a non-identity sub-rect, that it is being ignored (spec.md §4.6: the
// compositor always composites the full swapchain image).
func (s *Session) warnNonIdentitySubRects(layers []Layer) {
	if s.warnedSubRect.Load() {
		return
	}
	for _, l := range layers {
		var nonIdentity bool
		switch l.Type {
		case LayerStereoProjection:
			nonIdentity = !l.Stereo.Eyes[0].Rect.isIdentity() || !l.Stereo.Eyes[1].Rect.isIdentity()
		default:
			nonIdentity = !l.Quad.Rect.isIdentity()
		}
		if nonIdentity && s.warnedSubRect.CompareAndSwap(false, true) {
			s.log.Warn("sub-rect ignored; compositing full swapchain image")
			return
		}
	}
}

func (s *Session) createSwapchain(req swapchainCreateRequest) (*Swapchain, []int, error) {
	if req.ImageCount == 0 || req.ImageCount > 16 {
		return nil, nil, fmt.Errorf("session: invalid image count %d", req.ImageCount)
	}
	fds := make([]int, 0, req.ImageCount)
	size := int(req.Width) * int(req.Height) * 4
	for i := uint32(0); i < req.ImageCount; i++ {
		fd, err := newSwapchainImage(size)
		if err != nil {
			for _, f := range fds {
				unix.Close(f)
			}
			return nil, nil, fmt.Errorf("session: allocate swapchain image %d: %w", i, err)
		}
		fds = append(fds, fd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sc := &Swapchain{ID: s.nextID, ImageCount: int(req.ImageCount), Width: int(req.Width), Height: int(req.Height), fds: fds}
	s.swapchains[sc.ID] = sc
	return sc, fds, nil
}

func (s *Session) destroySwapchain(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.swapchains[id]
	if !ok {
		return fmt.Errorf("session: unknown swapchain %d", id)
	}
	for _, fd := range sc.fds {
		unix.Close(fd)
	}
	delete(s.swapchains, id)
	return nil
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.active.Store(false)
	for id, sc := range s.swapchains {
		for _, fd := range sc.fds {
			unix.Close(fd)
		}
		delete(s.swapchains, id)
	}
	s.mu.Unlock()

	if s.OnDisconnect != nil {
		s.OnDisconnect()
	}
}

// newSwapchainImage allocates one anonymous memfd-backed memory region to
// stand in for a GPU-importable swapchain image buffer. Real buffer
// import/export (dma-buf, VkDeviceMemory export) is out of scope; this
// keeps the fd-passing path exercised end to end.
func newSwapchainImage(size int) (int, error) {
	if size <= 0 {
		size = 4096
	}
	fd, err := unix.MemfdCreate("xrcompd-swapchain", 0)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ftruncate: %w", err)
	}
	return fd, nil
}
