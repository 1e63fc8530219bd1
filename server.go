// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package xrcompd is the OpenXR-style runtime server's IPC and
// compositor coordination subsystem: it publishes a shared-memory device
// catalogue, accepts a single client connection at a time on a
// Unix-domain endpoint, and drives a compositor render loop against that
// client's submitted layer stack. Device enumeration/input polling and
// the Vulkan compositor pipeline itself are external collaborators
// (catalogue.DeviceCatalogue and compositor.Renderer, respectively).
package xrcompd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/compositor"
	"github.com/gazed/xrcompd/debugvars"
	"github.com/gazed/xrcompd/errs"
	"github.com/gazed/xrcompd/session"
	"github.com/gazed/xrcompd/tracing"
)

// teardownStack collects the reverse-order cleanup closures ServerLifecycle
// needs to run on every exit path, including a partial-init failure
// (SPEC_FULL.md §9: "init_all → teardown_all", made structural rather
// than manual). Each push happens immediately after the resource it
// guards is successfully acquired.
type teardownStack []func() error

func (s *teardownStack) push(fn func() error) { *s = append(*s, fn) }

// pushFront inserts fn at the bottom of the stack, so unwind (which pops
// LIFO) runs it last regardless of when during init it was acquired.
// Used for the listener: spec.md §4.7 teardown order closes it after
// every other resource, even though it is bootstrapped in the middle of
// init.
func (s *teardownStack) pushFront(fn func() error) {
	*s = append(teardownStack{fn}, *s...)
}

// unwind runs every pushed closure in LIFO order, logging but not
// stopping on individual failures, and returns the first error seen.
func (s *teardownStack) unwind(log *slog.Logger) error {
	var first error
	for i := len(*s) - 1; i >= 0; i-- {
		if err := (*s)[i](); err != nil {
			log.Error("teardown step failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	*s = nil
	return first
}

// Server is the singleton root: it owns the published catalogue, the
// listener, the poller, the external compositor renderer, and the
// single-client driver. Created once by NewServer, torn down once by
// Shutdown (spec.md §3, §4.7).
type Server struct {
	log *slog.Logger
	cfg Config

	cat      *catalogue.SharedCatalogue
	listener *Listener
	poller   *EventPoller
	renderer compositor.Renderer
	driver   *CompositorDriver

	teardown teardownStack
}

// NewServer runs ServerLifecycle's init order (spec.md §4.7) against dc
// (the external DeviceCatalogue, already enumerated) and renderer (the
// external CompositorRenderer). On any failure, every resource acquired
// so far is torn down before the error is returned — no partial Server
// is ever handed back to the caller.
func NewServer(dc *catalogue.DeviceCatalogue, renderer compositor.Renderer, opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	cfg.exitOnDisconnect = envExitOnDisconnect() // step 1: debug/env options.
	for _, opt := range opts {
		opt(&cfg)
	}

	log := slog.Default()
	if cfg.debug {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	srv := &Server{log: log, cfg: cfg, renderer: renderer}

	if err := srv.init(dc); err != nil {
		srv.teardown.unwind(log)
		return nil, err
	}
	return srv, nil
}

func (srv *Server) init(dc *catalogue.DeviceCatalogue) error {
	log := srv.log

	// Step 2/3: device enumeration is external; this server only
	// requires the result name an HMD at slot 0.
	span := tracing.Start(log, "server.init.devices")
	if len(dc.Devices) == 0 || dc.Devices[0] == nil || dc.Devices[0].HMD == nil {
		span.End()
		return fmt.Errorf("server: device slot 0 must be an HMD: %w", errs.ErrCatalogueInit)
	}
	srv.teardown.push(func() error {
		for i := range dc.Devices {
			dc.Devices[i] = nil // destroy each device, nulling slots (spec.md §4.7).
		}
		return nil
	})
	span.End()

	// Step 5: external compositor.
	span = tracing.Start(log, "server.init.compositor")
	if err := srv.renderer.Init(); err != nil {
		span.End()
		return fmt.Errorf("server: compositor init: %w: %w", err, errs.ErrVulkan)
	}
	srv.teardown.push(func() error { srv.renderer.Shutdown(); return nil })
	span.End()

	// Step 4/6: tracking-origin table + SharedCatalogue build.
	span = tracing.Start(log, "server.init.catalogue")
	cat, err := catalogue.Build(dc)
	if err != nil {
		span.End()
		return err
	}
	srv.cat = cat
	srv.teardown.push(func() error { return cat.Close() })
	span.End()

	// Step 7: listener bootstrap. Its teardown is pushed to the front so
	// it unwinds dead last, after the compositor and devices are torn
	// down (spec.md §4.7), even though it is acquired before the poller.
	span = tracing.Start(log, "server.init.listener")
	l, err := Bootstrap(srv.cfg.socketPath, log)
	if err != nil {
		span.End()
		return err
	}
	srv.listener = l
	srv.teardown.pushFront(func() error { return l.Close() })
	span.End()

	// Step 8: poller, registering stdin only when not launched by a
	// supervisor (spec.md §4.3).
	span = tracing.Start(log, "server.init.poller")
	watchStdin := !l.LaunchedBySocket()
	p, err := NewEventPoller(l.Fd(), watchStdin)
	if err != nil {
		span.End()
		return err
	}
	srv.poller = p
	srv.teardown.push(func() error { return p.Close() })
	span.End()

	// Step 9: the wait-frame coordination structure lives inside the
	// SharedCatalogue's Layout and was already initialized by
	// catalogue.Build; nothing further to allocate here.

	// Step 10: publish debug variables.
	debugvars.Publish("xrcompd.socket_path", func() string { return srv.cfg.socketPath })
	debugvars.Publish("xrcompd.exit_on_disconnect", func() string { return fmt.Sprintf("%v", srv.cfg.exitOnDisconnect) })
	debugvars.Publish("xrcompd.launched_by_socket", func() string { return fmt.Sprintf("%v", l.LaunchedBySocket()) })
	debugvars.Publish("xrcompd.fixture_path", func() string { return srv.cfg.fixturePath })
	srv.teardown.push(func() error {
		debugvars.Remove("xrcompd.socket_path")
		debugvars.Remove("xrcompd.exit_on_disconnect")
		debugvars.Remove("xrcompd.launched_by_socket")
		debugvars.Remove("xrcompd.fixture_path")
		return nil
	})

	srv.driver = NewCompositorDriver(log, l, p, srv.renderer, srv.cfg.exitOnDisconnect, srv.newSession)
	return nil
}

func (srv *Server) newSession() *session.Session {
	return session.New(srv.log, srv.cat, srv.cfg.exitOnDisconnect)
}

// Run drives the steady-state main loop until Stop is called or a fatal
// poller/accept error sets it running=false (spec.md §4.6).
func (srv *Server) Run() {
	for srv.driver.Running() {
		srv.driver.Step()
	}
}

// Stop requests the main loop exit at its next iteration boundary.
func (srv *Server) Stop() { srv.driver.Stop() }

// Catalogue returns the published SharedCatalogue, primarily so the
// connection handshake (out of scope here) can hand its fd to a newly
// accepted client.
func (srv *Server) Catalogue() *catalogue.SharedCatalogue { return srv.cat }

// Shutdown runs ServerLifecycle's teardown order (spec.md §4.7),
// reversed from init, and is idempotent: calling it twice is safe.
func (srv *Server) Shutdown() error {
	return srv.teardown.unwind(srv.log)
}
