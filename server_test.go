// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import (
	"path/filepath"
	"testing"

	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/compositor/soft"
)

func loadTestFixture(t *testing.T) *catalogue.DeviceCatalogue {
	t.Helper()
	dc, err := catalogue.LoadFixture(filepath.Join("catalogue", "testdata", "two_device.yaml"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return dc
}

func TestNewServerInitAndShutdown(t *testing.T) {
	dc := loadTestFixture(t)
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	r := soft.New(nil)

	srv, err := NewServer(dc, r, SocketPath(sockPath), Fixture("catalogue/testdata/two_device.yaml"))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv.Catalogue() == nil {
		t.Fatal("Catalogue() = nil after successful init")
	}
	if !r.Initialized() {
		t.Fatal("renderer.Init was never called")
	}

	if err := srv.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !r.ShutdownCalled() {
		t.Fatal("renderer.Shutdown was never called during teardown")
	}
	// Idempotent: a second Shutdown must not panic or error.
	if err := srv.Shutdown(); err != nil {
		t.Fatalf("second Shutdown must be idempotent: %v", err)
	}
}

func TestNewServerRejectsCatalogueWithoutHMDAtSlotZero(t *testing.T) {
	dc := &catalogue.DeviceCatalogue{
		Devices: []*catalogue.Device{{Name: 1}}, // no HMD.
	}
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	r := soft.New(nil)

	_, err := NewServer(dc, r, SocketPath(sockPath))
	if err == nil {
		t.Fatal("NewServer should reject a catalogue with no HMD at device slot 0")
	}
	if r.ShutdownCalled() {
		t.Fatal("renderer.Shutdown should not run for a step that never got as far as compositor init")
	}
}

func TestNewServerUnwindsOnListenerFailure(t *testing.T) {
	dc := loadTestFixture(t)
	r := soft.New(nil)
	// A path under a nonexistent directory can never be bound.
	badPath := filepath.Join(t.TempDir(), "missing-subdir", "test.sock")

	_, err := NewServer(dc, r, SocketPath(badPath))
	if err == nil {
		t.Fatal("NewServer should fail when the listener cannot bind")
	}
	if !r.Initialized() {
		t.Fatal("renderer.Init should have run before the listener step")
	}
	if !r.ShutdownCalled() {
		t.Fatal("renderer.Shutdown should run during teardown unwind after a later init step fails")
	}
}

func TestServerRunStopsOnStop(t *testing.T) {
	dc := loadTestFixture(t)
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	r := soft.New(nil)

	srv, err := NewServer(dc, r, SocketPath(sockPath))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Shutdown()

	done := make(chan struct{})
	go func() {
		srv.Run()
		close(done)
	}()
	srv.Stop()
	<-done
}
