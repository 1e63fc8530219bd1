// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package session

import (
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/ipcwire"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, err := net.FileConn(os.NewFile(uintptr(fds[0]), "a"))
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	b, err := net.FileConn(os.NewFile(uintptr(fds[1]), "b"))
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	ua := a.(*net.UnixConn)
	ub := b.(*net.UnixConn)
	t.Cleanup(func() { ua.Close(); ub.Close() })
	return ua, ub
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionHandshake(t *testing.T) {
	server, client := socketpair(t)
	s := New(discardLogger(), nil, false)

	done := make(chan error, 1)
	go func() { done <- s.Run(server) }()

	if err := ipcwire.WriteFrame(client, ipcwire.Frame{Kind: MsgHandshake}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	ack, err := ipcwire.ReadFrame(client)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Kind != MsgHandshakeAck {
		t.Fatalf("kind = %d, want MsgHandshakeAck", ack.Kind)
	}
	deadline := time.Now().Add(time.Second)
	for !s.Active() {
		if time.Now().After(deadline) {
			t.Fatal("session never reported Active() after a successful handshake")
		}
	}
	client.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error on clean disconnect: %v", err)
	}
}

func TestSessionSwapchainCreateAndDestroy(t *testing.T) {
	server, client := socketpair(t)
	s := New(discardLogger(), nil, false)
	go s.Run(server)

	req := make([]byte, 12)
	req[0] = 2 // image count
	if err := ipcwire.WriteFrame(client, ipcwire.Frame{Kind: MsgSwapchainCreate, Payload: req}); err != nil {
		t.Fatalf("write create: %v", err)
	}
	ack, err := ipcwire.ReadFrameWithFDs(client)
	if err != nil {
		t.Fatalf("read create ack: %v", err)
	}
	if ack.Kind != MsgSwapchainCreateAck {
		t.Fatalf("kind = %d, want MsgSwapchainCreateAck", ack.Kind)
	}
	if len(ack.FDs) != 2 {
		t.Fatalf("got %d fds, want 2", len(ack.FDs))
	}
	for _, fd := range ack.FDs {
		unix.Close(fd)
	}

	destroy := make([]byte, 4)
	destroy[0] = ack.Payload[0]
	if err := ipcwire.WriteFrame(client, ipcwire.Frame{Kind: MsgSwapchainDestroy, Payload: destroy}); err != nil {
		t.Fatalf("write destroy: %v", err)
	}
	client.Close()
}

func TestSessionFrameEndPublishesRenderState(t *testing.T) {
	server, client := socketpair(t)
	s := New(discardLogger(), nil, false)
	go s.Run(server)

	layers := []Layer{{
		Type: LayerQuad,
		Quad: QuadData{Pose: catalogue.IdentityPose(), Size: [2]float32{1, 1}, ImageIndex: 0, ArrayIndex: 0},
	}}
	payload, err := EncodeFrameEnd(layers)
	if err != nil {
		t.Fatalf("EncodeFrameEnd: %v", err)
	}
	if err := ipcwire.WriteFrame(client, ipcwire.Frame{Kind: MsgFrameEnd, Payload: payload}); err != nil {
		t.Fatalf("write frame-end: %v", err)
	}

	var got []Layer
	for i := 0; i < 1000; i++ {
		if pending, ok := s.RenderState.Pending(); ok {
			got = pending
			break
		}
	}
	if got == nil {
		t.Fatal("render state never became pending")
	}
	if len(got) != 1 || got[0].Type != LayerQuad {
		t.Fatalf("got %+v", got)
	}
	client.Close()
}

func TestSessionOnDisconnectFires(t *testing.T) {
	server, client := socketpair(t)
	s := New(discardLogger(), nil, true)
	fired := make(chan struct{})
	s.OnDisconnect = func() { close(fired) }
	go s.Run(server)

	client.Close()
	<-fired
	if !s.ExitOnDisconnect() {
		t.Fatal("ExitOnDisconnect() = false, want true")
	}
}
