// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package ipcwire

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected *net.UnixConn ends, the same
// transport a real client/worker pair rides on, without touching the
// filesystem.
func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, err := net.FileConn(os.NewFile(uintptr(fds[0]), "a"))
	if err != nil {
		t.Fatalf("FileConn a: %v", err)
	}
	b, err := net.FileConn(os.NewFile(uintptr(fds[1]), "b"))
	if err != nil {
		t.Fatalf("FileConn b: %v", err)
	}
	ua, ok := a.(*net.UnixConn)
	if !ok {
		t.Fatalf("a is not a *net.UnixConn")
	}
	ub, ok := b.(*net.UnixConn)
	if !ok {
		t.Fatalf("b is not a *net.UnixConn")
	}
	t.Cleanup(func() { ua.Close(); ub.Close() })
	return ua, ub
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	a, b := socketpair(t)

	want := Frame{Kind: 7, Payload: []byte("hello worker")}
	errc := make(chan error, 1)
	go func() { errc <- WriteFrame(a, want) }()

	got, err := ReadFrame(b)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.Kind != want.Kind || string(got.Payload) != string(want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	a, _ := socketpair(t)
	err := WriteFrame(a, Frame{Payload: make([]byte, MaxFrame)})
	if err == nil {
		t.Fatal("expected error for oversize payload")
	}
}

func TestFrameWithFDsRoundTrip(t *testing.T) {
	a, b := socketpair(t)

	memfd, err := unix.MemfdCreate("ipcwire-test", 0)
	if err != nil {
		t.Skipf("memfd_create unavailable: %v", err)
	}
	defer unix.Close(memfd)

	want := Frame{Kind: 3, Payload: []byte("swapchain"), FDs: []int{memfd}}
	errc := make(chan error, 1)
	go func() { errc <- WriteFrame(a, want) }()

	got, err := ReadFrameWithFDs(b)
	if err != nil {
		t.Fatalf("ReadFrameWithFDs: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	defer func() {
		for _, fd := range got.FDs {
			unix.Close(fd)
		}
	}()
	if len(got.FDs) != 1 {
		t.Fatalf("got %d fds, want 1", len(got.FDs))
	}
	if string(got.Payload) != string(want.Payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, want.Payload)
	}
}
