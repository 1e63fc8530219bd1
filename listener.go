// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package xrcompd

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/gazed/xrcompd/catalogue"
	"github.com/gazed/xrcompd/errs"
	"golang.org/x/sys/unix"
)

// listenFDsStart is the first descriptor number a systemd-activation
// supervisor hands over, per the LISTEN_FDS convention (sd_listen_fds(3)).
const listenFDsStart = 3

// Listener is a bound, listening AF_UNIX/SOCK_STREAM file descriptor plus
// the bookkeeping ListenerBootstrap needs to tear it down correctly
// (spec.md §4.2): an inherited socket's filesystem path, if it has one,
// is never unlinked by this process.
type Listener struct {
	fd               int
	path             string // "" if inherited or abstract.
	launchedBySocket bool
	log              *slog.Logger
}

// Fd returns the underlying listening file descriptor.
func (l *Listener) Fd() int { return l.fd }

// LaunchedBySocket reports whether this listener was inherited from a
// supervisor rather than bound by this process.
func (l *Listener) LaunchedBySocket() bool { return l.launchedBySocket }

// Bootstrap implements the policy of spec.md §4.2: prefer a supervisor
// handoff detected via the systemd LISTEN_FDS/LISTEN_PID convention,
// falling back to binding path as an AF_UNIX/SOCK_STREAM socket with
// listen backlog catalogue.MaxClients.
func Bootstrap(path string, log *slog.Logger) (*Listener, error) {
	if fds, err := inheritedListenFDs(); err != nil {
		return nil, err
	} else if len(fds) > 0 {
		if len(fds) > 1 {
			return nil, fmt.Errorf("listener: supervisor passed %d listening fds: %w", len(fds), errs.ErrTooManyInheritedSockets)
		}
		log.Info("listener: using supervisor-handed socket", "fd", fds[0])
		return &Listener{fd: fds[0], launchedBySocket: true, log: log}, nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("listener: could not remove stale socket path", "path", path, "error", err)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("listener: socket: %w: %w", err, errs.ErrListenerBind)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listener: bind %s (a prior instance may be running, or a supervisor socket unit is already active): %w: %w", path, err, errs.ErrListenerBind)
	}
	if err := unix.Listen(fd, catalogue.MaxClients); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("listener: listen: %w: %w", err, errs.ErrListenerBind)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("listener: set nonblock: %w: %w", err, errs.ErrListenerBind)
	}
	log.Info("listener: bound", "path", path)
	return &Listener{fd: fd, path: path, log: log}, nil
}

// Close closes the listening fd and, only when this process owns the
// filesystem path (never for an inherited socket), unlinks it.
// Idempotent: later calls on the same Listener, or a call on a nil
// *Listener, return nil.
func (l *Listener) Close() error {
	if l == nil || l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	if !l.launchedBySocket && l.path != "" {
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}

// Accept accepts one pending connection as a non-blocking operation,
// returning (nil, nil) when the backlog is empty. Called by
// CompositorDriver only after EventPoller reports EventNewConnection, so
// an empty backlog here would indicate a spurious wakeup rather than a
// normal poll-loop path.
func (l *Listener) Accept() (*net.UnixConn, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("listener: accept: %w: %w", err, errs.ErrAcceptError)
	}
	f := os.NewFile(uintptr(nfd), "xrcompd-client")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("listener: FileConn: %w: %w", err, errs.ErrAcceptError)
	}
	return conn.(*net.UnixConn), nil
}

// inheritedListenFDs implements the systemd socket-activation detection
// protocol: LISTEN_PID must name this process and LISTEN_FDS gives the
// count of descriptors handed over, starting at fd 3.
func inheritedListenFDs() ([]int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	fdsStr := os.Getenv("LISTEN_FDS")
	if pidStr == "" || fdsStr == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid != os.Getpid() {
		return nil, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil || n <= 0 {
		return nil, nil
	}
	fds := make([]int, n)
	for i := 0; i < n; i++ {
		fd := listenFDsStart + i
		unix.CloseOnExec(fd)
		fds[i] = fd
	}
	return fds, nil
}
