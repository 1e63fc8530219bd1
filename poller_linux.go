// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

//go:build linux

package xrcompd

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EventKind tags the readiness events Poll returns (spec.md §4.3).
type EventKind int

const (
	EventNewConnection EventKind = iota
	EventShutdownRequested
	EventError
)

// Event is one readiness notification from a single poll() call.
type Event struct {
	Kind EventKind
	Err  error
}

// EventPoller is a single level-triggered readiness multiplexer over the
// listener fd and, unless launched by a supervisor, stdin (used for the
// operator-quit convenience path). Backed by epoll on Linux; the
// interface is deliberately narrow enough that a kqueue or portable
// poll(2) implementation could stand in on another platform.
type EventPoller struct {
	epfd       int
	listenFd   int
	watchStdin bool
}

// NewEventPoller registers listenFd for read-readiness and, when
// watchStdin is true, fd 0 for the operator-initiated shutdown path
// (spec.md §4.3: only watched when not launched by supervisor).
func NewEventPoller(listenFd int, watchStdin bool) (*EventPoller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	p := &EventPoller{epfd: epfd, listenFd: listenFd, watchStdin: watchStdin}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFd)}); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("poller: epoll_ctl add listener: %w", err)
	}
	if watchStdin {
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, 0, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: 0}); err != nil {
			unix.Close(epfd)
			return nil, fmt.Errorf("poller: epoll_ctl add stdin: %w", err)
		}
	}
	return p, nil
}

// Poll returns, without blocking, every readiness event observed since
// the last call (level-triggered: an unconsumed listener backlog entry
// or unread stdin byte is reported again next call).
func (p *EventPoller) Poll() []Event {
	var raw [8]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], 0)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return []Event{{Kind: EventError, Err: fmt.Errorf("poller: epoll_wait: %w", err)}}
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		switch int(raw[i].Fd) {
		case p.listenFd:
			events = append(events, Event{Kind: EventNewConnection})
		case 0:
			events = append(events, Event{Kind: EventShutdownRequested})
		}
	}
	return events
}

// Close releases the epoll instance. Does not close the watched fds;
// their ownership belongs to the listener and to the process's stdin.
func (p *EventPoller) Close() error {
	if p == nil || p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}
