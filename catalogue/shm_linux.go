// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

//go:build linux

package catalogue

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// newAnonymousRegion creates an anonymous, already-unlinked shared-memory
// object sized to size and maps it read/write. memfd_create is used
// instead of shm_open+shm_unlink: the returned fd never has a name to
// unlink in the first place, which is a strictly stronger form of the
// "unlink immediately after mapping" policy spec.md §4.1 calls for — a
// second shm_open of SharedMemoryName always fails with ENOENT because
// nothing is ever created there.
func newAnonymousRegion(size int) (fd int, region []byte, err error) {
	fd, err = unix.MemfdCreate(SharedMemoryName[1:], 0)
	if err != nil {
		return -1, nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err = unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("ftruncate: %w", err)
	}
	region, err = unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("mmap: %w", err)
	}
	return fd, region, nil
}

// mapExistingRegion maps a region of size bytes from an fd a client
// inherited during the connection handshake. Used by tests to emulate a
// second process mapping the same memfd.
func mapExistingRegion(fd, size int) ([]byte, error) {
	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return region, nil
}

func munmapRegion(region []byte) error {
	return unix.Munmap(region)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

// futex(2) operation codes. Not exported by golang.org/x/sys/unix, so
// named locally the way other futex-based wait/wake helpers in the wild
// do. FUTEX_PRIVATE_FLAG (128) is deliberately not set: a private futex
// only matches waiters in the same process, and this word is shared with
// client processes through the mapped region.
const (
	futexWait = 0
	futexWake = 1
)

// waitFrameSem is a process-shared binary-ish semaphore: the compositor
// posts once per completed frame, the client's xrWaitFrame equivalent
// blocks until a post is observed. Backed by a futex word living directly
// in the shared region so either process can operate on it without a
// named kernel object.
type waitFrameSem struct {
	count int32
	_     [28]byte // reserved, keeps the struct a stable cacheline-ish size.
}

func initWaitFrame(s *waitFrameSem) {
	s.count = 0
}

// Post increments the futex word and wakes one waiter. Called by the
// compositor when it completes a frame.
func (s *waitFrameSem) Post() error {
	addr := (*int32)(unsafe.Pointer(&s.count))
	for {
		old := atomic.LoadInt32(addr)
		if atomic.CompareAndSwapInt32(addr, old, old+1) {
			break
		}
	}
	_, _, errno := unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), uintptr(futexWake), 1)
	if errno != 0 {
		return fmt.Errorf("futex wake: %w", errno)
	}
	return nil
}

// Wait blocks until a post is observed, consuming one unit. Called by a
// client's xrWaitFrame equivalent; within this server process it is only
// exercised by tests, since the real waiter lives across the fd boundary.
func (s *waitFrameSem) Wait() error {
	addr := (*int32)(unsafe.Pointer(&s.count))
	for {
		old := atomic.LoadInt32(addr)
		if old > 0 {
			if atomic.CompareAndSwapInt32(addr, old, old-1) {
				return nil
			}
			continue
		}
		_, _, errno := unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), uintptr(futexWait), uintptr(old))
		if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR {
			return fmt.Errorf("futex wait: %w", errno)
		}
	}
}
