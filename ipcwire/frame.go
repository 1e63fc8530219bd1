// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package ipcwire provides the length-framed, fd-passing transport the
// per-client worker uses to read and write IPC messages. The actual
// request/response semantics are generated from an IDL and are out of
// scope for this module (spec.md §6); this package only guarantees the
// framing and SCM_RIGHTS envelope those generated stubs ride on.
package ipcwire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// MaxFrame bounds a single message payload. Large enough for any
// reasonable handshake/swapchain-descriptor message, small enough that a
// corrupt length prefix cannot be used to exhaust memory.
const MaxFrame = 1 << 20

// maxFDs bounds the number of fds carried by a single frame's ancillary
// data (a swapchain create reply hands back one fd per image).
const maxFDs = 32

// Frame is one length-framed IPC message: a one-byte kind tag, an
// opaque payload, and zero or more file descriptors riding as SCM_RIGHTS
// ancillary data alongside it.
type Frame struct {
	Kind    byte
	Payload []byte
	FDs     []int
}

// WriteFrame writes kind+payload as a 4-byte little-endian length
// prefix followed by that many bytes, optionally attaching fds as
// SCM_RIGHTS ancillary data on the same underlying syscall.
func WriteFrame(conn *net.UnixConn, f Frame) error {
	if len(f.Payload) > MaxFrame-1 {
		return fmt.Errorf("ipcwire: payload %d exceeds MaxFrame", len(f.Payload))
	}
	body := make([]byte, 5+len(f.Payload))
	binary.LittleEndian.PutUint32(body[0:4], uint32(len(f.Payload)+1))
	body[4] = f.Kind
	copy(body[5:], f.Payload)

	if len(f.FDs) == 0 {
		_, err := conn.Write(body)
		return err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("ipcwire: SyscallConn: %w", err)
	}
	var sendErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		oob := unix.UnixRights(f.FDs...)
		sendErr = unix.Sendmsg(int(fd), body, oob, nil, 0)
	})
	if ctrlErr != nil {
		return fmt.Errorf("ipcwire: control: %w", ctrlErr)
	}
	if sendErr != nil {
		return fmt.Errorf("ipcwire: sendmsg: %w", sendErr)
	}
	return nil
}

// ReadFrame blocks until a full frame (and any attached fds) has been
// received, or the connection errors/closes.
func ReadFrame(conn *net.UnixConn) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrame {
		return Frame{}, fmt.Errorf("ipcwire: invalid frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: body[0], Payload: body[1:]}, nil
}

// ReadFrameWithFDs is like ReadFrame but also receives SCM_RIGHTS
// ancillary data via recvmsg, for messages that hand graphics-buffer fds
// across the socket (e.g. a swapchain create reply).
func ReadFrameWithFDs(conn *net.UnixConn) (Frame, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Frame{}, fmt.Errorf("ipcwire: SyscallConn: %w", err)
	}

	data := make([]byte, MaxFrame)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	var n, oobn int
	var recvErr error
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), data, oob, 0)
		return recvErr != unix.EAGAIN // false: wait for readability and retry.
	})
	if ctrlErr != nil {
		return Frame{}, fmt.Errorf("ipcwire: read: %w", ctrlErr)
	}
	if recvErr != nil {
		return Frame{}, fmt.Errorf("ipcwire: recvmsg: %w", recvErr)
	}
	if n == 0 {
		return Frame{}, io.EOF
	}
	if n < 5 {
		return Frame{}, fmt.Errorf("ipcwire: short frame (%d bytes)", n)
	}
	declared := int(binary.LittleEndian.Uint32(data[0:4]))
	if declared+4 != n {
		return Frame{}, fmt.Errorf("ipcwire: length prefix %d does not match read %d bytes", declared, n-4)
	}

	fds, err := parseRights(oob[:oobn])
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: data[4], Payload: append([]byte(nil), data[5:n]...), FDs: fds}, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("ipcwire: parse control message: %w", err)
	}
	var fds []int
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		got, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return nil, fmt.Errorf("ipcwire: parse unix rights: %w", err)
		}
		fds = append(fds, got...)
	}
	return fds, nil
}
