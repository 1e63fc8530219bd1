// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package catalogue

import (
	"fmt"
	"unsafe"

	"github.com/gazed/xrcompd/errs"
)

// SharedMemoryName is the published name for the shared-memory object.
// Build never leaves anything reachable under this name (see shm_linux.go);
// without its leading slash it is only the memfd_create label of the
// region, as shown in /proc/<pid>/fd.
const SharedMemoryName = "/monado_shm"

// rawString is a fixed-length, NUL-padded string field. Position-stable
// across processes; never a Go string header.
type rawString [CharN]byte

func putString(dst *rawString, s string) {
	n := copy(dst[:], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func (s rawString) String() string {
	n := 0
	for n < len(s) && s[n] != 0 {
		n++
	}
	return string(s[:n])
}

type rawPose struct {
	Px, Py, Pz     float32
	Qx, Qy, Qz, Qw float32
}

type rawTrackingOrigin struct {
	Name rawString
	Type uint32
	_    uint32 // keep Pose 8-byte aligned
	Pose rawPose
}

type rawHMDView struct {
	DisplayW, DisplayH                uint32
	FovLeft, FovRight, FovUp, FovDown float32
}

type rawDevice struct {
	Name                uint32
	Str                 rawString
	TrackingOriginIndex uint32
	HasHMD              uint32
	HMDViews            [2]rawHMDView
	FirstInputIndex     uint32
	NumInputs           uint32
	FirstOutputIndex    uint32
	NumOutputs          uint32
}

type rawInput struct {
	Name rawString
	Kind uint32
	_    uint32
}

type rawOutput struct {
	Name rawString
	Kind uint32
	_    uint32
}

// Layout is the fixed, packed, position-stable structure mapped into both
// the server and every client process. No field is a pointer; every
// cross-reference is an index into one of the flat arrays below.
type Layout struct {
	Itracks    [NDev]rawTrackingOrigin
	NumItracks uint32
	_          uint32

	Idevs    [NDev]rawDevice
	NumIdevs uint32
	_        uint32

	Inputs  [MaxInputs]rawInput
	Outputs [MaxOutputs]rawOutput

	WaitFrame waitFrameSem
}

// LayoutSize is sizeof(Layout) — the exact shared-memory region size.
const LayoutSize = unsafe.Sizeof(Layout{})

// SharedCatalogue is a read-mostly, cross-process snapshot of the device
// graph built once at startup by Build.
type SharedCatalogue struct {
	fd     int
	region []byte
	layout *Layout
}

// Fd returns the inheritable file descriptor handed to clients during the
// connection handshake.
func (sc *SharedCatalogue) Fd() int { return sc.fd }

// View returns the mapped layout for read access. Callers in the server
// process only ever read through View; the structure is immutable after
// Build returns (spec.md §5).
func (sc *SharedCatalogue) View() *Layout { return sc.layout }

// PostFrame signals the wait-frame semaphore, releasing one blocked
// xrWaitFrame-equivalent caller. Called by the compositor driver once it
// has finished drawing a frame.
func (sc *SharedCatalogue) PostFrame() error { return sc.layout.WaitFrame.Post() }

// WaitFrame blocks until the semaphore holds at least one unconsumed
// PostFrame, then consumes one. Posts accumulate, so n PostFrame calls
// release n WaitFrame calls. Exercised directly only by tests; the real
// waiter is a client process operating on its own mapping of the fd.
func (sc *SharedCatalogue) WaitFrame() error { return sc.layout.WaitFrame.Wait() }

// Close unmaps the region and closes the fd. Idempotent.
func (sc *SharedCatalogue) Close() error {
	var err error
	if sc.region != nil {
		err = munmapRegion(sc.region)
		sc.region = nil
		sc.layout = nil
	}
	if sc.fd >= 0 {
		if cerr := closeFd(sc.fd); cerr != nil && err == nil {
			err = cerr
		}
		sc.fd = -1
	}
	return err
}

// Build lays out the device/input/output graph from catalogue into a
// freshly allocated shared-memory region and returns the handle used to
// hand the fd to clients. See shm_linux.go for the anonymous-memory
// primitives this relies on.
func Build(dc *DeviceCatalogue) (*SharedCatalogue, error) {
	if len(dc.Devices) == 0 {
		return nil, fmt.Errorf("catalogue: no devices: %w", errs.ErrCatalogueInit)
	}
	if dc.Devices[0] == nil {
		return nil, fmt.Errorf("catalogue: slot 0 (HMD) is required: %w", errs.ErrCatalogueInit)
	}

	var l Layout

	// Pass 1: dedupe tracking origins by pointer identity, assigning each
	// a stable dense index in the order first seen.
	origins := make([]*TrackingOrigin, 0, NDev)
	indexOf := func(to *TrackingOrigin) (uint32, bool) {
		for i, o := range origins {
			if o == to {
				return uint32(i), true
			}
		}
		return 0, false
	}
	for _, d := range dc.Devices {
		if d == nil || d.TrackingOrigin == nil {
			continue
		}
		if _, ok := indexOf(d.TrackingOrigin); !ok {
			if len(origins) >= NDev {
				return nil, fmt.Errorf("catalogue: more than %d distinct tracking origins: %w", NDev, errs.ErrCatalogueInit)
			}
			origins = append(origins, d.TrackingOrigin)
		}
	}
	for i, o := range origins {
		putString(&l.Itracks[i].Name, o.Name)
		l.Itracks[i].Type = o.Type
		l.Itracks[i].Pose = toRawPose(o.Pose)
	}
	l.NumItracks = uint32(len(origins))

	// Pass 2: write device entries and flatten inputs/outputs.
	var inputCursor, outputCursor uint32
	numDevs := 0
	for _, d := range dc.Devices {
		if d == nil {
			continue
		}
		if numDevs >= NDev {
			return nil, fmt.Errorf("catalogue: more than %d devices: %w", NDev, errs.ErrCatalogueInit)
		}
		if d.TrackingOrigin == nil {
			return nil, fmt.Errorf("catalogue: device %q has no tracking origin: %w", d.Str, errs.ErrCatalogueInit)
		}
		originIdx, ok := indexOf(d.TrackingOrigin)
		if !ok {
			return nil, fmt.Errorf("catalogue: device %q tracking origin not registered: %w", d.Str, errs.ErrCatalogueInit)
		}

		rd := &l.Idevs[numDevs]
		rd.Name = d.Name
		putString(&rd.Str, d.Str)
		rd.TrackingOriginIndex = originIdx

		if d.HMD != nil {
			rd.HasHMD = 1
			for i, v := range d.HMD.Views {
				rd.HMDViews[i] = rawHMDView{
					DisplayW: v.Display.Width, DisplayH: v.Display.Height,
					FovLeft: v.Fov.AngleLeft, FovRight: v.Fov.AngleRight,
					FovUp: v.Fov.AngleUp, FovDown: v.Fov.AngleDown,
				}
			}
		}

		if int(inputCursor)+len(d.Inputs) > MaxInputs {
			return nil, fmt.Errorf("catalogue: input array overflow at device %q: %w", d.Str, errs.ErrCatalogueInit)
		}
		rd.FirstInputIndex = inputCursor
		rd.NumInputs = uint32(len(d.Inputs))
		for _, in := range d.Inputs {
			ri := &l.Inputs[inputCursor]
			putString(&ri.Name, in.Name)
			ri.Kind = in.Kind
			inputCursor++
		}

		if int(outputCursor)+len(d.Outputs) > MaxOutputs {
			return nil, fmt.Errorf("catalogue: output array overflow at device %q: %w", d.Str, errs.ErrCatalogueInit)
		}
		rd.FirstOutputIndex = outputCursor
		rd.NumOutputs = uint32(len(d.Outputs))
		for _, out := range d.Outputs {
			ro := &l.Outputs[outputCursor]
			putString(&ro.Name, out.Name)
			ro.Kind = out.Kind
			outputCursor++
		}

		numDevs++
	}
	l.NumIdevs = uint32(numDevs)

	if err := CheckInvariants(&l); err != nil {
		return nil, fmt.Errorf("catalogue: %w: %w", err, errs.ErrCatalogueInit)
	}

	fd, region, err := newAnonymousRegion(int(LayoutSize))
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w: %w", err, errs.ErrCatalogueInit)
	}
	copy(region, (*[1 << 30]byte)(unsafe.Pointer(&l))[:LayoutSize:LayoutSize])

	sc := &SharedCatalogue{
		fd:     fd,
		region: region,
		layout: (*Layout)(unsafe.Pointer(&region[0])),
	}
	initWaitFrame(&sc.layout.WaitFrame)
	return sc, nil
}

func toRawPose(p Pose) rawPose {
	return rawPose{
		Px: float32(p.Position.X), Py: float32(p.Position.Y), Pz: float32(p.Position.Z),
		Qx: float32(p.Orientation.X), Qy: float32(p.Orientation.Y),
		Qz: float32(p.Orientation.Z), Qw: float32(p.Orientation.W),
	}
}

// CheckInvariants re-validates the published layout. It is exported so
// tests can map a second view of the same region and assert the
// round-trip held (spec.md §8).
func CheckInvariants(l *Layout) error {
	if l.NumItracks > NDev {
		return fmt.Errorf("num_itracks %d exceeds capacity %d", l.NumItracks, NDev)
	}
	var totalInputs, totalOutputs uint32
	seen := make([]struct{ lo, hi uint32 }, 0, l.NumIdevs)
	seenOut := make([]struct{ lo, hi uint32 }, 0, l.NumIdevs)
	for i := uint32(0); i < l.NumIdevs; i++ {
		d := l.Idevs[i]
		if d.TrackingOriginIndex >= l.NumItracks {
			return fmt.Errorf("device %d: tracking_origin_index %d out of range [0,%d)", i, d.TrackingOriginIndex, l.NumItracks)
		}
		if d.FirstInputIndex+d.NumInputs > MaxInputs {
			return fmt.Errorf("device %d: input range [%d,%d) exceeds capacity %d", i, d.FirstInputIndex, d.FirstInputIndex+d.NumInputs, MaxInputs)
		}
		for _, r := range seen {
			if d.FirstInputIndex < r.hi && r.lo < d.FirstInputIndex+d.NumInputs {
				return fmt.Errorf("device %d: input range overlaps an earlier device", i)
			}
		}
		seen = append(seen, struct{ lo, hi uint32 }{d.FirstInputIndex, d.FirstInputIndex + d.NumInputs})
		if got := d.FirstInputIndex + d.NumInputs; got > totalInputs {
			totalInputs = got
		}

		if d.FirstOutputIndex+d.NumOutputs > MaxOutputs {
			return fmt.Errorf("device %d: output range [%d,%d) exceeds capacity %d", i, d.FirstOutputIndex, d.FirstOutputIndex+d.NumOutputs, MaxOutputs)
		}
		for _, r := range seenOut {
			if d.FirstOutputIndex < r.hi && r.lo < d.FirstOutputIndex+d.NumOutputs {
				return fmt.Errorf("device %d: output range overlaps an earlier device", i)
			}
		}
		seenOut = append(seenOut, struct{ lo, hi uint32 }{d.FirstOutputIndex, d.FirstOutputIndex + d.NumOutputs})
		if got := d.FirstOutputIndex + d.NumOutputs; got > totalOutputs {
			totalOutputs = got
		}
	}
	return nil
}
