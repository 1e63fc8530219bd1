// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package catalogue builds and publishes the shared-memory device table
// that client processes map at connection time. Device enumeration and
// input polling are out of scope for this package: it only consumes an
// already-populated DeviceCatalogue and lays it out for cross-process
// publication.
package catalogue

// Capacities. N_DEV bounds both the device array and the tracking-origin
// table; MAX_INPUTS/MAX_OUTPUTS bound the flat input/output arrays.
const (
	NDev        = 8   // max number of devices, including the HMD at slot 0.
	MaxInputs   = 256 // total input records across all devices.
	MaxOutputs  = 64  // total output records across all devices.
	CharN       = 64  // fixed string field length in the published layout.
	MaxClients  = 8   // listen(2) backlog, see listener.Bootstrap.
	SentinelIdx = ^uint32(0)
)

// Vec3 is a 3-element position, in meters.
type Vec3 struct {
	X, Y, Z float64
}

// Quat is a unit quaternion orientation: a vector part (X, Y, Z) plus the
// scalar part W.
type Quat struct {
	X, Y, Z, W float64
}

// Pose is a 6-DoF offset: a position and an orientation.
type Pose struct {
	Position    Vec3
	Orientation Quat
}

// IdentityPose is the zero-offset, zero-rotation pose.
func IdentityPose() Pose { return Pose{Orientation: Quat{W: 1}} }

// Fov is a per-eye field of view, in radians, following the common
// OpenXR convention of four independent half-angles.
type Fov struct {
	AngleLeft, AngleRight, AngleUp, AngleDown float32
}

// Extent2D is a pixel width/height pair.
type Extent2D struct {
	Width, Height uint32
}

// TrackingOrigin is a named 6-DoF reference frame shared by one or more
// input devices.
type TrackingOrigin struct {
	Name string
	Type uint32
	Pose Pose
}

// HMDView describes one eye of a head-mounted device: its display
// resolution and field of view.
type HMDView struct {
	Display Extent2D
	Fov     Fov
}

// InputRecord is a single input (button, trigger, pose) exposed by a
// device.
type InputRecord struct {
	Name string
	Kind uint32
}

// OutputRecord is a single output (e.g. haptic) exposed by a device.
type OutputRecord struct {
	Name string
	Kind uint32
}

// Device is one entry in a DeviceCatalogue: a short id, a display name,
// the tracking origin it is measured against (by pointer identity, never
// serialized directly), an optional HMD sub-record, and its inputs and
// outputs.
type Device struct {
	Name           uint32
	Str            string
	TrackingOrigin *TrackingOrigin // nil is invalid; see Build.
	HMD            *HMD            // nil if this device has no HMD sub-record.
	Inputs         []InputRecord
	Outputs        []OutputRecord
}

// HMD is the per-eye display/FOV sub-record carried inline by a device
// entry that represents a head-mounted display.
type HMD struct {
	Views [2]HMDView
}

// DeviceCatalogue is the external input to Build: an ordered sequence of
// up to NDev device records, produced by the (out of scope) device
// enumeration subsystem. Slot 0 is required to be the HMD.
type DeviceCatalogue struct {
	Devices []*Device
}
