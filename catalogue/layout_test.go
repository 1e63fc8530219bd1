// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package catalogue

import (
	"testing"
	"unsafe"
)

func twoDeviceCatalogue() *DeviceCatalogue {
	origin := &TrackingOrigin{Name: "seated", Type: 1, Pose: IdentityPose()}
	hmd := &Device{
		Name:           1,
		Str:            "Example HMD",
		TrackingOrigin: origin,
		HMD: &HMD{Views: [2]HMDView{
			{Display: Extent2D{1440, 1600}, Fov: Fov{-0.9, 0.9, 0.9, -0.9}},
			{Display: Extent2D{1440, 1600}, Fov: Fov{-0.9, 0.9, 0.9, -0.9}},
		}},
		Inputs:  []InputRecord{{Name: "/input/grip/pose", Kind: 1}},
		Outputs: []OutputRecord{{Name: "/output/haptic", Kind: 1}},
	}
	ctrl := &Device{
		Name:           2,
		Str:            "Example Left Controller",
		TrackingOrigin: origin,
		Inputs: []InputRecord{
			{Name: "/input/trigger/value", Kind: 2},
			{Name: "/input/grip/pose", Kind: 1},
		},
		Outputs: []OutputRecord{{Name: "/output/haptic", Kind: 1}},
	}
	return &DeviceCatalogue{Devices: []*Device{hmd, ctrl}}
}

func TestBuildInvariants(t *testing.T) {
	sc, err := Build(twoDeviceCatalogue())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer sc.Close()

	l := sc.View()
	if l.NumIdevs != 2 {
		t.Fatalf("NumIdevs = %d, want 2", l.NumIdevs)
	}
	if l.NumItracks != 1 {
		t.Fatalf("NumItracks = %d, want 1 (deduped)", l.NumItracks)
	}
	if err := CheckInvariants(l); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
	for i := uint32(0); i < l.NumIdevs; i++ {
		d := l.Idevs[i]
		if d.TrackingOriginIndex >= l.NumItracks {
			t.Fatalf("device %d: tracking_origin_index %d >= num_itracks %d", i, d.TrackingOriginIndex, l.NumItracks)
		}
	}
	if l.Idevs[0].HasHMD == 0 {
		t.Fatalf("device 0 expected HasHMD")
	}
	if l.Idevs[1].HasHMD != 0 {
		t.Fatalf("device 1 should not have HMD")
	}
	if got := l.Itracks[0].Name.String(); got != "seated" {
		t.Fatalf("tracking origin name = %q, want seated", got)
	}
}

func TestBuildRoundTripsThroughSecondMapping(t *testing.T) {
	sc, err := Build(twoDeviceCatalogue())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer sc.Close()

	region2, err := mapExistingRegion(sc.Fd(), int(LayoutSize))
	if err != nil {
		t.Fatalf("second mapping: %v", err)
	}
	defer munmapRegion(region2)

	l2 := (*Layout)(unsafe.Pointer(&region2[0]))
	if l2.NumIdevs != sc.View().NumIdevs {
		t.Fatalf("second mapping NumIdevs = %d, want %d", l2.NumIdevs, sc.View().NumIdevs)
	}
	if got := l2.Idevs[0].Str.String(); got != "Example HMD" {
		t.Fatalf("second mapping device 0 str = %q", got)
	}
}

func TestBuildRejectsMissingHMDSlot(t *testing.T) {
	dc := &DeviceCatalogue{Devices: []*Device{nil}}
	if _, err := Build(dc); err == nil {
		t.Fatal("expected error when slot 0 is empty")
	}
}

func TestBuildRejectsUnregisteredOrigin(t *testing.T) {
	dc := &DeviceCatalogue{Devices: []*Device{{Name: 1, Str: "broken"}}}
	if _, err := Build(dc); err == nil {
		t.Fatal("expected error for device with nil tracking origin")
	}
}

func TestLoadFixture(t *testing.T) {
	dc, err := LoadFixture("testdata/two_device.yaml")
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(dc.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(dc.Devices))
	}
	sc, err := Build(dc)
	if err != nil {
		t.Fatalf("Build(fixture): %v", err)
	}
	defer sc.Close()
	if sc.View().NumIdevs != 2 {
		t.Fatalf("NumIdevs = %d, want 2", sc.View().NumIdevs)
	}
}

func TestWaitFramePostWait(t *testing.T) {
	sc, err := Build(twoDeviceCatalogue())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer sc.Close()

	done := make(chan error, 1)
	go func() { done <- sc.WaitFrame() }()

	if err := sc.PostFrame(); err != nil {
		t.Fatalf("PostFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WaitFrame: %v", err)
	}
}
