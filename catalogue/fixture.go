// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package catalogue

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fixtureFile is the on-disk shape of a declarative DeviceCatalogue used
// by tests and the opt-in in-process/dev mode, so neither has to depend
// on real device drivers. Grounded on the teacher's own use of yaml.v3
// for declarative asset description (see load/shd.go in the example
// pack this module was adapted from).
type fixtureFile struct {
	TrackingOrigins []struct {
		Name string `yaml:"name"`
		Type uint32 `yaml:"type"`
	} `yaml:"tracking_origins"`

	Devices []struct {
		Name           uint32 `yaml:"name"`
		Str            string `yaml:"str"`
		TrackingOrigin string `yaml:"tracking_origin"`
		HMD            *struct {
			Views [2]struct {
				Width, Height              uint32
				Left, Right, Up, Down float32
			} `yaml:"views"`
		} `yaml:"hmd,omitempty"`
		Inputs []struct {
			Name string `yaml:"name"`
			Kind uint32 `yaml:"kind"`
		} `yaml:"inputs,omitempty"`
		Outputs []struct {
			Name string `yaml:"name"`
			Kind uint32 `yaml:"kind"`
		} `yaml:"outputs,omitempty"`
	} `yaml:"devices"`
}

// LoadFixture reads a YAML-described DeviceCatalogue from path. It exists
// so tests, and an operator who opts into in-process/dev mode, can
// exercise SharedCatalogue.Build without a real device enumeration
// subsystem.
func LoadFixture(path string) (*DeviceCatalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: read fixture: %w", err)
	}
	var f fixtureFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalogue: parse fixture: %w", err)
	}

	origins := make(map[string]*TrackingOrigin, len(f.TrackingOrigins))
	for _, o := range f.TrackingOrigins {
		origins[o.Name] = &TrackingOrigin{Name: o.Name, Type: o.Type, Pose: IdentityPose()}
	}

	dc := &DeviceCatalogue{}
	for _, d := range f.Devices {
		origin, ok := origins[d.TrackingOrigin]
		if !ok {
			return nil, fmt.Errorf("catalogue: device %q references unknown tracking origin %q", d.Str, d.TrackingOrigin)
		}
		dev := &Device{Name: d.Name, Str: d.Str, TrackingOrigin: origin}
		if d.HMD != nil {
			var hmd HMD
			for i, v := range d.HMD.Views {
				hmd.Views[i] = HMDView{
					Display: Extent2D{Width: v.Width, Height: v.Height},
					Fov:     Fov{AngleLeft: v.Left, AngleRight: v.Right, AngleUp: v.Up, AngleDown: v.Down},
				}
			}
			dev.HMD = &hmd
		}
		for _, in := range d.Inputs {
			dev.Inputs = append(dev.Inputs, InputRecord{Name: in.Name, Kind: in.Kind})
		}
		for _, out := range d.Outputs {
			dev.Outputs = append(dev.Outputs, OutputRecord{Name: out.Name, Kind: out.Kind})
		}
		dc.Devices = append(dc.Devices, dev)
	}
	return dc, nil
}
