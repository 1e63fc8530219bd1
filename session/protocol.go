// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

package session

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gazed/xrcompd/catalogue"
)

// Message kinds carried by an ipcwire.Frame's Kind byte. The full
// request/response vocabulary (buffer format negotiation, action set
// bindings, reference space queries, and so on) is IDL-generated and out
// of scope here; these are the kinds the worker loop and render handoff
// actually need to exercise the framing and single-slot layers.
const (
	MsgHandshake byte = iota
	MsgHandshakeAck
	MsgSwapchainCreate
	MsgSwapchainCreateAck
	MsgSwapchainDestroy
	MsgFrameEnd
	MsgWaitFrame
	MsgWaitFrameAck
)

// swapchainCreateRequest is the decoded body of a MsgSwapchainCreate
// frame: the number of images the client wants and their shared extent.
type swapchainCreateRequest struct {
	ImageCount uint32
	Width      uint32
	Height     uint32
}

func encodeSwapchainCreateAck(id int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(id))
	return buf
}

func decodeSwapchainCreateRequest(payload []byte) (swapchainCreateRequest, error) {
	if len(payload) != 12 {
		return swapchainCreateRequest{}, fmt.Errorf("session: malformed swapchain create (%d bytes)", len(payload))
	}
	return swapchainCreateRequest{
		ImageCount: binary.LittleEndian.Uint32(payload[0:4]),
		Width:      binary.LittleEndian.Uint32(payload[4:8]),
		Height:     binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

func decodeSwapchainDestroyRequest(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("session: malformed swapchain destroy (%d bytes)", len(payload))
	}
	return int(binary.LittleEndian.Uint32(payload)), nil
}

// subRectSize is the wire size of a SubRect: four float32 fields.
const subRectSize = 16

func putSubRect(buf []byte, r SubRect) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(r.OffsetX))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(r.OffsetY))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(r.ExtentW))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(r.ExtentH))
}

func getSubRect(buf []byte) SubRect {
	return SubRect{
		OffsetX: math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		OffsetY: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		ExtentW: math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
		ExtentH: math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])),
	}
}

// eyeLayerSize is the wire size of one EyeLayer: three uint32 fields
// (swapchain id, image index, array index) plus a SubRect.
const eyeLayerSize = 12 + subRectSize

func putEyeLayer(buf []byte, e EyeLayer) {
	binary.LittleEndian.PutUint32(buf[0:4], e.SwapchainID)
	binary.LittleEndian.PutUint32(buf[4:8], e.ImageIndex)
	binary.LittleEndian.PutUint32(buf[8:12], e.ArrayIndex)
	putSubRect(buf[12:12+subRectSize], e.Rect)
}

func getEyeLayer(buf []byte) EyeLayer {
	return EyeLayer{
		SwapchainID: binary.LittleEndian.Uint32(buf[0:4]),
		ImageIndex:  binary.LittleEndian.Uint32(buf[4:8]),
		ArrayIndex:  binary.LittleEndian.Uint32(buf[8:12]),
		Rect:        getSubRect(buf[12 : 12+subRectSize]),
	}
}

// layerHeaderSize is type + flags, one byte each.
const layerHeaderSize = 2

// stereoBodySize is two EyeLayers back to back.
const stereoBodySize = 2 * eyeLayerSize

// quadBodySize is a Pose (7 float32), a size (2 float32), three uint32
// fields (swapchain id, image index, array index), and a SubRect.
const quadBodySize = 7*4 + 2*4 + 12 + subRectSize

// EncodeFrameEnd packs a client's per-frame layer list into a
// MsgFrameEnd payload.
func EncodeFrameEnd(layers []Layer) ([]byte, error) {
	if len(layers) > MaxLayers {
		return nil, fmt.Errorf("session: %d layers exceeds MaxLayers %d", len(layers), MaxLayers)
	}
	size := 1
	for _, l := range layers {
		size += layerHeaderSize
		switch l.Type {
		case LayerStereoProjection:
			size += stereoBodySize
		default:
			size += quadBodySize
		}
	}
	buf := make([]byte, size)
	buf[0] = byte(len(layers))
	off := 1
	for _, l := range layers {
		buf[off] = byte(l.Type)
		buf[off+1] = encodeFlags(l.Flags)
		off += layerHeaderSize
		switch l.Type {
		case LayerStereoProjection:
			putEyeLayer(buf[off:], l.Stereo.Eyes[0])
			putEyeLayer(buf[off+eyeLayerSize:], l.Stereo.Eyes[1])
			off += stereoBodySize
		default:
			putPose(buf[off:], l.Quad.Pose)
			off += 7 * 4
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(l.Quad.Size[0]))
			binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(l.Quad.Size[1]))
			off += 8
			binary.LittleEndian.PutUint32(buf[off:], l.Quad.SwapchainID)
			binary.LittleEndian.PutUint32(buf[off+4:], l.Quad.ImageIndex)
			binary.LittleEndian.PutUint32(buf[off+8:], l.Quad.ArrayIndex)
			off += 12
			putSubRect(buf[off:], l.Quad.Rect)
			off += subRectSize
		}
	}
	return buf, nil
}

// DecodeFrameEnd unpacks a MsgFrameEnd payload back into a layer list.
func DecodeFrameEnd(payload []byte) ([]Layer, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("session: empty frame-end payload")
	}
	n := int(payload[0])
	if n > MaxLayers {
		return nil, fmt.Errorf("session: declared %d layers exceeds MaxLayers %d", n, MaxLayers)
	}
	layers := make([]Layer, n)
	off := 1
	for i := 0; i < n; i++ {
		if off+layerHeaderSize > len(payload) {
			return nil, fmt.Errorf("session: truncated layer %d header", i)
		}
		typ := LayerType(payload[off])
		flags := decodeFlags(payload[off+1])
		off += layerHeaderSize
		l := Layer{Type: typ, Flags: flags}
		switch typ {
		case LayerStereoProjection:
			if off+stereoBodySize > len(payload) {
				return nil, fmt.Errorf("session: truncated stereo layer %d", i)
			}
			l.Stereo.Eyes[0] = getEyeLayer(payload[off:])
			l.Stereo.Eyes[1] = getEyeLayer(payload[off+eyeLayerSize:])
			off += stereoBodySize
		default:
			if off+quadBodySize > len(payload) {
				return nil, fmt.Errorf("session: truncated quad-like layer %d", i)
			}
			l.Quad.Pose = getPose(payload[off:])
			off += 7 * 4
			l.Quad.Size[0] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
			l.Quad.Size[1] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off+4:]))
			off += 8
			l.Quad.SwapchainID = binary.LittleEndian.Uint32(payload[off:])
			l.Quad.ImageIndex = binary.LittleEndian.Uint32(payload[off+4:])
			l.Quad.ArrayIndex = binary.LittleEndian.Uint32(payload[off+8:])
			off += 12
			l.Quad.Rect = getSubRect(payload[off:])
			off += subRectSize
		}
		layers[i] = l
	}
	return layers, nil
}

func encodeFlags(f LayerFlags) byte {
	var b byte
	if f.UnpremultipliedAlpha {
		b |= 1 << 0
	}
	if f.FlipY {
		b |= 1 << 1
	}
	return b
}

func decodeFlags(b byte) LayerFlags {
	return LayerFlags{
		UnpremultipliedAlpha: b&(1<<0) != 0,
		FlipY:                b&(1<<1) != 0,
	}
}

func putPose(buf []byte, p catalogue.Pose) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(float32(p.Position.X)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(p.Position.Y)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(p.Position.Z)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(p.Orientation.X)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(p.Orientation.Y)))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(float32(p.Orientation.Z)))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(float32(p.Orientation.W)))
}

func getPose(buf []byte) catalogue.Pose {
	p := catalogue.IdentityPose()
	p.Position.X = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])))
	p.Position.Y = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])))
	p.Position.Z = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])))
	p.Orientation.X = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])))
	p.Orientation.Y = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20])))
	p.Orientation.Z = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24])))
	p.Orientation.W = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28])))
	return p
}
