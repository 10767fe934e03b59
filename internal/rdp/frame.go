// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rdp implements the TixRP screen-streaming pipeline: delta
// detection, adaptive compression, datagram chunking/reassembly, decode,
// and bandwidth estimation (§4.9-§4.13).
package rdp

import "github.com/elcapor/tix/internal/protocol"

// RawFrame is one captured screen image, not a wire type.
type RawFrame struct {
	Width   int
	Height  int
	Stride  int
	Format  protocol.PixelFormat
	Data    []byte
	Captured int64 // unix micros
}

// BytesPerPixel returns the frame's pixel format's byte width.
func (f RawFrame) BytesPerPixel() int { return f.Format.BytesPerPixel() }

// Block is an axis-aligned tile of the screen.
type Block struct {
	X, Y, W, H int
}

// DeltaFrame describes changes relative to the previously-detected frame.
type DeltaFrame struct {
	FrameNumber   uint64
	Timestamp     int64
	Width         int
	Height        int
	ChangedBlocks []Block
	FullFrame     bool
}

// ChangeRatio reports the fraction of the frame area covered by changed
// blocks, clamped to [0,1]; full frames report 1.0.
func (d DeltaFrame) ChangeRatio() float64 {
	if d.FullFrame {
		return 1.0
	}
	total := float64(d.Width * d.Height)
	if total == 0 {
		return 0
	}
	var changed float64
	for _, b := range d.ChangedBlocks {
		changed += float64(b.W * b.H)
	}
	ratio := changed / total
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

// EncodedFrame is a delta or full frame after compression.
type EncodedFrame struct {
	FrameNumber uint64
	Timestamp   int64
	Width       int
	Height      int
	Data        []byte
	IsFullFrame bool
	BlockCount  int
}
