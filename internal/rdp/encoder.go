// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rdp

import (
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultCompressionLevel = 1
	defaultQuality          = 90
	minCompressionLevel     = 1
	maxCompressionLevel     = 9
	minQuality              = 0
	maxQuality              = 100
	qualityStep             = 5
)

// AdaptiveEncoder turns a DeltaFrame plus its source RawFrame into a
// compressed EncodedFrame, adjusting its zstd compression level and a
// diagnostic quality slider from bandwidth feedback (§4.10).
type AdaptiveEncoder struct {
	mu                sync.Mutex
	compressionLevel  int
	quality           int
	targetBandwidth   uint64
	measuredBandwidth uint64
	frameCount        uint64

	encoders map[zstd.EncoderLevel]*zstd.Encoder
}

// NewAdaptiveEncoder returns an encoder targeting targetBandwidth bytes/sec,
// starting at compression level 1 (favouring speed on fast links) and
// quality 90.
func NewAdaptiveEncoder(targetBandwidth uint64) *AdaptiveEncoder {
	return &AdaptiveEncoder{
		compressionLevel: defaultCompressionLevel,
		quality:          defaultQuality,
		targetBandwidth:  targetBandwidth,
		encoders:         make(map[zstd.EncoderLevel]*zstd.Encoder),
	}
}

// Close releases every zstd encoder this instance has lazily created.
func (e *AdaptiveEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for _, enc := range e.encoders {
		if err := enc.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// encoderFor lazily creates (and caches) the zstd encoder for a given
// speed/ratio tier.
func (e *AdaptiveEncoder) encoderFor(tier zstd.EncoderLevel) (*zstd.Encoder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[tier]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(tier))
	if err != nil {
		return nil, err
	}
	e.encoders[tier] = enc
	return enc, nil
}

// levelToZstd maps the adaptive 1-9 level to a zstd.EncoderLevel, favouring
// speed at low levels and ratio at high ones.
func levelToZstd(level int) zstd.EncoderLevel {
	switch {
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Encode compresses delta against source and returns the resulting frame.
func (e *AdaptiveEncoder) Encode(delta DeltaFrame, source RawFrame) (EncodedFrame, error) {
	e.mu.Lock()
	level := e.compressionLevel
	e.frameCount++
	e.mu.Unlock()

	var raw []byte
	blockCount := 0
	if delta.FullFrame {
		raw = packFullFrame(source)
	} else {
		raw, blockCount = packDeltaBlocks(delta.ChangedBlocks, source)
	}

	enc, err := e.encoderFor(levelToZstd(level))
	if err != nil {
		return EncodedFrame{}, err
	}
	compressed := enc.EncodeAll(raw, nil)

	return EncodedFrame{
		FrameNumber: delta.FrameNumber,
		Timestamp:   delta.Timestamp,
		Width:       delta.Width,
		Height:      delta.Height,
		Data:        compressed,
		IsFullFrame: delta.FullFrame,
		BlockCount:  blockCount,
	}, nil
}

// packFullFrame packs rows tightly at width*bpp, skipping source stride
// padding.
func packFullFrame(f RawFrame) []byte {
	bpp := f.BytesPerPixel()
	rowBytes := f.Width * bpp
	out := make([]byte, rowBytes*f.Height)
	for row := 0; row < f.Height; row++ {
		srcOff := row * f.Stride
		dstOff := row * rowBytes
		copy(out[dstOff:dstOff+rowBytes], f.Data[srcOff:srcOff+rowBytes])
	}
	return out
}

// packDeltaBlocks serialises a 4-byte little-endian block count, then for
// each block a 16-byte (x,y,w,h) little-endian header followed by its
// tightly-packed pixel rows.
func packDeltaBlocks(blocks []Block, source RawFrame) ([]byte, int) {
	bpp := source.BytesPerPixel()

	size := 4
	for _, b := range blocks {
		size += 16 + b.W*b.H*bpp
	}

	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(blocks)))
	offset := 4

	for _, b := range blocks {
		binary.LittleEndian.PutUint32(out[offset:offset+4], uint32(b.X))
		binary.LittleEndian.PutUint32(out[offset+4:offset+8], uint32(b.Y))
		binary.LittleEndian.PutUint32(out[offset+8:offset+12], uint32(b.W))
		binary.LittleEndian.PutUint32(out[offset+12:offset+16], uint32(b.H))
		offset += 16

		rowBytes := b.W * bpp
		for row := 0; row < b.H; row++ {
			srcOff := (b.Y+row)*source.Stride + b.X*bpp
			copy(out[offset:offset+rowBytes], source.Data[srcOff:srcOff+rowBytes])
			offset += rowBytes
		}
	}
	return out, len(blocks)
}

// AdjustQuality feeds a measured bandwidth sample back into the encoder:
// if measured exceeds the target, drop the quality slider and raise the
// compression level (more ratio, less speed); if measured falls below 80%
// of the target, raise quality and lower the level.
func (e *AdaptiveEncoder) AdjustQuality(measuredBandwidth uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.measuredBandwidth = measuredBandwidth

	switch {
	case measuredBandwidth > e.targetBandwidth:
		e.quality = maxInt(e.quality-qualityStep, minQuality)
		e.compressionLevel = minInt(e.compressionLevel+1, maxCompressionLevel)
	case float64(measuredBandwidth) < float64(e.targetBandwidth)*0.8:
		e.quality = minInt(e.quality+qualityStep, maxQuality)
		e.compressionLevel = maxInt(e.compressionLevel-1, minCompressionLevel)
	}
}

// Quality exposes the diagnostic quality slider (0-100). It does not yet
// drive resolution scaling.
func (e *AdaptiveEncoder) Quality() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// CompressionLevel exposes the current zstd-facing level (1-9).
func (e *AdaptiveEncoder) CompressionLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compressionLevel
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
