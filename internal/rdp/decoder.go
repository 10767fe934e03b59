// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rdp

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/elcapor/tix/internal/protocol"
)

// DecodedBlock is one changed tile extracted from a delta payload.
type DecodedBlock struct {
	X, Y, W, H int
	Data       []byte
}

// FrameDecoder holds a persistent framebuffer and applies successive
// EncodedFrames to it (§4.11).
type FrameDecoder struct {
	framebuffer []byte
	width       int
	height      int
	format      protocol.PixelFormat

	decoder *zstd.Decoder
}

// NewFrameDecoder returns a decoder with an empty framebuffer. format
// determines bytes-per-pixel for delta application.
func NewFrameDecoder(format protocol.PixelFormat) *FrameDecoder {
	dec, _ := zstd.NewReader(nil)
	return &FrameDecoder{format: format, decoder: dec}
}

// Close releases the underlying zstd decoder.
func (d *FrameDecoder) Close() { d.decoder.Close() }

// Framebuffer returns the current framebuffer contents. Callers must treat
// it as read-only; it is reallocated on the next dimension change.
func (d *FrameDecoder) Framebuffer() []byte { return d.framebuffer }

func (d *FrameDecoder) bpp() int { return d.format.BytesPerPixel() }

// Apply decompresses frame and blits it onto the persistent framebuffer,
// reallocating and zeroing on a dimension change.
func (d *FrameDecoder) Apply(frame EncodedFrame) error {
	raw, err := d.decoder.DecodeAll(frame.Data, nil)
	if err != nil {
		return fmt.Errorf("rdp: decompress frame %d: %w", frame.FrameNumber, err)
	}

	if frame.Width != d.width || frame.Height != d.height {
		d.width = frame.Width
		d.height = frame.Height
		d.framebuffer = make([]byte, d.width*d.height*d.bpp())
	}

	if frame.IsFullFrame {
		return d.applyFullFrame(raw)
	}
	return d.applyDeltaFrame(raw)
}

func (d *FrameDecoder) applyFullFrame(raw []byte) error {
	if len(raw) != len(d.framebuffer) {
		return fmt.Errorf("rdp: full frame length %d does not match framebuffer %d", len(raw), len(d.framebuffer))
	}
	copy(d.framebuffer, raw)
	return nil
}

func (d *FrameDecoder) applyDeltaFrame(raw []byte) error {
	blocks, err := ExtractBlocks(raw, d.bpp())
	if err != nil {
		return err
	}
	stride := d.width * d.bpp()
	bpp := d.bpp()
	for _, b := range blocks {
		rowBytes := b.W * bpp
		for row := 0; row < b.H; row++ {
			dstOff := (b.Y+row)*stride + b.X*bpp
			srcOff := row * rowBytes
			if dstOff+rowBytes > len(d.framebuffer) {
				return fmt.Errorf("rdp: delta block (%d,%d,%d,%d) exceeds framebuffer bounds", b.X, b.Y, b.W, b.H)
			}
			copy(d.framebuffer[dstOff:dstOff+rowBytes], b.Data[srcOff:srcOff+rowBytes])
		}
	}
	return nil
}

// ExtractBlocks parses a raw (decompressed) delta payload into its blocks
// without applying them, for renderers that blit directly.
func ExtractBlocks(data []byte, bpp int) ([]DecodedBlock, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("rdp: delta payload truncated: missing block count")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	offset := 4

	blocks := make([]DecodedBlock, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+16 > len(data) {
			return nil, fmt.Errorf("rdp: delta payload truncated: mid-header at block %d", i)
		}
		x := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		y := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		w := int(binary.LittleEndian.Uint32(data[offset+8 : offset+12]))
		h := int(binary.LittleEndian.Uint32(data[offset+12 : offset+16]))
		offset += 16

		pixelBytes := w * h * bpp
		if offset+pixelBytes > len(data) {
			return nil, fmt.Errorf("rdp: delta payload truncated: mid-pixel-block at block %d", i)
		}
		blockData := make([]byte, pixelBytes)
		copy(blockData, data[offset:offset+pixelBytes])
		offset += pixelBytes

		blocks = append(blocks, DecodedBlock{X: x, Y: y, W: w, H: h, Data: blockData})
	}
	return blocks, nil
}
