// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rdp

// DefaultBlockSize is the tile edge length used by the delta detector
// unless overridden (§4.9).
const DefaultBlockSize = 64

// fullFrameChangeThreshold: once more than this fraction of tiles changed,
// collapse to a single full-frame block — sending the whole frame is
// cheaper than many small ones.
const fullFrameChangeThreshold = 0.80

// DeltaDetector divides successive raw frames into block_size x block_size
// tiles and reports which tiles changed against the previously-stored
// frame.
type DeltaDetector struct {
	blockSize int
	previous  *RawFrame
	frameNum  uint64
}

// NewDeltaDetector returns a detector using blockSize x blockSize tiles.
func NewDeltaDetector(blockSize int) *DeltaDetector {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &DeltaDetector{blockSize: blockSize}
}

// Reset forgets the previous frame: the next Detect call always yields a
// full-frame delta.
func (d *DeltaDetector) Reset() {
	d.previous = nil
}

// Detect compares current against the previously-stored frame and returns
// the change description. The first call after construction or Reset, or
// any call whose dimensions differ from the stored frame, yields a
// full-frame delta. After returning, a copy of current is stored as the
// new "previous" frame.
func (d *DeltaDetector) Detect(current RawFrame) DeltaFrame {
	d.frameNum++

	resized := d.previous == nil || d.previous.Width != current.Width || d.previous.Height != current.Height
	if resized {
		delta := DeltaFrame{
			FrameNumber: d.frameNum,
			Timestamp:   current.Captured,
			Width:       current.Width,
			Height:      current.Height,
			FullFrame:   true,
		}
		d.store(current)
		return delta
	}

	bpp := current.BytesPerPixel()
	var changed []Block
	totalTiles := 0
	for y := 0; y < current.Height; y += d.blockSize {
		h := min(d.blockSize, current.Height-y)
		for x := 0; x < current.Width; x += d.blockSize {
			w := min(d.blockSize, current.Width-x)
			totalTiles++
			if blockDiffers(*d.previous, current, x, y, w, h, bpp) {
				changed = append(changed, Block{X: x, Y: y, W: w, H: h})
			}
		}
	}

	full := totalTiles > 0 && float64(len(changed))/float64(totalTiles) > fullFrameChangeThreshold
	delta := DeltaFrame{
		FrameNumber:   d.frameNum,
		Timestamp:     current.Captured,
		Width:         current.Width,
		Height:        current.Height,
		ChangedBlocks: changed,
		FullFrame:     full,
	}
	d.store(current)
	return delta
}

func (d *DeltaDetector) store(f RawFrame) {
	cp := make([]byte, len(f.Data))
	copy(cp, f.Data)
	stored := f
	stored.Data = cp
	d.previous = &stored
}

// blockDiffers compares the tile at (x,y,w,h) between prev and cur,
// row-by-row, short-circuiting on the first differing row.
func blockDiffers(prev, cur RawFrame, x, y, w, h, bpp int) bool {
	rowBytes := w * bpp
	for row := 0; row < h; row++ {
		prevOff := (y+row)*prev.Stride + x*bpp
		curOff := (y+row)*cur.Stride + x*bpp
		if prevOff+rowBytes > len(prev.Data) || curOff+rowBytes > len(cur.Data) {
			return true
		}
		if !bytesEqual(prev.Data[prevOff:prevOff+rowBytes], cur.Data[curOff:curOff+rowBytes]) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
