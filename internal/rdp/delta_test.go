// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rdp

import (
	"testing"

	"github.com/elcapor/tix/internal/protocol"
)

func bgraFrame(w, h int, fill byte) RawFrame {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = fill
	}
	return RawFrame{Width: w, Height: h, Stride: w * 4, Format: protocol.PixelFormatBGRA8, Data: data}
}

func TestDeltaDetectorFirstCallIsFullFrame(t *testing.T) {
	d := NewDeltaDetector(64)
	delta := d.Detect(bgraFrame(128, 128, 0))
	if !delta.FullFrame {
		t.Fatal("expected first detect to be a full frame")
	}
}

func TestDeltaDetectorIdenticalFramesYieldNoBlocks(t *testing.T) {
	d := NewDeltaDetector(64)
	d.Detect(bgraFrame(128, 128, 0x11))
	delta := d.Detect(bgraFrame(128, 128, 0x11))
	if delta.FullFrame {
		t.Fatal("expected second identical detect not to be a full frame")
	}
	if len(delta.ChangedBlocks) != 0 {
		t.Fatalf("expected zero changed blocks, got %d", len(delta.ChangedBlocks))
	}
}

func TestDeltaDetectorSinglePixelChangeYieldsOneBlock(t *testing.T) {
	d := NewDeltaDetector(64)
	d.Detect(bgraFrame(128, 128, 0x00))

	second := bgraFrame(128, 128, 0x00)
	second.Data[0] = 0xFF

	delta := d.Detect(second)
	if delta.FullFrame {
		t.Fatal("expected single-pixel change not to collapse to full frame")
	}
	if len(delta.ChangedBlocks) != 1 {
		t.Fatalf("expected exactly one changed block, got %d", len(delta.ChangedBlocks))
	}
	b := delta.ChangedBlocks[0]
	if b.X != 0 || b.Y != 0 || b.W != 64 || b.H != 64 {
		t.Errorf("expected block (0,0,64,64), got (%d,%d,%d,%d)", b.X, b.Y, b.W, b.H)
	}
}

func TestDeltaDetectorMajorityChangeCollapsesToFullFrame(t *testing.T) {
	d := NewDeltaDetector(64)
	d.Detect(bgraFrame(128, 128, 0x00))

	second := bgraFrame(128, 128, 0xFF)
	delta := d.Detect(second)
	if !delta.FullFrame {
		t.Fatal("expected majority-changed frame to collapse to full frame")
	}
}

func TestDeltaDetectorResizeYieldsFullFrame(t *testing.T) {
	d := NewDeltaDetector(64)
	d.Detect(bgraFrame(128, 128, 0x00))
	delta := d.Detect(bgraFrame(64, 64, 0x00))
	if !delta.FullFrame {
		t.Fatal("expected dimension change to force a full frame")
	}
}

func TestDeltaDetectorReset(t *testing.T) {
	d := NewDeltaDetector(64)
	d.Detect(bgraFrame(128, 128, 0x00))
	d.Reset()
	delta := d.Detect(bgraFrame(128, 128, 0x00))
	if !delta.FullFrame {
		t.Fatal("expected detect after reset to be a full frame")
	}
}

func TestChangeRatio(t *testing.T) {
	delta := DeltaFrame{Width: 128, Height: 128, ChangedBlocks: []Block{{X: 0, Y: 0, W: 64, H: 64}}}
	if got := delta.ChangeRatio(); got != 0.25 {
		t.Errorf("expected ratio 0.25, got %v", got)
	}

	full := DeltaFrame{Width: 128, Height: 128, FullFrame: true}
	if got := full.ChangeRatio(); got != 1.0 {
		t.Errorf("expected full frame ratio 1.0, got %v", got)
	}
}
