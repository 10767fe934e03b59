// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screenclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/elcapor/tix/internal/protocol"
	"github.com/elcapor/tix/internal/rdp"
)

type fakeReceiver struct {
	mu      sync.Mutex
	frames  []rdp.EncodedFrame
	idx     int
	timeout bool
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (f *fakeReceiver) Receive() (rdp.EncodedFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		return rdp.EncodedFrame{}, timeoutError{}
	}
	frame := f.frames[f.idx]
	f.idx++
	return frame, nil
}

func (f *fakeReceiver) SetReadDeadline(t time.Time) error { return nil }

func compressRaw(t *testing.T, raw []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil)
}

func TestClientPublishesFramebufferAndStats(t *testing.T) {
	raw := make([]byte, 4*4*4)
	for i := range raw {
		raw[i] = 0x42
	}
	receiver := &fakeReceiver{frames: []rdp.EncodedFrame{
		{Width: 4, Height: 4, IsFullFrame: true, Data: compressRaw(t, raw)},
	}}

	client := NewClient(receiver, protocol.PixelFormatBGRA8, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go client.Run(ctx)

	select {
	case fb := <-client.Frames():
		if len(fb) != 4*4*4 {
			t.Fatalf("expected framebuffer length %d, got %d", 4*4*4, len(fb))
		}
		for _, b := range fb {
			if b != 0x42 {
				t.Fatalf("expected byte 0x42, got 0x%02X", b)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published frame")
	}

	select {
	case stats := <-client.Stats():
		if stats.Width != 4 || stats.Height != 4 {
			t.Fatalf("expected stats dims 4x4, got %dx%d", stats.Width, stats.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published stats")
	}
}

func TestClientStopIsCooperative(t *testing.T) {
	receiver := &fakeReceiver{}
	client := NewClient(receiver, protocol.PixelFormatBGRA8, nil)
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	client.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not stop after Stop() was called")
	}
}

func TestClientSatisfiesRealTransportReceiver(t *testing.T) {
	var _ Receiver = (*rdp.Receiver)(nil)
	var _ net.Error = timeoutError{}
}
