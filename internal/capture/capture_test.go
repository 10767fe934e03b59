// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elcapor/tix/internal/protocol"
	"github.com/elcapor/tix/internal/rdp"
)

type fakeCapturer struct {
	mu     sync.Mutex
	frames []rdp.RawFrame
	idx    int
	err    error
}

func (f *fakeCapturer) Capture(ctx context.Context) (rdp.RawFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return rdp.RawFrame{}, f.err
	}
	if f.idx >= len(f.frames) {
		return rdp.RawFrame{}, ErrCaptureTimeout
	}
	frame := f.frames[f.idx]
	f.idx++
	return frame, nil
}

func (f *fakeCapturer) Close() error { return nil }

type fakeSender struct {
	mu   sync.Mutex
	sent []rdp.EncodedFrame
}

func (s *fakeSender) Send(frame rdp.EncodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func solidFrame(w, h int, fill byte) rdp.RawFrame {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = fill
	}
	return rdp.RawFrame{Width: w, Height: h, Stride: w * 4, Format: protocol.PixelFormatBGRA8, Data: data}
}

func TestServiceSendsChangedFrames(t *testing.T) {
	capturer := &fakeCapturer{frames: []rdp.RawFrame{
		solidFrame(64, 64, 0x00),
		solidFrame(64, 64, 0xFF),
	}}
	sender := &fakeSender{}

	svc := NewService(Config{TargetFPS: 200, BlockSize: 64}, capturer, sender, nil)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	svc.Run(ctx)

	if sender.count() < 2 {
		t.Fatalf("expected at least 2 frames sent (first is always full), got %d", sender.count())
	}
}

func TestServiceStopIsCooperative(t *testing.T) {
	capturer := &fakeCapturer{frames: []rdp.RawFrame{solidFrame(4, 4, 0x01)}}
	sender := &fakeSender{}
	svc := NewService(Config{TargetFPS: 1000}, capturer, sender, nil)
	defer svc.Close()

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	svc.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop after Stop() was called")
	}
	if !svc.Stopped() {
		t.Fatal("expected Stopped() to report true")
	}
}

func TestServiceCaptureTimeoutIsNonFatal(t *testing.T) {
	capturer := &fakeCapturer{}
	sender := &fakeSender{}
	svc := NewService(Config{TargetFPS: 1000}, capturer, sender, nil)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("expected no frames sent, got %d", sender.count())
	}
}

func TestNewPlatformCapturerReturnsUnsupportedError(t *testing.T) {
	c, err := NewPlatformCapturer()
	if err != nil {
		t.Fatalf("NewPlatformCapturer: %v", err)
	}
	defer c.Close()

	_, err = c.Capture(context.Background())
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}
