// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package capture runs the agent-side screen-streaming loop: capture a raw
// frame, run it through delta detection and adaptive encoding, and ship it
// over the datagram transport, pacing itself to a target frame rate and
// feeding measured throughput back into the encoder (§4.14).
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/elcapor/tix/internal/rdp"
)

// ErrCaptureTimeout is returned by a Capturer when no new desktop frame was
// available before its internal deadline. The service loop treats this as
// non-fatal and simply continues to the next cycle.
var ErrCaptureTimeout = errors.New("capture: timed out waiting for a frame")

// ErrUnsupportedPlatform is returned by platform leaves that have not been
// implemented for the current OS.
var ErrUnsupportedPlatform = errors.New("capture: screen capture is not supported on this platform")

// Capturer produces raw screen frames. Implementations are platform-specific
// leaves; NewPlatformCapturer selects one for the running OS.
type Capturer interface {
	// Capture blocks until a frame is available, ctx is cancelled, or an
	// internal timeout elapses (returning ErrCaptureTimeout).
	Capture(ctx context.Context) (rdp.RawFrame, error)
	Close() error
}

// Sender abstracts the datagram transport leg so the service can be tested
// without a real socket.
type Sender interface {
	Send(frame rdp.EncodedFrame) error
}

// Config tunes the capture loop.
type Config struct {
	TargetFPS       int
	TargetBandwidth uint64 // bytes/sec fed to the adaptive encoder
	BlockSize       int    // delta detector tile size, 0 uses rdp.DefaultBlockSize
}

// Service orchestrates capture -> detect -> encode -> send at a target
// cadence, adjusting the encoder from measured throughput every second.
type Service struct {
	cfg      Config
	capturer Capturer
	sender   Sender
	detector *rdp.DeltaDetector
	encoder  *rdp.AdaptiveEncoder
	estimate *rdp.BandwidthEstimator
	limiter  *rate.Limiter
	logger   *slog.Logger

	stopped atomic.Bool
}

// NewService wires a capture pipeline from its already-constructed parts.
func NewService(cfg Config, capturer Capturer, sender Sender, logger *slog.Logger) *Service {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 30
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.TargetBandwidth > 0 {
		burst := int(cfg.TargetBandwidth)
		if burst > maxSendBurst {
			burst = maxSendBurst
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.TargetBandwidth), burst)
	}

	return &Service{
		cfg:      cfg,
		capturer: capturer,
		sender:   sender,
		detector: rdp.NewDeltaDetector(cfg.BlockSize),
		encoder:  rdp.NewAdaptiveEncoder(cfg.TargetBandwidth),
		estimate: rdp.NewBandwidthEstimator(rdp.DefaultBandwidthWindow),
		limiter:  limiter,
		logger:   logger,
	}
}

// maxSendBurst bounds the rate limiter's burst size to one encoded frame's
// worth of a typical 1080p delta at low compression, mirroring the
// 256KB write-buffer ceiling the teacher's ThrottledWriter uses.
const maxSendBurst = 256 * 1024

// Stop flips the cooperative stop flag; Run returns once it next checks.
func (s *Service) Stop() { s.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (s *Service) Stopped() bool { return s.stopped.Load() }

// Close releases the encoder's underlying compressors.
func (s *Service) Close() error { return s.encoder.Close() }

// Run executes the capture loop described by §4.14 until ctx is cancelled
// or Stop is called.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TargetFPS)
	lastAdjust := time.Now()

	for {
		if s.stopped.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cycleStart := time.Now()

		raw, err := s.capturer.Capture(ctx)
		if err != nil {
			if errors.Is(err, ErrCaptureTimeout) {
				s.sleepRemainder(cycleStart, interval)
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.Warn("capture failed", "error", err)
			s.sleepRemainder(cycleStart, interval)
			continue
		}

		delta := s.detector.Detect(raw)
		if !delta.FullFrame && len(delta.ChangedBlocks) == 0 {
			s.sleepRemainder(cycleStart, interval)
			continue
		}

		encoded, err := s.encoder.Encode(delta, raw)
		if err != nil {
			s.logger.Warn("encode failed", "error", err)
			s.sleepRemainder(cycleStart, interval)
			continue
		}

		if s.limiter != nil {
			n := len(encoded.Data)
			if n > s.limiter.Burst() {
				n = s.limiter.Burst()
			}
			if err := s.limiter.WaitN(ctx, n); err != nil {
				return err
			}
		}

		if err := s.sender.Send(encoded); err != nil {
			s.logger.Warn("send failed", "error", err)
			s.sleepRemainder(cycleStart, interval)
			continue
		}

		s.estimate.Sample(time.Now(), uint64(len(encoded.Data)))

		if time.Since(lastAdjust) >= time.Second {
			s.encoder.AdjustQuality(uint64(s.estimate.Throughput()))
			lastAdjust = time.Now()
		}

		s.sleepRemainder(cycleStart, interval)
	}
}

func (s *Service) sleepRemainder(cycleStart time.Time, interval time.Duration) {
	elapsed := time.Since(cycleStart)
	if remainder := interval - elapsed; remainder > 0 {
		time.Sleep(remainder)
	}
}
