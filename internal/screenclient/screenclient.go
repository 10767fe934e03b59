// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package screenclient runs the controller-side half of the TixRP pipeline:
// receive encoded frames off the datagram transport, decode them onto a
// persistent framebuffer, and publish the latest framebuffer and stream
// stats on latest-value channels for renderers to read without blocking
// the receive loop (§4.15).
package screenclient

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/elcapor/tix/internal/protocol"
	"github.com/elcapor/tix/internal/rdp"
)

// Receiver abstracts the datagram transport leg so the client can be
// tested without a real socket.
type Receiver interface {
	Receive() (rdp.EncodedFrame, error)
	SetReadDeadline(t time.Time) error
}

// Stats is a point-in-time snapshot of stream health, published after
// every successfully applied frame.
type Stats struct {
	FPS       float64
	Bytes     uint64
	Width     int
	Height    int
	UpdatedAt time.Time
}

// Client runs the receive/decode/publish loop. Frame and Stats channels are
// latest-value: buffered to 1 and drained-then-refilled on every publish, so
// a slow or absent reader never blocks the receive loop.
type Client struct {
	receiver Receiver
	decoder  *rdp.FrameDecoder
	logger   *slog.Logger

	frameCh chan []byte
	statsCh chan Stats

	readDeadline time.Duration

	arrivals   []time.Time
	arrivalCap int

	stopped atomic.Bool
}

// NewClient wires a screen client around an already-connected receiver.
// format determines the decoder's bytes-per-pixel.
func NewClient(receiver Receiver, format protocol.PixelFormat, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		receiver:     receiver,
		decoder:      rdp.NewFrameDecoder(format),
		logger:       logger,
		frameCh:      make(chan []byte, 1),
		statsCh:      make(chan Stats, 1),
		readDeadline: 200 * time.Millisecond,
		arrivalCap:   30,
	}
}

// Frames returns the latest-framebuffer channel. Reading drains the current
// value; the next publish refills it.
func (c *Client) Frames() <-chan []byte { return c.frameCh }

// Stats returns the latest-stats channel.
func (c *Client) Stats() <-chan Stats { return c.statsCh }

// Stop flips the cooperative stop flag; Run returns once it next checks.
func (c *Client) Stop() { c.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (c *Client) Stopped() bool { return c.stopped.Load() }

// Close releases the underlying decoder.
func (c *Client) Close() error { c.decoder.Close(); return nil }

// Run executes the receive loop described by §4.15 until ctx is cancelled
// or Stop is called. A read timeout is non-fatal and simply loops again.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.stopped.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.receiver.SetReadDeadline(time.Now().Add(c.readDeadline)); err != nil {
			return err
		}

		frame, err := c.receiver.Receive()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Warn("receive failed", "error", err)
			continue
		}

		if err := c.decoder.Apply(frame); err != nil {
			c.logger.Warn("apply failed", "error", err)
			continue
		}

		now := time.Now()
		c.recordArrival(now)
		c.publish(c.decoder.Framebuffer(), Stats{
			FPS:       c.fps(),
			Bytes:     uint64(len(frame.Data)),
			Width:     frame.Width,
			Height:    frame.Height,
			UpdatedAt: now,
		})
	}
}

func (c *Client) recordArrival(at time.Time) {
	c.arrivals = append(c.arrivals, at)
	if len(c.arrivals) > c.arrivalCap {
		c.arrivals = c.arrivals[len(c.arrivals)-c.arrivalCap:]
	}
}

func (c *Client) fps() float64 {
	if len(c.arrivals) < 2 {
		return 0
	}
	span := c.arrivals[len(c.arrivals)-1].Sub(c.arrivals[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(c.arrivals)-1) / span
}

func (c *Client) publish(framebuffer []byte, stats Stats) {
	fbCopy := make([]byte, len(framebuffer))
	copy(fbCopy, framebuffer)
	drainFrame(c.frameCh)
	c.frameCh <- fbCopy

	drainStats(c.statsCh)
	c.statsCh <- stats
}

func drainFrame(ch chan []byte) {
	select {
	case <-ch:
	default:
	}
}

func drainStats(ch chan Stats) {
	select {
	case <-ch:
	default:
	}
}
