// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// Codec extracts length-prefixed TIX frames from a growing byte buffer fed
// by a reliable byte-stream reader. It guarantees at most one packet is
// emitted per Decode call and never discards the buffered prefix of a
// partial subsequent frame.
type Codec struct {
	buf []byte
}

// NewCodec returns an empty codec.
func NewCodec() *Codec { return &Codec{} }

// Feed appends newly-read bytes to the codec's internal buffer.
func (c *Codec) Feed(data []byte) {
	c.buf = append(c.buf, data...)
}

// Buffered reports how many bytes are currently held, for diagnostics and
// tests.
func (c *Codec) Buffered() int { return len(c.buf) }

// Decode attempts to extract one complete packet from the buffered bytes.
// ok is false with a nil error when more bytes are needed. A non-nil error
// means the peer violated the frame grammar and the connection must close.
func (c *Codec) Decode() (pkt Packet, ok bool, err error) {
	if len(c.buf) > MaxFrameSize {
		return Packet{}, false, ErrFrameTooLarge
	}
	if len(c.buf) < HeaderSize {
		return Packet{}, false, nil
	}

	h, err := DecodeHeader(c.buf[:HeaderSize])
	if err != nil {
		return Packet{}, false, err
	}
	if h.PayloadLength > 0 && isZeroChecksum(h.Checksum) {
		return Packet{}, false, &ProtocolViolationError{Reason: "non-empty payload with zero checksum"}
	}

	frameLen := HeaderSize + int(h.PayloadLength)
	if len(c.buf) < frameLen {
		return Packet{}, false, nil
	}

	frame := c.buf[:frameLen]
	pkt, err = FromBytes(frame)
	if err != nil {
		return Packet{}, false, err
	}

	// Advance past the consumed frame without disturbing anything buffered
	// beyond it.
	remaining := len(c.buf) - frameLen
	copy(c.buf, c.buf[frameLen:])
	c.buf = c.buf[:remaining]

	return pkt, true, nil
}

// ReadPacket reads from r until Decode yields a packet, growing the
// internal buffer incrementally. It is the blocking counterpart to Decode
// for callers driving a plain io.Reader rather than an event loop.
func (c *Codec) ReadPacket(r io.Reader) (Packet, error) {
	chunk := make([]byte, 4096)
	for {
		if pkt, ok, err := c.Decode(); err != nil {
			return Packet{}, err
		} else if ok {
			return pkt, nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			c.Feed(chunk[:n])
		}
		if err != nil {
			if pkt, ok, decErr := c.Decode(); decErr == nil && ok {
				return pkt, nil
			}
			return Packet{}, fmt.Errorf("protocol: reading frame: %w", err)
		}
	}
}

// WritePacket serialises p and flushes it to w.
func WritePacket(w *bufio.Writer, p Packet) error {
	if _, err := w.Write(p.ToBytes()); err != nil {
		return fmt.Errorf("protocol: writing frame: %w", err)
	}
	return w.Flush()
}
