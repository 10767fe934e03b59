// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rdp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// DefaultMTU is the datagram size budget assumed to fit under a 1500-byte
// Ethernet MTU after 20+8 bytes of IP/UDP overhead (§4.12).
const DefaultMTU = 1400

// FrameHeaderSize is the fixed wire size of a frame header datagram.
const FrameHeaderSize = 33

// ChunkHeaderSize is the fixed wire size of a chunk header prefix.
const ChunkHeaderSize = 12

// frameHeader is sequence, frame_number, timestamp_us, width, height,
// is_full_frame, total_chunks — 33 bytes, field order per §4.12.
type frameHeader struct {
	Sequence    uint32
	FrameNumber uint64
	TimestampUs int64
	Width       uint32
	Height      uint32
	IsFullFrame bool
	TotalChunks uint32
}

func (h frameHeader) encode() []byte {
	buf := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Sequence)
	binary.LittleEndian.PutUint64(buf[4:12], h.FrameNumber)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.TimestampUs))
	binary.LittleEndian.PutUint32(buf[20:24], h.Width)
	binary.LittleEndian.PutUint32(buf[24:28], h.Height)
	if h.IsFullFrame {
		buf[28] = 1
	}
	binary.LittleEndian.PutUint32(buf[29:33], h.TotalChunks)
	return buf
}

func decodeFrameHeader(buf []byte) (frameHeader, error) {
	if len(buf) != FrameHeaderSize {
		return frameHeader{}, fmt.Errorf("rdp: frame header must be %d bytes, got %d", FrameHeaderSize, len(buf))
	}
	return frameHeader{
		Sequence:    binary.LittleEndian.Uint32(buf[0:4]),
		FrameNumber: binary.LittleEndian.Uint64(buf[4:12]),
		TimestampUs: int64(binary.LittleEndian.Uint64(buf[12:20])),
		Width:       binary.LittleEndian.Uint32(buf[20:24]),
		Height:      binary.LittleEndian.Uint32(buf[24:28]),
		IsFullFrame: buf[28] != 0,
		TotalChunks: binary.LittleEndian.Uint32(buf[29:33]),
	}, nil
}

type chunkHeader struct {
	Sequence   uint32
	ChunkIndex uint32
	ChunkSize  uint32
}

func (h chunkHeader) encode() []byte {
	buf := make([]byte, ChunkHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Sequence)
	binary.LittleEndian.PutUint32(buf[4:8], h.ChunkIndex)
	binary.LittleEndian.PutUint32(buf[8:12], h.ChunkSize)
	return buf
}

func decodeChunkHeader(buf []byte) (chunkHeader, error) {
	if len(buf) < ChunkHeaderSize {
		return chunkHeader{}, fmt.Errorf("rdp: chunk header must be at least %d bytes, got %d", ChunkHeaderSize, len(buf))
	}
	return chunkHeader{
		Sequence:   binary.LittleEndian.Uint32(buf[0:4]),
		ChunkIndex: binary.LittleEndian.Uint32(buf[4:8]),
		ChunkSize:  binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Sender writes EncodedFrames to an unreliable datagram socket as a frame
// header followed by MTU-sized chunk datagrams (§4.12).
type Sender struct {
	conn net.Conn
	mtu  int
	seq  uint32

	bytesSent atomic.Uint64
}

// NewSender wraps conn (typically a *net.UDPConn already Dial'd to the
// receiver) with the given MTU. mtu must exceed ChunkHeaderSize.
func NewSender(conn net.Conn, mtu int) (*Sender, error) {
	if mtu <= ChunkHeaderSize {
		return nil, fmt.Errorf("rdp: mtu %d must exceed chunk header size %d", mtu, ChunkHeaderSize)
	}
	return &Sender{conn: conn, mtu: mtu}, nil
}

// BytesSent returns the cumulative number of bytes written to the socket
// (frame headers and whole chunk datagrams, headers included), for
// bandwidth accounting.
func (s *Sender) BytesSent() uint64 { return s.bytesSent.Load() }

// SetDSCP marks the underlying socket with the given DSCP code point name
// (e.g. "EF"), so screen datagrams get priority treatment on a congested
// link. A no-op if name is empty, and an error if the socket doesn't
// support raw socket options.
func (s *Sender) SetDSCP(name string) error {
	dscp, err := ParseDSCP(name)
	if err != nil {
		return err
	}
	sc, ok := s.conn.(syscallConn)
	if !ok {
		return fmt.Errorf("rdp: underlying connection does not support DSCP marking")
	}
	return ApplyDSCP(sc, dscp)
}

// Send emits one frame header datagram followed by the chunked payload.
func (s *Sender) Send(frame EncodedFrame) error {
	seq := atomic.AddUint32(&s.seq, 1)

	chunkPayload := s.mtu - ChunkHeaderSize
	totalChunks := (len(frame.Data) + chunkPayload - 1) / chunkPayload
	if totalChunks == 0 {
		totalChunks = 1
	}

	hdr := frameHeader{
		Sequence:    seq,
		FrameNumber: frame.FrameNumber,
		TimestampUs: frame.Timestamp,
		Width:       uint32(frame.Width),
		Height:      uint32(frame.Height),
		IsFullFrame: frame.IsFullFrame,
		TotalChunks: uint32(totalChunks),
	}
	if _, err := s.conn.Write(hdr.encode()); err != nil {
		return fmt.Errorf("rdp: write frame header: %w", err)
	}
	s.bytesSent.Add(FrameHeaderSize)

	for i := 0; i < totalChunks; i++ {
		start := i * chunkPayload
		end := start + chunkPayload
		if end > len(frame.Data) {
			end = len(frame.Data)
		}
		chunk := frame.Data[start:end]

		ch := chunkHeader{Sequence: seq, ChunkIndex: uint32(i), ChunkSize: uint32(len(chunk))}
		datagram := make([]byte, ChunkHeaderSize+len(chunk))
		copy(datagram, ch.encode())
		copy(datagram[ChunkHeaderSize:], chunk)

		if _, err := s.conn.Write(datagram); err != nil {
			return fmt.Errorf("rdp: write chunk %d: %w", i, err)
		}
		s.bytesSent.Add(uint64(len(datagram)))
	}
	return nil
}

// Close closes the underlying connection.
func (s *Sender) Close() error { return s.conn.Close() }

// Receiver reassembles EncodedFrames from a datagram socket, discarding
// stray, malformed, or duplicate input (§4.12).
type Receiver struct {
	conn    net.Conn
	mtu     int
	readBuf []byte
}

// NewReceiver wraps conn (typically a *net.UDPConn already bound/connected)
// with the given MTU, used to size the read buffer.
func NewReceiver(conn net.Conn, mtu int) *Receiver {
	return &Receiver{conn: conn, mtu: mtu, readBuf: make([]byte, mtu+ChunkHeaderSize+64)}
}

// Close closes the underlying connection.
func (r *Receiver) Close() error { return r.conn.Close() }

// Receive blocks (respecting any deadline set via SetReadDeadline on the
// underlying connection) until one complete frame has been reassembled.
// Stray sequences, malformed headers, and duplicate indices are ignored; a
// read timeout surfaces as a net.Error with Timeout() true, which callers
// treat as non-fatal per §4.15.
func (r *Receiver) Receive() (EncodedFrame, error) {
	for {
		n, err := r.conn.Read(r.readBuf)
		if err != nil {
			return EncodedFrame{}, err
		}
		if n != FrameHeaderSize {
			continue
		}
		hdr, err := decodeFrameHeader(r.readBuf[:n])
		if err != nil {
			continue
		}
		if hdr.TotalChunks == 0 {
			continue
		}
		return r.collect(hdr)
	}
}

// SetReadDeadline forwards to the underlying connection, letting callers
// implement the "timeout is non-fatal, continue" receive loop of §4.15.
func (r *Receiver) SetReadDeadline(t time.Time) error { return r.conn.SetReadDeadline(t) }

func (r *Receiver) collect(hdr frameHeader) (EncodedFrame, error) {
	slots := make([][]byte, hdr.TotalChunks)
	filled := 0

	for filled < int(hdr.TotalChunks) {
		n, err := r.conn.Read(r.readBuf)
		if err != nil {
			return EncodedFrame{}, err
		}
		if n < ChunkHeaderSize {
			continue
		}
		ch, err := decodeChunkHeader(r.readBuf[:n])
		if err != nil {
			continue
		}
		if ch.Sequence != hdr.Sequence {
			continue
		}
		if ch.ChunkIndex >= hdr.TotalChunks {
			continue
		}
		if slots[ch.ChunkIndex] != nil {
			continue
		}
		payload := r.readBuf[ChunkHeaderSize:n]
		if uint32(len(payload)) != ch.ChunkSize {
			continue
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)
		slots[ch.ChunkIndex] = buf
		filled++
	}

	total := 0
	for _, s := range slots {
		total += len(s)
	}
	data := make([]byte, 0, total)
	for _, s := range slots {
		data = append(data, s...)
	}

	return EncodedFrame{
		FrameNumber: hdr.FrameNumber,
		Timestamp:   hdr.TimestampUs,
		Width:       int(hdr.Width),
		Height:      int(hdr.Height),
		Data:        data,
		IsFullFrame: hdr.IsFullFrame,
	}, nil
}
