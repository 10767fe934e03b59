// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"crypto/subtle"
)

// Packet is a header plus its payload bytes.
type Packet struct {
	Header  Header
	Payload []byte
}

// NewRequest builds a request packet. It refuses to build a packet whose
// payload exceeds MaxPayloadSize.
func NewRequest(cmd Command, requestID uint64, flags Flags, payload []byte) (Packet, error) {
	return newPacket(cmd, requestID, flags, payload, false)
}

// NewResponse builds a response packet, setting the internal response
// marker bit.
func NewResponse(cmd Command, requestID uint64, flags Flags, payload []byte) (Packet, error) {
	return newPacket(cmd, requestID, flags, payload, true)
}

func newPacket(cmd Command, requestID uint64, flags Flags, payload []byte, isResponse bool) (Packet, error) {
	if len(payload) > MaxPayloadSize {
		return Packet{}, ErrPayloadTooLarge
	}
	h := NewHeader(0, cmd, flags, requestID, uint64(len(payload)), isResponse)
	h.setChecksum(payload)
	return Packet{Header: h, Payload: payload}, nil
}

// Heartbeat returns the canonical zero-payload, request-id-zero keep-alive
// packet.
func Heartbeat() Packet {
	p, _ := newPacket(CmdHeartbeat, 0, 0, nil, false)
	return p
}

// ToBytes serialises the packet into a freshly-allocated HeaderSize+len(payload)
// byte slice.
func (p Packet) ToBytes() []byte {
	out := make([]byte, HeaderSize+len(p.Payload))
	p.Header.Encode(out[:HeaderSize])
	copy(out[HeaderSize:], p.Payload)
	return out
}

// FromBytes parses a complete packet from src. src must be exactly
// HeaderSize+payloadLength bytes; any other length is ErrInvalidPacketLen.
// If the payload is non-empty, the header checksum is recomputed and
// compared; a mismatch is ErrChecksumMismatch, distinct from malformed
// framing.
func FromBytes(src []byte) (Packet, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return Packet{}, err
	}
	want := HeaderSize + int(h.PayloadLength)
	if len(src) != want {
		return Packet{}, ErrInvalidPacketLen
	}

	payload := make([]byte, h.PayloadLength)
	copy(payload, src[HeaderSize:want])

	if h.PayloadLength > 0 {
		if isZeroChecksum(h.Checksum) {
			return Packet{}, &ProtocolViolationError{Reason: "non-empty payload with zero checksum"}
		}
		got := checksumPayload(payload)
		if subtle.ConstantTimeCompare(got[:], h.Checksum[:]) != 1 {
			return Packet{}, ErrChecksumMismatch
		}
	}

	return Packet{Header: h, Payload: payload}, nil
}

func isZeroChecksum(c [ChecksumSize]byte) bool {
	var zero [ChecksumSize]byte
	return c == zero
}
