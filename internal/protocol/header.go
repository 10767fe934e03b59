// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Wire-format constants (§3, §6 of the specification).
const (
	HeaderSize     = 64
	ChecksumSize   = 32
	MaxPayloadSize = 256 * 1024
	MaxFrameSize   = HeaderSize + MaxPayloadSize
)

// MagicCurrent is emitted on encode. MagicLegacy is still accepted on
// decode for backward compatibility with the poorer 44-byte draft's
// four-byte magic.
var (
	MagicCurrent = [4]byte{'T', 'I', 'X', '1'}
	MagicLegacy  = [4]byte{'T', 'I', 'X', '0'}
)

// Flags is the 64-bit observable flags bitmask. Bit 63 is reserved
// internally to mark a packet as a response and is never exposed through
// Header.Flags() nor settable by callers of NewRequest/NewResponse.
type Flags uint64

const (
	FlagCompressed    Flags = 1 << 0
	FlagEncrypted     Flags = 1 << 1 // reserved, encryption is out of scope
	FlagFinalFragment Flags = 1 << 2
	FlagAckRequested  Flags = 1 << 3
	FlagStreaming     Flags = 1 << 4

	flagResponseMarker Flags = 1 << 63
	flagObservableMask Flags = flagResponseMarker - 1
)

// Header is the fixed 64-byte packet header, little-endian on the wire.
type Header struct {
	Magic         [4]byte
	Checksum      [ChecksumSize]byte
	MessageType   uint16
	Command       Command
	rawFlags      Flags
	RequestID     uint64
	PayloadLength uint64
}

// NewHeader builds a header for either a request or a response. isResponse
// sets the internal bit-63 marker; callers cannot set it through flags.
func NewHeader(messageType uint16, cmd Command, flags Flags, requestID uint64, payloadLen uint64, isResponse bool) Header {
	raw := flags & flagObservableMask
	if isResponse {
		raw |= flagResponseMarker
	}
	return Header{
		Magic:         MagicCurrent,
		MessageType:   messageType,
		Command:       cmd,
		rawFlags:      raw,
		RequestID:     requestID,
		PayloadLength: payloadLen,
	}
}

// Flags returns the observable flags with the internal response marker
// masked off.
func (h Header) Flags() Flags { return h.rawFlags & flagObservableMask }

// IsResponse reports whether bit 63 of the internal flags field is set.
func (h Header) IsResponse() bool { return h.rawFlags&flagResponseMarker != 0 }

// Has reports whether every bit in want is set in the observable flags.
func (f Flags) Has(want Flags) bool { return f&want == want }

// checksumPayload computes the full 32-byte Blake3 digest of payload, or
// the all-zero checksum when payload is empty.
func checksumPayload(payload []byte) [ChecksumSize]byte {
	var sum [ChecksumSize]byte
	if len(payload) == 0 {
		return sum
	}
	h := blake3.Sum256(payload)
	copy(sum[:], h[:])
	return sum
}

// setChecksum recomputes and stores the checksum for the given payload.
func (h *Header) setChecksum(payload []byte) {
	h.Checksum = checksumPayload(payload)
}

// Encode writes the 64-byte header to dst, which must have length
// HeaderSize.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	copy(dst[0:4], h.Magic[:])
	copy(dst[4:36], h.Checksum[:])
	binary.LittleEndian.PutUint16(dst[36:38], h.MessageType)
	binary.LittleEndian.PutUint16(dst[38:40], uint16(h.Command))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(h.rawFlags))
	binary.LittleEndian.PutUint64(dst[48:56], h.RequestID)
	binary.LittleEndian.PutUint64(dst[56:64], h.PayloadLength)
}

// DecodeHeader parses a header from the first HeaderSize bytes of src. It
// validates the magic and the payload-length ceiling but does not verify
// the checksum — that requires the payload, which callers check separately
// once it is fully buffered (see Codec).
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, &InvalidHeaderError{Reason: "buffer shorter than header size"}
	}
	var h Header
	copy(h.Magic[:], src[0:4])
	if h.Magic != MagicCurrent && h.Magic != MagicLegacy {
		return Header{}, ErrInvalidMagic
	}
	copy(h.Checksum[:], src[4:36])
	h.MessageType = binary.LittleEndian.Uint16(src[36:38])
	h.Command = Command(binary.LittleEndian.Uint16(src[38:40]))
	h.rawFlags = Flags(binary.LittleEndian.Uint64(src[40:48]))
	h.RequestID = binary.LittleEndian.Uint64(src[48:56])
	h.PayloadLength = binary.LittleEndian.Uint64(src[56:64])

	if h.PayloadLength > MaxPayloadSize {
		return Header{}, ErrPayloadTooLarge
	}
	if !h.Command.IsKnown() {
		return Header{}, &UnknownCommandError{MessageType: h.MessageType, Command: uint16(h.Command)}
	}
	return h, nil
}
