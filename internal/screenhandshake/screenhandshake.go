// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package screenhandshake implements the control handshake for screen
// sessions (§6): a dedicated reliable stream, separate from the main TIX
// control connection, over which the controller and agent exchange their
// UDP port numbers before the datagram transport starts, and over which
// input events are subsequently forwarded.
//
// This is glue consumed by the controller and agent binaries, not by the
// core protocol packages.
package screenhandshake

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elcapor/tix/internal/protocol"
)

// InputTag discriminates the two input event kinds forwarded over the
// handshake stream after negotiation.
type InputTag uint8

const (
	TagMouse InputTag = 0
	TagKey   InputTag = 1
)

// Negotiate runs the controller (master) side: write the controller's UDP
// receive port, then read the agent's UDP send port.
func Negotiate(rw io.ReadWriter, localUDPPort uint16) (agentUDPPort uint16, err error) {
	if err := writePort(rw, localUDPPort); err != nil {
		return 0, fmt.Errorf("writing controller udp port: %w", err)
	}
	agentUDPPort, err = readPort(rw)
	if err != nil {
		return 0, fmt.Errorf("reading agent udp port: %w", err)
	}
	return agentUDPPort, nil
}

// Accept runs the agent side: read the controller's UDP receive port, then
// reply with the agent's own UDP send port.
func Accept(rw io.ReadWriter, localUDPPort uint16) (controllerUDPPort uint16, err error) {
	controllerUDPPort, err = readPort(rw)
	if err != nil {
		return 0, fmt.Errorf("reading controller udp port: %w", err)
	}
	if err := writePort(rw, localUDPPort); err != nil {
		return 0, fmt.Errorf("writing agent udp port: %w", err)
	}
	return controllerUDPPort, nil
}

// WritePort and ReadPort expose the two halves of the port exchange
// separately, for the agent side: it must learn the controller's port,
// then dial out and discover the OS-assigned source port of that dial
// before it can report its own "UDP send port" back (§6).
func WritePort(w io.Writer, port uint16) error { return writePort(w, port) }

func ReadPort(r io.Reader) (uint16, error) { return readPort(r) }

func writePort(w io.Writer, port uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], port)
	_, err := w.Write(buf[:])
	return err
}

func readPort(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// WriteMouseEvent frames a mouse event as tag(1) | length(2 LE) | payload
// and writes it to the handshake stream.
func WriteMouseEvent(w io.Writer, ev protocol.MouseEvent) error {
	return writeFrame(w, TagMouse, ev.Marshal())
}

// WriteKeyEvent frames a keyboard event the same way.
func WriteKeyEvent(w io.Writer, ev protocol.KeyEvent) error {
	return writeFrame(w, TagKey, ev.Marshal())
}

func writeFrame(w io.Writer, tag InputTag, payload []byte) error {
	header := make([]byte, 3)
	header[0] = byte(tag)
	binary.LittleEndian.PutUint16(header[1:], uint16(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// InputEvent is the decoded result of ReadInputEvent: exactly one of Mouse
// or Key is set, discriminated by Tag.
type InputEvent struct {
	Tag   InputTag
	Mouse protocol.MouseEvent
	Key   protocol.KeyEvent
}

// ReadInputEvent reads one tag|length|payload frame and decodes it into
// the matching event type.
func ReadInputEvent(r io.Reader) (InputEvent, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return InputEvent{}, err
	}
	tag := InputTag(header[0])
	length := binary.LittleEndian.Uint16(header[1:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return InputEvent{}, fmt.Errorf("reading input event payload: %w", err)
	}

	switch tag {
	case TagMouse:
		ev, err := protocol.UnmarshalMouseEvent(payload)
		if err != nil {
			return InputEvent{}, fmt.Errorf("decoding mouse event: %w", err)
		}
		return InputEvent{Tag: tag, Mouse: ev}, nil
	case TagKey:
		ev, err := protocol.UnmarshalKeyEvent(payload)
		if err != nil {
			return InputEvent{}, fmt.Errorf("decoding key event: %w", err)
		}
		return InputEvent{Tag: tag, Key: ev}, nil
	default:
		return InputEvent{}, fmt.Errorf("unknown input event tag %d", tag)
	}
}
