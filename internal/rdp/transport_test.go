// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rdp

import (
	"net"
	"testing"
	"time"
)

func loopbackPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve addr: %v", err)
	}
	serverConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}

	serverPeered, err := net.DialUDP("udp", nil, clientConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial back: %v", err)
	}
	serverConn.Close()

	return clientConn, serverPeered
}

func TestSenderReceiverRoundtrip(t *testing.T) {
	senderConn, receiverConn := loopbackPair(t)
	defer senderConn.Close()
	defer receiverConn.Close()

	sender, err := NewSender(senderConn, DefaultMTU)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	receiver := NewReceiver(receiverConn, DefaultMTU)

	data := make([]byte, 5000)
	for i := range data {
		data[i] = 0xAB
	}
	frame := EncodedFrame{FrameNumber: 99, Width: 320, Height: 240, Data: data, IsFullFrame: true}

	done := make(chan struct{})
	var got EncodedFrame
	var recvErr error
	go func() {
		got, recvErr = receiver.Receive()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := sender.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receive")
	}
	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}

	if got.FrameNumber != frame.FrameNumber || got.Width != frame.Width || got.Height != frame.Height || got.IsFullFrame != frame.IsFullFrame {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if len(got.Data) != len(frame.Data) {
		t.Fatalf("expected %d data bytes, got %d", len(frame.Data), len(got.Data))
	}
	for i := range got.Data {
		if got.Data[i] != frame.Data[i] {
			t.Fatalf("byte %d mismatch: expected 0x%02X got 0x%02X", i, frame.Data[i], got.Data[i])
		}
	}
}

func TestNewSenderRejectsMTUBelowChunkHeader(t *testing.T) {
	senderConn, receiverConn := loopbackPair(t)
	defer senderConn.Close()
	defer receiverConn.Close()

	if _, err := NewSender(senderConn, ChunkHeaderSize); err == nil {
		t.Fatal("expected error for MTU not exceeding chunk header size")
	}
}

func TestReceiverIgnoresMalformedHeaderThenAcceptsValidFrame(t *testing.T) {
	senderConn, receiverConn := loopbackPair(t)
	defer senderConn.Close()
	defer receiverConn.Close()

	sender, err := NewSender(senderConn, DefaultMTU)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	receiver := NewReceiver(receiverConn, DefaultMTU)

	// A stray short datagram that isn't a valid frame header.
	if _, err := senderConn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	frame := EncodedFrame{FrameNumber: 1, Width: 10, Height: 10, Data: []byte{1, 2, 3, 4}, IsFullFrame: true}

	done := make(chan struct{})
	var got EncodedFrame
	var recvErr error
	go func() {
		got, recvErr = receiver.Receive()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := sender.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receive")
	}
	if recvErr != nil {
		t.Fatalf("receive: %v", recvErr)
	}
	if got.FrameNumber != 1 {
		t.Fatalf("expected frame 1, got %d", got.FrameNumber)
	}
}
