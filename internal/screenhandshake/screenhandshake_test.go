// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screenhandshake

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/elcapor/tix/internal/protocol"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestNegotiateExchangesPorts(t *testing.T) {
	master, agent := pipe(t)

	done := make(chan struct{})
	var masterPort uint16
	var masterErr error
	go func() {
		masterPort, masterErr = Negotiate(master, 5555)
		close(done)
	}()

	agentPort, err := Accept(agent, 6666)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	<-done

	if masterErr != nil {
		t.Fatalf("Negotiate: %v", masterErr)
	}
	if agentPort != 5555 {
		t.Errorf("agent saw controller port %d, want 5555", agentPort)
	}
	if masterPort != 6666 {
		t.Errorf("controller saw agent port %d, want 6666", masterPort)
	}
}

func TestWriteReadMouseEvent(t *testing.T) {
	var buf bytes.Buffer
	ev := protocol.MouseEvent{X: 10, Y: 20, Button: 1, Down: true}
	if err := WriteMouseEvent(&buf, ev); err != nil {
		t.Fatalf("WriteMouseEvent: %v", err)
	}

	got, err := ReadInputEvent(&buf)
	if err != nil {
		t.Fatalf("ReadInputEvent: %v", err)
	}
	if got.Tag != TagMouse {
		t.Fatalf("expected TagMouse, got %d", got.Tag)
	}
	if got.Mouse.X != 10 || got.Mouse.Y != 20 || !got.Mouse.Down {
		t.Errorf("roundtrip mismatch: %+v", got.Mouse)
	}
}

func TestWriteReadKeyEvent(t *testing.T) {
	var buf bytes.Buffer
	ev := protocol.KeyEvent{KeyCode: 65, Down: true, Shift: true}
	if err := WriteKeyEvent(&buf, ev); err != nil {
		t.Fatalf("WriteKeyEvent: %v", err)
	}

	got, err := ReadInputEvent(&buf)
	if err != nil {
		t.Fatalf("ReadInputEvent: %v", err)
	}
	if got.Tag != TagKey {
		t.Fatalf("expected TagKey, got %d", got.Tag)
	}
	if got.Key.KeyCode != 65 || !got.Key.Shift {
		t.Errorf("roundtrip mismatch: %+v", got.Key)
	}
}

func TestReadInputEventUnknownTagIsError(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x7F)
	buf.WriteByte(0)
	buf.WriteByte(0)
	if _, err := ReadInputEvent(&buf); err == nil {
		t.Fatal("expected an error for an unknown input event tag")
	}
}

func TestAcceptTimesOutWithoutMaster(t *testing.T) {
	_, agent := pipe(t)
	agent.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	if _, err := Accept(agent, 1234); err == nil {
		t.Fatal("expected a read-deadline error when no master writes")
	}
}
