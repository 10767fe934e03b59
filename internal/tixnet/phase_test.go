package tixnet

import (
	"errors"
	"testing"

	"github.com/elcapor/tix/internal/protocol"
)

func TestPhaseMachineHappyPath(t *testing.T) {
	m := NewPhaseMachine()
	steps := []Phase{PhaseConnecting, PhaseHandshaking, PhaseConnected, PhaseDisconnecting, PhaseDisconnected}
	for _, next := range steps {
		if err := m.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}

func TestPhaseMachineRejectsIllegalEdge(t *testing.T) {
	m := NewPhaseMachine()
	err := m.Transition(PhaseConnected)
	if err == nil {
		t.Fatal("expected illegal transition Disconnected -> Connected to fail")
	}
	var violation *protocol.ProtocolViolationError
	if !errors.As(err, &violation) {
		t.Errorf("expected a *protocol.ProtocolViolationError, got %T", err)
	}
	if m.Current() != PhaseDisconnected {
		t.Errorf("state must remain unchanged after a rejected transition, got %s", m.Current())
	}
}

func TestPhaseMachineConnectedSince(t *testing.T) {
	m := NewPhaseMachine()
	if _, ok := m.ConnectedSince(); ok {
		t.Fatal("expected ConnectedSince to report false before entering Connected")
	}
	_ = m.Transition(PhaseConnecting)
	_ = m.Transition(PhaseHandshaking)
	_ = m.Transition(PhaseConnected)

	since, ok := m.ConnectedSince()
	if !ok {
		t.Fatal("expected ConnectedSince to report true while Connected")
	}
	if since.IsZero() {
		t.Error("expected a non-zero instant")
	}

	m.ForceDisconnect()
	if _, ok := m.ConnectedSince(); ok {
		t.Error("expected ConnectedSince to report false after ForceDisconnect")
	}
}

func TestPhaseMachineForceDisconnectFromConnected(t *testing.T) {
	m := NewPhaseMachine()
	_ = m.Transition(PhaseConnecting)
	_ = m.Transition(PhaseHandshaking)
	_ = m.Transition(PhaseConnected)

	m.ForceDisconnect()
	if m.Current() != PhaseDisconnected {
		t.Errorf("expected Disconnected after ForceDisconnect, got %s", m.Current())
	}
}

func TestPhaseMachineAllEdgesInSpec(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseDisconnected, PhaseConnecting, true},
		{PhaseConnecting, PhaseHandshaking, true},
		{PhaseConnecting, PhaseDisconnected, true},
		{PhaseHandshaking, PhaseConnected, true},
		{PhaseHandshaking, PhaseDisconnecting, true},
		{PhaseHandshaking, PhaseDisconnected, true},
		{PhaseConnected, PhaseDisconnecting, true},
		{PhaseDisconnecting, PhaseDisconnected, true},
		{PhaseConnected, PhaseConnecting, false},
		{PhaseDisconnected, PhaseHandshaking, false},
	}
	for _, tc := range cases {
		m := &PhaseMachine{phase: tc.from}
		err := m.Transition(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: expected success, got %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s: expected failure, got success", tc.from, tc.to)
		}
	}
}
