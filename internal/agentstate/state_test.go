package agentstate

import (
	"testing"

	"github.com/elcapor/tix/internal/tixnet"
)

func TestRegisterTaskDuplicateGuard(t *testing.T) {
	s := New(tixnet.Capabilities{})
	if !s.RegisterTask(1) {
		t.Fatal("expected first registration to succeed")
	}
	if s.RegisterTask(1) {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestCompleteTaskRemovesMembership(t *testing.T) {
	s := New(tixnet.Capabilities{})
	s.RegisterTask(5)
	if !s.HasTask(5) {
		t.Fatal("expected task 5 to be active")
	}
	s.CompleteTask(5)
	if s.HasTask(5) {
		t.Fatal("expected task 5 to be removed")
	}
	if s.RegisterTask(5) != true {
		t.Fatal("expected id 5 to be spawnable again after completion")
	}
}

func TestActiveTasksSnapshot(t *testing.T) {
	s := New(tixnet.Capabilities{})
	s.RegisterTask(1)
	s.RegisterTask(2)
	ids := s.ActiveTasks()
	if len(ids) != 2 {
		t.Fatalf("expected 2 active ids, got %v", ids)
	}
}

func TestNegotiatedCapabilitiesStored(t *testing.T) {
	local := tixnet.Capabilities{ShellStreaming: true, MaxPayloadSize: 1024}
	s := New(local)
	if s.Local() != local {
		t.Errorf("local capabilities mismatch: %+v", s.Local())
	}
	neg := tixnet.Capabilities{ShellStreaming: true, MaxPayloadSize: 512}
	s.SetNegotiated(neg)
	if s.Negotiated() != neg {
		t.Errorf("negotiated capabilities mismatch: %+v", s.Negotiated())
	}
}

func TestPhaseStartsDisconnected(t *testing.T) {
	s := New(tixnet.Capabilities{})
	if s.Phase.Current() != tixnet.PhaseDisconnected {
		t.Errorf("expected initial phase Disconnected, got %s", s.Phase.Current())
	}
}
