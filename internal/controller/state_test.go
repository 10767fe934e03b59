package controller

import (
	"testing"
	"time"

	"github.com/elcapor/tix/internal/protocol"
)

func TestTrackAndResolve(t *testing.T) {
	s := New(nil)
	p, _ := protocol.NewRequest(protocol.CmdPing, 1, 0, nil)
	s.Track(1, p, nil)

	if !s.IsPending(1) {
		t.Fatal("expected request 1 to be pending")
	}
	if s.PendingCount() != 1 {
		t.Fatalf("expected pending count 1, got %d", s.PendingCount())
	}

	got, ok := s.Resolve(1)
	if !ok {
		t.Fatal("expected resolve to find request 1")
	}
	if got.Packet.Header.RequestID != 1 {
		t.Errorf("unexpected resolved packet: %+v", got)
	}
	if s.IsPending(1) {
		t.Error("expected request 1 to no longer be pending after resolve")
	}
}

func TestResolveUnknownID(t *testing.T) {
	s := New(nil)
	if _, ok := s.Resolve(42); ok {
		t.Fatal("expected resolve of unknown id to fail")
	}
}

func TestDefaultDeadlineAppliedWhenUnspecified(t *testing.T) {
	d := 10 * time.Millisecond
	s := New(&d)
	p, _ := protocol.NewRequest(protocol.CmdPing, 1, 0, nil)
	s.Track(1, p, nil)

	time.Sleep(20 * time.Millisecond)
	expired := s.CheckTimeouts()
	if len(expired) != 1 || expired[0] != 1 {
		t.Errorf("expected request 1 to be expired, got %v", expired)
	}
}

func TestUnsetDeadlineNeverExpires(t *testing.T) {
	s := New(nil)
	p, _ := protocol.NewRequest(protocol.CmdPing, 1, 0, nil)
	s.Track(1, p, nil)

	time.Sleep(5 * time.Millisecond)
	if expired := s.CheckTimeouts(); len(expired) != 0 {
		t.Errorf("expected no expiry without a deadline, got %v", expired)
	}
}

func TestExpiryIsNotAutomatic(t *testing.T) {
	d := time.Millisecond
	s := New(&d)
	p, _ := protocol.NewRequest(protocol.CmdPing, 1, 0, nil)
	s.Track(1, p, nil)
	time.Sleep(5 * time.Millisecond)

	if !s.IsPending(1) {
		t.Fatal("expiry must not remove the request until a scan drains it")
	}
}

func TestDrainExpiredRemovesOnlyExpired(t *testing.T) {
	short := time.Millisecond
	s := New(nil)
	p, _ := protocol.NewRequest(protocol.CmdPing, 1, 0, nil)
	s.Track(1, p, &short)
	p2, _ := protocol.NewRequest(protocol.CmdPing, 2, 0, nil)
	s.Track(2, p2, nil)

	time.Sleep(10 * time.Millisecond)
	drained := s.DrainExpired()
	if len(drained) != 1 || drained[0].ID != 1 {
		t.Fatalf("expected only request 1 drained, got %+v", drained)
	}
	if !s.IsPending(2) {
		t.Error("request 2 without a deadline must remain pending")
	}
	if s.IsPending(1) {
		t.Error("request 1 should have been removed by DrainExpired")
	}
}
