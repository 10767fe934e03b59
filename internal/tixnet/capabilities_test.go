package tixnet

import "testing"

func TestNegotiateIsCommutative(t *testing.T) {
	a := Capabilities{ShellStreaming: true, FileDeltaSync: false, ScreenCapture: true, Compression: true, MaxPayloadSize: 1000}
	b := Capabilities{ShellStreaming: true, FileDeltaSync: true, ScreenCapture: false, Compression: true, MaxPayloadSize: 500}

	ab := Negotiate(a, b)
	ba := Negotiate(b, a)
	if ab != ba {
		t.Errorf("negotiate not commutative: %+v vs %+v", ab, ba)
	}
	if ab.MaxPayloadSize != 500 {
		t.Errorf("expected min(1000,500)=500, got %d", ab.MaxPayloadSize)
	}
	if ab.FileDeltaSync {
		t.Error("expected file delta sync false && true = false")
	}
	if ab.ScreenCapture {
		t.Error("expected screen capture true && false = false")
	}
	if !ab.ShellStreaming {
		t.Error("expected shell streaming true && true = true")
	}
}

func TestNegotiateIsIdempotent(t *testing.T) {
	a := Capabilities{ShellStreaming: true, FileDeltaSync: true, ScreenCapture: true, Compression: true, MaxPayloadSize: 256 * 1024}
	if got := Negotiate(a, a); got != a {
		t.Errorf("negotiate(a,a) != a: got %+v want %+v", got, a)
	}
}
