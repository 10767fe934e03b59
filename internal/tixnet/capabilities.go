// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tixnet

// Capabilities is the set of optional features exchanged during the Hello
// handshake (§3, §4.4).
type Capabilities struct {
	ShellStreaming  bool
	FileDeltaSync   bool
	ScreenCapture   bool
	Compression     bool
	MaxPayloadSize  uint64
}

// Negotiate computes the pointwise AND of booleans and the min of numeric
// limits between a and b. It is commutative and idempotent: Negotiate(a,b)
// == Negotiate(b,a), and Negotiate(n,n) == n.
func Negotiate(a, b Capabilities) Capabilities {
	return Capabilities{
		ShellStreaming: a.ShellStreaming && b.ShellStreaming,
		FileDeltaSync:  a.FileDeltaSync && b.FileDeltaSync,
		ScreenCapture:  a.ScreenCapture && b.ScreenCapture,
		Compression:    a.Compression && b.Compression,
		MaxPayloadSize: minU64(a.MaxPayloadSize, b.MaxPayloadSize),
	}
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
