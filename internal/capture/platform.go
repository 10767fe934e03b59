// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package capture

import (
	"context"
	"fmt"
	"runtime"

	"github.com/elcapor/tix/internal/rdp"
)

// stubCapturer is the leaf every platform falls back to. The real desktop
// duplication backend (DXGI on Windows) is an out-of-scope collaborator
// per the core's contract; this leaf exists so the core compiles and its
// non-capture tests pass without it.
type stubCapturer struct {
	platform string
}

// NewPlatformCapturer returns the screen capturer for the running OS. No
// platform currently ships a real backend — DXGI desktop duplication and
// its counterparts are out-of-scope native collaborators (§2) — so every
// platform returns a stub that reports ErrUnsupportedPlatform on Capture.
func NewPlatformCapturer() (Capturer, error) {
	return &stubCapturer{platform: runtime.GOOS}, nil
}

func (c *stubCapturer) Capture(ctx context.Context) (rdp.RawFrame, error) {
	return rdp.RawFrame{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, c.platform)
}

func (c *stubCapturer) Close() error { return nil }
