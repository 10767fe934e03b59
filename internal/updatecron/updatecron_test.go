// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package updatecron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckNowReportsUpdateAvailable(t *testing.T) {
	s, err := NewScheduler(DefaultSchedule, "1.0.0", func(ctx context.Context) (string, error) {
		return "1.1.0", nil
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.CheckNow()

	result := s.LastResult()
	if result == nil {
		t.Fatal("expected a result after CheckNow")
	}
	if !result.UpdateAvailable {
		t.Error("expected update to be reported available")
	}
	if result.LatestVersion != "1.1.0" {
		t.Errorf("expected latest version 1.1.0, got %q", result.LatestVersion)
	}
}

func TestCheckNowNoUpdateWhenVersionsMatch(t *testing.T) {
	s, err := NewScheduler(DefaultSchedule, "1.0.0", func(ctx context.Context) (string, error) {
		return "1.0.0", nil
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.CheckNow()
	if s.LastResult().UpdateAvailable {
		t.Error("expected no update when versions match")
	}
}

func TestCheckNowRecordsError(t *testing.T) {
	wantErr := errors.New("network unreachable")
	s, err := NewScheduler(DefaultSchedule, "1.0.0", func(ctx context.Context) (string, error) {
		return "", wantErr
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.CheckNow()
	if !errors.Is(s.LastResult().Err, wantErr) {
		t.Errorf("expected error %v, got %v", wantErr, s.LastResult().Err)
	}
}

func TestOverlappingChecksAreSkipped(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	s, err := NewScheduler(DefaultSchedule, "1.0.0", func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "1.0.0", nil
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	go s.CheckNow()
	time.Sleep(20 * time.Millisecond)
	s.CheckNow() // should be skipped since the first is still in flight
	close(release)
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 call to check func, got %d", calls.Load())
	}
}

func TestInvalidScheduleExpressionFails(t *testing.T) {
	_, err := NewScheduler("not a cron expression", "1.0.0", func(ctx context.Context) (string, error) {
		return "", nil
	}, nil)
	if err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}
