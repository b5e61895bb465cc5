// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const testModel = "llama-3.1-8b-instant"

func testLimits() map[string]ModelLimits {
	return map[string]ModelLimits{
		testModel: {RequestsPerDay: 10, TokensPerDay: 1000},
	}
}

func TestTrackRequestThresholds(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)

	// 7/10 requests: ok.
	var q Quota
	for i := 0; i < 7; i++ {
		q = tracker.TrackRequest(testModel, 10)
	}
	if q.Status != StatusOK {
		t.Errorf("At 70%% utilization status = %s, want ok", q.Status)
	}

	// 8/10: warning.
	if q = tracker.TrackRequest(testModel, 10); q.Status != StatusWarning {
		t.Errorf("At 80%% utilization status = %s, want warning", q.Status)
	}

	// 10/10: critical.
	tracker.TrackRequest(testModel, 10)
	if q = tracker.TrackRequest(testModel, 10); q.Status != StatusCritical {
		t.Errorf("At 100%% utilization status = %s, want critical", q.Status)
	}
}

func TestTrackRequestReturnsQuotaSnapshot(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)

	q := tracker.TrackRequest(testModel, 100)
	if q.Model != testModel {
		t.Errorf("Model = %q, want %q", q.Model, testModel)
	}
	if q.Day != tracker.Day() {
		t.Errorf("Day = %q, want %q", q.Day, tracker.Day())
	}
	if q.Used.Requests != 1 || q.Used.Tokens != 100 {
		t.Errorf("Used = %+v, want 1 request / 100 tokens", q.Used)
	}
	if q.Limits.RequestsPerDay != 10 || q.Limits.TokensPerDay != 1000 {
		t.Errorf("Limits = %+v, want the configured limits", q.Limits)
	}

	q = tracker.TrackRequest(testModel, 50)
	if q.Used.Requests != 2 || q.Used.Tokens != 150 {
		t.Errorf("Snapshot must accumulate: %+v", q.Used)
	}
}

func TestTokenQuotaDrivesStatus(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)

	// One request but 950 of 1000 tokens: token axis dominates.
	if q := tracker.TrackRequest(testModel, 950); q.Status != StatusCritical {
		t.Errorf("status = %s, want critical from token utilization", q.Status)
	}
}

func TestCheckCanMakeRequestDenial(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)
	for i := 0; i < 10; i++ {
		tracker.TrackRequest(testModel, 1)
	}

	allowed, reason := tracker.CheckCanMakeRequest(testModel, 1)
	if allowed {
		t.Fatal("Request should be denied at the request quota")
	}
	if !strings.Contains(reason, "daily limit reached") {
		t.Errorf("Denial reason missing phrase: %q", reason)
	}
	if !strings.Contains(reason, "10/10") {
		t.Errorf("Denial reason missing used/limit detail: %q", reason)
	}
}

func TestCheckCanMakeRequestTokenDenial(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)
	tracker.TrackRequest(testModel, 990)

	if allowed, _ := tracker.CheckCanMakeRequest(testModel, 5); !allowed {
		t.Error("5 more tokens should still fit under 1000")
	}
	if allowed, reason := tracker.CheckCanMakeRequest(testModel, 50); allowed {
		t.Error("50 more tokens should be denied")
	} else if !strings.Contains(reason, "tokens") {
		t.Errorf("Denial should name the token dimension: %q", reason)
	}
}

func TestUnknownModelUnlimited(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)
	if allowed, _ := tracker.CheckCanMakeRequest("some-other-model", 1<<20); !allowed {
		t.Error("Models without configured limits must not be blocked")
	}
	if q := tracker.TrackRequest("some-other-model", 1<<20); q.Status != StatusOK {
		t.Errorf("Unlimited model status = %s, want ok", q.Status)
	}
}

func TestLazyUTCRollover(t *testing.T) {
	tracker := NewTracker(testLimits(), "", nil)
	now := time.Date(2025, 10, 21, 23, 59, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	tracker.day = "2025-10-21"

	for i := 0; i < 10; i++ {
		tracker.TrackRequest(testModel, 1)
	}
	if allowed, _ := tracker.CheckCanMakeRequest(testModel, 1); allowed {
		t.Fatal("Quota should be exhausted before midnight")
	}

	// Cross UTC midnight: the next check triggers the reset.
	now = time.Date(2025, 10, 22, 0, 1, 0, 0, time.UTC)
	if allowed, reason := tracker.CheckCanMakeRequest(testModel, 1); !allowed {
		t.Fatalf("Quota should reset after UTC midnight: %s", reason)
	}
	if got := tracker.Usage(testModel); got.Requests != 0 {
		t.Errorf("Counters not reset: %+v", got)
	}
	if tracker.Day() != "2025-10-22" {
		t.Errorf("Day = %s, want 2025-10-22", tracker.Day())
	}
}

func TestCountersMonotonicWithinDay(t *testing.T) {
	tracker := NewTracker(nil, "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.TrackRequest(testModel, 5)
		}()
	}
	wg.Wait()

	got := tracker.Usage(testModel)
	if got.Requests != 20 || got.Tokens != 100 {
		t.Errorf("Counts = %+v, want 20 requests / 100 tokens", got)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "usage.json")

	first := NewTracker(testLimits(), statePath, nil)
	first.TrackRequest(testModel, 100)
	first.TrackRequest(testModel, 100)

	second := NewTracker(testLimits(), statePath, nil)
	got := second.Usage(testModel)
	if got.Requests != 2 || got.Tokens != 200 {
		t.Errorf("Restarted tracker counts = %+v, want 2 requests / 200 tokens", got)
	}
}

func TestLedgerArchivesOnRollover(t *testing.T) {
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	defer ledger.Close()

	tracker := NewTracker(testLimits(), "", ledger)
	now := time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	tracker.day = "2025-10-21"

	tracker.TrackRequest(testModel, 300)
	tracker.TrackRequest(testModel, 200)

	now = now.Add(24 * time.Hour)
	tracker.TrackRequest(testModel, 50) // triggers rollover first

	rows, err := ledger.Summary(context.Background(), 10)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 archived row, got %d", len(rows))
	}
	if rows[0].Day != "2025-10-21" || rows[0].Requests != 2 || rows[0].Tokens != 500 {
		t.Errorf("Archived row = %+v", rows[0])
	}
}
