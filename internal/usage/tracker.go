// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jeranaias/sensorbridge/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// Status classifies quota utilization after a request is tracked.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"  // >= 80% of any quota
	StatusCritical Status = "critical" // >= 95% of any quota
)

const (
	warningThreshold  = 0.80
	criticalThreshold = 0.95
)

// ModelLimits is a model's daily quota. Zero means unlimited for that
// dimension.
type ModelLimits struct {
	RequestsPerDay int `json:"requests_per_day" toml:"requests_per_day"`
	TokensPerDay   int `json:"tokens_per_day" toml:"tokens_per_day"`
}

// DayCount is the running usage for one model on the current UTC day.
type DayCount struct {
	Requests int `json:"requests"`
	Tokens   int `json:"tokens"`
}

// Quota is the post-track snapshot of one model's daily allowance:
// which UTC day the window covers, what has been consumed, and the
// configured limits it is measured against.
type Quota struct {
	Model  string      `json:"model"`
	Day    string      `json:"day"`
	Used   DayCount    `json:"used"`
	Limits ModelLimits `json:"limits"`
	Status Status      `json:"status"`
}

// trackerState is the JSON shape persisted between runs.
type trackerState struct {
	Day    string               `json:"day"`
	Counts map[string]*DayCount `json:"counts"`
}

// Tracker enforces daily quotas. It is safe for concurrent use; all
// methods take the lock, and the day rollover happens lazily inside
// it, so no background timer is needed.
type Tracker struct {
	mu     sync.RWMutex
	day    string
	counts map[string]*DayCount

	limits    map[string]ModelLimits
	statePath string
	ledger    *Ledger

	// now is replaceable for rollover tests.
	now func() time.Time
}

// NewTracker creates a tracker with the given per-model limits.
// statePath persists the current day's counters ("" disables
// persistence); ledger archives completed days (nil disables).
func NewTracker(limits map[string]ModelLimits, statePath string, ledger *Ledger) *Tracker {
	t := &Tracker{
		day:       "",
		counts:    make(map[string]*DayCount),
		limits:    limits,
		statePath: statePath,
		ledger:    ledger,
		now:       time.Now,
	}
	t.day = t.today()
	t.load()
	return t
}

func (t *Tracker) today() string {
	return t.now().UTC().Format("2006-01-02")
}

// =============================================================================
// QUOTA CHECKS
// =============================================================================

// CheckCanMakeRequest reports whether one more request with the given
// estimated token count fits inside the model's daily quota. When
// denied, the reason names the exhausted dimension with its used and
// limit values.
func (t *Tracker) CheckCanMakeRequest(model string, estimatedTokens int) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	limits, ok := t.limits[model]
	if !ok {
		return true, ""
	}
	count := t.countLocked(model)

	if limits.RequestsPerDay > 0 && count.Requests+1 > limits.RequestsPerDay {
		return false, fmt.Sprintf("daily limit reached for %s: %d/%d requests",
			model, count.Requests, limits.RequestsPerDay)
	}
	if limits.TokensPerDay > 0 && count.Tokens+estimatedTokens > limits.TokensPerDay {
		return false, fmt.Sprintf("daily limit reached for %s: %d/%d tokens",
			model, count.Tokens, limits.TokensPerDay)
	}
	return true, ""
}

// TrackRequest records a completed request and returns the resulting
// quota snapshot, so callers see the remaining headroom without a
// second lookup. Counters only ever grow within a day.
func (t *Tracker) TrackRequest(model string, tokens int) Quota {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	count := t.countLocked(model)
	count.Requests++
	count.Tokens += tokens

	t.saveLocked()

	status := t.statusLocked(model, count)
	if status != StatusOK {
		log.Printf("[usage] Model %s at %s: %d requests, %d tokens today",
			model, status, count.Requests, count.Tokens)
	}
	return Quota{
		Model:  model,
		Day:    t.day,
		Used:   *count,
		Limits: t.limits[model],
		Status: status,
	}
}

// Usage returns a snapshot of the current day's count for model.
func (t *Tracker) Usage(model string) DayCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return *t.countLocked(model)
}

// Day returns the UTC day the counters currently cover.
func (t *Tracker) Day() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.day
}

func (t *Tracker) statusLocked(model string, count *DayCount) Status {
	limits, ok := t.limits[model]
	if !ok {
		return StatusOK
	}
	var used float64
	if limits.RequestsPerDay > 0 {
		used = max(used, float64(count.Requests)/float64(limits.RequestsPerDay))
	}
	if limits.TokensPerDay > 0 {
		used = max(used, float64(count.Tokens)/float64(limits.TokensPerDay))
	}
	switch {
	case used >= criticalThreshold:
		return StatusCritical
	case used >= warningThreshold:
		return StatusWarning
	default:
		return StatusOK
	}
}

func (t *Tracker) countLocked(model string) *DayCount {
	c, ok := t.counts[model]
	if !ok {
		c = &DayCount{}
		t.counts[model] = c
	}
	return c
}

// =============================================================================
// ROLLOVER & PERSISTENCE
// =============================================================================

// rolloverLocked archives and resets the counters when the UTC day has
// changed since the last operation. Caller holds t.mu.
func (t *Tracker) rolloverLocked() {
	today := t.today()
	if today == t.day {
		return
	}

	if t.ledger != nil {
		for model, count := range t.counts {
			if err := t.ledger.Record(t.day, model, count.Requests, count.Tokens); err != nil {
				log.Printf("[usage] Failed to archive %s for %s: %v", t.day, model, err)
			}
		}
	}

	log.Printf("[usage] Rolling over counters from %s to %s", t.day, today)
	t.day = today
	t.counts = make(map[string]*DayCount)
	t.saveLocked()
}

func (t *Tracker) load() {
	if t.statePath == "" {
		return
	}
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return // first run
	}
	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("[usage] Ignoring corrupt state file %s: %v", t.statePath, err)
		return
	}
	// Stale state from a previous day is discarded, not carried over.
	if state.Day == t.day && state.Counts != nil {
		t.counts = state.Counts
	}
}

func (t *Tracker) saveLocked() {
	if t.statePath == "" {
		return
	}
	state := trackerState{Day: t.day, Counts: t.counts}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Printf("[usage] Failed to marshal state: %v", err)
		return
	}
	if err := util.AtomicWriteFile(t.statePath, data, 0644); err != nil {
		log.Printf("[usage] Failed to save state: %v", err)
	}
}
