// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"
)

// =============================================================================
// SENSOR RECORDS
// =============================================================================

// SensorRecord is a single reading reported by a remote device.
//
// Value is a pointer so that a JSON null (or absent field) is
// distinguishable from a literal 0 reading; Valid treats nil as
// missing. Records are immutable once created.
type SensorRecord struct {
	DeviceID   string   `json:"device_id"`
	SensorType string   `json:"sensor_type"`
	Value      *float64 `json:"value"`
	Unit       string   `json:"unit,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// Valid reports whether the record satisfies the minimum structure
// required to enter the pipeline: device_id, sensor_type, and value
// all present and non-null.
func (r SensorRecord) Valid() bool {
	return r.DeviceID != "" && r.SensorType != "" && r.Value != nil
}

// Val returns the reading value, or 0 if the record has none.
// Callers that care about the distinction should check Valid first.
func (r SensorRecord) Val() float64 {
	if r.Value == nil {
		return 0
	}
	return *r.Value
}

// timestampLayouts are the wire formats the device API has been
// observed to emit: RFC 3339 with "Z" or a numeric offset, with or
// without fractional seconds, and occasionally a zoneless local form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Time parses the record's ISO-8601 timestamp. The second return is
// false when the timestamp is absent or unparsable; callers decide
// whether such records are kept (the connector keeps them).
func (r SensorRecord) Time() (time.Time, bool) {
	return ParseTimestamp(r.Timestamp)
}

// ParseTimestamp parses an ISO-8601 timestamp string as produced by
// the telemetry API. Zoneless timestamps are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// DEVICES
// =============================================================================

// DeviceStatus describes how confident we are that a device exists.
type DeviceStatus string

const (
	// DeviceActive means the device was confirmed by the API.
	DeviceActive DeviceStatus = "active"

	// DeviceAssumedActive marks devices produced by the static
	// last-resort list: inferred presence, not confirmed presence.
	DeviceAssumedActive DeviceStatus = "assumed_active"

	// DeviceUnknown is used when the API reported the device but gave
	// no status information.
	DeviceUnknown DeviceStatus = "unknown"
)

// Device describes one remote embedded device.
type Device struct {
	DeviceID string       `json:"device_id"`
	Status   DeviceStatus `json:"status"`
	LastSeen string       `json:"last_seen,omitempty"`

	// Method records which discovery strategy produced this entry.
	Method string `json:"method,omitempty"`
}

// Diagnostics is a point-in-time health report for the acquisition
// layer: whether the device API answers at all, and which devices the
// discovery cascade could still account for.
type Diagnostics struct {
	APIReachable bool      `json:"api_reachable"`
	APIError     string    `json:"api_error,omitempty"`
	Devices      []Device  `json:"devices"`
	CheckedAt    time.Time `json:"checked_at"`
}

// =============================================================================
// FETCH RESULTS
// =============================================================================

// FetchStatus is the outcome of one Strategy Connector invocation.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchFailure FetchStatus = "failure"
)

// FetchResult is produced once per Strategy Connector invocation.
// Ownership passes to the caller; the connector never retains it.
type FetchResult struct {
	Status       FetchStatus    `json:"status"`
	Records      []SensorRecord `json:"records"`
	StrategyUsed string         `json:"strategy_used"`
	DeviceStats  map[string]int `json:"device_stats"`
	Error        string         `json:"error,omitempty"`
	FetchedAt    time.Time      `json:"fetched_at"`
}

// OK reports whether the fetch succeeded.
func (f FetchResult) OK() bool {
	return f.Status == FetchSuccess
}

// =============================================================================
// VALIDATION & DIAGNOSTICS
// =============================================================================

// FilterValid splits records into those satisfying the validity rule
// and the count of dropped ones. len(valid) + dropped == len(records).
func FilterValid(records []SensorRecord) (valid []SensorRecord, dropped int) {
	valid = make([]SensorRecord, 0, len(records))
	for _, r := range records {
		if r.Valid() {
			valid = append(valid, r)
		} else {
			dropped++
		}
	}
	return valid, dropped
}

// CountByDevice computes the per-device record counts used for
// FetchResult.DeviceStats diagnostics.
func CountByDevice(records []SensorRecord) map[string]int {
	stats := make(map[string]int, 4)
	for _, r := range records {
		if r.DeviceID != "" {
			stats[r.DeviceID]++
		}
	}
	return stats
}

// SensorTypes returns the distinct sensor types present in records.
func SensorTypes(records []SensorRecord) []string {
	seen := make(map[string]bool, 8)
	var types []string
	for _, r := range records {
		if r.SensorType != "" && !seen[r.SensorType] {
			seen[r.SensorType] = true
			types = append(types, r.SensorType)
		}
	}
	return types
}

// DeviceIDs returns the distinct device IDs present in records.
func DeviceIDs(records []SensorRecord) []string {
	seen := make(map[string]bool, 4)
	var ids []string
	for _, r := range records {
		if r.DeviceID != "" && !seen[r.DeviceID] {
			seen[r.DeviceID] = true
			ids = append(ids, r.DeviceID)
		}
	}
	return ids
}

// Float is a convenience for building *float64 literals in callers
// and tests.
func Float(v float64) *float64 {
	return &v
}
