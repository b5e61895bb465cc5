// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/sensorbridge/internal/telemetry"
)

// ErrAllStrategiesFailed indicates every fetch strategy in the cascade
// was tried and none produced a valid record.
var ErrAllStrategiesFailed = errors.New("all strategies exhausted")

// Strategy names, reported as provenance in FetchResult.StrategyUsed.
const (
	StrategyPrimaryFiltered   = "primary_filtered"
	StrategyPrimaryUnfiltered = "primary_unfiltered"
	StrategyPerDevice         = "per_device"
)

// maxQueryDays caps the server-side day filter so an extravagant time
// scope cannot ask the embedded gateway for its entire history.
const maxQueryDays = 30

// maxRecords bounds how many records a bulk fetch may return.
const maxRecords = 1000

// apiClient is the slice of the transport client the connector needs.
type apiClient interface {
	Get(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
}

// strategy is one entry in the declarative fetch cascade.
type strategy struct {
	name  string
	fetch func(ctx context.Context, hours float64) ([]telemetry.SensorRecord, error)
}

// Connector fetches sensor data with cascading fallback strategies.
// It is safe for concurrent use.
type Connector struct {
	client     apiClient
	strategies []strategy

	// now is replaceable for tests that exercise time-window filtering.
	now func() time.Time
}

// New creates a Connector over the given device API client. The
// cascade order is fixed: server-side filtered fetch, unfiltered fetch
// with client-side filtering, then per-device collection.
func New(client apiClient) *Connector {
	c := &Connector{
		client: client,
		now:    time.Now,
	}
	c.strategies = []strategy{
		{name: StrategyPrimaryFiltered, fetch: c.fetchFiltered},
		{name: StrategyPrimaryUnfiltered, fetch: c.fetchUnfiltered},
		{name: StrategyPerDevice, fetch: c.fetchPerDevice},
	}
	return c
}

// FetchSensorData retrieves sensor records covering the last `hours`
// hours. Strategies run strictly in order and the first success
// short-circuits the rest; later strategies are never contacted once
// one has produced valid records. The returned FetchResult always has
// Status set; a failure result enumerates what each strategy reported.
func (c *Connector) FetchSensorData(ctx context.Context, hours float64) telemetry.FetchResult {
	if hours <= 0 {
		hours = 24
	}

	var failures []string
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", s.name, err))
			break
		}

		records, err := s.fetch(ctx, hours)
		if err != nil {
			log.Printf("[connector] Strategy %s failed: %v", s.name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", s.name, err))
			continue
		}

		valid, dropped := telemetry.FilterValid(records)
		if dropped > 0 {
			log.Printf("[connector] Strategy %s: dropped %d invalid records", s.name, dropped)
		}
		if len(valid) == 0 {
			failures = append(failures, fmt.Sprintf("%s: no valid records", s.name))
			continue
		}

		log.Printf("[connector] Strategy %s succeeded: %d records from %d devices",
			s.name, len(valid), len(telemetry.CountByDevice(valid)))
		return telemetry.FetchResult{
			Status:       telemetry.FetchSuccess,
			Records:      valid,
			StrategyUsed: s.name,
			DeviceStats:  telemetry.CountByDevice(valid),
			FetchedAt:    c.now().UTC(),
		}
	}

	return telemetry.FetchResult{
		Status:    telemetry.FetchFailure,
		Error:     fmt.Sprintf("%v: %s", ErrAllStrategiesFailed, strings.Join(failures, "; ")),
		FetchedAt: c.now().UTC(),
	}
}

// =============================================================================
// STRATEGIES
// =============================================================================

// fetchFiltered asks the API to filter server-side. Windows of a day
// or less use the hours parameter; longer windows fall back to whole
// days, capped at maxQueryDays.
func (c *Connector) fetchFiltered(ctx context.Context, hours float64) ([]telemetry.SensorRecord, error) {
	params := map[string]string{"limit": strconv.Itoa(maxRecords)}
	if hours <= 24 {
		params["hours"] = strconv.FormatFloat(hours, 'f', -1, 64)
	} else {
		days := int((hours + 23) / 24)
		if days > maxQueryDays {
			days = maxQueryDays
		}
		params["days"] = strconv.Itoa(days)
	}

	body, err := c.client.Get(ctx, "/data", params)
	if err != nil {
		return nil, err
	}
	return decodeRecords(body)
}

// fetchUnfiltered pulls everything and filters client-side. Records
// whose timestamps are missing or unparsable are retained: a reading
// with a mangled clock is still better than no reading at all.
func (c *Connector) fetchUnfiltered(ctx context.Context, hours float64) ([]telemetry.SensorRecord, error) {
	body, err := c.client.Get(ctx, "/data", map[string]string{"limit": strconv.Itoa(maxRecords)})
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, err
	}

	cutoff := c.now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	filtered := make([]telemetry.SensorRecord, 0, len(records))
	for _, r := range records {
		ts, ok := r.Time()
		if !ok || !ts.Before(cutoff) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// perDeviceLimit bounds how many records are requested per device in
// the last-resort strategy.
const perDeviceLimit = 100

// fetchPerDevice enumerates devices and collects records one device at
// a time, trying alternative endpoints when the primary per-device
// endpoint is absent. Individual device failures are tolerated; the
// strategy fails only if every device yields nothing.
func (c *Connector) fetchPerDevice(ctx context.Context, hours float64) ([]telemetry.SensorRecord, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("device discovery failed: %w", err)
	}

	endpoints := []string{"/data/%s", "/bulk_data/%s", "/latest_data/%s"}
	var all []telemetry.SensorRecord
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		records, err := c.fetchDevice(ctx, dev.DeviceID, endpoints)
		if err != nil {
			log.Printf("[connector] Device %s fetch failed: %v", dev.DeviceID, err)
			continue
		}
		all = append(all, records...)
	}

	if len(all) == 0 {
		return nil, errors.New("no device yielded records")
	}
	return all, nil
}

func (c *Connector) fetchDevice(ctx context.Context, deviceID string, endpoints []string) ([]telemetry.SensorRecord, error) {
	params := map[string]string{"limit": strconv.Itoa(perDeviceLimit)}
	var lastErr error
	for _, pattern := range endpoints {
		body, err := c.client.Get(ctx, fmt.Sprintf(pattern, deviceID), params)
		if err != nil {
			lastErr = err
			continue
		}
		return decodeRecords(body)
	}
	return nil, lastErr
}

// =============================================================================
// WIRE DECODING
// =============================================================================

// apiEnvelope is the response shape the device API emits. Older
// firmware sets status, newer firmware sets success; either counts.
type apiEnvelope struct {
	Success bool                     `json:"success"`
	Status  string                   `json:"status"`
	Data    []telemetry.SensorRecord `json:"data"`
	Error   string                   `json:"error"`
}

func (e apiEnvelope) ok() bool {
	return e.Success || e.Status == "success"
}

// decodeRecords parses a device API response body. Both the enveloped
// form {"success":true,"data":[...]} and a bare record array are
// accepted; an error envelope surfaces the API's own message.
func decodeRecords(body []byte) ([]telemetry.SensorRecord, error) {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if !env.ok() && env.Error != "" {
			return nil, fmt.Errorf("device API error: %s", env.Error)
		}
		if env.ok() || env.Data != nil {
			return env.Data, nil
		}
	}

	var records []telemetry.SensorRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("unrecognized response shape: %w", err)
	}
	return records, nil
}
