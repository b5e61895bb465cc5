// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"math"
	"sort"
	"strings"

	"github.com/jeranaias/sensorbridge/internal/telemetry"
)

// SensorStats summarizes one sensor type across all devices.
type SensorStats struct {
	SensorType string  `json:"sensor_type"`
	Count      int     `json:"count"`
	Avg        float64 `json:"avg"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	StdDev     float64 `json:"std_dev"`
	Unit       string  `json:"unit,omitempty"`
}

// DataQuality grades how much signal the batch carries.
type DataQuality string

const (
	QualityGood   DataQuality = "good"   // multiple devices, healthy volume
	QualitySparse DataQuality = "sparse" // usable but thin
	QualityEmpty  DataQuality = "empty"  // nothing to analyze
)

// Summary is the analyzed view of one fetched batch.
type Summary struct {
	RecordCount int            `json:"record_count"`
	DeviceCount int            `json:"device_count"`
	Devices     []string       `json:"devices"`
	Stats       []SensorStats  `json:"stats"`
	ByDevice    map[string]int `json:"by_device"`
	Quality     DataQuality    `json:"quality"`
}

// Summarize computes per-sensor statistics over records, optionally
// restricted to the sensor types and device fragments named in the
// query analysis. If the restriction would leave nothing, it is
// ignored: answering with off-topic data beats answering with none.
func Summarize(records []telemetry.SensorRecord, qa QueryAnalysis) Summary {
	scoped := filterScope(records, qa)
	if len(scoped) == 0 {
		scoped = records
	}

	groups := make(map[string][]telemetry.SensorRecord)
	for _, r := range scoped {
		groups[r.SensorType] = append(groups[r.SensorType], r)
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	s := Summary{
		RecordCount: len(scoped),
		Devices:     telemetry.DeviceIDs(scoped),
		ByDevice:    telemetry.CountByDevice(scoped),
	}
	sort.Strings(s.Devices)
	s.DeviceCount = len(s.Devices)

	for _, t := range types {
		s.Stats = append(s.Stats, computeStats(t, groups[t]))
	}
	s.Quality = grade(s)
	return s
}

func filterScope(records []telemetry.SensorRecord, qa QueryAnalysis) []telemetry.SensorRecord {
	if len(qa.SensorTypes) == 0 && len(qa.DeviceHints) == 0 {
		return records
	}
	wantType := make(map[string]bool, len(qa.SensorTypes))
	for _, t := range qa.SensorTypes {
		wantType[t] = true
	}

	var out []telemetry.SensorRecord
	for _, r := range records {
		if len(qa.SensorTypes) > 0 && !wantType[r.SensorType] {
			continue
		}
		if len(qa.DeviceHints) > 0 && !matchesDevice(r.DeviceID, qa.DeviceHints) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesDevice(deviceID string, hints []string) bool {
	lower := strings.ToLower(deviceID)
	for _, h := range hints {
		if h != "" && strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func computeStats(sensorType string, records []telemetry.SensorRecord) SensorStats {
	st := SensorStats{
		SensorType: sensorType,
		Count:      len(records),
		Min:        math.Inf(1),
		Max:        math.Inf(-1),
	}

	var sum float64
	for _, r := range records {
		v := r.Val()
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		if st.Unit == "" && r.Unit != "" {
			st.Unit = r.Unit
		}
	}
	st.Avg = sum / float64(len(records))

	var sq float64
	for _, r := range records {
		d := r.Val() - st.Avg
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(records)))
	return st
}

func grade(s Summary) DataQuality {
	switch {
	case s.RecordCount == 0:
		return QualityEmpty
	case s.RecordCount >= 10 && s.DeviceCount >= 2:
		return QualityGood
	default:
		return QualitySparse
	}
}
