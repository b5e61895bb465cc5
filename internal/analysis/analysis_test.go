// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"math"
	"strings"
	"testing"

	"github.com/jeranaias/sensorbridge/internal/telemetry"
)

func TestAnalyzeQuery(t *testing.T) {
	testCases := []struct {
		name        string
		query       string
		wantTypes   []string
		wantWindow  float64
		wantDevices []string
	}{
		{
			name:       "temperature default window",
			query:      "What is the average temperature?",
			wantTypes:  []string{"temperature"},
			wantWindow: 24,
		},
		{
			name:       "explicit hours",
			query:      "Show humidity for the last 6 hours",
			wantTypes:  []string{"humidity"},
			wantWindow: 6,
		},
		{
			name:       "explicit days",
			query:      "pressure trend over the past 3 days",
			wantTypes:  []string{"pressure"},
			wantWindow: 72,
		},
		{
			name:       "single hour",
			query:      "any light changes in the last hour?",
			wantTypes:  []string{"light"},
			wantWindow: 1,
		},
		{
			name:       "yesterday",
			query:      "was it hot yesterday?",
			wantTypes:  []string{"temperature"},
			wantWindow: 48,
		},
		{
			name:        "device hint",
			query:       "what does the esp32 report?",
			wantWindow:  24,
			wantDevices: []string{"esp32"},
		},
		{
			name:       "no hints",
			query:      "how are things looking?",
			wantWindow: 24,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qa := AnalyzeQuery(tc.query)
			if qa.WindowHours != tc.wantWindow {
				t.Errorf("WindowHours = %v, want %v", qa.WindowHours, tc.wantWindow)
			}
			if strings.Join(qa.SensorTypes, ",") != strings.Join(tc.wantTypes, ",") {
				t.Errorf("SensorTypes = %v, want %v", qa.SensorTypes, tc.wantTypes)
			}
			if strings.Join(qa.DeviceHints, ",") != strings.Join(tc.wantDevices, ",") {
				t.Errorf("DeviceHints = %v, want %v", qa.DeviceHints, tc.wantDevices)
			}
		})
	}
}

func sampleRecords() []telemetry.SensorRecord {
	return []telemetry.SensorRecord{
		{DeviceID: "esp32_wifi_001", SensorType: "temperature", Value: telemetry.Float(20), Unit: "C"},
		{DeviceID: "esp32_wifi_001", SensorType: "temperature", Value: telemetry.Float(24), Unit: "C"},
		{DeviceID: "arduino_eth_001", SensorType: "temperature", Value: telemetry.Float(22), Unit: "C"},
		{DeviceID: "arduino_eth_001", SensorType: "humidity", Value: telemetry.Float(55), Unit: "%"},
	}
}

func TestSummarizeStats(t *testing.T) {
	s := Summarize(sampleRecords(), QueryAnalysis{})

	if s.RecordCount != 4 || s.DeviceCount != 2 {
		t.Fatalf("Summary counts = %d records / %d devices", s.RecordCount, s.DeviceCount)
	}
	if len(s.Stats) != 2 {
		t.Fatalf("Expected stats for 2 sensor types, got %d", len(s.Stats))
	}

	// Sorted order: humidity first, temperature second.
	temp := s.Stats[1]
	if temp.SensorType != "temperature" {
		t.Fatalf("Expected temperature stats second, got %s", temp.SensorType)
	}
	if temp.Count != 3 || temp.Avg != 22 || temp.Min != 20 || temp.Max != 24 {
		t.Errorf("Temperature stats = %+v", temp)
	}
	wantStd := math.Sqrt(8.0 / 3.0)
	if math.Abs(temp.StdDev-wantStd) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", temp.StdDev, wantStd)
	}
}

func TestSummarizeScopesToQuery(t *testing.T) {
	qa := AnalyzeQuery("what is the humidity?")
	s := Summarize(sampleRecords(), qa)

	if len(s.Stats) != 1 || s.Stats[0].SensorType != "humidity" {
		t.Fatalf("Expected humidity-only stats, got %+v", s.Stats)
	}
	if s.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", s.RecordCount)
	}
}

func TestSummarizeIgnoresEmptyScope(t *testing.T) {
	// Question names a sensor type no device reports; the scope must
	// be dropped rather than producing an empty summary.
	qa := QueryAnalysis{SensorTypes: []string{"light"}}
	s := Summarize(sampleRecords(), qa)
	if s.RecordCount != 4 {
		t.Errorf("Empty scope should fall back to all records, got %d", s.RecordCount)
	}
}

func TestSummarizeQuality(t *testing.T) {
	if q := Summarize(nil, QueryAnalysis{}).Quality; q != QualityEmpty {
		t.Errorf("Empty batch quality = %s", q)
	}
	if q := Summarize(sampleRecords(), QueryAnalysis{}).Quality; q != QualitySparse {
		t.Errorf("4-record batch quality = %s, want sparse", q)
	}

	var many []telemetry.SensorRecord
	for i := 0; i < 6; i++ {
		many = append(many, sampleRecords()...)
	}
	if q := Summarize(many, QueryAnalysis{}).Quality; q != QualityGood {
		t.Errorf("24-record 2-device batch quality = %s, want good", q)
	}
}

func TestBuildPromptIncludesStats(t *testing.T) {
	s := Summarize(sampleRecords(), QueryAnalysis{})
	prompt := BuildPrompt("What is the average temperature?", s)

	for _, want := range []string{"What is the average temperature?", "temperature", "avg 22.00", "esp32_wifi_001"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestFallbackResponses(t *testing.T) {
	s := Summarize(sampleRecords(), QueryAnalysis{})
	text := FallbackResponse("temperature?", s)
	if !strings.Contains(text, "average 22.00 C") {
		t.Errorf("Fallback missing stats: %s", text)
	}
	if text == "" {
		t.Fatal("Fallback must never be empty")
	}

	empty := FallbackResponse("temperature?", Summary{})
	if !strings.Contains(empty, "No sensor data") {
		t.Errorf("Empty fallback should route to NoDataResponse: %s", empty)
	}
}

func TestCollectionFailedResponse(t *testing.T) {
	detail := "all strategies exhausted: primary_filtered: request failed: connection refused"

	generic := CollectionFailedResponse(detail, nil)
	for _, want := range []string{"every retrieval strategy was exhausted", "primary_filtered", "collector"} {
		if !strings.Contains(generic, want) {
			t.Errorf("Generic diagnostic missing %q:\n%s", want, generic)
		}
	}
	if generic == NoDataResponse("temperature?") {
		t.Error("Collection failure must not reuse the empty-data answer")
	}

	offline := CollectionFailedResponse(detail, &telemetry.Diagnostics{
		APIReachable: false,
		APIError:     "health check failed",
	})
	if !strings.Contains(offline, "not responding") || !strings.Contains(offline, "health check failed") {
		t.Errorf("Offline diagnostic should point at the collector host:\n%s", offline)
	}

	online := CollectionFailedResponse(detail, &telemetry.Diagnostics{
		APIReachable: true,
		Devices:      []telemetry.Device{{DeviceID: "esp32_wifi_001", Status: telemetry.DeviceAssumedActive}},
	})
	if !strings.Contains(online, "reachable") || !strings.Contains(online, "esp32_wifi_001") {
		t.Errorf("Online diagnostic should point at the devices:\n%s", online)
	}
}

func TestQuotaExceededResponse(t *testing.T) {
	s := Summarize(sampleRecords(), QueryAnalysis{})
	text := QuotaExceededResponse("daily limit reached for llama-3.1-8b-instant: 100/100 requests", "temperature?", s)

	for _, want := range []string{"daily usage limit", "100/100 requests", "average 22.00 C"} {
		if !strings.Contains(text, want) {
			t.Errorf("Quota response missing %q:\n%s", want, text)
		}
	}
}
