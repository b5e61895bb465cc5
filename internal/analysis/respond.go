// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"fmt"
	"strings"

	"github.com/jeranaias/sensorbridge/internal/telemetry"
)

// SystemPrompt frames the LLM's role for answer generation.
const SystemPrompt = `You are an assistant that answers questions about readings ` +
	`from a small fleet of embedded sensor devices. Answer concisely using only ` +
	`the statistics provided. If the data cannot answer the question, say so.`

// BuildPrompt renders the user question together with the computed
// statistics into the user message sent to the LLM.
func BuildPrompt(query string, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	fmt.Fprintf(&b, "Sensor data summary (%d records from %d devices, quality: %s):\n",
		s.RecordCount, s.DeviceCount, s.Quality)
	for _, st := range s.Stats {
		fmt.Fprintf(&b, "- %s: avg %.2f, min %.2f, max %.2f, stddev %.2f over %d readings",
			st.SensorType, st.Avg, st.Min, st.Max, st.StdDev, st.Count)
		if st.Unit != "" {
			fmt.Fprintf(&b, " (%s)", st.Unit)
		}
		b.WriteString("\n")
	}
	if len(s.Devices) > 0 {
		fmt.Fprintf(&b, "Devices: %s\n", strings.Join(s.Devices, ", "))
	}
	return b.String()
}

// FallbackResponse produces a deterministic plain-text answer from the
// statistics alone, used when the LLM is unavailable or over quota.
// It is less fluent than a generated answer but never empty.
func FallbackResponse(query string, s Summary) string {
	if s.RecordCount == 0 {
		return NoDataResponse(query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on %d readings from %d device(s):\n", s.RecordCount, s.DeviceCount)
	for _, st := range s.Stats {
		unit := st.Unit
		if unit != "" {
			unit = " " + unit
		}
		fmt.Fprintf(&b, "- %s: average %.2f%s (range %.2f to %.2f, %d readings)\n",
			st.SensorType, st.Avg, unit, st.Min, st.Max, st.Count)
	}
	b.WriteString("\nNote: this is a statistical summary; the language model was not used for this answer.")
	return b.String()
}

// QuotaExceededResponse is emitted when the daily LLM quota denies
// generation. It names the denial detail and still carries the
// statistical summary so the user gets an answer, just not a fluent
// one.
func QuotaExceededResponse(reason string, query string, s Summary) string {
	var b strings.Builder
	b.WriteString("The language model's daily usage limit has been reached")
	if reason != "" {
		fmt.Fprintf(&b, " (%s)", reason)
	}
	b.WriteString(". Generated answers will resume after the daily reset (midnight UTC).\n\n")
	b.WriteString(FallbackResponse(query, s))
	return b.String()
}

// CollectionFailedResponse is emitted when every fetch strategy was
// exhausted. Unlike NoDataResponse it carries the per-strategy failure
// detail and turns the diagnostics, when available, into concrete next
// steps: an unreachable API points at the collector host, a reachable
// one at the devices themselves.
func CollectionFailedResponse(detail string, diag *telemetry.Diagnostics) string {
	var b strings.Builder
	b.WriteString("Sensor data collection failed: every retrieval strategy was exhausted.\n")
	if detail != "" {
		fmt.Fprintf(&b, "\nDetail: %s\n", detail)
	}
	b.WriteString("\n")

	switch {
	case diag == nil:
		b.WriteString("Check that the collector service is running and that the sensor " +
			"devices have power and network connectivity, then try again.")
	case !diag.APIReachable:
		b.WriteString("The data service is not responding. Check that the collector " +
			"service is running, that its host has power, and that it is reachable " +
			"on the network.")
		if diag.APIError != "" {
			fmt.Fprintf(&b, " (%s)", diag.APIError)
		}
	default:
		b.WriteString("The data service is reachable but returned no usable data. " +
			"Check that the sensor devices have power and network connectivity, " +
			"or restart the collector service.")
		if len(diag.Devices) > 0 {
			ids := make([]string, 0, len(diag.Devices))
			for _, d := range diag.Devices {
				ids = append(ids, fmt.Sprintf("%s (%s)", d.DeviceID, d.Status))
			}
			fmt.Fprintf(&b, "\nKnown devices: %s.", strings.Join(ids, ", "))
		}
	}
	return b.String()
}

// NoDataResponse is the answer of last resort when no sensor data
// could be collected at all.
func NoDataResponse(query string) string {
	return "No sensor data is currently available to answer your question. " +
		"The devices may be offline or the data service unreachable. " +
		"Please try again in a few minutes."
}
