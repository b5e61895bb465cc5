// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultWindowHours is assumed when the question names no time scope.
const DefaultWindowHours = 24

// QueryAnalysis captures what the question asks about. Empty slices
// mean "everything": a question naming no sensor type is answered with
// all available types.
type QueryAnalysis struct {
	Query       string   `json:"query"`
	SensorTypes []string `json:"sensor_types,omitempty"`
	DeviceHints []string `json:"device_hints,omitempty"`
	WindowHours float64  `json:"window_hours"`
}

// sensorKeywords maps question vocabulary to canonical sensor types.
var sensorKeywords = map[string]string{
	"temperature": "temperature",
	"temp":        "temperature",
	"hot":         "temperature",
	"cold":        "temperature",
	"humidity":    "humidity",
	"humid":       "humidity",
	"moisture":    "humidity",
	"pressure":    "pressure",
	"barometric":  "pressure",
	"light":       "light",
	"lux":         "light",
	"luminosity":  "light",
	"brightness":  "light",
}

// deviceKeywords maps question vocabulary to device ID fragments.
var deviceKeywords = map[string]string{
	"esp32":    "esp32",
	"esp":      "esp32",
	"arduino":  "arduino",
	"wifi":     "wifi",
	"ethernet": "eth",
}

var (
	lastHoursRe = regexp.MustCompile(`(?i)(?:last|past)\s+(\d+)\s*hours?`)
	lastDaysRe  = regexp.MustCompile(`(?i)(?:last|past)\s+(\d+)\s*days?`)
	hourRe      = regexp.MustCompile(`(?i)(?:last|past)\s+hour\b`)
)

// AnalyzeQuery extracts sensor, device, and time hints from a natural
// language question. It is deliberately keyword-based: the LLM sees
// the original question anyway, so the hints only steer data fetching
// and statistics.
func AnalyzeQuery(query string) QueryAnalysis {
	lower := strings.ToLower(query)
	qa := QueryAnalysis{
		Query:       query,
		WindowHours: DefaultWindowHours,
	}

	seen := make(map[string]bool)
	for keyword, sensorType := range sensorKeywords {
		if strings.Contains(lower, keyword) && !seen[sensorType] {
			seen[sensorType] = true
			qa.SensorTypes = append(qa.SensorTypes, sensorType)
		}
	}
	sort.Strings(qa.SensorTypes)

	seenDev := make(map[string]bool)
	for keyword, fragment := range deviceKeywords {
		if strings.Contains(lower, keyword) && !seenDev[fragment] {
			seenDev[fragment] = true
			qa.DeviceHints = append(qa.DeviceHints, fragment)
		}
	}
	sort.Strings(qa.DeviceHints)

	qa.WindowHours = parseWindow(lower)
	return qa
}

func parseWindow(lower string) float64 {
	if m := lastHoursRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return float64(n)
		}
	}
	if m := lastDaysRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return float64(n * 24)
		}
	}
	if hourRe.MatchString(lower) {
		return 1
	}
	switch {
	case strings.Contains(lower, "yesterday"):
		return 48
	case strings.Contains(lower, "this week"), strings.Contains(lower, "last week"):
		return 7 * 24
	case strings.Contains(lower, "today"):
		return 24
	}
	return DefaultWindowHours
}
