// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"strings"
)

// =============================================================================
// ANSWER VERIFICATION
// =============================================================================

// VerificationStatus grades how much the answer can be trusted.
type VerificationStatus string

const (
	// VerifiedOK means every sensor type the answer mentions is backed
	// by collected data.
	VerifiedOK VerificationStatus = "verified"

	// VerifiedCaution means the answer mentions readings the collected
	// data does not contain. The answer is kept but flagged.
	VerifiedCaution VerificationStatus = "caution"

	// VerifiedNeedsReview means there was nothing to verify against:
	// no data was collected or the run timed out.
	VerifiedNeedsReview VerificationStatus = "needs_review"
)

// Verification is the outcome of checking the answer against the
// collected data. Verification only downgrades confidence; it never
// rewrites the answer.
type Verification struct {
	Status     VerificationStatus `json:"status"`
	Confidence float64            `json:"confidence"`
	Flags      []string           `json:"flags,omitempty"`
}

// Confidence starts at baseConfidence and loses violationPenalty per
// flag; a score under reviewThreshold escalates caution to
// needs_review.
const (
	baseConfidence   = 0.9
	violationPenalty = 0.2
	reviewThreshold  = 0.5
)

// verifiableSensorTypes are the sensor types the checker knows how to
// spot in answer text.
var verifiableSensorTypes = []string{"temperature", "humidity", "pressure", "light"}

// verify cross-checks the response against the data inventory and
// records the result on the state. Runs that produced no data or timed
// out cannot be verified and are marked for review.
func (p *Pipeline) verify(state *State) {
	defer state.mark(StatusVerificationComplete)

	last := state.last()
	if last == StatusTimeout || last == StatusNoDataFallback || !state.Fetch.OK() {
		state.Verification = Verification{
			Status:     VerifiedNeedsReview,
			Confidence: 0,
			Flags:      []string{"no collected data to verify the answer against"},
		}
		return
	}

	present := make(map[string]bool, len(state.Summary.Stats))
	for _, st := range state.Summary.Stats {
		present[st.SensorType] = true
	}

	var flags []string
	lower := strings.ToLower(state.Response)
	for _, sensorType := range verifiableSensorTypes {
		if strings.Contains(lower, sensorType) && !present[sensorType] {
			flags = append(flags,
				fmt.Sprintf("answer mentions %s but no %s readings were collected", sensorType, sensorType))
		}
	}

	confidence := baseConfidence - violationPenalty*float64(len(flags))
	if confidence < 0 {
		confidence = 0
	}

	status := VerifiedOK
	switch {
	case confidence < reviewThreshold:
		status = VerifiedNeedsReview
	case len(flags) > 0:
		status = VerifiedCaution
	}
	state.Verification = Verification{Status: status, Confidence: confidence, Flags: flags}
}
