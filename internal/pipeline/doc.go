// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline orchestrates the question-answering flow: analyze
// the query, collect sensor data through the cached fallback cascade,
// compute statistics, generate (or fall back to) an answer under the
// usage quota, and verify the answer against the collected data.
//
// Every run terminates with a non-empty response. Failures along the
// way degrade the answer instead of aborting the run.
package pipeline
