// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analysis turns a user question and a batch of sensor records
// into structured material for answer generation: query hints (sensor
// types, devices, time scope), per-sensor statistics, a data quality
// assessment, and the deterministic fallback texts used when the LLM
// cannot be called.
package analysis
