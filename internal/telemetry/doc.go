// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry defines the shared data model for sensor readings,
// device descriptors, and fetch results, together with the validation
// rule applied before any record enters the pipeline.
package telemetry
