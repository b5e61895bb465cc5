// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage enforces per-model daily request and token quotas.
// Counters roll over lazily at UTC midnight, current state is
// persisted atomically as JSON, and completed days are archived to a
// small SQLite ledger for reporting.
package usage
