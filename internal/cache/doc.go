// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides a TTL cache for fetch results with
// single-flight deduplication: concurrent requests for the same key
// share one upstream fetch. Failed results are cached for a much
// shorter window than successes so recovery is observed quickly.
package cache
