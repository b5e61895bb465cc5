// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the resilient HTTP client used to reach
// the remote device API: bounded retries with exponential backoff,
// request pacing, response size caps, and a clear split between
// retryable transport failures and permanent request errors.
package transport
