// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package connector retrieves sensor data from the device API through
// an ordered cascade of fetch strategies. Strategies are tried in
// declaration order; the first one that yields at least one valid
// record wins, and the result records which strategy produced it.
package connector
