// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm provides Groq integration for cloud LLM inference.
//
// Groq exposes an OpenAI-compatible chat completions API with very low
// latency, which suits the interactive question-answering flow. This
// package implements the client used to turn analyzed sensor data into
// natural-language answers.
package llm
