// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package token provides deterministic token counting.
//
// The same counter instance is shared by context assembly, prompt sizing,
// and cost estimation so that budgets and prices are always computed on
// the same scale.
package token
