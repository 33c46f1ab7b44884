// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads service configuration from TOML with environment
// variable overrides for the values that change between deployments:
// credentials, addresses, and connection strings. Defaults are complete
// enough to run against an in-memory index with no file at all.
package config
