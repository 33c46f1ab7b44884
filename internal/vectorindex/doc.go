// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vectorindex defines the vector index contract consumed by the
// retrieval and ingestion paths, plus two implementations: an in-memory
// index for development and tests, and a PostgreSQL/pgvector index for
// real deployments.
//
// Distance polarity is fixed across the package: ascending distance means
// more relevant, 0 is an exact match. Implementations that naturally
// compute a similarity convert it before returning.
package vectorindex
