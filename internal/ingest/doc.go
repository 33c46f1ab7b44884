// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest writes documents into the vector index. Page texts are
// split into overlapping chunks, each chunk's language is detected, and
// chunks are grouped into one collection per document and language so
// retrieval can stay within the session's language.
//
// Deleting a document removes every language collection that belongs to
// it.
package ingest
