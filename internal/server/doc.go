// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the document chat service over HTTP.
//
// Endpoints:
//   - POST   /api/chat        - ask a question, answer streamed as SSE
//   - GET    /api/context     - inspect the retrieved context for a query
//   - POST   /api/documents   - upload a document's page texts for indexing
//   - GET    /api/documents   - list indexed documents
//   - DELETE /api/documents/  - remove a document by name
//   - GET    /api/usage       - governor counters and recent usage records
//   - GET    /health          - liveness check
//
// Requests pass through recovery, logging, CORS, optional bearer auth, and
// a per-IP rate limit before reaching a handler.
package server
