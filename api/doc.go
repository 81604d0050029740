// Package api holds the HTTP request and response types of the
// LeadFlow ingress surface.
//
// The API exposes:
//   - POST /api/v1/replies: inbound reply webhook (JWT tenant auth)
//   - GET /health, /healthz, /ready: health probes
//   - GET /metrics: prometheus metrics
//   - GET /version: build information
//
// Authenticated endpoints expect a bearer token whose claims carry the
// tenant ID:
//
//	Authorization: Bearer <jwt>
package api
