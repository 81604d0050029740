/*
Package handlers implements the LeadFlow HTTP endpoints.

Core types:

  - ReplyHandler: inbound reply webhook (POST /api/v1/replies)
  - HealthHandler: service probes (/health, /healthz, /ready, /version)
  - Response: uniform JSON envelope (success + data + error + timestamp)
  - ErrorInfo: structured error with code, message, retryable flag
  - ResponseWriter: status-capturing wrapper for logging middleware

Request validation goes through DecodeJSONBody (1 MB cap, strict
fields) and ValidateContentType; typed error codes map to HTTP status
via the shared envelope helpers.
*/
package handlers
