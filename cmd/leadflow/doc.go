/*
Command leadflow is the service entry point.

Subcommands:

  - serve: start the HTTP API, metrics listener, and scheduler
  - migrate: apply or roll back database migrations
  - version: print build information
  - health: probe a running server's readiness endpoint

The serve command is the composition root: it opens postgres and
redis, builds the outreach engine with its ghost detector and
acquisition pipeline, and runs the scheduler loops until a termination
signal arrives. HTTP requests pass through the middleware chain
(recovery, request ID, security headers, logging, metrics, CORS, JWT
authentication, per-tenant rate limiting) before reaching the
handlers.

Version, BuildTime, and GitCommit are injected at build time via
-ldflags.
*/
package main
