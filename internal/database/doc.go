/*
Package database provides GORM-backed connection pool management with
health checks, pool statistics, and transaction retry.

PoolManager wraps a GORM DB and its underlying sql.DB, applying pool
limits and running a background liveness probe. WithTransactionRetry
retries transient transaction failures (deadlocks, serialization
failures, dropped connections) with exponential backoff.
*/
package database
