package database

import (
	"context"
	stdsql "database/sql"
	"time"
)

// HealthStatus is the database block of the /healthz response: ping outcome,
// round-trip latency, and the connection pool counters worth alerting on.
type HealthStatus struct {
	Status    string    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Pool      PoolStats `json:"pool"`
}

// PoolStats summarizes sql.DBStats for the health endpoint.
type PoolStats struct {
	Open      int   `json:"open_connections"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	WaitCount int64 `json:"wait_count"`
	WaitMS    int64 `json:"wait_ms"`
	MaxOpen   int   `json:"max_open"`
}

// Health pings the database and reports pool statistics. A failed ping
// returns the partial status alongside the error so the caller can embed it
// in an unhealthy response.
func Health(ctx context.Context, db *stdsql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:    "unhealthy",
			LatencyMS: time.Since(start).Milliseconds(),
		}, err
	}

	stats := db.Stats()
	return &HealthStatus{
		Status:    "healthy",
		LatencyMS: time.Since(start).Milliseconds(),
		Pool: PoolStats{
			Open:      stats.OpenConnections,
			InUse:     stats.InUse,
			Idle:      stats.Idle,
			WaitCount: stats.WaitCount,
			WaitMS:    stats.WaitDuration.Milliseconds(),
			MaxOpen:   stats.MaxOpenConnections,
		},
	}, nil
}
