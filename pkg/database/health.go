package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus reports pool health for the CLI's minimal HTTP endpoint.
type HealthStatus struct {
	Healthy           bool          `json:"healthy"`
	AcquiredConns     int32         `json:"acquired_conns"`
	IdleConns         int32         `json:"idle_conns"`
	TotalConns        int32         `json:"total_conns"`
	Latency           time.Duration `json:"latency_ns"`
	Error             string        `json:"error,omitempty"`
}

// Health pings the pool and reports its current stats.
func Health(ctx context.Context, pool *pgxpool.Pool) HealthStatus {
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start)

	stat := pool.Stat()
	status := HealthStatus{
		Healthy:       err == nil,
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		TotalConns:    stat.TotalConns(),
		Latency:       latency,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
