package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus reports database reachability and pool statistics.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	TotalConns   int32  `json:"total_conns"`
	AcquiredConn int32  `json:"acquired_conns"`
	IdleConns    int32  `json:"idle_conns"`
	MaxConns     int32  `json:"max_conns"`
	EmptyAcquire int64  `json:"empty_acquire_count"`
}

// Health pings the database and snapshots the pool counters.
func Health(ctx context.Context, pool *pgxpool.Pool) (*HealthStatus, error) {
	start := time.Now()

	if err := pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stat := pool.Stat()
	return &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		TotalConns:   stat.TotalConns(),
		AcquiredConn: stat.AcquiredConns(),
		IdleConns:    stat.IdleConns(),
		MaxConns:     stat.MaxConns(),
		EmptyAcquire: stat.EmptyAcquireCount(),
	}, nil
}
