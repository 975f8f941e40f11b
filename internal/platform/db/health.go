package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Pinger is anything whose reachability the health endpoint should report,
// e.g. the Redis event broker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler pings the database plus any extra dependencies. The response
// is 503 when any of them fails.
func HealthHandler(pool *pgxpool.Pool, extra map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		checks := make(map[string]Pinger, len(extra)+1)
		for name, p := range extra {
			checks[name] = p
		}
		if pool != nil {
			checks["database"] = pool
		}

		body := map[string]interface{}{}
		status, results := runChecks(ctx, checks)
		body["status"] = status
		body["checks"] = results
		if pool != nil {
			body["pool"] = GetPoolStats(pool)
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, body)
	}
}

func runChecks(ctx context.Context, checks map[string]Pinger) (string, map[string]string) {
	status := "healthy"
	results := make(map[string]string, len(checks))
	for name, p := range checks {
		if err := p.Ping(ctx); err != nil {
			results[name] = err.Error()
			status = "unhealthy"
			continue
		}
		results[name] = "ok"
	}
	return status, results
}
