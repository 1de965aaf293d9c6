package monitoring

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const defaultDatabaseTimeout = 2 * time.Second

// ConnectionCounter exposes the realtime hub's live connection count.
type ConnectionCounter interface {
	ConnectionCount() int
}

// PoolStats exposes worker pool occupancy.
type PoolStats interface {
	Stats() map[string]int
}

// DatabaseCheck pings the database within timeout.
func DatabaseCheck(db *gorm.DB, timeout time.Duration) Check {
	if timeout <= 0 {
		timeout = defaultDatabaseTimeout
	}
	return Check{Name: "database", Run: func(ctx context.Context) Result {
		if db == nil {
			return Result{Status: StatusDown, Details: "database not configured"}
		}
		sqlDB, err := db.DB()
		if err != nil {
			return FromError(err)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return FromError(sqlDB.PingContext(ctx))
	}}
}

// RealtimeCheck reports the hub's connection count. A missing hub degrades the report.
func RealtimeCheck(hub ConnectionCounter) Check {
	return Check{Name: "realtime", Run: func(context.Context) Result {
		if hub == nil {
			return Result{Status: StatusDegraded, Details: "realtime hub unavailable"}
		}
		return Result{Status: StatusUp, Details: fmt.Sprintf("%d connections", hub.ConnectionCount())}
	}}
}

// WorkerPoolCheck degrades when every worker is busy.
func WorkerPoolCheck(pool PoolStats) Check {
	return Check{Name: "worker_pool", Run: func(context.Context) Result {
		if pool == nil {
			return Result{Status: StatusDegraded, Details: "worker pool unavailable"}
		}
		stats := pool.Stats()
		details := fmt.Sprintf("%d/%d running", stats["running"], stats["cap"])
		if stats["cap"] > 0 && stats["free"] == 0 {
			return Result{Status: StatusDegraded, Details: details}
		}
		return Result{Status: StatusUp, Details: details}
	}}
}
