// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker is implemented by all dependency health checkers.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DBChecker implements health checking for SQL databases.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// HealthCheck performs a health check on the database by pinging it.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RedisChecker implements health checking for Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
	}
}

// HealthCheck performs a health check on Redis by sending a PING command.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CheckAll runs every checker with a per-check timeout and returns the
// first failure, or nil when all dependencies are reachable.
func CheckAll(ctx context.Context, timeout time.Duration, checkers ...Checker) error {
	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}
