package postgresql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// Every in-flight delivery writes at most one status row and one attempt row at a time.
	connsPerWorker    = 2
	minOpenConns      = 4
	connMaxLifetime   = time.Hour
	connMaxIdleTime   = 5 * time.Minute
	pingTimeout       = 5 * time.Second
)

// PoolSize is the connection budget derived from the number of concurrent deliveries.
type PoolSize struct {
	MaxOpen int
	MaxIdle int
}

func PoolSizeFor(workerConcurrency int) PoolSize {
	open := workerConcurrency * connsPerWorker
	if open < minOpenConns {
		open = minOpenConns
	}
	idle := open / 4
	if idle < 1 {
		idle = 1
	}
	return PoolSize{MaxOpen: open, MaxIdle: idle}
}

// NewPostgres opens the status store and verifies it answers within the ping timeout.
func NewPostgres(ctx context.Context, dsn string, pool PoolSize) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open status store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpen)
	sqlDB.SetMaxIdleConns(pool.MaxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("status store unreachable: %w", err)
	}

	return db, nil
}
