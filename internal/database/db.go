package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/iliyamo/transit-booking/internal/config"
)

// Open connects to the configured database and verifies the connection.
// Repositories write queries with ? placeholders and pass them through
// Rebind, so the same SQL runs on MySQL 8 and PostgreSQL.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	// Pool settings
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// dataSource returns the connection string for cfg.  MySQL DSNs always get
// parseTime and a UTC location so DATETIME columns scan into time.Time; the
// driver already defaults to a utf8mb4 collation.
func dataSource(cfg config.DatabaseConfig) (string, error) {
	if cfg.Driver != "mysql" {
		return cfg.DSN, nil
	}
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}
