package health

import (
	"context"
	"database/sql"
)

// DBChecker probes the Postgres connection for the readiness endpoint.
type DBChecker struct {
	db *sql.DB
}

func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database under the caller's deadline.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
