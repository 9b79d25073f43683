package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// NewMySQLConnection opens the primary store. The DSN is rewritten so
// DATETIME columns scan into time.Time in UTC and RowsAffected counts matched
// rows, which repositories use to detect misses.
func NewMySQLConnection(dsn string, o PoolOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true

	return open("mysql", mc.FormatDSN(), o)
}
