package db

import (
	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the reporting store, e.g.
// clickhouse://default:@localhost:9000/wagw?dial_timeout=5s. An empty DSN
// means reporting is disabled and (nil, nil) is returned.
func NewClickHouseConnection(dsn string, o PoolOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, nil
	}
	return open("clickhouse", dsn, o)
}
