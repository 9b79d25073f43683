package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/whatsapp-gateway/internal/config"
	"github.com/jmehdipour/whatsapp-gateway/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var (
	migrationsDir  string
	migrateReports bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		ctx := cmd.Context()
		if _, err := sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		err = applyFile(ctx, sqlDB, filepath.Join(migrationsDir, "001_init.sql"))
		if _, fkErr := sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); fkErr != nil && err == nil {
			err = fmt.Errorf("enable fk checks: %w", fkErr)
		}
		if err != nil {
			return err
		}
		fmt.Println(">> MySQL migration complete")

		if !migrateReports {
			return nil
		}
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.PoolOptsFrom(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		if chDB == nil {
			return fmt.Errorf("clickhouse.dsn is empty")
		}
		defer chDB.Close()

		if err := applyFile(ctx, chDB, filepath.Join(migrationsDir, "clickhouse", "001_message_log.sql")); err != nil {
			return err
		}
		fmt.Println(">> ClickHouse migration complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding migration files")
	migrateCmd.Flags().BoolVar(&migrateReports, "clickhouse", false, "also apply the ClickHouse reporting schema")
}

// applyFile runs each ";"-terminated statement of a migration file. The
// drivers are not opened with multi-statement support.
func applyFile(ctx context.Context, dbx *sqlx.DB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", path, err)
	}
	for i, stmt := range splitStatements(string(raw)) {
		if _, err := dbx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: statement %d: %w", filepath.Base(path), i+1, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";")
			out = append(out, stmt)
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
