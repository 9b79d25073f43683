package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/config"
	"github.com/jmehdipour/whatsapp-gateway/internal/db"
	"github.com/jmehdipour/whatsapp-gateway/internal/logger"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Must(cfg.App.LogLevel)
		defer func() { _ = log.Sync() }()

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Info("seeding demo conversations")
		if err := seedConversations(cmd.Context(), repository.NewConversationsRepository(sqlDB), log); err != nil {
			return err
		}
		log.Info("seed completed")
		return nil
	},
}

type demoConversation struct {
	phone   string
	name    string
	userID  string
	optedIn bool
}

// seedConversations upserts a fixed set of conversations through the
// directory, so reruns converge on the same rows.
func seedConversations(ctx context.Context, convs repository.ConversationsRepository, log *zap.Logger) error {
	demo := []demoConversation{
		{phone: "+237670000001", name: "Ama", userID: "user-1001", optedIn: true},
		{phone: "+237670000002", name: "Kofi", userID: "user-1002", optedIn: true},
		{phone: "+15550000003", name: "Beta Tester", optedIn: true},
		{phone: "+15550000004", name: "Opted Out", optedIn: false},
	}

	now := time.Now().UTC()
	for _, d := range demo {
		phone := util.NormalizePhone(d.phone)
		if _, err := convs.Upsert(ctx, phone, d.name, now); err != nil {
			return fmt.Errorf("upsert %s: %w", phone, err)
		}
		if d.userID != "" {
			if err := convs.LinkToUser(ctx, phone, d.userID); err != nil {
				return fmt.Errorf("link %s: %w", phone, err)
			}
		}
		if err := convs.SetOptIn(ctx, phone, d.optedIn, now); err != nil {
			return fmt.Errorf("opt-in %s: %w", phone, err)
		}
		log.Info("conversation seeded", zap.String("phone", phone), zap.Bool("opted_in", d.optedIn))
	}
	return nil
}
