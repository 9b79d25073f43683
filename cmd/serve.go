package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/config"
	"github.com/jmehdipour/whatsapp-gateway/internal/db"
	"github.com/jmehdipour/whatsapp-gateway/internal/dispatcher"
	httpSrv "github.com/jmehdipour/whatsapp-gateway/internal/http"
	"github.com/jmehdipour/whatsapp-gateway/internal/identity"
	"github.com/jmehdipour/whatsapp-gateway/internal/logger"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/router"
	"github.com/jmehdipour/whatsapp-gateway/internal/service/ingest"
	"github.com/jmehdipour/whatsapp-gateway/internal/tasks"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and admin HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log, err := logger.New(cfg.App.LogLevel)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		} else {
			log.Warn("redis not configured, admin rate limiting disabled")
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.PoolOptsFrom(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		var reports repository.CHMessagesRepository
		if chDB != nil {
			defer func() { _ = chDB.Close() }()
			reports = repository.NewCHMessagesRepository(chDB)
		}

		// repositories (MySQL)
		convsRepo := repository.NewConversationsRepository(mysqlDB)
		ledgerRepo := repository.NewLedgerRepository(mysqlDB, convsRepo)
		eventsRepo := repository.NewStatusEventsRepository(mysqlDB)
		outboxRepo := repository.NewOutboxRepository(mysqlDB)

		gateway := dispatcher.FromConfig(cfg.WhatsApp)
		if !cfg.WhatsApp.Enabled() {
			log.Warn("whatsapp send credentials missing, replies and mark-read disabled")
		}

		var resolver identity.Resolver = identity.NoopResolver{}
		if len(cfg.Identity.Static) > 0 {
			resolver = identity.StaticResolver(cfg.Identity.Static)
		}

		runner := tasks.New(log, cfg.Tasks.Workers, cfg.Tasks.QueueSize, cfg.Tasks.Timeout)

		ingestSvc := ingest.New(ingest.Deps{
			Conversations: convsRepo,
			Ledger:        ledgerRepo,
			StatusEvents:  eventsRepo,
			Outbox:        outboxRepo,
			Gateway:       gateway,
			Identity:      resolver,
			Tasks:         runner,
			Log:           log,
		}, ingest.Config{
			StorageTimeout:   cfg.Webhook.StorageTimeout,
			MonotonicStatus:  cfg.Webhook.MonotonicStatus,
			MarkRead:         cfg.Webhook.MarkRead,
			PublishUnhandled: cfg.Webhook.PublishUnhandled,
			Replies: ingest.Replies{
				OptIn:  cfg.Router.Replies.OptIn,
				OptOut: cfg.Router.Replies.OptOut,
				Help:   cfg.Router.Replies.Help,
			},
			Keywords: router.Keywords{
				OptIn:  cfg.Router.OptInKeywords,
				OptOut: cfg.Router.OptOutKeywords,
				Help:   cfg.Router.HelpKeywords,
			},
		})

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Ingest:        ingestSvc,
			Conversations: convsRepo,
			Ledger:        ledgerRepo,
			Outbox:        outboxRepo,
			Reports:       reports,
			Redis:         redisClient,
			Log:           log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := runner.Close(ctx); err != nil {
			log.Warn("task runner did not drain", zap.Error(err))
		}

		return nil
	},
}
