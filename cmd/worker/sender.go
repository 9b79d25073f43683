package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/config"
	"github.com/jmehdipour/whatsapp-gateway/internal/db"
	"github.com/jmehdipour/whatsapp-gateway/internal/dispatcher"
	"github.com/jmehdipour/whatsapp-gateway/internal/kafka"
	"github.com/jmehdipour/whatsapp-gateway/internal/logger"
	"github.com/jmehdipour/whatsapp-gateway/internal/metrics"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sender",
		Short: "Deliver queued outbound messages through the Cloud API",
		RunE:  runSender,
	})

	return cmd
}

func runSender(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.WhatsApp.Enabled() {
		return fmt.Errorf("whatsapp.phone_number_id and whatsapp.access_token are required")
	}

	log, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	if addr := cfg.Sender.MetricsAddr; addr != "" {
		go serveMetrics(addr, log)
	}

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) repositories
	convsRepo := repository.NewConversationsRepository(dbx)
	ledgerRepo := repository.NewLedgerRepository(dbx, convsRepo)

	// 4) kafka consumer
	topic := cfg.Kafka.OutboundTopic
	if topic == "" {
		topic = "wa.outbound"
	}
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "wagw-sender"
	}
	consumer, err := kafka.NewConsumer(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	defer consumer.Close()

	w := worker.NewOutboundSender(consumer, convsRepo, ledgerRepo, dispatcher.FromConfig(cfg.WhatsApp), log)
	if cfg.Sender.Workers > 0 {
		w.Workers = cfg.Sender.Workers
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("sender started",
		zap.String("topic", consumer.Topic()),
		zap.String("group", groupID),
		zap.Int("workers", w.Workers),
	)
	err = w.Run(ctx)
	log.Info("sender stopped", zap.Int64("lag", consumer.Lag()))
	return err
}

func serveMetrics(addr string, log *zap.Logger) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if err := e.Start(addr); err != nil {
		log.Warn("metrics listener stopped", zap.Error(err))
	}
}
