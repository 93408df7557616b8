package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/api"
	"github.com/spiretrading/nexus-sub010/internal/config"
	"github.com/spiretrading/nexus-sub010/internal/feed"
	"github.com/spiretrading/nexus-sub010/internal/marketdata"
	"github.com/spiretrading/nexus-sub010/internal/marketdata/store"
	"github.com/spiretrading/nexus-sub010/internal/transport/ws"
)

func newLogger(environment, level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if environment == "development" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = parsed
	return zapCfg.Build()
}

func openStore(cfg config.DatabaseConfig, logger *zap.Logger) (*store.GormStore, error) {
	if cfg.Driver == "postgres" {
		return store.OpenPostgres(cfg.DSN, logger)
	}
	return store.OpenSQLite(cfg.DSN, logger)
}

func newConsumer(cfg config.FeedConfig, logger *zap.Logger) feed.Consumer {
	if cfg.Transport == "redis" {
		return feed.NewRedisConsumer(cfg.Redis, logger)
	}
	return feed.NewKafkaConsumer(cfg.Kafka, logger)
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	schedule, err := cfg.Entitlements.Schedule()
	if err != nil {
		logger.Fatal("invalid entitlement schedule", zap.Error(err))
	}
	entitlements := marketdata.NewEntitlementTable(schedule)

	historicalStore, err := openStore(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open historical store", zap.Error(err))
	}
	defer historicalStore.Close()

	relay := marketdata.NewDistributionRelay(historicalStore, entitlements, cfg.Relay, logger)
	defer relay.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := newConsumer(cfg.Feed, logger)
	pump := feed.NewPump(consumer, relay, marketdata.SourceID(cfg.Feed.SourceID), logger)
	go func() {
		if err := pump.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("feed pump stopped", zap.Error(err))
		}
	}()
	defer consumer.Close()

	hub := ws.NewHub(relay, entitlements, cfg.Entitlements.DefaultGroups, logger)
	defer hub.Close()

	server := api.NewServer(cfg.API, relay, hub, entitlements, cfg.Entitlements.DefaultGroups, logger)
	logger.Info("market data server starting",
		zap.String("addr", cfg.API.Addr),
		zap.String("feed", cfg.Feed.Transport),
		zap.String("database", cfg.Database.Driver))
	if err := server.Run(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("market data server stopped")
}
