package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipSync/config"
	shipmentsapi "github.com/BearBump/ShipSync/internal/api/shipments_api"
	"github.com/BearBump/ShipSync/internal/broker/kafka"
	"github.com/BearBump/ShipSync/internal/cache/rediscache"
	"github.com/BearBump/ShipSync/internal/integrations/shippo"
	shippofake "github.com/BearBump/ShipSync/internal/integrations/shippo/fake"
	"github.com/BearBump/ShipSync/internal/integrations/shippo/shippohttp"
	"github.com/BearBump/ShipSync/internal/services/shipments"
	"github.com/BearBump/ShipSync/internal/services/subscriptions"
	"github.com/BearBump/ShipSync/internal/storage/pgshipment"
)

type syncAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    syncAPIOpts
	api     *shipmentsapi.ShipmentsAPI
	closeDB func()
}

func mustBootstrapSyncAPI() *syncAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse failed, %v", err))
	}

	httpAddr := cfg.ShipSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = "shipment.updated"
	}
	cacheTTL := time.Duration(cfg.ShipSync.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	svc := shipments.New(st, rc, cacheTTL).
		WithProducer(producer, topic).
		WithRateLimiter(rl, int64(cfg.ShipSync.WebhookRateLogPerMinute)).
		WithRetries(cfg.ShipSync.StoreRetryAttempts)
	if cfg.ShipSync.ScannerStaleAfterHours > 0 {
		svc = svc.WithStaleAfter(time.Duration(cfg.ShipSync.ScannerStaleAfterHours) * time.Hour)
	}

	var providerClient shippo.Client
	switch cfg.ShipSync.ShippoMode {
	case "live":
		providerClient = shippohttp.New(cfg.ShipSync.ShippoAPIBaseURL, cfg.ShipSync.ShippoAPIToken)
	default:
		providerClient = shippofake.New()
	}
	subs := subscriptions.New(st, providerClient, cfg.ShipSync.WebhookBaseURL).
		WithTestMode(cfg.ShipSync.ShippoMode != "live").
		WithRateLimiter(rl, int64(cfg.ShipSync.ShippoRatePerMinute))

	api := shipmentsapi.New(svc, subs, cfg.ShipSync.LegacyWebhookEnabled)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &syncAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: syncAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:     api,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipment.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipment.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *syncAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}
