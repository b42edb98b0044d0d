package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipSync/config"
	"github.com/BearBump/ShipSync/internal/broker/kafka"
	"github.com/BearBump/ShipSync/internal/cache/rediscache"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/attention"
	"github.com/BearBump/ShipSync/internal/services/notifier"
	"github.com/BearBump/ShipSync/internal/storage/pgshipment"
)

// workerStore is what the worker needs from the shipment store: the
// attention sweep and the notified flag.
type workerStore interface {
	QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error)
	MarkCustomerNotified(ctx context.Context, shipmentID uint64) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (workerStore, func(), error)
	newProducer    func(cfg *config.Config) attention.Producer
	newRateLimiter func(cfg *config.Config) attention.RateLimiter
	newConsumer    func(cfg *config.Config, topic, group string) kafkaConsumer
	newSender      func(cfg *config.Config) notifier.Sender
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipment.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) attention.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) attention.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newConsumer: func(cfg *config.Config, topic, group string) kafkaConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newSender: func(cfg *config.Config) notifier.Sender {
			return notifier.LogSender{}
		},
	}
}

func runSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	attentionTopic := cfg.Kafka.ShipmentAttentionTopicName
	if attentionTopic == "" {
		attentionTopic = "shipment.attention"
	}
	updatedTopic := cfg.Kafka.ShipmentUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "shipment.updated"
	}
	consumerGroup := cfg.ShipSync.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "sync-worker"
	}

	sweepInterval := time.Duration(cfg.ShipSync.ScannerSweepIntervalSeconds) * time.Second
	staleAfter := time.Duration(cfg.ShipSync.ScannerStaleAfterHours) * time.Hour
	alertWindow := time.Duration(cfg.ShipSync.ScannerAlertWindowSeconds) * time.Second

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)

	scanner := attention.New(store, producer, rl, attentionTopic).
		WithSettings(sweepInterval, staleAfter, alertWindow)

	consumer := f.newConsumer(cfg, updatedTopic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	n := notifier.New(store, f.newSender(cfg))

	scanErr := make(chan error, 1)
	go func() { scanErr <- scanner.Run(ctx) }()

	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", updatedTopic, "group", consumerGroup)
		consumeErr <- consumer.Consume(ctx, func(key, value []byte) error {
			return n.Handle(ctx, key, value)
		})
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.ShipSync.WorkerHTTPAddr,
			swaggerPath: workerSwaggerPath(),
			scanner:     scanner,
			cfg:         cfg,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-scanErr:
		return err
	case err := <-consumeErr:
		return err
	case err := <-httpErr:
		return err
	}
}
