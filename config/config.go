package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipSync ShipSyncConfig `yaml:"shipsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	ShipmentUpdatedTopicName   string `yaml:"shipment_updated_topic_name"`
	ShipmentAttentionTopicName string `yaml:"shipment_attention_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`
	StoreRetryAttempts      int `yaml:"store_retry_attempts"`

	// Legacy tenant-less webhook endpoint. Matches are unscoped across
	// tenants, so this should stay off unless old carrier accounts still
	// point at /webhook without a company id.
	LegacyWebhookEnabled bool `yaml:"legacy_webhook_enabled"`

	// Inbound burst logging (per tenant per minute). Never rejects.
	WebhookRateLogPerMinute int `yaml:"webhook_rate_log_per_minute"`

	WorkerHTTPAddr              string `yaml:"worker_http_addr"`
	ScannerSweepIntervalSeconds int    `yaml:"scanner_sweep_interval_seconds"`
	ScannerStaleAfterHours      int    `yaml:"scanner_stale_after_hours"`
	ScannerAlertWindowSeconds   int    `yaml:"scanner_alert_window_seconds"`

	// Carrier (Shippo) webhook subscriptions.
	WebhookBaseURL      string `yaml:"webhook_base_url"`
	ShippoAPIBaseURL    string `yaml:"shippo_api_base_url"`
	ShippoAPIToken      string `yaml:"shippo_api_token"`
	ShippoMode          string `yaml:"shippo_mode"` // "live" | "fake"
	ShippoRatePerMinute int    `yaml:"shippo_rate_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
