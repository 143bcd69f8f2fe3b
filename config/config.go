package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport names accepted by TRANSPORT.
const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
)

// Config holds all app configuration
type Config struct {
	// App settings
	Env             string
	HTTPPort        string
	CORSOrigins     []string
	HistoryCapacity int
	TopicBufferSize int

	// Bus
	Transport       string
	DetectionTopic  string
	BinStatusTopic  string
	SystemTopic     string
	AlertsTopic     string
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTQoS         int
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaMinBytes   int
	KafkaMaxBytes   int
	KafkaMaxWaitMS  int
	KafkaCommitEach bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ClickHouse
	ClickhouseAddr     string
	ClickhouseDatabase string
	ClickhouseUsername string
	ClickhousePassword string
	ClickhouseTimeout  int

	// Postgres (durable ledger)
	PostgresURL string

	// Notifications
	TelegramToken     string
	TelegramChatID    string
	TelegramAPIURL    string
	NotifyTimeout     time.Duration
	NotifyDetections  bool
	BinFullThreshold  float64
	BinClearThreshold float64

	// Rewards
	CreditsPerBottle int64
	CatalogPath      string
}

// LoadConfig loads configuration from environment variables. When envFile is not empty the file
// is loaded first; a missing file is not an error, variables already set in the environment win.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Env:             getEnv("APP_ENV", "local"),
		HTTPPort:        getEnv("HTTP_PORT", "3000"),
		CORSOrigins:     getEnvAsSlice("CORS_ORIGIN", []string{"http://localhost:5173"}, ","),
		HistoryCapacity: getEnvAsInt("HISTORY_CAPACITY", 100),
		TopicBufferSize: getEnvAsInt("TOPIC_BUFFER_SIZE", 256),

		Transport:      strings.ToLower(getEnv("TRANSPORT", TransportMQTT)),
		DetectionTopic: getEnv("TOPIC_DETECTION", "smartbin/detection"),
		BinStatusTopic: getEnv("TOPIC_BIN_STATUS", "smartbin/bin_status"),
		SystemTopic:    getEnv("TOPIC_SYSTEM", "smartbin/system"),
		AlertsTopic:    getEnv("TOPIC_ALERTS", "smartbin/alerts"),

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "smartbin-server"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTQoS:      getEnvAsInt("MQTT_QOS", 1),

		KafkaBrokers:    getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}, ","),
		KafkaGroupID:    getEnv("KAFKA_CONSUMER_GROUP", "smartbin-group"),
		KafkaMinBytes:   getEnvAsInt("KAFKA_MIN_BYTES", 1),
		KafkaMaxBytes:   getEnvAsInt("KAFKA_MAX_BYTES", 10e6),
		KafkaMaxWaitMS:  getEnvAsInt("KAFKA_MAX_WAIT_MS", 500),
		KafkaCommitEach: getEnvAsBool("KAFKA_COMMIT_EACH", true),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		ClickhouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickhouseDatabase: getEnv("CLICKHOUSE_DATABASE", "default"),
		ClickhouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickhousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickhouseTimeout:  getEnvAsInt("CLICKHOUSE_TIMEOUT", 10),

		PostgresURL: getEnv("POSTGRES_URL", ""),

		TelegramToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramAPIURL:    getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyDetections:  getEnvAsBool("NOTIFY_DETECTIONS", true),
		BinFullThreshold:  getEnvAsFloat("BIN_FULL_THRESHOLD", 80),
		BinClearThreshold: getEnvAsFloat("BIN_CLEAR_THRESHOLD", 70),

		CreditsPerBottle: int64(getEnvAsInt("CREDITS_PER_BOTTLE", 100)),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMQTT, TransportKafka:
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("HISTORY_CAPACITY must be positive, got %d", c.HistoryCapacity)
	}
	if c.BinClearThreshold > c.BinFullThreshold {
		return fmt.Errorf("BIN_CLEAR_THRESHOLD (%v) must not exceed BIN_FULL_THRESHOLD (%v)",
			c.BinClearThreshold, c.BinFullThreshold)
	}
	if c.CreditsPerBottle <= 0 {
		return fmt.Errorf("CREDITS_PER_BOTTLE must be positive, got %d", c.CreditsPerBottle)
	}
	return nil
}

// Topics returns the inbound topics in a fixed order.
func (c *Config) Topics() []string {
	return []string{c.DetectionTopic, c.BinStatusTopic, c.SystemTopic, c.AlertsTopic}
}

// Helper functions for parsing environment variables
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := getEnv(key, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valStr := getEnv(key, "")
	if val, err := time.ParseDuration(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	parts := strings.Split(valStr, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
