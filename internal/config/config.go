package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaForecastTopic string
	KafkaActualTopic   string
	KafkaRejectTopic   string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Store configuration.
	DBDriver     string
	DBDSN        string
	StoreTimeout time.Duration

	// Bias engine policy.
	AllowActualCorrections bool
	MinGridCount           int
	BiasThreshold          float64
	BiasMinDays            int

	// Summary report job.
	ReportCities   []string
	ReportSources  []string
	ReportInterval time.Duration
	ReportWindow   time.Duration
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", "1s")
	if err != nil {
		return nil, err
	}
	storeTimeout, err := parseDuration("STORE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	reportInterval, err := parseDuration("REPORT_INTERVAL", "6h")
	if err != nil {
		return nil, err
	}
	reportWindow, err := parseDuration("REPORT_WINDOW", "2160h") // 90 days
	if err != nil {
		return nil, err
	}

	batchSize, err := parseInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	minGridCount, err := parseInt("MIN_GRID_COUNT", 5)
	if err != nil {
		return nil, err
	}
	biasMinDays, err := parseInt("BIAS_MIN_DAYS", 30)
	if err != nil {
		return nil, err
	}
	biasThreshold, err := parseFloat("BIAS_THRESHOLD", 0.5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaForecastTopic: envOrDefault("KAFKA_FORECAST_TOPIC", "raw-forecasts"),
		KafkaActualTopic:   envOrDefault("KAFKA_ACTUAL_TOPIC", "raw-actuals"),
		KafkaRejectTopic:   envOrDefault("KAFKA_REJECT_TOPIC", "rejected-records"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "forecast-bias"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DBDriver:     envOrDefault("DB_DRIVER", "sqlite"),
		DBDSN:        envOrDefault("DB_DSN", "weather_forecasts.db"),
		StoreTimeout: storeTimeout,

		AllowActualCorrections: os.Getenv("ALLOW_ACTUAL_CORRECTIONS") == "true",
		MinGridCount:           minGridCount,
		BiasThreshold:          biasThreshold,
		BiasMinDays:            biasMinDays,

		ReportCities:   splitList(os.Getenv("REPORT_CITIES")),
		ReportSources:  splitList(envOrDefault("REPORT_SOURCES", "nws")),
		ReportInterval: reportInterval,
		ReportWindow:   reportWindow,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaForecastTopic == "" {
		return nil, errors.New("KAFKA_FORECAST_TOPIC is required")
	}
	if cfg.KafkaActualTopic == "" {
		return nil, errors.New("KAFKA_ACTUAL_TOPIC is required")
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("BATCH_SIZE must be positive")
	}
	if cfg.MinGridCount < 1 {
		return nil, errors.New("MIN_GRID_COUNT must be at least 1")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
