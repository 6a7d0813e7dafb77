package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Flow repository client configuration.
	FlowRepoBaseURL   string
	FlowRepoEnabled   bool
	FlowRepoTimeout   time.Duration
	FlowRepoCacheSize int
	FetchCacheDir     string

	// Default gating inputs applied when a sample request names none.
	TemplatePath     string
	DefaultTransform string

	// Optional SQLite run store; empty disables persistence.
	StorePath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	flowRepoTimeout, err := parseDuration("FLOWREPO_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", "5s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parsePositiveInt("BATCH_SIZE", 20)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("FLOWREPO_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}

	baseURL := os.Getenv("FLOWREPO_BASE_URL")
	enabled := baseURL != ""
	if v := os.Getenv("FLOWREPO_ENABLED"); v != "" {
		enabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "sample-requests"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "population-summaries"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "tcell-etl"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		FlowRepoBaseURL:   baseURL,
		FlowRepoEnabled:   enabled,
		FlowRepoTimeout:   flowRepoTimeout,
		FlowRepoCacheSize: cacheSize,
		FetchCacheDir:     envOrDefault("FETCH_CACHE_DIR", filepath.Join(os.TempDir(), "tcell-cache")),

		TemplatePath:     os.Getenv("GATING_TEMPLATE"),
		DefaultTransform: envOrDefault("DEFAULT_TRANSFORM", "logicle"),
		StorePath:        os.Getenv("STORE_PATH"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.FlowRepoEnabled && cfg.FlowRepoBaseURL == "" {
		return nil, errors.New("FLOWREPO_ENABLED is true but FLOWREPO_BASE_URL is not set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseBrokers splits a comma-separated broker list, dropping empty entries.
func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
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

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
