package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Processing.
	DataRoot          string
	GridsConfig       string
	MaxAttempts       int
	Wgrib2Path        string
	DownloadTimeout   time.Duration
	ReflectivityFloor float64

	// Remote sources.
	HRRRBaseURL    string
	MRMSArchiveURL string
	MRMSCloudURL   string
	MRMSCutover    time.Time

	// Service layer.
	HistorySize      int
	RetentionEnabled bool
	RetentionAge     time.Duration
	RetentionHour    int

	// Request topic intake (feature-flagged via KAFKA_ENABLED).
	KafkaEnabled         bool
	KafkaBrokers         []string
	KafkaRequestTopic    string
	KafkaCompletionTopic string
	KafkaGroupID         string
	BatchSize            int
	BatchFlushInterval   time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	maxAttempts, err := positiveInt("MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	downloadTimeout, err := positiveDuration("DOWNLOAD_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	floor, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("REFLECTIVITY_FLOOR", "0"), 64)
	if err != nil {
		return nil, errors.New("invalid REFLECTIVITY_FLOOR")
	}
	cutover, err := time.Parse(time.RFC3339, sharedcfg.EnvOrDefault("MRMS_CUTOVER", "2020-10-15T00:00:00Z"))
	if err != nil {
		return nil, errors.New("invalid MRMS_CUTOVER: must be RFC 3339")
	}
	historySize, err := positiveInt("HISTORY_SIZE", 50)
	if err != nil {
		return nil, err
	}
	retentionDays, err := positiveInt("RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}
	retentionHour, err := strconv.Atoi(sharedcfg.EnvOrDefault("RETENTION_HOUR", "6"))
	if err != nil || retentionHour < 0 || retentionHour > 23 {
		return nil, errors.New("invalid RETENTION_HOUR: must be 0-23")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":5001"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DataRoot:          sharedcfg.EnvOrDefault("DATA_ROOT", "./data"),
		GridsConfig:       sharedcfg.EnvOrDefault("GRIDS_CONFIG", "./configs/grids.yaml"),
		MaxAttempts:       maxAttempts,
		Wgrib2Path:        sharedcfg.EnvOrDefault("WGRIB2_PATH", "wgrib2"),
		DownloadTimeout:   downloadTimeout,
		ReflectivityFloor: floor,

		HRRRBaseURL:    sharedcfg.EnvOrDefault("HRRR_BASE_URL", "https://noaa-hrrr-bdp-pds.s3.amazonaws.com"),
		MRMSArchiveURL: sharedcfg.EnvOrDefault("MRMS_ARCHIVE_URL", "https://mtarchive.geol.iastate.edu"),
		MRMSCloudURL:   sharedcfg.EnvOrDefault("MRMS_CLOUD_URL", "https://noaa-mrms-pds.s3.amazonaws.com"),
		MRMSCutover:    cutover.UTC(),

		HistorySize:      historySize,
		RetentionEnabled: os.Getenv("RETENTION_ENABLED") != "false",
		RetentionAge:     time.Duration(retentionDays) * 24 * time.Hour,
		RetentionHour:    retentionHour,

		KafkaEnabled:         os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:         sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:    sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "lake-forcing-requests"),
		KafkaCompletionTopic: sharedcfg.EnvOrDefault("KAFKA_COMPLETION_TOPIC", "lake-forcing-completions"),
		KafkaGroupID:         sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "lake-forcing-etl"),
		BatchSize:            batchSize,
		BatchFlushInterval:   flushInterval,
	}

	if cfg.DataRoot == "" {
		return nil, errors.New("DATA_ROOT is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaRequestTopic == "" {
			return nil, errors.New("KAFKA_REQUEST_TOPIC is required")
		}
		if cfg.KafkaCompletionTopic == "" {
			return nil, errors.New("KAFKA_COMPLETION_TOPIC is required")
		}
	}

	return cfg, nil
}

func positiveInt(key string, def int) (int, error) {
	s := sharedcfg.EnvOrDefault(key, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func positiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}
