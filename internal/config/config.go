// Package config defines the runtime configuration shared by the ingestor
// and backfill binaries. Values come from an optional YAML file with
// environment overrides layered on top; see Load.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Neynar    NeynarConfig    `mapstructure:"neynar"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// PostgresConfig describes the record database. URL, when set, wins over the
// individual fields.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"required"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=1"`
}

// DSN returns the connection string for pgxpool.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// KafkaConfig describes the event bus connection.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers" validate:"min=1,dive,required"`
	CastCreatedTopic  string   `mapstructure:"cast_created_topic" validate:"required"`
	RecordEventsTopic string   `mapstructure:"record_events_topic" validate:"required"`
	GroupID           string   `mapstructure:"group_id" validate:"required"`
	ClientID          string   `mapstructure:"client_id" validate:"required"`
}

// NeynarConfig describes the Farcaster feed API used by backfills.
// APIKey is intentionally not validated here: a dry run never contacts
// Neynar, so the binary checks it only when it builds the real client.
type NeynarConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" validate:"gt=0"`
	Burst          int     `mapstructure:"burst" validate:"gte=1"`
}

// OpenAIConfig describes the vision model behind workout extraction.
type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model" validate:"required"`
	MinConfidence  float64 `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" validate:"gt=0"`
	Burst          int     `mapstructure:"burst" validate:"gte=1"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// WeeklyLimit caps per-runner submissions over a rolling week.
	// Zero disables the quota.
	WeeklyLimit int `mapstructure:"weekly_limit" validate:"gte=0"`

	ProcessedCacheSize int `mapstructure:"processed_cache_size" validate:"gte=1"`
	RepliedCacheSize   int `mapstructure:"replied_cache_size" validate:"gte=1"`

	// InFlightCeiling force-clears the suppressor when concurrent entries
	// exceed it, trading duplicate suppression for bounded memory.
	InFlightCeiling int `mapstructure:"in_flight_ceiling" validate:"gte=1"`

	ExtractionTimeout  time.Duration `mapstructure:"extraction_timeout" validate:"gt=0"`
	ReaperInterval     time.Duration `mapstructure:"reaper_interval" validate:"gt=0"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold" validate:"gt=0"`
}

// TelemetryConfig controls tracing and metrics export.
type TelemetryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
}

// HealthConfig controls the health and introspection listener.
type HealthConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// ChannelSpec names one Farcaster channel to backfill, with optional
// per-channel overrides of the crawl settings. Zero values fall back to the
// seeder defaults.
type ChannelSpec struct {
	Name     string `yaml:"name"`
	PageSize int    `yaml:"page_size,omitempty"`
	MaxPages int    `yaml:"max_pages,omitempty"`
}

// ChannelList is the document shape of a backfill channel file.
type ChannelList struct {
	Channels []ChannelSpec `yaml:"channels"`
}
