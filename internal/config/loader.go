package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "RUNNER"

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, later sources winning. path may be empty.
// Environment variables carry the RUNNER_ prefix with dots replaced by
// underscores, e.g. ingest.weekly_limit -> RUNNER_INGEST_WEEKLY_LIMIT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see overrides for
// values absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "runner-ingest")
	v.SetDefault("service.environment", "dev")

	v.SetDefault("log.level", "info")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.database", "runner")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.min_conns", 5)
	v.SetDefault("postgres.max_conns", 20)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.cast_created_topic", "runner.cast-created")
	v.SetDefault("kafka.record_events_topic", "runner.record-events")
	v.SetDefault("kafka.group_id", "runner-ingest")
	v.SetDefault("kafka.client_id", "runner-ingest")

	v.SetDefault("neynar.base_url", "")
	v.SetDefault("neynar.api_key", "")
	v.SetDefault("neynar.requests_per_sec", 4.0)
	v.SetDefault("neynar.burst", 8)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.min_confidence", 0.6)
	v.SetDefault("openai.requests_per_sec", 2.0)
	v.SetDefault("openai.burst", 4)

	v.SetDefault("ingest.weekly_limit", 0)
	v.SetDefault("ingest.processed_cache_size", 4096)
	v.SetDefault("ingest.replied_cache_size", 4096)
	v.SetDefault("ingest.in_flight_ceiling", 1024)
	v.SetDefault("ingest.extraction_timeout", "30s")
	v.SetDefault("ingest.reaper_interval", "10m")
	v.SetDefault("ingest.staleness_threshold", "1h")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 0.1)

	v.SetDefault("health.addr", ":8080")
}
