// Package config loads Kestrel configuration from YAML files and the
// environment.
//
// Loading order:
//  1. Start from domain.DefaultConfig() (or DistributedConfig() when
//     KESTREL_PROFILE=distributed)
//  2. Overlay the YAML file, if any
//  3. Fill remaining zero values with defaults
//  4. Apply KESTREL_* environment overrides
//  5. Validate
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ProfileDistributed selects domain.DistributedConfig as the base.
const ProfileDistributed = "distributed"

// Load reads the configuration at path. An empty path yields the defaults
// with environment overrides applied.
func Load(path string) (*domain.Config, error) {
	cfg := base()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func base() *domain.Config {
	if strings.EqualFold(os.Getenv("KESTREL_PROFILE"), ProfileDistributed) {
		return domain.DistributedConfig()
	}
	return domain.DefaultConfig()
}

// ApplyDefaults fills zero values left by a partial file.
func ApplyDefaults(cfg *domain.Config) {
	def := domain.DefaultConfig()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}

	if cfg.Repository.Driver == "" {
		cfg.Repository.Driver = def.Repository.Driver
	}
	if cfg.Repository.Driver == "sqlite" && cfg.Repository.SQLitePath == "" {
		cfg.Repository.SQLitePath = def.Repository.SQLitePath
	}
	if cfg.Repository.PostgresPort == 0 {
		cfg.Repository.PostgresPort = 5432
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = def.Cache.Type
	}
	if cfg.Cache.LocalMaxSize == 0 {
		cfg.Cache.LocalMaxSize = def.Cache.LocalMaxSize
	}
	if cfg.Cache.LocalTTL == 0 {
		cfg.Cache.LocalTTL = def.Cache.LocalTTL
	}

	if cfg.EventBus.Type == "" {
		cfg.EventBus.Type = def.EventBus.Type
	}
	if cfg.EventBus.ChannelBufferSize == 0 {
		cfg.EventBus.ChannelBufferSize = def.EventBus.ChannelBufferSize
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = def.Tracing.ServiceName
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = def.Batch.Workers
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = def.Worker.Count
	}

	p := &cfg.Policy
	if p.Thresholds == nil {
		p.Thresholds = domain.DefaultThresholds()
	}
	if p.Scoring.Base == 0 && len(p.Scoring.Factors) == 0 {
		p.Scoring = def.Policy.Scoring
	}
	if p.Comparison.HintPolicy == "" {
		p.Comparison.HintPolicy = domain.HintPolicyFuzzy
	}
	if p.Aggregation.TopN == 0 {
		p.Aggregation.TopN = def.Policy.Aggregation.TopN
	}
	if len(p.Aggregation.RiskBuckets) == 0 {
		p.Aggregation.RiskBuckets = domain.DefaultRiskBuckets()
	}
}

// applyEnvOverrides applies KESTREL_* variables. Unparseable numeric and
// boolean values are ignored.
func applyEnvOverrides(cfg *domain.Config) {
	if val := os.Getenv("KESTREL_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("KESTREL_SERVER_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = i
		}
	}

	if val := os.Getenv("KESTREL_RATE_LIMIT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.RateLimitPerMinute = i
		}
	}

	if val := os.Getenv("KESTREL_REPOSITORY_DRIVER"); val != "" {
		cfg.Repository.Driver = val
	}
	if val := os.Getenv("KESTREL_SQLITE_PATH"); val != "" {
		cfg.Repository.SQLitePath = val
	}
	if val := os.Getenv("KESTREL_POSTGRES_HOST"); val != "" {
		cfg.Repository.PostgresHost = val
	}
	if val := os.Getenv("KESTREL_POSTGRES_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Repository.PostgresPort = i
		}
	}
	if val := os.Getenv("KESTREL_POSTGRES_USER"); val != "" {
		cfg.Repository.PostgresUser = val
	}
	if val := os.Getenv("KESTREL_POSTGRES_PASSWORD"); val != "" {
		cfg.Repository.PostgresPassword = val
	}
	if val := os.Getenv("KESTREL_POSTGRES_DB"); val != "" {
		cfg.Repository.PostgresDB = val
	}

	if val := os.Getenv("KESTREL_CACHE_TYPE"); val != "" {
		cfg.Cache.Type = val
	}
	if val := os.Getenv("KESTREL_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.LocalTTL = d
		}
	}
	if val := os.Getenv("KESTREL_REDIS_ADDR"); val != "" {
		cfg.Cache.RedisAddr = val
	}
	if val := os.Getenv("KESTREL_REDIS_PASSWORD"); val != "" {
		cfg.Cache.RedisPassword = val
	}

	if val := os.Getenv("KESTREL_BUS_TYPE"); val != "" {
		cfg.EventBus.Type = val
	}
	if val := os.Getenv("KESTREL_NATS_URL"); val != "" {
		cfg.EventBus.NATSUrl = val
	}

	if val := os.Getenv("KESTREL_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if val := os.Getenv("KESTREL_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("KESTREL_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tracing.Enabled = b
		}
	}

	if val := os.Getenv("KESTREL_HINT_POLICY"); val != "" {
		cfg.Policy.Comparison.HintPolicy = val
	}
	if val := os.Getenv("KESTREL_BATCH_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Batch.Workers = i
		}
	}

	if val := os.Getenv("KESTREL_WORKER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Worker.Enabled = b
		}
	}
	if val := os.Getenv("KESTREL_TENANTS"); val != "" {
		var tenants []string
		for _, t := range strings.Split(val, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenants = append(tenants, t)
			}
		}
		cfg.Worker.TenantIDs = tenants
	}
}
