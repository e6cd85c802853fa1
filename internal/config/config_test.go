package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, domain.HintPolicyFuzzy, cfg.Policy.Comparison.HintPolicy)
	assert.Equal(t, domain.DefaultRiskBuckets(), cfg.Policy.Aggregation.RiskBuckets)
	assert.NotEmpty(t, cfg.Policy.Scoring.Factors)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
cache:
  localTtl: 30s
logging:
  level: debug
policy:
  thresholds:
    ctr_threshold: 15000
  jurisdictions:
    - code: GB
      aprCap: 0.40
      denyCode: GB_APR_CAP_EXCEEDED
  comparison:
    hintPolicy: exact
  aggregation:
    topN: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset fields keep their defaults")
	assert.Equal(t, 30*time.Second, cfg.Cache.LocalTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.Equal(t, 15000.0, cfg.Policy.Thresholds["ctr_threshold"])
	assert.Equal(t, 9000.0, cfg.Policy.Thresholds["structuring_floor"], "thresholds merge with defaults")

	require.Len(t, cfg.Policy.Jurisdictions, 1)
	assert.Equal(t, "GB", cfg.Policy.Jurisdictions[0].Code)
	assert.Equal(t, domain.HintPolicyExact, cfg.Policy.Comparison.HintPolicy)
	assert.Equal(t, 3, cfg.Policy.Aggregation.TopN)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KESTREL_SERVER_PORT", "7070")
	t.Setenv("KESTREL_SQLITE_PATH", "/tmp/kestrel-test.db")
	t.Setenv("KESTREL_HINT_POLICY", "ignore")
	t.Setenv("KESTREL_BATCH_WORKERS", "3")
	t.Setenv("KESTREL_DEBUG", "true")
	t.Setenv("KESTREL_TENANTS", "alpha, beta,,gamma")
	t.Setenv("KESTREL_CACHE_TTL", "not-a-duration")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, "/tmp/kestrel-test.db", cfg.Repository.SQLitePath)
	assert.Equal(t, domain.HintPolicyIgnore, cfg.Policy.Comparison.HintPolicy)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, cfg.Worker.TenantIDs)
	assert.Equal(t, 5*time.Minute, cfg.Cache.LocalTTL, "unparseable values are ignored")
}

func TestDistributedProfile(t *testing.T) {
	t.Setenv("KESTREL_PROFILE", "distributed")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Worker.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		field  string
	}{
		{"port out of range", func(c *domain.Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative rate limit", func(c *domain.Config) { c.Server.RateLimitPerMinute = -1 }, "server.rateLimitPerMinute"},
		{"unknown driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "repository.driver"},
		{"postgres without host", func(c *domain.Config) {
			c.Repository.Driver = "postgres"
			c.Repository.PostgresDB = "kestrel"
		}, "repository.postgresHost"},
		{"redis without addr", func(c *domain.Config) { c.Cache.Type = "redis" }, "cache.redisAddr"},
		{"nats without url", func(c *domain.Config) { c.EventBus.Type = "nats" }, "eventBus.natsUrl"},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"bad log format", func(c *domain.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"no batch workers", func(c *domain.Config) { c.Batch.Workers = 0 }, "batch.workers"},
		{"bad hint policy", func(c *domain.Config) { c.Policy.Comparison.HintPolicy = "loose" }, "policy.comparison.hintPolicy"},
		{"duplicate jurisdiction", func(c *domain.Config) {
			c.Policy.Jurisdictions = append(c.Policy.Jurisdictions, c.Policy.Jurisdictions[0])
		}, "policy.jurisdictions[4].code"},
		{"apr cap out of range", func(c *domain.Config) { c.Policy.Jurisdictions[0].APRCap = 1.5 }, "policy.jurisdictions[0].aprCap"},
		{"overlapping buckets", func(c *domain.Config) {
			c.Policy.Aggregation.RiskBuckets = []domain.RiskBucket{{Min: 0, Max: 50}, {Min: 50, Max: 100}}
		}, "policy.aggregation.riskBuckets[1]"},
		{"unknown tier", func(c *domain.Config) { c.Policy.RequiredTiers = []domain.Tier{"WARN"} }, "policy.requiredTiers[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			var ve ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)

			fields := make([]string, len(ve.Errors))
			for i, fe := range ve.Errors {
				fields[i] = fe.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	assert.NoError(t, Validate(domain.DefaultConfig()))
	assert.NoError(t, Validate(domain.DistributedConfig()))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
