package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/compare"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// FieldError is a validation failure for one configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "server.port".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors:", len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
// Rule expressions are not compiled here; the catalog reports those.
func Validate(cfg *domain.Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout < 0 {
		add("server.readTimeout", "must not be negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		add("server.writeTimeout", "must not be negative")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		add("server.rateLimitPerMinute", "must not be negative")
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			add("repository.sqlitePath", "is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" {
			add("repository.postgresHost", "is required for the postgres driver")
		}
		if cfg.Repository.PostgresDB == "" {
			add("repository.postgresDb", "is required for the postgres driver")
		}
	default:
		add("repository.driver", "must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("cache.redisAddr", "is required for the redis cache")
		}
	default:
		add("cache.type", "must be memory or redis, got %q", cfg.Cache.Type)
	}
	if cfg.Cache.LocalTTL < 0 {
		add("cache.localTtl", "must not be negative")
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			add("eventBus.natsUrl", "is required for the nats bus")
		}
	default:
		add("eventBus.type", "must be channel or nats, got %q", cfg.EventBus.Type)
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if f := cfg.Logging.Format; f != "json" && f != "text" {
		add("logging.format", "must be json or text, got %q", f)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}
	if cfg.Batch.Workers <= 0 {
		add("batch.workers", "must be positive, got %d", cfg.Batch.Workers)
	}
	if cfg.Worker.Count <= 0 {
		add("worker.count", "must be positive, got %d", cfg.Worker.Count)
	}

	errs = append(errs, validatePolicy(&cfg.Policy)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validatePolicy(p *domain.Policy) []FieldError {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: "policy." + field, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(p.Jurisdictions))
	for i, j := range p.Jurisdictions {
		field := fmt.Sprintf("jurisdictions[%d]", i)
		switch {
		case j.Code == "":
			add(field+".code", "is required")
		case seen[j.Code]:
			add(field+".code", "duplicate jurisdiction %q", j.Code)
		}
		seen[j.Code] = true
		if j.APRCap <= 0 || j.APRCap > 1 {
			add(field+".aprCap", "must be in (0, 1], got %v", j.APRCap)
		}
		if j.DenyCode == "" {
			add(field+".denyCode", "is required")
		}
	}

	for i, t := range p.RequiredTiers {
		if t != domain.TierDeny && t != domain.TierFlag {
			add(fmt.Sprintf("requiredTiers[%d]", i), "unknown tier %q", t)
		}
	}

	if p.Scoring.Base < 0 || p.Scoring.Base > 100 {
		add("scoring.base", "must be between 0 and 100, got %d", p.Scoring.Base)
	}

	if _, err := compare.ParseHintPolicy(p.Comparison.HintPolicy); err != nil {
		add("comparison.hintPolicy", "%v", err)
	}

	if p.Aggregation.TopN < 0 {
		add("aggregation.topN", "must not be negative")
	}
	prev := -1
	for i, b := range p.Aggregation.RiskBuckets {
		field := fmt.Sprintf("aggregation.riskBuckets[%d]", i)
		if b.Min > b.Max {
			add(field, "min %d exceeds max %d", b.Min, b.Max)
		}
		if b.Min <= prev {
			add(field, "overlaps the previous bucket")
		}
		if b.Min < 0 || b.Max > 100 {
			add(field, "must lie within [0, 100]")
		}
		prev = b.Max
	}

	return errs
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
