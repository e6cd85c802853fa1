package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Batch runner settings
	Batch BatchConfig `yaml:"batch" json:"batch"`

	// Worker enables the asynchronous evaluation consumer in serve mode.
	Worker WorkerConfig `yaml:"worker" json:"worker"`

	// Policy is the data the rule catalog, scorer, comparator and
	// aggregator are built from.
	Policy Policy `yaml:"policy" json:"policy"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds

	// RateLimitPerMinute caps API requests per tenant. Zero disables it.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute" json:"rateLimitPerMinute"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// BatchConfig holds batch runner settings.
type BatchConfig struct {
	// Workers bounds the number of scenarios evaluated concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Count     int      `yaml:"count" json:"count"`
	TenantIDs []string `yaml:"tenantIds" json:"tenantIds"`
}

// Policy is the swappable compliance data: thresholds, country tiers,
// jurisdiction packs, rule categories, scoring factors and reporting layout.
type Policy struct {
	// Thresholds are numeric constants exposed to rule and scoring
	// expressions as cfg.<name>.
	Thresholds map[string]float64 `yaml:"thresholds" json:"thresholds"`

	ProhibitedCountries []string `yaml:"prohibitedCountries" json:"prohibitedCountries"`
	HighRiskCountries   []string `yaml:"highRiskCountries" json:"highRiskCountries"`

	// Jurisdictions are evaluated in order; each yields one APR-cap deny rule.
	Jurisdictions []JurisdictionPack `yaml:"jurisdictions" json:"jurisdictions"`

	// Categories overrides the rule-to-category mapping by rule ID.
	Categories map[string]string `yaml:"categories" json:"categories,omitempty"`

	// Rules are appended to the built-in catalog, in order, within their tier.
	Rules []RuleSpec `yaml:"rules" json:"rules,omitempty"`

	// DisabledRules removes built-in rules by ID.
	DisabledRules []string `yaml:"disabledRules" json:"disabledRules,omitempty"`

	// RequiredTiers lists tiers that must not be empty for any entity.
	RequiredTiers []Tier `yaml:"requiredTiers" json:"requiredTiers,omitempty"`

	Scoring     ScoringPolicy     `yaml:"scoring" json:"scoring"`
	Comparison  ComparisonPolicy  `yaml:"comparison" json:"comparison"`
	Aggregation AggregationPolicy `yaml:"aggregation" json:"aggregation"`
}

// JurisdictionPack describes one locale's lending limits.
type JurisdictionPack struct {
	Code     string  `yaml:"code" json:"code"`
	Name     string  `yaml:"name" json:"name,omitempty"`
	APRCap   float64 `yaml:"aprCap" json:"aprCap"`
	DenyCode string  `yaml:"denyCode" json:"denyCode"`
}

// RuleSpec is a rule supplied as data.
type RuleSpec struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	Category   string     `yaml:"category" json:"category"`
	Tier       Tier       `yaml:"tier" json:"tier"`
	Entity     EntityKind `yaml:"entity" json:"entity"`
	Code       string     `yaml:"code" json:"code"`
	Message    string     `yaml:"message" json:"message"`
	Expression string     `yaml:"expression" json:"expression"`
}

// ScoringPolicy configures the risk scorer.
type ScoringPolicy struct {
	Base    int           `yaml:"base" json:"base"`
	Factors []ScoreFactor `yaml:"factors" json:"factors"`
}

// ScoreFactor is one signed contribution to the risk score. A factor is
// either banded (first band containing the value supplies the delta) or
// per-unit (value multiplied by PerUnit).
type ScoreFactor struct {
	Name       string      `yaml:"name" json:"name"`
	Entity     EntityKind  `yaml:"entity" json:"entity"`
	Expression string      `yaml:"expression" json:"expression"`
	Bands      []ScoreBand `yaml:"bands" json:"bands,omitempty"`
	PerUnit    float64     `yaml:"perUnit" json:"perUnit,omitempty"`
}

// ScoreBand is a half-open [Min, Max) range. A nil bound is unbounded.
type ScoreBand struct {
	Min   *float64 `yaml:"min" json:"min,omitempty"`
	Max   *float64 `yaml:"max" json:"max,omitempty"`
	Delta int      `yaml:"delta" json:"delta"`
}

// ComparisonPolicy configures the scenario comparator.
type ComparisonPolicy struct {
	// HintPolicy is one of fuzzy-substring, exact, ignore.
	HintPolicy string `yaml:"hintPolicy" json:"hintPolicy"`
}

// AggregationPolicy configures dataset summaries.
type AggregationPolicy struct {
	TopN        int          `yaml:"topN" json:"topN"`
	RiskBuckets []RiskBucket `yaml:"riskBuckets" json:"riskBuckets"`
}

// Default hint policy names.
const (
	HintPolicyFuzzy  = "fuzzy-substring"
	HintPolicyExact  = "exact"
	HintPolicyIgnore = "ignore"
)

// DefaultThresholds returns the built-in monetary and risk thresholds.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		// Transactions
		"ctr_threshold":         10000,
		"structuring_floor":     9000,
		"structuring_min_count": 2,
		"velocity_count_24h":    10,
		"new_account_days":      30,
		"new_account_amount":    5000,
		"large_wire":            50000,

		// Loans
		"min_borrower_age":     18,
		"dti_hard_limit":       0.50,
		"dti_flag":             0.43,
		"jumbo_principal":      766550,
		"combo_apr":            0.25,
		"combo_term_months":    48,
		"combo_credit_score":   640,
		"subprime_credit":      620,
		"apr_near_cap_margin":  0.02,
		"extended_term_months": 360,
		"benchmark_apr":        0.07,
	}
}

// DefaultPolicy returns the built-in policy pack.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:          DefaultThresholds(),
		ProhibitedCountries: []string{"KP", "IR", "SY", "CU"},
		HighRiskCountries:   []string{"AF", "MM", "YE", "VE", "RU", "BY", "SS", "LY"},
		Jurisdictions: []JurisdictionPack{
			{Code: "US-CA", Name: "California", APRCap: 0.36, DenyCode: "US_CA_APR_CAP_EXCEEDED"},
			{Code: "US-NY", Name: "New York", APRCap: 0.25, DenyCode: "US_NY_APR_CAP_EXCEEDED"},
			{Code: "US-IL", Name: "Illinois", APRCap: 0.36, DenyCode: "US_IL_APR_CAP_EXCEEDED"},
			{Code: "US-TX", Name: "Texas", APRCap: 0.30, DenyCode: "US_TX_APR_CAP_EXCEEDED"},
		},
		RequiredTiers: []Tier{TierDeny},
		Scoring: ScoringPolicy{
			Base:    50,
			Factors: DefaultScoreFactors(),
		},
		Comparison: ComparisonPolicy{HintPolicy: HintPolicyFuzzy},
		Aggregation: AggregationPolicy{
			TopN:        10,
			RiskBuckets: DefaultRiskBuckets(),
		},
	}
}

func bound(v float64) *float64 { return &v }

// DefaultScoreFactors returns the built-in risk factors for both entities.
func DefaultScoreFactors() []ScoreFactor {
	return []ScoreFactor{
		{
			Name: "credit_score", Entity: EntityLoan,
			Expression: "borrower.creditScore",
			Bands: []ScoreBand{
				{Max: bound(580), Delta: 25},
				{Min: bound(580), Max: bound(620), Delta: 15},
				{Min: bound(620), Max: bound(680), Delta: 5},
				{Min: bound(680), Max: bound(740), Delta: -5},
				{Min: bound(740), Delta: -15},
			},
		},
		{
			Name: "debt_to_income", Entity: EntityLoan,
			Expression: "borrower.debtToIncome",
			Bands: []ScoreBand{
				{Max: bound(0.20), Delta: -10},
				{Min: bound(0.20), Max: bound(0.36), Delta: 0},
				{Min: bound(0.36), Max: bound(0.43), Delta: 10},
				{Min: bound(0.43), Max: bound(0.50), Delta: 20},
				{Min: bound(0.50), Delta: 30},
			},
		},
		{
			Name: "delinquencies", Entity: EntityLoan,
			Expression: "borrower.delinquencies",
			PerUnit:    5,
		},
		{
			Name: "rate_premium", Entity: EntityLoan,
			Expression: "loan.apr - cfg.benchmark_apr",
			Bands: []ScoreBand{
				{Max: bound(0.02), Delta: -5},
				{Min: bound(0.02), Max: bound(0.08), Delta: 0},
				{Min: bound(0.08), Max: bound(0.15), Delta: 10},
				{Min: bound(0.15), Delta: 20},
			},
		},
		{
			Name: "amount", Entity: EntityTransaction,
			Expression: "tx.amount",
			Bands: []ScoreBand{
				{Max: bound(1000), Delta: -10},
				{Min: bound(1000), Max: bound(10000), Delta: 0},
				{Min: bound(10000), Max: bound(50000), Delta: 10},
				{Min: bound(50000), Delta: 20},
			},
		},
		{
			Name: "velocity_24h", Entity: EntityTransaction,
			Expression: "agg.txCount24h",
			Bands: []ScoreBand{
				{Max: bound(5), Delta: 0},
				{Min: bound(5), Max: bound(10), Delta: 5},
				{Min: bound(10), Delta: 15},
			},
		},
		{
			Name: "pep", Entity: EntityTransaction,
			Expression: "customer.pep ? 1.0 : 0.0",
			PerUnit:    15,
		},
		{
			Name: "watchlist", Entity: EntityTransaction,
			Expression: "customer.watchlistHit ? 1.0 : 0.0",
			PerUnit:    20,
		},
		{
			Name: "high_risk_country", Entity: EntityTransaction,
			Expression: "tx.counterpartyCountry in lists.high_risk_countries ? 1.0 : 0.0",
			PerUnit:    15,
		},
	}
}

// DefaultConfig returns a single-process configuration: SQLite, in-memory
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Batch:  BatchConfig{Workers: 8},
		Worker: WorkerConfig{Count: 5},
		Policy: DefaultPolicy(),
	}
}

// DistributedConfig returns a multi-node configuration:
// PostgreSQL, Redis two-phase cache and NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
