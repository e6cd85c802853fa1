// Package decision combines the rule evaluator and the risk scorer into a
// single auditable evaluation.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/facts"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// EngineVersion is reported in evaluation metadata.
const EngineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-decision")

// Processor evaluates fact contexts. It holds no mutable state and is safe
// for concurrent use.
type Processor struct {
	registry *rules.Registry
	scorer   *scoring.Scorer
	builder  *facts.Builder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics records decisions and rule matches.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a Processor over a built registry and scorer.
func NewProcessor(registry *rules.Registry, scorer *scoring.Scorer, opts ...Option) *Processor {
	p := &Processor{
		registry: registry,
		scorer:   scorer,
		builder:  facts.NewBuilder(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// New builds the registry and scorer from policy.
func New(policy domain.Policy, opts ...Option) (*Processor, error) {
	registry, err := rules.BuildRegistry(policy)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.New(registry.Env(), policy.Scoring)
	if err != nil {
		return nil, fmt.Errorf("failed to build scorer: %w", err)
	}
	return NewProcessor(registry, scorer, opts...), nil
}

// Registry returns the rule registry.
func (p *Processor) Registry() *rules.Registry { return p.registry }

// Input is a raw evaluation request.
type Input struct {
	TenantID   string
	TraceID    string
	Payload    domain.Payload
	Aggregates *domain.AggregateFacts
}

// Build validates a payload into a context.
func (p *Processor) Build(payload domain.Payload, agg *domain.AggregateFacts) (*facts.Context, error) {
	fc, err := p.builder.Build(payload, agg)
	if err != nil {
		p.metrics.RecordInvalid()
		return nil, err
	}
	return fc, nil
}

// Evaluate validates the input and processes it. Validation failures are
// returned as *domain.ValidationError.
func (p *Processor) Evaluate(ctx context.Context, in *Input) (*domain.Evaluation, error) {
	fc, err := p.Build(in.Payload, in.Aggregates)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, in.TenantID, in.TraceID, fc)
}

// Process runs the catalog and the scorer over fc. The risk score is
// computed for every outcome, denials included.
func (p *Processor) Process(ctx context.Context, tenantID, traceID string, fc *facts.Context) (*domain.Evaluation, error) {
	start := time.Now()

	catalog, ok := p.registry.For(fc.Kind())
	if !ok {
		return nil, fmt.Errorf("no rule catalog for entity %q", fc.Kind())
	}

	_, span := tracer.Start(ctx, "decision.process",
		trace.WithAttributes(
			attribute.String("entity", string(fc.Kind())),
			attribute.String("tenant.id", tenantID),
		),
	)
	defer span.End()

	outcome := rules.Evaluate(fc, catalog)
	score := p.scorer.Score(fc)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("decision", string(outcome.Decision)),
		attribute.Int("risk_score", score.Score),
		attribute.Int("rules_evaluated", outcome.Evaluated),
	)

	eval := &domain.Evaluation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SubjectID: fc.SubjectID(),
		Entity:    fc.Kind(),
		Decision:  outcome.Decision,
		Flags:     outcome.Flags,
		Matches:   outcome.Matches,
		RiskScore: score.Score,
		Factors:   score.Contributions,
		Timestamp: time.Now().UTC(),
		Metadata: domain.EvaluationMetadata{
			TraceID:        traceID,
			RulesEvaluated: outcome.Evaluated,
			ShortCircuited: outcome.ShortCircuited,
			DurationMicros: elapsed.Microseconds(),
			EngineVersion:  EngineVersion,
		},
	}

	p.metrics.RecordDecision(string(eval.Entity), string(eval.Decision), eval.RiskScore, elapsed)
	for _, m := range eval.Matches {
		p.metrics.RecordRuleMatch(m.RuleID, string(m.Tier))
	}

	p.logger.Debug("evaluation complete",
		"evaluation_id", eval.ID,
		"tenant_id", tenantID,
		"entity", eval.Entity,
		"decision", eval.Decision,
		"risk_score", eval.RiskScore,
		"flags", len(eval.Flags),
	)

	return eval, nil
}
