package decision

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// History enriches payloads with derived aggregates and books evaluated
// transactions. velocity.Service implements it.
type History interface {
	Enrich(ctx context.Context, tenantID string, p *domain.Payload) error
	Record(ctx context.Context, tenantID string, p *domain.Payload) error
}

// Service runs the online decision flow shared by the HTTP API and the
// bus worker: enrich, evaluate, persist, book, publish.
type Service struct {
	proc    *Processor
	repo    domain.Repository
	history History
	bus     domain.EventBus
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRepository persists every evaluation.
func WithRepository(r domain.Repository) ServiceOption {
	return func(s *Service) { s.repo = r }
}

// WithHistory enables aggregate enrichment and booking.
func WithHistory(h History) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithBus publishes decisions to domain.TopicDecision, and denials also to
// domain.TopicDecisionDenied.
func WithBus(b domain.EventBus) ServiceOption {
	return func(s *Service) { s.bus = b }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService wraps proc. Every collaborator is optional.
func NewService(proc *Processor, opts ...ServiceOption) *Service {
	s := &Service{proc: proc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Processor returns the wrapped processor.
func (s *Service) Processor() *Processor { return s.proc }

// Decide evaluates one request. Validation failures are returned as
// *domain.ValidationError and nothing is stored. Side effects after the
// evaluation are logged, not returned.
func (s *Service) Decide(ctx context.Context, tenantID, traceID string, req *domain.EvaluationRequest) (*domain.Evaluation, error) {
	payload := req.Payload

	if s.history != nil {
		if err := s.history.Enrich(ctx, tenantID, &payload); err != nil {
			s.logger.Warn("aggregate enrichment failed, evaluating without history",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	eval, err := s.proc.Evaluate(ctx, &Input{
		TenantID: tenantID,
		TraceID:  traceID,
		Payload:  payload,
	})
	if err != nil {
		return nil, err
	}
	if req.SubjectID != "" {
		eval.SubjectID = req.SubjectID
	}

	if s.repo != nil {
		if err := s.repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			s.logger.Error("failed to save evaluation", "evaluation_id", eval.ID, "error", err)
		}
	}

	// Denied transactions never happened, so they stay out of history.
	if s.history != nil && eval.Decision != domain.DecisionDeny {
		if err := s.history.Record(ctx, tenantID, &payload); err != nil {
			s.logger.Error("failed to record transaction", "evaluation_id", eval.ID, "error", err)
		}
	}

	if s.bus != nil {
		s.publish(ctx, tenantID, eval)
	}
	return eval, nil
}

func (s *Service) publish(ctx context.Context, tenantID string, eval *domain.Evaluation) {
	data, err := json.Marshal(eval)
	if err != nil {
		s.logger.Error("failed to marshal evaluation", "evaluation_id", eval.ID, "error", err)
		return
	}

	topics := []string{domain.TopicDecision}
	if eval.Decision == domain.DecisionDeny {
		topics = append(topics, domain.TopicDecisionDenied)
	}
	for _, topic := range topics {
		if err := s.bus.Publish(ctx, tenantID, topic, data); err != nil {
			s.logger.Error("failed to publish decision",
				"evaluation_id", eval.ID,
				"topic", topic,
				"error", err,
			)
		}
	}
}
