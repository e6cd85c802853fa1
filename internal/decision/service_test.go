package decision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeHistory struct {
	mu        sync.Mutex
	count     int
	enrichErr error
	recorded  []string
}

func (h *fakeHistory) Enrich(_ context.Context, _ string, p *domain.Payload) error {
	if h.enrichErr != nil {
		return h.enrichErr
	}
	if p.Transaction != nil && p.Aggregates == nil {
		count := h.count
		p.Aggregates = &domain.AggregateFacts{TxCount24h: &count}
	}
	return nil
}

func (h *fakeHistory) Record(_ context.Context, _ string, p *domain.Payload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, p.Transaction.ID)
	return nil
}

type fakeRepo struct {
	domain.Repository
	mu    sync.Mutex
	saved map[string]*domain.Evaluation
}

func (r *fakeRepo) SaveEvaluation(_ context.Context, tenantID string, eval *domain.Evaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[string]*domain.Evaluation)
	}
	r.saved[tenantID+"/"+eval.ID] = eval
	return nil
}

func TestServiceDecide(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	denied := make(chan *domain.Message, 4)
	decided := make(chan *domain.Message, 4)
	_, _ = eventBus.Subscribe(ctx, "tenant-001", domain.TopicDecisionDenied, func(_ context.Context, m *domain.Message) error {
		denied <- m
		return nil
	})
	_, _ = eventBus.Subscribe(ctx, "tenant-001", domain.TopicDecision, func(_ context.Context, m *domain.Message) error {
		decided <- m
		return nil
	})

	history := &fakeHistory{}
	repo := &fakeRepo{}
	svc := NewService(newProcessor(t), WithHistory(history), WithRepository(repo), WithBus(eventBus))

	t.Run("AllowedTransactionIsBooked", func(t *testing.T) {
		eval, err := svc.Decide(ctx, "tenant-001", "trace-1", &domain.EvaluationRequest{Payload: cashTransaction("120")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Decision != domain.DecisionAllow {
			t.Errorf("expected ALLOW, got %s", eval.Decision)
		}
		if _, ok := repo.saved["tenant-001/"+eval.ID]; !ok {
			t.Error("expected evaluation to be saved")
		}
		if len(history.recorded) != 1 || history.recorded[0] != "tx-001" {
			t.Errorf("expected tx-001 to be booked, got %v", history.recorded)
		}

		select {
		case <-decided:
		case <-time.After(time.Second):
			t.Fatal("expected a decision event")
		}
	})

	t.Run("DenialIsPublishedAndNotBooked", func(t *testing.T) {
		history.recorded = nil
		p := cashTransaction("120")
		p.Account.Status = domain.AccountFrozen

		eval, err := svc.Decide(ctx, "tenant-001", "", &domain.EvaluationRequest{SubjectID: "custom-subject", Payload: p})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Decision != domain.DecisionDeny {
			t.Fatalf("expected DENY, got %s", eval.Decision)
		}
		if eval.SubjectID != "custom-subject" {
			t.Errorf("expected request subject to win, got %s", eval.SubjectID)
		}
		if len(history.recorded) != 0 {
			t.Errorf("denied transactions must not be booked, got %v", history.recorded)
		}

		select {
		case <-denied:
		case <-time.After(time.Second):
			t.Fatal("expected a denial event")
		}
	})

	t.Run("ValidationErrorStoresNothing", func(t *testing.T) {
		before := len(repo.saved)
		_, err := svc.Decide(ctx, "tenant-001", "", &domain.EvaluationRequest{Payload: domain.Payload{}})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got: %v", err)
		}
		if len(repo.saved) != before {
			t.Error("invalid requests must not be saved")
		}
	})

	t.Run("EnrichmentFailureIsTolerated", func(t *testing.T) {
		history.enrichErr = errors.New("history unavailable")
		defer func() { history.enrichErr = nil }()

		if _, err := svc.Decide(ctx, "tenant-001", "", &domain.EvaluationRequest{Payload: cashTransaction("120")}); err != nil {
			t.Errorf("expected evaluation without history, got: %v", err)
		}
	})
}

func TestServiceWithoutCollaborators(t *testing.T) {
	svc := NewService(newProcessor(t))
	eval, err := svc.Decide(context.Background(), "tenant-001", "", &domain.EvaluationRequest{Payload: loanApplication(0.45, 36, 700)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != domain.DecisionDeny {
		t.Errorf("expected DENY for APR above the cap, got %s", eval.Decision)
	}
	if svc.Processor() == nil {
		t.Error("expected processor accessor")
	}
}
