// Package worker consumes evaluation requests from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker evaluates requests published to domain.TopicEvaluationRequested.
// At most Config.WorkerCount requests are in flight across all tenants.
type Worker struct {
	bus    domain.EventBus
	svc    *decision.Service
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	invalid   atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants to consume for. At least one is required.
	TenantIDs []string

	// WorkerCount bounds concurrent evaluations.
	WorkerCount int
}

// Response is the reply sent to callers that used bus Request.
type Response struct {
	Evaluation *domain.EvaluationResponse `json:"evaluation,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Field      string                     `json:"field,omitempty"`
}

// NewWorker creates a worker over svc.
func NewWorker(b domain.EventBus, svc *decision.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    b,
		svc:    svc,
		logger: logger.With("component", "worker"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes for every configured tenant.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return errors.New("worker requires at least one tenant")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sem = semaphore.NewWeighted(int64(cfg.WorkerCount))

	for _, tenantID := range cfg.TenantIDs {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEvaluationRequested, w.dispatch(tenantID))
		if err != nil {
			return fmt.Errorf("failed to subscribe for tenant %s: %w", tenantID, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
		w.logger.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicEvaluationRequested,
		)
	}

	w.logger.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// dispatch hands each message to a goroutine once a slot is free. Acquire
// blocks the delivering subscription, which applies backpressure to the bus.
func (w *Worker) dispatch(tenantID string) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		if err := w.sem.Acquire(w.ctx, 1); err != nil {
			return err
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.handle(w.ctx, tenantID, msg)
		}()
		return nil
	}
}

func (w *Worker) handle(ctx context.Context, tenantID string, msg *domain.Message) {
	start := time.Now()

	var req domain.EvaluationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.invalid.Add(1)
		w.logger.Warn("failed to parse evaluation request",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, Response{Error: "malformed request: " + err.Error()})
		return
	}

	traceID := req.RequestID
	if traceID == "" {
		traceID = msg.ID
	}

	eval, err := w.svc.Decide(ctx, tenantID, traceID, &req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			w.invalid.Add(1)
			w.logger.Warn("evaluation request rejected",
				"tenant_id", tenantID,
				"trace_id", traceID,
				"field", verr.Field,
				"error", verr,
			)
			w.reply(ctx, msg, Response{Error: verr.Error(), Field: verr.Field})
			return
		}
		w.failed.Add(1)
		w.logger.Error("evaluation failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		w.reply(ctx, msg, Response{Error: err.Error()})
		return
	}

	w.processed.Add(1)
	w.reply(ctx, msg, Response{Evaluation: eval.ToResponse()})

	w.logger.Info("evaluation processed",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"evaluation_id", eval.ID,
		"decision", eval.Decision,
		"risk_score", eval.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, resp Response) {
	if msg.Metadata[bus.MetaReplyTopic] == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		w.logger.Error("failed to marshal reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := bus.Reply(ctx, w.bus, msg, data); err != nil {
		w.logger.Error("failed to send reply", "message_id", msg.ID, "error", err)
	}
}

// Stop unsubscribes and waits for in-flight evaluations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Invalid           int64    `json:"invalid"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Invalid:           w.invalid.Load(),
		Failed:            w.failed.Load(),
	}
}
