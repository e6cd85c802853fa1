// Package velocity derives the aggregates block of a transaction from the
// account's booked history.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Windows and limits.
const (
	Window24h      = 24 * time.Hour
	RecentWindow   = 7 * 24 * time.Hour
	MaxRecent      = 50
	DefaultTTL     = 30 * time.Second
	cacheKeyPrefix = "agg:"
)

// Service reads history through the repository and caches the derived
// aggregates per account.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets how long derived aggregates are cached.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a velocity service. cache may be nil.
func NewService(repo domain.Repository, c domain.Cache, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		cache:  c,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Aggregates returns the 24h count and volume and the recent activity of
// an account.
func (s *Service) Aggregates(ctx context.Context, tenantID, accountID string) (*domain.AggregateFacts, error) {
	if tenantID == "" || accountID == "" {
		return nil, fmt.Errorf("tenantID and accountID are required")
	}

	key := cacheKeyPrefix + accountID
	if s.cache != nil {
		var cached domain.AggregateFacts
		ok, err := cache.GetJSON(ctx, s.cache, tenantID, key, &cached)
		if err != nil {
			s.logger.Warn("aggregate cache read failed", "account_id", accountID, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	now := s.now()
	txs, err := s.repo.ListTransactionsByAccount(ctx, tenantID, accountID, now.Add(-RecentWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", accountID, err)
	}

	agg := summarize(txs, now)

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, tenantID, key, agg, s.ttl); err != nil {
			s.logger.Warn("aggregate cache write failed", "account_id", accountID, "error", err)
		}
	}
	return agg, nil
}

// summarize builds aggregates from history sorted oldest first. Recent
// activity lists the newest entries first.
func summarize(txs []*domain.TransactionRecord, now time.Time) *domain.AggregateFacts {
	cutoff := now.Add(-Window24h)
	count := 0
	volume := decimal.Zero
	recent := make([]domain.RecentActivity, 0, min(len(txs), MaxRecent))

	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if !tx.Timestamp.Before(cutoff) {
			count++
			volume = volume.Add(tx.Amount)
		}
		if len(recent) < MaxRecent {
			recent = append(recent, domain.RecentActivity{
				Type:      tx.Type,
				Amount:    tx.Amount,
				Timestamp: tx.Timestamp,
			})
		}
	}

	return &domain.AggregateFacts{
		TxCount24h: &count,
		Volume24h:  &volume,
		Recent:     recent,
	}
}

// Enrich fills p.Aggregates for a transaction payload that does not carry
// one. Loans and payloads without an account ID are left untouched.
func (s *Service) Enrich(ctx context.Context, tenantID string, p *domain.Payload) error {
	if p.Kind() != domain.EntityTransaction || p.Aggregates != nil || p.Account == nil || p.Account.ID == "" {
		return nil
	}
	agg, err := s.Aggregates(ctx, tenantID, p.Account.ID)
	if err != nil {
		return err
	}
	p.Aggregates = agg
	return nil
}

// Record books an evaluated transaction into history and drops the
// account's cached aggregates.
func (s *Service) Record(ctx context.Context, tenantID string, p *domain.Payload) error {
	if p.Kind() != domain.EntityTransaction || p.Transaction.ID == "" || p.Account == nil || p.Transaction.Amount == nil {
		return nil
	}

	ts := s.now()
	if p.Transaction.Timestamp != nil {
		ts = *p.Transaction.Timestamp
	}
	rec := &domain.TransactionRecord{
		ID:        p.Transaction.ID,
		AccountID: p.Account.ID,
		Type:      p.Transaction.Type,
		Amount:    *p.Transaction.Amount,
		Currency:  p.Transaction.Currency,
		Timestamp: ts,
	}
	if err := s.repo.SaveTransaction(ctx, tenantID, rec); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, tenantID, cacheKeyPrefix+p.Account.ID); err != nil {
			s.logger.Warn("aggregate cache invalidation failed", "account_id", p.Account.ID, "error", err)
		}
	}
	return nil
}
