// Package batch evaluates validation datasets with a bounded worker pool and
// reduces the per-worker aggregates into a single summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/compare"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultWorkers is used when no worker count is configured.
const DefaultWorkers = 8

// Runner evaluates scenarios. A Runner is safe for concurrent use; every
// Run gets its own accumulators.
type Runner struct {
	proc        *decision.Processor
	comparator  *compare.Comparator
	aggCfg      aggregate.Config
	workers     int
	keepResults bool
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds the number of concurrent evaluations.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithResults keeps every per-scenario result in the returned Report.
func WithResults(keep bool) Option {
	return func(r *Runner) { r.keepResults = keep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. Rule categories from the processor's registry
// fill in any category mapping not set on cfg.
func NewRunner(proc *decision.Processor, comparator *compare.Comparator, cfg aggregate.Config, opts ...Option) *Runner {
	if cfg.Categories == nil {
		cfg.Categories = proc.Registry().Categories()
	}
	r := &Runner{
		proc:       proc,
		comparator: comparator,
		aggCfg:     cfg,
		workers:    DefaultWorkers,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report is the outcome of one Run.
type Report struct {
	Run     domain.Run               `json:"run"`
	Results []*domain.ScenarioResult `json:"results,omitempty"`
}

// Summary returns the run's dataset summary.
func (r *Report) Summary() domain.DatasetSummary { return r.Run.Summary }

type job struct {
	seq      int64
	scenario *domain.Scenario
}

// Run evaluates scenarios and aggregates them. Invalid scenarios are counted
// and the batch continues. When ctx is cancelled, Run stops submitting
// scenarios and returns the partial report together with the context error.
func (r *Runner) Run(ctx context.Context, tenantID, dataset string, scenarios []domain.Scenario) (*Report, error) {
	start := time.Now()
	report := &Report{
		Run: domain.Run{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			Dataset:   dataset,
			StartedAt: start.UTC(),
		},
	}
	if r.keepResults {
		report.Results = make([]*domain.ScenarioResult, len(scenarios))
	}

	workers := min(r.workers, max(len(scenarios), 1))
	partials := make([]*aggregate.Accumulator, workers)
	jobs := make(chan job)

	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		acc := aggregate.New(r.aggCfg)
		partials[w] = acc
		g.Go(func() error {
			for j := range jobs {
				res, err := r.EvaluateScenario(gctx, tenantID, j.seq, j.scenario)
				if err != nil {
					if domain.IsValidation(err) {
						acc.RecordInvalid(j.seq, j.scenario.ID, err)
						r.logger.Debug("invalid scenario",
							"run_id", report.Run.ID,
							"scenario_id", j.scenario.ID,
							"seq", j.seq,
							"error", err,
						)
						continue
					}
					return fmt.Errorf("scenario %q: %w", j.scenario.ID, err)
				}
				acc.Accumulate(res)
				if r.keepResults {
					report.Results[j.seq] = res
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range scenarios {
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case jobs <- job{seq: int64(i), scenario: &scenarios[i]}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	runErr := g.Wait()

	total := aggregate.New(r.aggCfg)
	for _, p := range partials {
		if err := total.Merge(p); err != nil {
			return nil, fmt.Errorf("failed to merge partial summaries: %w", err)
		}
	}

	report.Run.Summary = total.Finalize()
	report.Run.FinishedAt = time.Now().UTC()
	if r.keepResults {
		report.Results = compact(report.Results)
	}

	r.logger.Info("batch run complete",
		"run_id", report.Run.ID,
		"tenant_id", tenantID,
		"dataset", dataset,
		"total", report.Run.Summary.Total,
		"passed", report.Run.Summary.Passed,
		"failed", report.Run.Summary.Failed,
		"invalid", report.Run.Summary.Invalid,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(runErr, ctxErr) {
			return report, ctxErr
		}
		return report, runErr
	}
	return report, nil
}

// EvaluateScenario evaluates and compares a single scenario. A scenario
// without a recognised expected decision is reported as a validation error.
func (r *Runner) EvaluateScenario(ctx context.Context, tenantID string, seq int64, sc *domain.Scenario) (*domain.ScenarioResult, error) {
	if !sc.Expected.Decision.Valid() {
		return nil, &domain.ValidationError{Field: "expected.decision", Reason: fmt.Sprintf("unknown decision %q", sc.Expected.Decision)}
	}

	fc, err := r.proc.Build(sc.Payload, nil)
	if err != nil {
		return nil, err
	}
	eval, err := r.proc.Process(ctx, tenantID, sc.ID, fc)
	if err != nil {
		return nil, err
	}

	cmp := r.comparator.Compare(eval.Decision, eval.Flags, sc.Expected)
	return &domain.ScenarioResult{
		Seq:          seq,
		ScenarioID:   sc.ID,
		Entity:       eval.Entity,
		Jurisdiction: fc.Jurisdiction(),
		Decision:     eval.Decision,
		Flags:        eval.Flags,
		Matches:      eval.Matches,
		RiskScore:    eval.RiskScore,
		Expected:     sc.Expected,
		Passed:       cmp.Passed,
		Comparison:   cmp,
	}, nil
}

func compact(results []*domain.ScenarioResult) []*domain.ScenarioResult {
	out := results[:0]
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}
