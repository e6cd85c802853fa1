// Package aggregate rolls scenario results up into a DatasetSummary.
//
// An Accumulator processes one result at a time and keeps only counters,
// so memory is bounded by the number of distinct rules, jurisdictions and
// categories rather than by dataset size. Partial accumulators built over
// disjoint scenario sets merge into the same summary a single accumulator
// would have produced.
package aggregate

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Defaults.
const (
	DefaultTopN              = 10
	DefaultMaxInvalidSamples = 100
	UnknownJurisdiction      = "UNKNOWN"
	Uncategorized            = "uncategorized"
)

// Config is the run-scoped aggregation layout.
type Config struct {
	TopN    int
	Buckets []domain.RiskBucket
	// Categories maps rule IDs to reporting categories.
	Categories map[string]string
	// MaxInvalidSamples bounds how many invalid scenarios are itemised.
	MaxInvalidSamples int
}

// firstSeen orders rule occurrences by scenario position, then trail index.
type firstSeen struct {
	seq   int64
	index int
}

func (a firstSeen) less(b firstSeen) bool {
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.index < b.index
}

type ruleStat struct {
	count    int
	first    firstSeen
	category string
}

type jurisdictionStat struct {
	scenarios int
	passed    int
	decisions map[domain.Decision]int
}

// Accumulator is run-scoped mutable state. It is not safe for concurrent
// use; give each worker its own and Merge them.
type Accumulator struct {
	cfg Config

	total     int
	evaluated int
	invalid   int
	passed    int
	riskSum   int64

	decisions     map[domain.Decision]int
	rules         map[string]*ruleStat
	categories    map[string]int
	jurisdictions map[string]*jurisdictionStat
	histogram     []int
	invalidItems  []domain.InvalidScenario
}

// New creates an empty Accumulator.
func New(cfg Config) *Accumulator {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = domain.DefaultRiskBuckets()
	} else {
		cfg.Buckets = slices.Clone(cfg.Buckets)
	}
	if cfg.MaxInvalidSamples <= 0 {
		cfg.MaxInvalidSamples = DefaultMaxInvalidSamples
	}

	return &Accumulator{
		cfg:           cfg,
		decisions:     make(map[domain.Decision]int),
		rules:         make(map[string]*ruleStat),
		categories:    make(map[string]int),
		jurisdictions: make(map[string]*jurisdictionStat),
		histogram:     make([]int, len(cfg.Buckets)),
	}
}

// Fresh returns an empty Accumulator with the same layout.
func (a *Accumulator) Fresh() *Accumulator {
	return New(a.cfg)
}

// Accumulate adds one evaluated scenario.
func (a *Accumulator) Accumulate(r *domain.ScenarioResult) {
	a.total++
	a.evaluated++
	if r.Passed {
		a.passed++
	}
	a.decisions[r.Decision]++

	score := min(max(r.RiskScore, 0), 100)
	a.riskSum += int64(score)
	for i, b := range a.cfg.Buckets {
		if score >= b.Min && score <= b.Max {
			a.histogram[i]++
			break
		}
	}

	at := r.Jurisdiction
	if at == "" {
		at = UnknownJurisdiction
	}
	js, ok := a.jurisdictions[at]
	if !ok {
		js = &jurisdictionStat{decisions: make(map[domain.Decision]int)}
		a.jurisdictions[at] = js
	}
	js.scenarios++
	js.decisions[r.Decision]++
	if r.Passed {
		js.passed++
	}

	for i, m := range r.Matches {
		seen := firstSeen{seq: r.Seq, index: i}
		stat, ok := a.rules[m.RuleID]
		if !ok {
			stat = &ruleStat{first: seen, category: a.categoryOf(m.RuleID)}
			a.rules[m.RuleID] = stat
		} else if seen.less(stat.first) {
			stat.first = seen
		}
		stat.count++
		a.categories[stat.category]++
	}
}

// RecordInvalid counts a scenario that could not be evaluated. Invalid
// scenarios never count as passed or failed.
func (a *Accumulator) RecordInvalid(seq int64, scenarioID string, err error) {
	a.total++
	a.invalid++

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.invalidItems = appendInvalid(a.invalidItems, a.cfg.MaxInvalidSamples, domain.InvalidScenario{
		Seq:        seq,
		ScenarioID: scenarioID,
		Error:      msg,
	})
}

// appendInvalid keeps the lowest-seq samples so the retained set does not
// depend on arrival order.
func appendInvalid(items []domain.InvalidScenario, limit int, add ...domain.InvalidScenario) []domain.InvalidScenario {
	items = append(items, add...)
	slices.SortFunc(items, func(x, y domain.InvalidScenario) int {
		return cmp.Or(cmp.Compare(x.Seq, y.Seq), cmp.Compare(x.ScenarioID, y.ScenarioID))
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (a *Accumulator) categoryOf(ruleID string) string {
	if c, ok := a.cfg.Categories[ruleID]; ok && c != "" {
		return c
	}
	return Uncategorized
}

// Merge folds other into a. Both must share the same bucket layout and
// top-N size; otherwise a *domain.AggregationError is returned and a is
// left unchanged.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other == nil {
		return nil
	}
	if !slices.Equal(a.cfg.Buckets, other.cfg.Buckets) {
		return &domain.AggregationError{Reason: fmt.Sprintf("histogram buckets differ: %v vs %v", a.cfg.Buckets, other.cfg.Buckets)}
	}
	if a.cfg.TopN != other.cfg.TopN {
		return &domain.AggregationError{Reason: fmt.Sprintf("top-N differs: %d vs %d", a.cfg.TopN, other.cfg.TopN)}
	}

	a.total += other.total
	a.evaluated += other.evaluated
	a.invalid += other.invalid
	a.passed += other.passed
	a.riskSum += other.riskSum

	for d, n := range other.decisions {
		a.decisions[d] += n
	}
	for i, n := range other.histogram {
		a.histogram[i] += n
	}
	for c, n := range other.categories {
		a.categories[c] += n
	}
	for id, os := range other.rules {
		stat, ok := a.rules[id]
		if !ok {
			cp := *os
			a.rules[id] = &cp
			continue
		}
		stat.count += os.count
		if os.first.less(stat.first) {
			stat.first = os.first
		}
	}
	for j, oj := range other.jurisdictions {
		js, ok := a.jurisdictions[j]
		if !ok {
			js = &jurisdictionStat{decisions: make(map[domain.Decision]int)}
			a.jurisdictions[j] = js
		}
		js.scenarios += oj.scenarios
		js.passed += oj.passed
		for d, n := range oj.decisions {
			js.decisions[d] += n
		}
	}
	a.invalidItems = appendInvalid(a.invalidItems, a.cfg.MaxInvalidSamples, other.invalidItems...)

	return nil
}

// Finalize projects the current state into a summary. It does not modify
// the accumulator and may be called any number of times.
func (a *Accumulator) Finalize() domain.DatasetSummary {
	s := domain.DatasetSummary{
		Total:            a.total,
		Evaluated:        a.evaluated,
		Invalid:          a.invalid,
		Passed:           a.passed,
		Failed:           a.evaluated - a.passed,
		Decisions:        make(map[domain.Decision]int, len(domain.Decisions())),
		UniqueRules:      make([]string, 0, len(a.rules)),
		Categories:       make(map[string]int, len(a.categories)),
		Jurisdictions:    make(map[string]domain.JurisdictionBreakdown, len(a.jurisdictions)),
		RiskHistogram:    make([]domain.HistogramBucket, len(a.cfg.Buckets)),
		InvalidScenarios: slices.Clone(a.invalidItems),
	}

	if a.evaluated > 0 {
		s.PassRate = float64(a.passed) / float64(a.evaluated)
		s.MeanRiskScore = float64(a.riskSum) / float64(a.evaluated)
	}

	for _, d := range domain.Decisions() {
		s.Decisions[d] = a.decisions[d]
	}
	for d, n := range a.decisions {
		s.Decisions[d] = n
	}

	for id := range a.rules {
		s.UniqueRules = append(s.UniqueRules, id)
	}
	slices.Sort(s.UniqueRules)
	s.TopRules = a.topRules()

	for c, n := range a.categories {
		s.Categories[c] = n
	}

	for j, js := range a.jurisdictions {
		b := domain.JurisdictionBreakdown{
			Scenarios: js.scenarios,
			Passed:    js.passed,
			Decisions: make(map[domain.Decision]int, len(js.decisions)),
		}
		for d, n := range js.decisions {
			b.Decisions[d] = n
		}
		s.Jurisdictions[j] = b
	}

	for i, b := range a.cfg.Buckets {
		s.RiskHistogram[i] = domain.HistogramBucket{RiskBucket: b, Count: a.histogram[i]}
	}

	return s
}

// topRules ranks rules by count, breaking ties by first-seen position.
func (a *Accumulator) topRules() []domain.RuleFrequency {
	type entry struct {
		id   string
		stat *ruleStat
	}
	entries := make([]entry, 0, len(a.rules))
	for id, st := range a.rules {
		entries = append(entries, entry{id, st})
	}
	slices.SortFunc(entries, func(x, y entry) int {
		if c := cmp.Compare(y.stat.count, x.stat.count); c != 0 {
			return c
		}
		if x.stat.first != y.stat.first {
			if x.stat.first.less(y.stat.first) {
				return -1
			}
			return 1
		}
		return cmp.Compare(x.id, y.id)
	})

	n := min(a.cfg.TopN, len(entries))
	out := make([]domain.RuleFrequency, n)
	for i := 0; i < n; i++ {
		out[i] = domain.RuleFrequency{
			RuleID:   entries[i].id,
			Category: entries[i].stat.category,
			Count:    entries[i].stat.count,
		}
	}
	return out
}
