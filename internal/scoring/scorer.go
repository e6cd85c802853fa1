// Package scoring maps a fact context to a bounded risk score.
package scoring

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/facts"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// maxDelta bounds a single per-unit contribution before integer conversion.
const maxDelta = 1_000_000

// Result is a clamped score with the contributions that produced it.
type Result struct {
	Score int
	// Raw is the unclamped sum of base and deltas.
	Raw           int
	Contributions []domain.ScoreContribution
}

type factor struct {
	spec    domain.ScoreFactor
	program cel.Program
}

// Scorer is immutable and safe for concurrent use.
type Scorer struct {
	env     *rules.Env
	base    int
	factors map[domain.EntityKind][]*factor
}

// New compiles the policy's scoring factors.
func New(env *rules.Env, policy domain.ScoringPolicy) (*Scorer, error) {
	s := &Scorer{
		env:     env,
		base:    policy.Base,
		factors: make(map[domain.EntityKind][]*factor),
	}

	for i, spec := range policy.Factors {
		if spec.Name == "" {
			return nil, fmt.Errorf("score factor %d: name is required", i)
		}
		if spec.Entity != domain.EntityTransaction && spec.Entity != domain.EntityLoan {
			return nil, fmt.Errorf("score factor %s: unknown entity %q", spec.Name, spec.Entity)
		}
		if len(spec.Bands) == 0 && spec.PerUnit == 0 {
			return nil, fmt.Errorf("score factor %s: bands or perUnit is required", spec.Name)
		}

		program, outType, err := env.Compile(spec.Expression)
		if err != nil {
			return nil, fmt.Errorf("score factor %s: failed to compile expression: %w", spec.Name, err)
		}
		switch {
		case outType.IsExactType(cel.DoubleType), outType.IsExactType(cel.IntType),
			outType.IsExactType(cel.BoolType), outType.IsExactType(cel.DynType):
		default:
			return nil, fmt.Errorf("score factor %s: expression must return a number, got %s", spec.Name, outType)
		}

		s.factors[spec.Entity] = append(s.factors[spec.Entity], &factor{spec: spec, program: program})
	}

	return s, nil
}

// Score sums the base and every applicable factor delta, then clamps the
// total once. Factors whose inputs are absent contribute nothing.
func (s *Scorer) Score(fc *facts.Context) Result {
	activation := s.env.Activation(fc)

	res := Result{Contributions: []domain.ScoreContribution{}}
	total := s.base

	for _, f := range s.factors[fc.Kind()] {
		out, _, err := f.program.Eval(activation)
		if err != nil {
			continue
		}
		value, ok := toNumber(out)
		if !ok {
			continue
		}
		delta, ok := f.delta(value)
		if !ok {
			continue
		}
		total += delta
		res.Contributions = append(res.Contributions, domain.ScoreContribution{
			Factor: f.spec.Name,
			Value:  value,
			Delta:  delta,
		})
	}

	res.Raw = total
	res.Score = Clamp(total)
	return res
}

// Clamp bounds v to [MinScore, MaxScore].
func Clamp(v int) int {
	return min(max(v, MinScore), MaxScore)
}

func (f *factor) delta(value float64) (int, bool) {
	if len(f.spec.Bands) > 0 {
		return matchBand(value, f.spec.Bands)
	}
	d := value * f.spec.PerUnit
	d = math.Max(-maxDelta, math.Min(maxDelta, d))
	return int(math.Round(d)), true
}

// matchBand returns the delta of the first band with min <= value < max.
// Nil bounds are unbounded.
func matchBand(value float64, bands []domain.ScoreBand) (int, bool) {
	for _, b := range bands {
		if b.Min != nil && value < *b.Min {
			continue
		}
		if b.Max != nil && value >= *b.Max {
			continue
		}
		return b.Delta, true
	}
	return 0, false
}

// toNumber converts a CEL value to a finite float.
func toNumber(val ref.Val) (float64, bool) {
	var f float64
	switch v := val.(type) {
	case types.Double:
		f = float64(v)
	case types.Int:
		f = float64(v)
	case types.Uint:
		f = float64(v)
	case types.Bool:
		if v {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
