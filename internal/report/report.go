// Package report renders dataset summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Format names accepted by Write.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ParseFormat normalises a format name. "md" is accepted for markdown and
// the empty string selects JSON.
func ParseFormat(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q", name)
	}
}

// JSON renders s as indented JSON.
func JSON(s domain.DatasetSummary) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return data, nil
}

// Write renders s to w in the named format.
func Write(w io.Writer, format string, s domain.DatasetSummary) error {
	f, err := ParseFormat(format)
	if err != nil {
		return err
	}

	var data []byte
	if f == FormatMarkdown {
		data = []byte(Markdown(s))
	} else {
		data, err = JSON(s)
		if err != nil {
			return err
		}
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}

// Markdown renders s as a set of Markdown tables.
func Markdown(s domain.DatasetSummary) string {
	var b strings.Builder

	b.WriteString("# Validation Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total scenarios | %d |\n", s.Total)
	fmt.Fprintf(&b, "| Evaluated | %d |\n", s.Evaluated)
	fmt.Fprintf(&b, "| Invalid | %d |\n", s.Invalid)
	fmt.Fprintf(&b, "| Passed | %d |\n", s.Passed)
	fmt.Fprintf(&b, "| Failed | %d |\n", s.Failed)
	fmt.Fprintf(&b, "| Pass rate | %.2f%% |\n", s.PassRate*100)
	fmt.Fprintf(&b, "| Mean risk score | %.2f |\n", s.MeanRiskScore)
	fmt.Fprintf(&b, "| Unique rules | %d |\n", len(s.UniqueRules))

	b.WriteString("\n## Decisions\n\n| Decision | Count |\n|---|---|\n")
	for _, d := range domain.Decisions() {
		fmt.Fprintf(&b, "| %s | %d |\n", d, s.Decisions[d])
	}

	if len(s.TopRules) > 0 {
		b.WriteString("\n## Top Rules\n\n| # | Rule | Category | Count |\n|---|---|---|---|\n")
		for i, r := range s.TopRules {
			fmt.Fprintf(&b, "| %d | %s | %s | %d |\n", i+1, r.RuleID, r.Category, r.Count)
		}
	}

	if len(s.Categories) > 0 {
		b.WriteString("\n## Categories\n\n| Category | Matches |\n|---|---|\n")
		for _, c := range slices.Sorted(maps.Keys(s.Categories)) {
			fmt.Fprintf(&b, "| %s | %d |\n", c, s.Categories[c])
		}
	}

	if len(s.Jurisdictions) > 0 {
		b.WriteString("\n## Jurisdictions\n\n| Jurisdiction | Scenarios | Passed | ALLOW | ALLOW_WITH_FLAGS | DENY |\n|---|---|---|---|---|---|\n")
		for _, j := range slices.Sorted(maps.Keys(s.Jurisdictions)) {
			jb := s.Jurisdictions[j]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d |\n", j, jb.Scenarios, jb.Passed,
				jb.Decisions[domain.DecisionAllow], jb.Decisions[domain.DecisionAllowWithFlags], jb.Decisions[domain.DecisionDeny])
		}
	}

	b.WriteString("\n## Risk Distribution\n\n| Range | Count |\n|---|---|\n")
	for _, h := range s.RiskHistogram {
		fmt.Fprintf(&b, "| %d-%d | %d |\n", h.Min, h.Max, h.Count)
	}

	if len(s.InvalidScenarios) > 0 {
		b.WriteString("\n## Invalid Scenarios\n\n| Seq | Scenario | Error |\n|---|---|---|\n")
		for _, inv := range s.InvalidScenarios {
			fmt.Fprintf(&b, "| %d | %s | %s |\n", inv.Seq, inv.ScenarioID, escape(inv.Error))
		}
		if omitted := s.Invalid - len(s.InvalidScenarios); omitted > 0 {
			fmt.Fprintf(&b, "\n_%d more invalid scenarios not listed._\n", omitted)
		}
	}

	return b.String()
}

func escape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
