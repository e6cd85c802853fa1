package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const smokeDataset = `{
	"name": "smoke",
	"scenarios": [
		{
			"id": "structuring",
			"payload": {
				"transaction": {"type": "CASH", "amount": 9500},
				"account": {"id": "a1", "status": "ACTIVE"},
				"customer": {"id": "c1", "country": "US"}
			},
			"expected": {"decision": "ALLOW_WITH_FLAGS", "flagHints": ["structuring"]}
		},
		{
			"id": "frozen",
			"payload": {
				"transaction": {"type": "WIRE", "amount": 120},
				"account": {"id": "a2", "status": "FROZEN"},
				"customer": {"id": "c2"}
			},
			"expected": {"decision": "DENY"}
		}
	]
}`

const mismatchDataset = `{
	"name": "mismatch",
	"scenarios": [
		{
			"id": "frozen-but-expected-allow",
			"payload": {
				"transaction": {"type": "WIRE", "amount": 120},
				"account": {"id": "a2", "status": "FROZEN"},
				"customer": {"id": "c2"}
			},
			"expected": {"decision": "ALLOW"}
		}
	]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	path := writeFile(t, "smoke.json", smokeDataset)

	t.Run("JSONSummary", func(t *testing.T) {
		out, err := execute(t, "", "run", "--dataset", path, "--workers", "2")
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}

		var summary domain.DatasetSummary
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("failed to parse summary: %v\n%s", err, out)
		}
		if summary.Total != 2 || summary.Evaluated != 2 || summary.Passed != 2 {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})

	t.Run("MarkdownToFile", func(t *testing.T) {
		outPath := filepath.Join(t.TempDir(), "report.md")
		out, err := execute(t, "", "run", "--dataset", path, "--format", "markdown", "--out", outPath)
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
		if out != "" {
			t.Errorf("expected nothing on stdout, got %q", out)
		}
		data, err := os.ReadFile(outPath)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if !strings.HasPrefix(string(data), "#") {
			t.Errorf("expected a markdown report, got %q", string(data))
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		if _, err := execute(t, "", "run", "--dataset", path, "--format", "xml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})

	t.Run("MissingDataset", func(t *testing.T) {
		if _, err := execute(t, "", "run", "--dataset", filepath.Join(t.TempDir(), "none.json")); err == nil {
			t.Error("expected error for missing dataset")
		}
	})

	t.Run("FailOnMismatch", func(t *testing.T) {
		mismatch := writeFile(t, "mismatch.json", mismatchDataset)

		if _, err := execute(t, "", "run", "--dataset", mismatch); err != nil {
			t.Fatalf("mismatches must not fail without the flag: %v", err)
		}

		_, err := execute(t, "", "run", "--dataset", mismatch, "--fail-on-mismatch")
		var exitErr *exitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("expected exitError, got %v", err)
		}
		if exitErr.code != 2 {
			t.Errorf("expected exit code 2, got %d", exitErr.code)
		}
	})
}

func TestEvaluateCommand(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		path := writeFile(t, "tx.json", `{
			"scenarioId": "cli-1",
			"transaction": {"type": "WIRE", "amount": 120},
			"account": {"id": "a2", "status": "FROZEN"},
			"customer": {"id": "c2"}
		}`)
		out, err := execute(t, "", "evaluate", "--file", path)
		if err != nil {
			t.Fatalf("evaluate returned error: %v", err)
		}

		var resp domain.EvaluationResponse
		if err := json.Unmarshal([]byte(out), &resp); err != nil {
			t.Fatalf("failed to parse response: %v\n%s", err, out)
		}
		if resp.Decision != domain.DecisionDeny {
			t.Errorf("expected DENY, got %s", resp.Decision)
		}
		if resp.SubjectID != "cli-1" {
			t.Errorf("expected scenarioId as subject, got %s", resp.SubjectID)
		}
	})

	t.Run("Stdin", func(t *testing.T) {
		body := `{"transaction": {"type": "CASH", "amount": "120"},
			"account": {"id": "a1", "status": "ACTIVE"}, "customer": {"id": "c1"}}`
		out, err := execute(t, body, "evaluate", "--file", "-")
		if err != nil {
			t.Fatalf("evaluate returned error: %v", err)
		}
		if !strings.Contains(out, `"decision": "ALLOW"`) {
			t.Errorf("expected ALLOW decision, got %s", out)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		body := `{"loan": {"apr": 2.5, "principal": "1000", "termMonths": 12, "jurisdiction": "US-CA"},
			"borrower": {"id": "b1"}, "lender": {"id": "l1"}}`
		_, err := execute(t, body, "evaluate", "--file", "-")
		var exitErr *exitError
		if !errors.As(err, &exitErr) || exitErr.code != 3 {
			t.Fatalf("expected exit code 3, got %v", err)
		}
		if !strings.Contains(exitErr.msg, "loan.apr") {
			t.Errorf("expected the offending field in the message, got %q", exitErr.msg)
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		if _, err := execute(t, "{", "evaluate", "--file", "-"); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}

func TestRulesCommand(t *testing.T) {
	out, err := execute(t, "", "rules")
	if err != nil {
		t.Fatalf("rules returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "ENTITY") {
		t.Fatalf("expected a header and rules, got %q", out)
	}
	if !strings.Contains(out, "ACCOUNT_FROZEN") {
		t.Error("expected ACCOUNT_FROZEN in listing")
	}

	out, err = execute(t, "", "rules", "--json")
	if err != nil {
		t.Fatalf("rules --json returned error: %v", err)
	}
	var list []domain.RuleInfo
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("failed to parse rules: %v", err)
	}
	if len(list) != len(lines)-1 {
		t.Errorf("expected %d rules, got %d", len(lines)-1, len(list))
	}
	if list[0].Entity != domain.EntityTransaction || list[0].Tier != domain.TierDeny {
		t.Errorf("expected transaction deny rules first, got %+v", list[0])
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("expected version %q in output, got %q", Version, out)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     domain.LoggingConfig
		wantErr bool
	}{
		{"Defaults", domain.LoggingConfig{}, false},
		{"JSON", domain.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"Text", domain.LoggingConfig{Level: "warn", Format: "text"}, false},
		{"UnknownFormat", domain.LoggingConfig{Format: "xml"}, true},
		{"UnknownLevel", domain.LoggingConfig{Level: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.cfg, &buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && logger == nil {
				t.Error("expected a logger")
			}
		})
	}
}
