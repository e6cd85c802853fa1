package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/app"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestBenchCommand(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "bench.db")
	cfg.Worker.Enabled = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	services, err := app.Open(cfg, nil, logger)
	if err != nil {
		t.Fatalf("failed to open services: %v", err)
	}
	t.Cleanup(func() { services.Close() })

	ts := httptest.NewServer(services.Server("test", nil).Router())
	t.Cleanup(ts.Close)

	root := &rootOptions{cfg: cfg, logger: logger}
	opts := &benchOptions{
		dataset: writeFile(t, "smoke.json", smokeDataset),
		url:     ts.URL + "/",
		tenant:  "bench",
		workers: 4,
		repeat:  3,
		timeout: 5 * time.Second,
	}

	var out bytes.Buffer
	if err := runBench(context.Background(), root, opts, &out); err != nil {
		t.Fatalf("runBench returned error: %v", err)
	}

	report := out.String()
	for _, want := range []string{
		"Processed:        6",
		"Errors:           0",
		"Decision matches: 6 (100.00%)",
		"Precision: 1.0000",
		"Recall:    1.0000",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("expected %q in report:\n%s", want, report)
		}
	}
}

func TestBenchUnreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	root := &rootOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	opts := &benchOptions{
		dataset: writeFile(t, "smoke.json", smokeDataset),
		url:     url,
		timeout: time.Second,
	}
	if err := runBench(context.Background(), root, opts, io.Discard); err == nil {
		t.Error("expected error when the server is unreachable")
	}
}

func TestBenchPercentile(t *testing.T) {
	s := &benchStats{}
	if s.percentile(50) != 0 {
		t.Error("expected zero percentile without samples")
	}
	for i := 1; i <= 100; i++ {
		s.observe(time.Duration(i) * time.Millisecond)
	}
	if got := s.percentile(50); got != 50*time.Millisecond {
		t.Errorf("p50 = %v, want 50ms", got)
	}
	if got := s.percentile(100); got != 100*time.Millisecond {
		t.Errorf("p100 = %v, want 100ms", got)
	}
}
