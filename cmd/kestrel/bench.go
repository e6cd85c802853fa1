package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type benchOptions struct {
	dataset string
	url     string
	tenant  string
	workers int
	repeat  int
	timeout time.Duration
	verbose bool
}

// benchStats tracks a benchmark against a running server. A DENY is the
// positive class of the confusion matrix.
type benchStats struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	Processed int64
	Matched   int64
	Errors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *benchStats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// percentile returns the p-th latency percentile (0-100), nearest rank.
func (s *benchStats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay a dataset against a running Kestrel server",
		Long: `Send every scenario of a dataset to POST /evaluate on a running server,
compare the returned decisions with the scenario expectations and print
deny precision and recall together with latency figures.

Examples:
  kestrel bench --dataset scenarios.yaml
  kestrel bench --dataset scenarios.json --url http://kestrel:8080 --workers 32 --repeat 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.dataset, "dataset", "d", "", "dataset file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080", "Kestrel base URL")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "benchmark", "tenant ID for requests")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 10, "concurrent clients")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "times to replay the dataset")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print each scenario result")

	if err := cmd.MarkFlagRequired("dataset"); err != nil {
		panic(fmt.Sprintf("failed to mark dataset flag as required: %v", err))
	}
	return cmd
}

func runBench(ctx context.Context, root *rootOptions, opts *benchOptions, out io.Writer) error {
	ds, err := dataset.Load(opts.dataset)
	if err != nil {
		return err
	}
	if opts.workers < 1 {
		opts.workers = 1
	}
	if opts.repeat < 1 {
		opts.repeat = 1
	}

	client := &http.Client{Timeout: opts.timeout}
	baseURL := strings.TrimRight(opts.url, "/")
	if err := checkHealth(ctx, client, baseURL); err != nil {
		return fmt.Errorf("kestrel not reachable at %s: %w", baseURL, err)
	}

	root.logger.Info("benchmark starting",
		"dataset", ds.Name,
		"scenarios", len(ds.Scenarios),
		"repeat", opts.repeat,
		"workers", opts.workers,
	)

	start := time.Now()
	stats := replay(ctx, client, baseURL, opts, ds.Scenarios, out)
	printBench(out, stats, time.Since(start))
	return ctx.Err()
}

func replay(ctx context.Context, client *http.Client, baseURL string, opts *benchOptions, scenarios []domain.Scenario, out io.Writer) *benchStats {
	stats := &benchStats{}
	work := make(chan *domain.Scenario, 100)
	var outMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sc := range work {
				start := time.Now()
				resp, err := postEvaluate(ctx, client, baseURL, opts.tenant, sc)
				stats.observe(time.Since(start))
				atomic.AddInt64(&stats.Processed, 1)

				if err != nil {
					atomic.AddInt64(&stats.Errors, 1)
					if opts.verbose {
						outMu.Lock()
						fmt.Fprintf(out, "ERROR %s: %v\n", sc.ID, err)
						outMu.Unlock()
					}
					continue
				}

				predicted := resp.Decision == domain.DecisionDeny
				actual := sc.Expected.Decision == domain.DecisionDeny
				switch {
				case predicted && actual:
					atomic.AddInt64(&stats.TruePositives, 1)
				case predicted:
					atomic.AddInt64(&stats.FalsePositives, 1)
				case actual:
					atomic.AddInt64(&stats.FalseNegatives, 1)
				default:
					atomic.AddInt64(&stats.TrueNegatives, 1)
				}

				matched := resp.Decision == sc.Expected.Decision
				if matched {
					atomic.AddInt64(&stats.Matched, 1)
				}
				if opts.verbose {
					mark := "ok"
					if !matched {
						mark = "MISMATCH"
					}
					outMu.Lock()
					fmt.Fprintf(out, "%-8s %-24s expected=%-16s got=%-16s risk=%d\n",
						mark, sc.ID, sc.Expected.Decision, resp.Decision, resp.RiskScore)
					outMu.Unlock()
				}
			}
		}()
	}

send:
	for r := 0; r < opts.repeat; r++ {
		for i := range scenarios {
			select {
			case work <- &scenarios[i]:
			case <-ctx.Done():
				break send
			}
		}
	}
	close(work)
	wg.Wait()
	return stats
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func postEvaluate(ctx context.Context, client *http.Client, baseURL, tenantID string, sc *domain.Scenario) (*domain.EvaluationResponse, error) {
	body, err := json.Marshal(api.EvaluateRequest{ScenarioID: sc.ID, Payload: sc.Payload})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.EvaluationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func printBench(w io.Writer, s *benchStats, elapsed time.Duration) {
	precision := ratio(s.TruePositives, s.TruePositives+s.FalsePositives)
	recall := ratio(s.TruePositives, s.TruePositives+s.FalseNegatives)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Fprintln(w, "Benchmark Results")
	fmt.Fprintf(w, "  Processed:        %d\n", s.Processed)
	fmt.Fprintf(w, "  Errors:           %d\n", s.Errors)
	fmt.Fprintf(w, "  Decision matches: %d (%.2f%%)\n", s.Matched, 100*ratio(s.Matched, s.Processed-s.Errors))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Deny Confusion Matrix")
	fmt.Fprintln(w, "                   predicted DENY  predicted other")
	fmt.Fprintf(w, "  expected DENY    %14d  %15d\n", s.TruePositives, s.FalseNegatives)
	fmt.Fprintf(w, "  expected other   %14d  %15d\n", s.FalsePositives, s.TrueNegatives)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Precision: %.4f\n", precision)
	fmt.Fprintf(w, "  Recall:    %.4f\n", recall)
	fmt.Fprintf(w, "  F1-Score:  %.4f\n", f1)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Performance")
	fmt.Fprintf(w, "  Duration:   %v\n", elapsed.Round(time.Millisecond))
	if s.Processed > 0 && elapsed > 0 {
		fmt.Fprintf(w, "  Throughput: %.2f req/sec\n", float64(s.Processed)/elapsed.Seconds())
	}
	fmt.Fprintf(w, "  p50: %v  p95: %v  p99: %v\n", s.percentile(50), s.percentile(95), s.percentile(99))
}
