package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/app"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/report"
)

type runOptions struct {
	dataset        string
	format         string
	out            string
	workers        int
	tenant         string
	failOnMismatch bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a scenario dataset and print its summary",
		Long: `Evaluate every scenario of a dataset, compare each outcome with the
scenario's expectation and print the aggregated summary.

Dataset Format (YAML or JSON):
  name: smoke
  scenarios:
    - id: structuring-1
      payload:
        transaction: {type: CASH, amount: 9500}
        account: {id: a1, status: ACTIVE}
        customer: {id: c1, country: US}
      expected:
        decision: ALLOW_WITH_FLAGS
        flagHints: [structuring]

Examples:
  kestrel run --dataset scenarios.yaml
  kestrel run --dataset scenarios.json --format markdown --out report.md
  kestrel run --dataset scenarios.yaml --workers 16 --fail-on-mismatch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDataset(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.dataset, "dataset", "d", "", "dataset file (.yaml, .yml or .json)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", report.FormatJSON, "output format: json, markdown")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent evaluations (default batch.workers)")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "cli", "tenant ID recorded on the run")
	cmd.Flags().BoolVar(&opts.failOnMismatch, "fail-on-mismatch", false, "exit with status 2 when any scenario fails its expectation")

	if err := cmd.MarkFlagRequired("dataset"); err != nil {
		panic(fmt.Sprintf("failed to mark dataset flag as required: %v", err))
	}
	return cmd
}

func runDataset(ctx context.Context, root *rootOptions, opts *runOptions, stdout io.Writer) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	ds, err := dataset.Load(opts.dataset)
	if err != nil {
		return err
	}

	cfg := root.cfg
	if opts.workers > 0 {
		cfg.Batch.Workers = opts.workers
	}

	engine, err := app.NewEngine(cfg, nil, root.logger)
	if err != nil {
		return err
	}

	rep, err := engine.Runner.Run(ctx, opts.tenant, ds.Name, ds.Scenarios)
	if err != nil {
		return fmt.Errorf("run %s: %w", ds.Name, err)
	}
	summary := rep.Summary()

	w := stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := report.Write(w, format, summary); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if opts.failOnMismatch && summary.Failed > 0 {
		return &exitError{
			code: 2,
			msg:  fmt.Sprintf("%d of %d evaluated scenarios did not match their expectation", summary.Failed, summary.Evaluated),
		}
	}
	return nil
}
