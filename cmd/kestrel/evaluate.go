package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/app"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type evaluateOptions struct {
	file   string
	tenant string
}

// evaluateInput mirrors the POST /evaluate body.
type evaluateInput struct {
	ScenarioID string `json:"scenarioId,omitempty"`
	domain.Payload
}

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single JSON payload",
		Long: `Evaluate one transaction or loan payload and print the decision with its
audit trail. Nothing is persisted and no history is consulted beyond the
aggregates carried in the payload.

Examples:
  kestrel evaluate --file tx.json
  cat loan.json | kestrel evaluate --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return evaluatePayload(cmd.Context(), root, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "payload file, or - for stdin")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "cli", "tenant ID recorded on the evaluation")

	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("failed to mark file flag as required: %v", err))
	}
	return cmd
}

func evaluatePayload(ctx context.Context, root *rootOptions, opts *evaluateOptions, stdin io.Reader, stdout io.Writer) error {
	in, err := readPayload(opts.file, stdin)
	if err != nil {
		return err
	}

	engine, err := app.NewEngine(root.cfg, nil, root.logger)
	if err != nil {
		return err
	}

	eval, err := engine.Processor.Evaluate(ctx, &decision.Input{
		TenantID: opts.tenant,
		TraceID:  uuid.NewString(),
		Payload:  in.Payload,
	})
	if err != nil {
		if domain.IsValidation(err) {
			return &exitError{code: 3, msg: err.Error()}
		}
		return err
	}
	if in.ScenarioID != "" {
		eval.SubjectID = in.ScenarioID
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(eval.ToResponse())
}

func readPayload(path string, stdin io.Reader) (*evaluateInput, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open payload: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in evaluateInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to parse payload %s: %w", path, err)
	}
	return &in, nil
}
