package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// rootOptions is shared by every subcommand. cfg and logger are filled in
// by the root PersistentPreRunE.
type rootOptions struct {
	cfgFile  string
	logLevel string

	cfg    *domain.Config
	logger *slog.Logger
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel - compliance decisions for transactions and loans",
		Long: `Kestrel evaluates transactions and loan applications against an ordered
rule catalog. Deny rules stop evaluation at the first match; flag rules are
collected. Every decision carries a risk score and a full audit trail.

Datasets of annotated scenarios can be replayed in bulk to measure how well
the catalog matches expected outcomes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newEvaluateCmd(opts),
		newBenchCmd(opts),
		newRulesCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load(logOut io.Writer) error {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger, err := newLogger(cfg.Logging, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	o.cfg = cfg
	o.logger = logger
	return nil
}

// newLogger builds the process logger. Logs go to w so command output on
// stdout stays machine readable.
func newLogger(cfg domain.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
