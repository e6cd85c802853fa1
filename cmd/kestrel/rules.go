package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rule catalogs in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := decision.New(root.cfg.Policy, decision.WithLogger(root.logger))
			if err != nil {
				return err
			}
			return printRules(cmd.OutOrStdout(), proc.Registry().Rules(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}

func printRules(w io.Writer, list []domain.RuleInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tTIER\tID\tCODE\tCATEGORY")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Entity, r.Tier, r.ID, r.Code, r.Category)
	}
	return tw.Flush()
}
