package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history <ruleId>",
		Short: "Show a rule's execution history, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := g.client().History(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(execs) == 0 && OutputFormat(g.format) == FormatTable {
				fmt.Fprintln(out, "No executions found")
				return nil
			}
			return render(out, g.format, map[string]any{"executions": execs}, executionsTable(execs))
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var coachID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a coach's rules",
		Long: `List every rule owned by a coach, active or not.

Examples:
  rulesctl list --coach coach-1
  rulesctl list --coach coach-1 --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := g.client().ListRules(cmd.Context(), coachID)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 && OutputFormat(g.format) == FormatTable {
				fmt.Fprintln(out, "No rules found")
				return nil
			}
			return render(out, g.format, map[string]any{"rules": list}, rulesTable(list))
		},
	}

	cmd.Flags().StringVar(&coachID, "coach", "", "Coach whose rules are listed")
	_ = cmd.MarkFlagRequired("coach")
	return cmd
}
