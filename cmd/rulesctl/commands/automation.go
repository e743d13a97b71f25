package commands

import (
	"fmt"

	"github.com/liamcoop/dietrules/internal/client"
	"github.com/liamcoop/dietrules/rules"
	"github.com/spf13/cobra"
)

func newSweepCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run every recurring rule due today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := g.client().RunRecurring(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to run recurring sweep: %w", err)
			}

			out := cmd.OutOrStdout()
			if OutputFormat(g.format) == FormatTable {
				fmt.Fprintf(out, "%d executions in %s\n", result.Count, result.Duration)
				if result.Count == 0 {
					return nil
				}
			}
			return render(out, g.format, result, executionsTable(result.Executions))
		},
	}
}

func newRunCmd(g *globals) *cobra.Command {
	var (
		day       string
		confirmed bool
	)

	cmd := &cobra.Command{
		Use:   "run <ruleId> <dietId>",
		Short: "Run a rule against a diet",
		Long: `Run a rule against a diet on demand.

A condition that does not hold is reported as a condition_not_met execution.
Rules that require confirmation only run with --confirmed.

Examples:
  rulesctl run 3f6c... diet-42
  rulesctl run 3f6c... diet-42 --day sabado --confirmed`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := g.client().ExecuteRule(cmd.Context(), args[0], client.ExecuteRequest{
				DietID:    args[1],
				Day:       day,
				Confirmed: confirmed,
			})
			if err != nil {
				return fmt.Errorf("failed to run rule: %w", err)
			}
			return render(cmd.OutOrStdout(), g.format, exec, executionsTable([]*rules.Execution{exec}))
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "Weekday to evaluate the rule for (lunes..domingo)")
	cmd.Flags().BoolVar(&confirmed, "confirmed", false, "Approve a rule that requires confirmation")
	return cmd
}

func newDispatchCmd(g *globals) *cobra.Command {
	var (
		eventType  string
		dietID     string
		sensation  float64
		satiety    float64
		compliance float64
		intake     []float64
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a business event to the rule engine",
		Long: `Dispatch a feedback, intake or compliance event for a diet.

Examples:
  rulesctl dispatch --type feedback-negativo --diet diet-42 --sensation 2 --satiety 3
  rulesctl dispatch --type cumplimiento-bajo --diet diet-42 --compliance 45
  rulesctl dispatch --type ingesta-fuera-rango --diet diet-42 --intake 2600,140,310,80`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := rules.Event{Type: rules.ConditionType(eventType), DietID: dietID}

			if cmd.Flags().Changed("sensation") || cmd.Flags().Changed("satiety") {
				ev.Feedback = &rules.Feedback{DietID: dietID, Sensation: sensation, Satiety: satiety}
			}
			if cmd.Flags().Changed("compliance") {
				ev.Compliance = &compliance
			}
			if cmd.Flags().Changed("intake") {
				if len(intake) != 4 {
					return fmt.Errorf("--intake takes calories,protein,carbs,fat, got %d values", len(intake))
				}
				ev.IntakeMacros = &rules.Macros{Calories: intake[0], Protein: intake[1], Carbs: intake[2], Fat: intake[3]}
			}

			result, err := g.client().DispatchEvent(cmd.Context(), ev)
			if err != nil {
				return fmt.Errorf("failed to dispatch event: %w", err)
			}

			out := cmd.OutOrStdout()
			if OutputFormat(g.format) != FormatTable {
				return render(out, g.format, result, nil)
			}

			fmt.Fprintf(out, "%d executions, %d pending confirmation\n", len(result.Executions), len(result.Pending))
			if len(result.Executions) > 0 {
				if err := render(out, g.format, result, executionsTable(result.Executions)); err != nil {
					return err
				}
			}
			if len(result.Pending) > 0 {
				return render(out, g.format, result, pendingTable(result.Pending))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Event type (feedback-negativo, feedback-bajo, ingesta-fuera-rango, cumplimiento-bajo)")
	cmd.Flags().StringVar(&dietID, "diet", "", "Diet the event belongs to")
	cmd.Flags().Float64Var(&sensation, "sensation", 0, "Feedback sensation score (1-5)")
	cmd.Flags().Float64Var(&satiety, "satiety", 0, "Feedback satiety score (1-5)")
	cmd.Flags().Float64Var(&compliance, "compliance", 0, "Compliance percentage")
	cmd.Flags().Float64SliceVar(&intake, "intake", nil, "Actual intake as calories,protein,carbs,fat")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("diet")
	return cmd
}
