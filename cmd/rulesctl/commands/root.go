// Package commands implements the rulesctl command tree.
package commands

import (
	"os"

	"github.com/liamcoop/dietrules/internal/client"
	"github.com/spf13/cobra"
)

// globals holds the flags shared by every command
type globals struct {
	baseURL string
	format  string
}

func (g *globals) client() *client.Client {
	return client.NewClient(g.baseURL)
}

// NewRootCmd builds the full command tree
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "rulesctl",
		Short: "CLI for the diet automation rules service",
		Long: `rulesctl talks to a running dietrules server.

It can trigger the recurring sweep, run a rule against a diet, dispatch
business events and inspect rules and their execution history.

Examples:
  rulesctl list --coach coach-1
  rulesctl run 3f6c... diet-42 --day sabado
  rulesctl dispatch --type feedback-negativo --diet diet-42 --sensation 2
  rulesctl history 3f6c... --format json
  rulesctl sweep`,
		SilenceUsage: true,
	}

	defaultURL := os.Getenv("DIETRULES_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&g.baseURL, "base-url", defaultURL, "Base URL of the dietrules API (env DIETRULES_URL)")
	root.PersistentFlags().StringVar(&g.format, "format", string(FormatTable), "Output format (table, json, yaml)")

	root.AddCommand(
		newSweepCmd(g),
		newRunCmd(g),
		newDispatchCmd(g),
		newHistoryCmd(g),
		newListCmd(g),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
