package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/liamcoop/dietrules/rules"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// render writes data as JSON or YAML, or calls table for the table format
func render(w io.Writer, format string, data any, table func(*tablewriter.Table)) error {
	switch OutputFormat(format) {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case FormatYAML:
		return printYAML(w, data)
	case FormatTable:
		t := tablewriter.NewWriter(w)
		table(t)
		return t.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// printYAML goes through JSON so rules keep their condition/action envelopes
func printYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(generic)
}

func executionsTable(execs []*rules.Execution) func(*tablewriter.Table) {
	return func(t *tablewriter.Table) {
		t.Header("ID", "Rule", "Diet", "Status", "Trigger", "Changes", "Executed At", "Error")
		for _, e := range execs {
			changes := "-"
			if e.Result != nil {
				changes = strconv.Itoa(e.Result.ChangesApplied)
			}
			t.Append(
				e.ID,
				e.RuleID,
				e.DietID,
				string(e.Status),
				string(e.Trigger),
				changes,
				e.ExecutedAt.Format("2006-01-02 15:04"),
				truncate(e.Error, 40),
			)
		}
	}
}

func pendingTable(pending []*rules.PendingConfirmation) func(*tablewriter.Table) {
	return func(t *tablewriter.Table) {
		t.Header("ID", "Rule", "Diet", "Event", "Detected At")
		for _, p := range pending {
			t.Append(p.ID, p.RuleID, p.DietID, string(p.EventType), p.DetectedAt.Format("2006-01-02 15:04"))
		}
	}
}

func rulesTable(list []*rules.Rule) func(*tablewriter.Table) {
	return func(t *tablewriter.Table) {
		t.Header("ID", "Name", "Active", "Condition", "Action", "Frequency", "Scope", "Runs")
		for _, r := range list {
			scope := strings.Join(r.DietIDs, ",")
			if r.ApplyToAll {
				scope = "all"
			}
			t.Append(
				r.ID,
				truncate(r.Name, 30),
				strconv.FormatBool(r.Active),
				conditionType(r.Condition),
				actionType(r.Action),
				string(r.Frequency),
				truncate(scope, 30),
				strconv.Itoa(r.TimesExecuted),
			)
		}
	}
}

func conditionType(c rules.Condition) string {
	if c == nil {
		return "-"
	}
	return string(c.Type())
}

func actionType(a rules.Action) string {
	if a == nil {
		return "-"
	}
	return string(a.Type())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
