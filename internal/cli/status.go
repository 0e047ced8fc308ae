package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/anvil/internal/journal"
)

var (
	statusOutput string
	statusRuns   int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded boot",
	Long: `Show the most recent boot recorded in the journal: its outcome and the
final state of every module.

Use --runs to list earlier boots instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table, yaml, json)")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 0, "List the N most recent boots")

	rootCmd.AddCommand(statusCmd)
}

// ModuleOutcome is the final recorded state of one module in a run.
type ModuleOutcome struct {
	Module string `json:"module" yaml:"module"`
	State  string `json:"state" yaml:"state"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StatusReport describes one boot run.
type StatusReport struct {
	Run     journal.Run     `json:"run" yaml:"run"`
	Modules []ModuleOutcome `json:"modules" yaml:"modules"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validateOutput(statusOutput); err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled (journal.enabled = false)")
	}

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if statusRuns > 0 {
		runs, err := j.Runs(ctx, statusRuns)
		if err != nil {
			return err
		}
		if statusOutput == "table" {
			writeRunsTable(out, runs)
			return nil
		}
		return render(out, statusOutput, runs)
	}

	run, err := j.Last(ctx)
	if errors.Is(err, journal.ErrNoRuns) {
		fmt.Fprintln(out, "No boots recorded yet.")
		return nil
	}
	if err != nil {
		return err
	}

	transitions, err := j.Transitions(ctx, run.ID)
	if err != nil {
		return err
	}

	report := StatusReport{Run: run, Modules: finalStates(transitions)}
	if statusOutput == "table" {
		writeStatusTable(out, report)
		return nil
	}
	return render(out, statusOutput, report)
}

// finalStates reduces transitions to each module's last state, in the
// order modules first appear.
func finalStates(transitions []journal.Transition) []ModuleOutcome {
	index := make(map[string]int)
	var out []ModuleOutcome
	for _, t := range transitions {
		i, ok := index[t.Module]
		if !ok {
			i = len(out)
			index[t.Module] = i
			out = append(out, ModuleOutcome{Module: t.Module})
		}
		out[i].State = t.To
		out[i].Error = t.Error
	}
	return out
}

func writeStatusTable(w io.Writer, r StatusReport) {
	fmt.Fprintf(w, "Boot %s\n", r.Run.ID)
	fmt.Fprintf(w, "  Entry:    %s\n", r.Run.Entry)
	fmt.Fprintf(w, "  Started:  %s\n", r.Run.StartedAt.Local().Format(time.DateTime))
	if r.Run.FinishedAt != nil {
		fmt.Fprintf(w, "  Finished: %s (%s)\n",
			r.Run.FinishedAt.Local().Format(time.DateTime),
			r.Run.FinishedAt.Sub(r.Run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  Outcome:  %s\n", r.Run.Outcome)
	if r.Run.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", r.Run.Error)
	}

	if len(r.Modules) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Modules:")
	for _, m := range r.Modules {
		fmt.Fprintf(w, "  %s %s - %s\n", stateSymbol(m.State), m.Module, m.State)
		if m.Error != "" {
			fmt.Fprintf(w, "      %s\n", m.Error)
		}
	}
}

func writeRunsTable(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No boots recorded yet.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "  %s %s  %s  %s\n",
			outcomeSymbol(r.Outcome), r.ID, r.StartedAt.Local().Format(time.DateTime), r.Outcome)
	}
}

func stateSymbol(state string) string {
	switch state {
	case "initialized":
		return "✓"
	case "failed":
		return "✗"
	default:
		return "○"
	}
}

func outcomeSymbol(outcome string) string {
	switch outcome {
	case "resumed":
		return "✓"
	case "failed":
		return "✗"
	default:
		return "○"
	}
}
