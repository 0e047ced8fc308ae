package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/errdefs"
	"github.com/watzon/anvil/internal/plugin"
)

var (
	checkWatch  bool
	checkOutput string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every module can initialize",
	Long: `Load every configured plugin without running any initializer and report
the order modules would initialize in.

Fails if a dependency is missing or the dependencies form a cycle. With
--watch, the check runs again whenever a script or params file changes.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVarP(&checkWatch, "watch", "w", false, "Re-check when scripts change")
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "table", "Output format (table, yaml, json)")

	rootCmd.AddCommand(checkCmd)
}

// CheckReport is the result of a dry run.
type CheckReport struct {
	Order   []string        `json:"order" yaml:"order"`
	Modules []plugin.Status `json:"modules" yaml:"modules"`
	Stuck   []string        `json:"stuck,omitempty" yaml:"stuck,omitempty"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := validateOutput(checkOutput); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err := check(ctx, cfg, out, checkOutput)
	if !checkWatch {
		return err
	}
	if err != nil {
		log.Error().Err(err).Msg("Check failed")
	}

	var mu sync.Mutex
	watcher, err := NewScriptWatcher(
		[]string{cfg.Scripts.Dir, cfg.Params.Dir},
		cfg.Scripts.Watch,
		func(events []FileEvent) {
			mu.Lock()
			defer mu.Unlock()

			log.Info().Int("changes", len(events)).Str("file", events[0].Name).Msg("Scripts changed, checking again")
			if err := check(ctx, cfg, out, checkOutput); err != nil {
				log.Error().Err(err).Msg("Check failed")
			}
		},
	)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer func() { _ = watcher.Stop() }()

	log.Info().Str("dir", cfg.Scripts.Dir).Msg("Watching for changes")
	<-ctx.Done()
	return nil
}

// check loads scripts into a fresh runtime and plans initialization.
func check(ctx context.Context, cfg *config.Config, w io.Writer, format string) error {
	graph, _, err := newHostGraph(cfg.Boot.Entry)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, cfg, graph)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.load(ctx); err != nil {
		log.Warn().Err(err).Msg("Some scripts failed to load")
	}

	report := CheckReport{Modules: s.runtime.Plugins.Snapshot()}
	order, planErr := plugin.Plan(s.runtime.Plugins)
	report.Order = order
	if planErr != nil {
		report.Error = planErr.Error()
		if e := errdefs.As(planErr); e != nil {
			report.Stuck = e.Modules
		}
	}

	if format == "table" {
		writeCheckTable(w, report)
	} else if err := render(w, format, report); err != nil {
		return err
	}
	return planErr
}

func writeCheckTable(w io.Writer, r CheckReport) {
	if len(r.Modules) == 0 {
		fmt.Fprintln(w, "No modules registered.")
		return
	}

	fmt.Fprintln(w, "Initialization order:")
	for i, id := range r.Order {
		fmt.Fprintf(w, "  %d. %s\n", i+1, id)
	}

	if r.Error == "" {
		fmt.Fprintf(w, "✓ All %d modules can initialize\n", len(r.Modules))
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Cannot initialize:")
	for _, id := range r.Stuck {
		fmt.Fprintf(w, "  ✗ %s\n", id)
	}
	fmt.Fprintf(w, "✗ %s\n", r.Error)
}
