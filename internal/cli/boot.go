package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/anvil/internal/boot"
	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/journal"
	"github.com/watzon/anvil/internal/metrics"
	"github.com/watzon/anvil/internal/objgraph"
	"github.com/watzon/anvil/internal/plugin"
)

var bootNoJournal bool

var bootCmd = &cobra.Command{
	Use:   "boot [args...]",
	Short: "Load plugins and run the host",
	Long: `Load every configured plugin, initialize modules in dependency order and
run the host entry point once they are all ready.

Positional arguments are passed to the entry point. If any module fails to
initialize, or the dependency graph cannot be satisfied, the host never
runs and the command exits with the error.`,
	RunE: runBoot,
}

func init() {
	bootCmd.Flags().BoolVar(&bootNoJournal, "no-journal", false, "Do not record this boot in the journal")

	rootCmd.AddCommand(bootCmd)
}

func runBoot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bootNoJournal {
		cfg.Journal.Enabled = false
	}

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Address)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	h, err := startHost(ctx, cfg, args)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Boot interrupted")
		return nil
	}
	if err != nil {
		return err
	}
	defer h.Close()

	log.Info().Str("entry", cfg.Boot.Entry).Int("args", len(h.Args)).Msg("Host running")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	return nil
}

// runningHost is a host whose entry point has been released.
type runningHost struct {
	Args    []any
	session *session
	close   func()
}

func (h *runningHost) Close() {
	h.session.Close()
	h.close()
}

// startHost loads every plugin, calls the entry point with args and waits
// until the deferred call reaches the host. It fails if the initialization
// pass fails or ctx ends first.
func startHost(ctx context.Context, cfg *config.Config, args []string) (*runningHost, error) {
	entry := cfg.Boot.Entry
	graph, runs, err := newHostGraph(entry)
	if err != nil {
		return nil, err
	}

	s, err := newSession(ctx, cfg, graph)
	if err != nil {
		return nil, err
	}

	recorder, closeJournal := openRecorder(ctx, cfg, entry)
	fail := func(err error) (*runningHost, error) {
		s.Close()
		closeJournal()
		return nil, err
	}
	if recorder != nil {
		s.runtime.Sequencer.Observe(recorder)
	}

	trigger := s.runtime.BootTrigger(entry)
	if err := trigger.Install(); err != nil {
		return fail(err)
	}

	if err := s.load(ctx); err != nil {
		log.Warn().Err(err).Msg("Some scripts failed to load")
	}

	log.Info().
		Str("entry", entry).
		Int("modules", s.runtime.Plugins.Len()).
		Msg("Booting")

	hostArgs := make([]any, len(args))
	for i, a := range args {
		hostArgs[i] = a
	}
	if _, err := objgraph.Call(graph, entry, hostArgs...); err != nil {
		return fail(err)
	}

	bootErr := waitForBoot(ctx, trigger, s.runtime.Sequencer, cfg.Boot.DiagnosticTimeout)
	if recorder != nil {
		outcome := boot.OutcomeResumed
		if bootErr != nil {
			outcome = boot.OutcomeFailed
		}
		if err := recorder.Finish(context.Background(), outcome, bootErr); err != nil {
			log.Warn().Err(err).Msg("Failed to journal boot outcome")
		}
	}
	if bootErr != nil {
		return fail(bootErr)
	}

	select {
	case got := <-runs:
		return &runningHost{Args: got, session: s, close: closeJournal}, nil
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// openRecorder starts a journal run unless journaling is off. Journal
// failures never stop a boot.
func openRecorder(ctx context.Context, cfg *config.Config, entry string) (*journal.Recorder, func()) {
	if !cfg.Journal.Enabled {
		return nil, func() {}
	}

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("Journal unavailable, boot will not be recorded")
		return nil, func() {}
	}

	rec, err := j.Begin(ctx, entry)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start journal run")
		_ = j.Close()
		return nil, func() {}
	}
	return rec, func() { _ = j.Close() }
}

// waitForBoot waits for the initialization pass to end. Every timeout it
// names the module still initializing, if any; it never aborts the pass.
func waitForBoot(ctx context.Context, t *boot.Trigger, seq *plugin.Sequencer, timeout time.Duration) error {
	if timeout <= 0 {
		return t.Wait(ctx)
	}

	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-t.Done():
			return t.Err()
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if id, elapsed, ok := seq.Initializing(); ok && elapsed >= timeout {
				log.Warn().
					Str("module", id).
					Dur("elapsed", elapsed).
					Msg("Module has not finished initializing")
			}
		}
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
