// Package main runs the agent marketplace ledger server:
//   - serve: HTTP API, websocket notification stream and scheduled maintenance
//   - migrate: apply PostgreSQL and ClickHouse schema migrations
//   - watch: follow a running server's notification stream
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agent-market/internal/api"
	"agent-market/internal/config"
	"agent-market/internal/events"
	"agent-market/internal/ledger"
	"agent-market/internal/logging"
	"agent-market/internal/observability"
	"agent-market/internal/scheduler"
	"agent-market/internal/stream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent-market",
		Short:         "Qualification, ranking and escrow ledger for an agent marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root)
	root.AddCommand(newServeCmd(), newMigrateCmd(), newWatchCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log := logging.New("server", cfg.LogLevel, cfg.LogPretty)
	params, err := cfg.Params()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := createStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer st.cleanup()

	// The journal comes first so a stream client resuming from the backlog
	// never misses a batch the hub already sent.
	hub := stream.NewHub(stream.HubOptions{
		Backlog: st.events,
		Logger:  logging.New("stream", cfg.LogLevel, cfg.LogPretty),
	})
	dispatcher := events.NewDispatcher(events.DispatcherOptions{
		QueueSize: cfg.EventQueueSize,
		Logger:    logging.New("events", cfg.LogLevel, cfg.LogPretty),
	})
	dispatcher.Add("journal", st.events)
	dispatcher.Add("stream", hub)
	dispatcher.Start(ctx)

	l, err := ledger.New(ctx, ledger.Options{
		Store:   st.ledger,
		Token:   st.token,
		Emitter: dispatcher,
		Params:  params,
		Logger:  logging.New("ledger", cfg.LogLevel, cfg.LogPretty),
	})
	if err != nil {
		dispatcher.Close()
		return fmt.Errorf("open ledger: %w", err)
	}
	status := l.Status()
	log.Info().
		Uint64("seq", status.Seq).
		Int("accounts", status.Accounts).
		Int("cells", status.BalanceCells).
		Str("stale_policy", status.StalePolicy).
		Msg("ledger loaded")

	sched, err := scheduler.New(l, scheduler.Options{
		RankingSchedule: cfg.RankingSchedule,
		RankingTTL:      params.RankingTTL,
		KeywordSchedule: cfg.KeywordSchedule,
		Logger:          logging.New("scheduler", cfg.LogLevel, cfg.LogPretty),
	})
	if err != nil {
		dispatcher.Close()
		return err
	}
	sched.Start(ctx)

	started := time.Now()
	opts := api.Options{
		Ledger:  l,
		Events:  st.events,
		Stream:  hub,
		Jobs:    sched,
		Token:   st.token,
		Limiter: api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		Started: started,
		Logger:  logging.New("api", cfg.LogLevel, cfg.LogPretty),
	}
	if cfg.Dev {
		opts.Minter = st.token
		log.Warn().Msg("development mint endpoint enabled")
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(opts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go trackUptime(ctx)

	// Channel to signal completion
	done := make(chan struct{})
	defer close(done)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(cfg.ShutdownTimeout):
			log.Error().Dur("timeout", cfg.ShutdownTimeout).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("http server failed")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	sched.Stop()
	dispatcher.Close()

	log.Info().Msg("shutdown complete")
	return runErr
}

// trackUptime feeds the uptime counter until ctx ends.
func trackUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			observability.RecordUptime(now.Sub(last).Seconds())
			last = now
		}
	}
}
