package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agent-market/internal/domain"
	"agent-market/internal/logging"
	"agent-market/internal/stream"
)

func newWatchCmd() *cobra.Command {
	var (
		endpoint string
		filter   domain.EventFilter
		provider string
		user     string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print notifications from a running server as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			pretty, _ := cmd.Flags().GetBool("log-pretty")
			log := logging.NewWithWriter(os.Stderr, "watch", level)
			if pretty {
				log = logging.New("watch", level, true)
			}
			filter.Provider = domain.Address(provider)
			filter.User = domain.Address(user)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := stream.DefaultClientConfig()
			cfg.Logger = log
			client, err := stream.Dial(ctx, endpoint, filter, &cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case <-ctx.Done():
					log.Info().Int64("reconnects", client.Reconnects()).Msg("watch stopped")
					return nil
				case e, ok := <-client.Events():
					if !ok {
						return nil
					}
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
			}
		},
	}
	f := cmd.Flags()
	f.StringVar(&endpoint, "endpoint", "ws://localhost:8080/v1/stream", "Stream endpoint")
	f.StringVar(&filter.Kind, "kind", "", "Only events of this kind")
	f.StringVar(&provider, "provider", "", "Only events about this provider")
	f.StringVar(&user, "user", "", "Only events about this user")
	f.Uint64Var(&filter.AfterSeq, "after-seq", 0, "Replay the journal after this sequence first")
	return cmd
}
