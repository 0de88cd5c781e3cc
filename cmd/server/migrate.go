package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"agent-market/internal/config"
	"agent-market/internal/logging"
	"agent-market/internal/storage/migrations"
	pgstore "agent-market/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg)
		},
	}
}

func migrate(ctx context.Context, cfg *config.Config) error {
	log := logging.New("migrate", cfg.LogLevel, cfg.LogPretty)
	if cfg.UseMemory || cfg.PostgresDSN == "" {
		return errors.New("migrate needs --postgres-dsn and no --use-memory")
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	log.Info().Strs("applied", applied).Msg("postgres migrations done")

	if cfg.ClickHouseDSN == "" {
		log.Info().Msg("no clickhouse-dsn, skipping event journal migrations")
		return nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		return fmt.Errorf("clickhouse migrations: %w", err)
	}
	defer conn.Close()
	log.Info().Msg("clickhouse migrations done")
	return nil
}
