package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"agent-market/internal/api"
	"agent-market/internal/asset"
	"agent-market/internal/config"
	"agent-market/internal/storage"
	chstore "agent-market/internal/storage/clickhouse"
	"agent-market/internal/storage/memory"
	pgstore "agent-market/internal/storage/postgres"
)

// custodyToken is a token the dev mint endpoint can credit.
type custodyToken interface {
	asset.Token
	api.Minter
}

// stores holds the storage implementations the server runs on.
type stores struct {
	ledger  storage.LedgerStore
	events  storage.EventStore
	token   custodyToken
	cleanup func()
}

// createStores selects in-memory or PostgreSQL state. The event journal goes
// to ClickHouse when a DSN is configured and stays in memory otherwise.
func createStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.UseMemory {
		log.Warn().Msg("using in-memory storage; state is lost on exit")
		return &stores{
			ledger:  memory.NewLedgerStore(),
			events:  memory.NewEventStore(),
			token:   asset.NewMemoryToken(),
			cleanup: func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	st := &stores{
		ledger:  pgstore.NewLedgerStore(pool),
		token:   pgstore.NewToken(pool),
		cleanup: pool.Close,
	}

	if cfg.ClickHouseDSN == "" {
		log.Warn().Msg("no clickhouse-dsn; event journal kept in memory")
		st.events = memory.NewEventStore()
		return st, nil
	}

	chConn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	st.events = chstore.NewEventStore(chConn)
	st.cleanup = func() {
		chConn.Close()
		pool.Close()
	}
	return st, nil
}
