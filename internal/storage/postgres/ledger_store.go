package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/jackc/pgx/v5"

	"agent-market/internal/domain"
	"agent-market/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Amounts travel as text and are cast to NUMERIC in SQL.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// Commit applies cs in a single transaction. Returns ErrInvalidInput if the
// sequence does not advance past the stored one.
func (s *LedgerStore) Commit(ctx context.Context, cs *storage.Changeset) (err error) {
	if err := cs.Validate(); err != nil {
		return err
	}
	started := time.Now()
	defer func() { observe("commit", started, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_meta (id, seq, fees_collected, updated_at)
		VALUES (1, $1, $2::text::numeric, now())
		ON CONFLICT (id) DO UPDATE
		SET seq = EXCLUDED.seq, fees_collected = EXCLUDED.fees_collected, updated_at = now()
		WHERE ledger_meta.seq < EXCLUDED.seq
	`, int64(cs.Seq), cs.FeesCollected.String())
	if err != nil {
		return fmt.Errorf("update ledger meta: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return storage.ErrInvalidInput
	}

	for _, a := range cs.Accounts {
		_, err := tx.Exec(ctx, `
			INSERT INTO role_accounts (role, address, staked, qualified, registered_seq)
			VALUES ($1, $2, $3::text::numeric, $4, $5)
			ON CONFLICT (role, address) DO UPDATE
			SET staked = EXCLUDED.staked, qualified = EXCLUDED.qualified
		`, string(a.Role), string(a.Address), a.Staked.String(), a.Qualified, int64(a.RegisteredSeq))
		if err != nil {
			return wrapWriteError("upsert role account", err)
		}
	}

	for _, p := range cs.Profiles {
		keywords := p.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO provider_profiles (address, pricing, availability, keywords)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address) DO UPDATE
			SET pricing = EXCLUDED.pricing, availability = EXCLUDED.availability, keywords = EXCLUDED.keywords
		`, string(p.Address), p.Pricing, p.Availability, keywords)
		if err != nil {
			return wrapWriteError("upsert provider profile", err)
		}
	}

	for _, snap := range cs.Snapshots {
		_, err := tx.Exec(ctx, `
			INSERT INTO performance_snapshots (seq, provider, ts, completed, succeeded, volume)
			VALUES ($1, $2, $3, $4, $5, $6::text::numeric)
		`, int64(snap.Seq), string(snap.Provider), snap.Timestamp,
			int64(snap.Completed), int64(snap.Succeeded), snap.Volume.String())
		if err != nil {
			return wrapWriteError("insert performance snapshot", err)
		}
	}

	for _, k := range cs.Keywords {
		if _, err := tx.Exec(ctx, `DELETE FROM keyword_members WHERE keyword = $1`, k.Keyword); err != nil {
			return fmt.Errorf("clear keyword %s: %w", k.Keyword, err)
		}
		for provider, contribution := range k.Members {
			_, err := tx.Exec(ctx, `
				INSERT INTO keyword_members (keyword, provider, contribution)
				VALUES ($1, $2, $3::text::numeric)
			`, k.Keyword, string(provider), contribution.String())
			if err != nil {
				return wrapWriteError("insert keyword member", err)
			}
		}
	}

	for _, c := range cs.Cells {
		_, err := tx.Exec(ctx, `
			INSERT INTO balance_cells (user_addr, provider, category, deposited, claimed)
			VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric)
			ON CONFLICT (user_addr, provider, category) DO UPDATE
			SET deposited = EXCLUDED.deposited, claimed = EXCLUDED.claimed
		`, string(c.Key.User), string(c.Key.Provider), c.Key.Category,
			c.Deposited.String(), c.Claimed.String())
		if err != nil {
			return wrapWriteError("upsert balance cell", err)
		}
	}

	for _, w := range cs.Withdrawables {
		_, err := tx.Exec(ctx, `
			INSERT INTO agent_withdrawable (provider, amount)
			VALUES ($1, $2::text::numeric)
			ON CONFLICT (provider) DO UPDATE SET amount = EXCLUDED.amount
		`, string(w.Provider), w.Amount.String())
		if err != nil {
			return wrapWriteError("upsert withdrawable", err)
		}
	}

	if cs.Ranking != nil {
		entries, err := json.Marshal(cs.Ranking.Entries)
		if err != nil {
			return fmt.Errorf("marshal ranking entries: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ranking_cache (id, generation, built_at, entries)
			VALUES (1, $1, $2, $3::text::jsonb)
			ON CONFLICT (id) DO UPDATE
			SET generation = EXCLUDED.generation, built_at = EXCLUDED.built_at, entries = EXCLUDED.entries
		`, int64(cs.Ranking.Generation), cs.Ranking.BuiltAt, string(entries))
		if err != nil {
			return fmt.Errorf("upsert ranking cache: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func wrapWriteError(op string, err error) error {
	switch {
	case isDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, storage.ErrDuplicateKey)
	case isCheckViolation(err):
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidInput)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Load reads the full state inside one read-only snapshot.
func (s *LedgerStore) Load(ctx context.Context) (_ *domain.LedgerState, err error) {
	started := time.Now()
	defer func() { observe("load", started, err) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st := &domain.LedgerState{FeesCollected: math.ZeroInt()}

	var seq int64
	var fees string
	err = tx.QueryRow(ctx, `SELECT seq, fees_collected::text FROM ledger_meta WHERE id = 1`).Scan(&seq, &fees)
	switch {
	case isNotFoundError(err):
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("load ledger meta: %w", err)
	}
	st.Seq = uint64(seq)
	if st.FeesCollected, err = parseAmount(fees); err != nil {
		return nil, fmt.Errorf("load ledger meta: %w", err)
	}

	loaders := []struct {
		name string
		fn   func(context.Context, pgx.Tx, *domain.LedgerState) error
	}{
		{"role accounts", loadAccounts},
		{"provider profiles", loadProfiles},
		{"performance snapshots", loadSnapshots},
		{"keyword members", loadKeywords},
		{"balance cells", loadCells},
		{"withdrawables", loadWithdrawables},
		{"ranking cache", loadRanking},
	}
	for _, l := range loaders {
		if err := l.fn(ctx, tx, st); err != nil {
			return nil, fmt.Errorf("load %s: %w", l.name, err)
		}
	}
	return st, nil
}

func loadAccounts(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `
		SELECT role, address, staked::text, qualified, registered_seq
		FROM role_accounts
		ORDER BY registered_seq ASC, role ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.RoleAccount
		var role, addr, staked string
		var regSeq int64
		if err := rows.Scan(&role, &addr, &staked, &a.Qualified, &regSeq); err != nil {
			return err
		}
		a.Role = domain.Role(role)
		a.Address = domain.Address(addr)
		a.RegisteredSeq = uint64(regSeq)
		if a.Staked, err = parseAmount(staked); err != nil {
			return err
		}
		st.Accounts = append(st.Accounts, &a)
	}
	return rows.Err()
}

func loadProfiles(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `
		SELECT address, pricing, availability, keywords
		FROM provider_profiles
		ORDER BY address ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.ProviderProfile
		var addr string
		if err := rows.Scan(&addr, &p.Pricing, &p.Availability, &p.Keywords); err != nil {
			return err
		}
		p.Address = domain.Address(addr)
		st.Profiles = append(st.Profiles, &p)
	}
	return rows.Err()
}

func loadSnapshots(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `
		SELECT seq, provider, ts, completed, succeeded, volume::text
		FROM performance_snapshots
		ORDER BY seq ASC, provider ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var snap domain.PerformanceSnapshot
		var seq, completed, succeeded int64
		var provider, volume string
		if err := rows.Scan(&seq, &provider, &snap.Timestamp, &completed, &succeeded, &volume); err != nil {
			return err
		}
		snap.Seq = uint64(seq)
		snap.Provider = domain.Address(provider)
		snap.Completed = uint64(completed)
		snap.Succeeded = uint64(succeeded)
		if snap.Volume, err = parseAmount(volume); err != nil {
			return err
		}
		st.Snapshots = append(st.Snapshots, &snap)
	}
	return rows.Err()
}

func loadKeywords(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `
		SELECT keyword, provider, contribution::text
		FROM keyword_members
		ORDER BY keyword ASC, provider ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current *domain.KeywordEntry
	for rows.Next() {
		var keyword, provider, contribution string
		if err := rows.Scan(&keyword, &provider, &contribution); err != nil {
			return err
		}
		amt, err := parseAmount(contribution)
		if err != nil {
			return err
		}
		if current == nil || current.Keyword != keyword {
			current = domain.NewKeywordEntry(keyword)
			st.Keywords = append(st.Keywords, current)
		}
		current.Set(domain.Address(provider), amt)
	}
	return rows.Err()
}

func loadCells(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `
		SELECT user_addr, provider, category, deposited::text, claimed::text
		FROM balance_cells
		ORDER BY user_addr ASC, provider ASC, category ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var user, provider, category, deposited, claimed string
		if err := rows.Scan(&user, &provider, &category, &deposited, &claimed); err != nil {
			return err
		}
		c := domain.NewBalanceCell(domain.CellKey{
			User:     domain.Address(user),
			Provider: domain.Address(provider),
			Category: category,
		})
		if c.Deposited, err = parseAmount(deposited); err != nil {
			return err
		}
		if c.Claimed, err = parseAmount(claimed); err != nil {
			return err
		}
		st.Cells = append(st.Cells, c)
	}
	return rows.Err()
}

func loadWithdrawables(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	rows, err := tx.Query(ctx, `
		SELECT provider, amount::text
		FROM agent_withdrawable
		ORDER BY provider ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var provider, amount string
		if err := rows.Scan(&provider, &amount); err != nil {
			return err
		}
		amt, err := parseAmount(amount)
		if err != nil {
			return err
		}
		st.Withdrawables = append(st.Withdrawables, &domain.Withdrawable{
			Provider: domain.Address(provider),
			Amount:   amt,
		})
	}
	return rows.Err()
}

func loadRanking(ctx context.Context, tx pgx.Tx, st *domain.LedgerState) error {
	var generation int64
	var r domain.RankingSnapshot
	var entries string
	err := tx.QueryRow(ctx, `
		SELECT generation, built_at, entries::text FROM ranking_cache WHERE id = 1
	`).Scan(&generation, &r.BuiltAt, &entries)
	if isNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.Generation = uint64(generation)
	if err := json.Unmarshal([]byte(entries), &r.Entries); err != nil {
		return fmt.Errorf("decode entries: %w", err)
	}
	st.Ranking = &r
	return nil
}
