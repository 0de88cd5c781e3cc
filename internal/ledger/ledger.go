// Package ledger is the serialized marketplace engine: qualification registry,
// performance scoring, keyword index, ranking cache and escrow over one state.
//
// Every mutation holds the writer lock for its whole duration and runs
// validate, stage, transfer, persist, publish, emit. A failure before publish
// leaves live state untouched. Reads take the read lock and only ever see
// published state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/events"
	"agent-market/internal/observability"
	"agent-market/internal/scoring"
	"agent-market/internal/storage"
)

// Options configures a Ledger.
type Options struct {
	Store   storage.LedgerStore // Required
	Token   asset.Token         // Required
	Emitter events.Emitter      // Receives committed event batches (default: discard)
	Params  Params
	Clock   func() time.Time // Default: time.Now
	Logger  zerolog.Logger
}

// Ledger holds the live state. The zero value is not usable; use New.
type Ledger struct {
	mu sync.RWMutex

	store     storage.LedgerStore
	token     asset.Token
	emitter   events.Emitter
	params    Params
	clock     func() time.Time
	log       zerolog.Logger
	reporters map[domain.Address]struct{}

	seq          uint64
	fees         math.Int
	accounts     map[accountKey]*domain.RoleAccount
	profiles     map[domain.Address]*domain.ProviderProfile
	snapshots    map[domain.Address][]*domain.PerformanceSnapshot // pruned to the window
	keywords     map[string]*domain.KeywordEntry                  // non-empty entries only
	cells        map[domain.CellKey]*domain.BalanceCell
	withdrawable map[domain.Address]math.Int
	ranking      *domain.RankingSnapshot
}

type accountKey struct {
	role domain.Role
	addr domain.Address
}

// New loads the persisted state and returns a ready ledger. Qualification
// flags that disagree with the current thresholds are corrected and persisted.
func New(ctx context.Context, opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if opts.Token == nil {
		return nil, errors.New("ledger: token is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("ledger params: %w", err)
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &Ledger{
		store:        opts.Store,
		token:        opts.Token,
		emitter:      opts.Emitter,
		params:       opts.Params,
		clock:        opts.Clock,
		log:          opts.Logger,
		reporters:    make(map[domain.Address]struct{}, len(opts.Params.Reporters)),
		fees:         math.ZeroInt(),
		accounts:     make(map[accountKey]*domain.RoleAccount),
		profiles:     make(map[domain.Address]*domain.ProviderProfile),
		snapshots:    make(map[domain.Address][]*domain.PerformanceSnapshot),
		keywords:     make(map[string]*domain.KeywordEntry),
		cells:        make(map[domain.CellKey]*domain.BalanceCell),
		withdrawable: make(map[domain.Address]math.Int),
	}
	for _, r := range opts.Params.Reporters {
		l.reporters[r] = struct{}{}
	}

	st, err := opts.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	l.restore(st)

	if err := l.reconcile(ctx); err != nil {
		return nil, fmt.Errorf("reconcile qualification: %w", err)
	}

	l.log.Info().
		Uint64("seq", l.seq).
		Int("accounts", len(l.accounts)).
		Int("cells", len(l.cells)).
		Int("keywords", len(l.keywords)).
		Msg("ledger loaded")
	return l, nil
}

func (l *Ledger) restore(st *domain.LedgerState) {
	now := l.now()
	l.seq = st.Seq
	if !st.FeesCollected.IsNil() {
		l.fees = st.FeesCollected
	}
	for _, a := range st.Accounts {
		l.accounts[accountKey{a.Role, a.Address}] = a.Clone()
	}
	for _, p := range st.Profiles {
		l.profiles[p.Address] = p.Clone()
	}
	for _, s := range st.Snapshots {
		snap := *s
		l.snapshots[s.Provider] = append(l.snapshots[s.Provider], &snap)
	}
	for addr, snaps := range l.snapshots {
		l.snapshots[addr] = scoring.Prune(snaps, now, l.params.PerformanceWindow)
	}
	for _, k := range st.Keywords {
		if !k.Empty() {
			l.keywords[k.Keyword] = k.Clone()
		}
	}
	for _, c := range st.Cells {
		l.cells[c.Key] = c.Clone()
	}
	for _, w := range st.Withdrawables {
		l.withdrawable[w.Provider] = w.Amount
	}
	if st.Ranking != nil {
		r := *st.Ranking
		r.Entries = append([]domain.RankingEntry(nil), st.Ranking.Entries...)
		l.ranking = &r
	}
	l.refreshGauges()
}

// reconcile re-derives every qualification flag from the configured thresholds.
func (l *Ledger) reconcile(ctx context.Context) error {
	l.mu.RLock()
	var drifted []accountKey
	for k, a := range l.accounts {
		if a.Qualified != a.Staked.GTE(l.params.MinStake(a.Role)) {
			drifted = append(drifted, k)
		}
	}
	l.mu.RUnlock()
	if len(drifted) == 0 {
		return nil
	}

	sort.Slice(drifted, func(i, j int) bool {
		if drifted[i].role != drifted[j].role {
			return drifted[i].role < drifted[j].role
		}
		return drifted[i].addr < drifted[j].addr
	})
	return l.mutate(ctx, "reconcile", func(t *txn) error {
		for _, k := range drifted {
			l.log.Warn().
				Str("role", string(k.role)).
				Str("address", string(k.addr)).
				Msg("qualification drifted from threshold, correcting")
			t.requalify(k.role, k.addr)
		}
		return nil
	})
}

func (l *Ledger) now() int64 {
	return l.clock().Unix()
}

// Params returns the policy the ledger was built with.
func (l *Ledger) Params() Params {
	return l.params
}

// mutate runs fn against a fresh overlay under the writer lock and commits it.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(t *txn) error) (err error) {
	started := time.Now()
	defer func() { observability.RecordOperation(op, started, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	if err := fn(t); err != nil {
		l.log.Debug().Err(err).Str("op", op).Msg("mutation rejected")
		return err
	}
	if t.noop {
		return nil
	}

	batch, err := events.Build(t.seq, t.now, t.payloads)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := l.transfer(ctx, op, t); err != nil {
		l.log.Debug().Err(err).Str("op", op).Msg("mutation rejected")
		return err
	}

	if err := l.store.Commit(ctx, t.changeset()); err != nil {
		l.compensate(ctx, op, t.transfers)
		l.log.Error().Err(err).Str("op", op).Uint64("seq", t.seq).Msg("persist changeset")
		return fmt.Errorf("%s: persist: %w", op, err)
	}

	l.publish(t)
	if len(batch) > 0 {
		l.emitter.Emit(batch)
	}

	l.log.Info().
		Str("op", op).
		Uint64("seq", t.seq).
		Int("events", len(batch)).
		Msg("committed")
	return nil
}

// transfer executes the staged asset movements in order. On failure the
// ones already executed are reversed.
func (l *Ledger) transfer(ctx context.Context, op string, t *txn) error {
	for i, tr := range t.transfers {
		var err error
		if tr.in {
			err = l.token.TransferIn(ctx, tr.account, tr.amount)
		} else {
			err = l.token.TransferOut(ctx, tr.account, tr.amount)
		}
		if err != nil {
			l.compensate(ctx, op, t.transfers[:i])
			return fmt.Errorf("%w: %v", ErrInsufficientAsset, err)
		}
	}
	return nil
}

// compensate reverses executed transfers, newest first. Failures are logged;
// they leave custody out of step with the ledger and need operator action.
func (l *Ledger) compensate(ctx context.Context, op string, done []transfer) {
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		tr := done[i]
		var err error
		if tr.in {
			err = l.token.TransferOut(ctx, tr.account, tr.amount)
		} else {
			err = l.token.TransferIn(ctx, tr.account, tr.amount)
		}
		if err != nil {
			l.log.Error().Err(err).
				Str("op", op).
				Str("account", string(tr.account)).
				Str("amount", tr.amount.String()).
				Bool("inbound", tr.in).
				Msg("compensating transfer failed")
		}
	}
}

// publish moves the overlay into live state. It cannot fail.
func (l *Ledger) publish(t *txn) {
	l.seq = t.seq
	if t.fees != nil {
		l.fees = *t.fees
	}
	for k, a := range t.accounts {
		l.accounts[k] = a
	}
	for addr, p := range t.profiles {
		l.profiles[addr] = p
	}
	touched := make(map[domain.Address]struct{})
	for _, s := range t.snapshots {
		l.snapshots[s.Provider] = append(l.snapshots[s.Provider], s)
		touched[s.Provider] = struct{}{}
	}
	for addr := range touched {
		l.snapshots[addr] = scoring.Prune(l.snapshots[addr], t.now, l.params.PerformanceWindow)
	}
	for kw, e := range t.keywords {
		if e.Empty() {
			delete(l.keywords, kw)
			continue
		}
		l.keywords[kw] = e
	}
	for key, c := range t.cells {
		l.cells[key] = c
	}
	for addr, amt := range t.withdrawable {
		l.withdrawable[addr] = amt
	}
	if t.ranking != nil {
		l.ranking = t.ranking
	}
	l.refreshGauges()
}

func (l *Ledger) refreshGauges() {
	counts := make(map[domain.Role]int, len(domain.Roles))
	for _, a := range l.accounts {
		if a.Qualified {
			counts[a.Role]++
		}
	}
	for _, role := range domain.Roles {
		observability.SetQualified(string(role), counts[role])
	}
	observability.SetKeywordEntries(len(l.keywords))
}

// Status is a point-in-time summary of the ledger.
type Status struct {
	Seq               uint64                 `json:"seq"`
	Qualified         map[domain.Role]int    `json:"qualified"`
	Accounts          int                    `json:"accounts"`
	KeywordEntries    int                    `json:"keyword_entries"`
	BalanceCells      int                    `json:"balance_cells"`
	FeesCollected     math.Int               `json:"fees_collected"`
	RankingGeneration uint64                 `json:"ranking_generation"`
	RankingBuiltAt    int64                  `json:"ranking_built_at"`
	StalePolicy       string                 `json:"stale_policy"`
	Thresholds        map[domain.Role]string `json:"thresholds"`
}

// Status returns a summary of the published state.
func (l *Ledger) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Status{
		Seq:            l.seq,
		Qualified:      make(map[domain.Role]int, len(domain.Roles)),
		Accounts:       len(l.accounts),
		KeywordEntries: len(l.keywords),
		BalanceCells:   len(l.cells),
		FeesCollected:  l.fees,
		StalePolicy:    string(l.params.StalePolicy),
		Thresholds:     make(map[domain.Role]string, len(domain.Roles)),
	}
	for _, role := range domain.Roles {
		s.Qualified[role] = 0
		s.Thresholds[role] = l.params.MinStake(role).String()
	}
	for _, a := range l.accounts {
		if a.Qualified {
			s.Qualified[a.Role]++
		}
	}
	if l.ranking != nil {
		s.RankingGeneration = l.ranking.Generation
		s.RankingBuiltAt = l.ranking.BuiltAt
	}
	return s
}

// FeesCollected returns the refund fees retained in custody.
func (l *Ledger) FeesCollected() math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fees
}
