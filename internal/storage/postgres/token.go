package postgres

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/jackc/pgx/v5"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
)

// CustodyAccount is the token_balances row holding ledger custody.
const CustodyAccount = "__custody__"

// Token implements asset.Token on the token_balances table. Every transfer
// is one transaction that debits with a guarded UPDATE, so a short balance
// fails without moving anything.
type Token struct {
	pool *Pool
}

// NewToken creates a Token.
func NewToken(pool *Pool) *Token {
	return &Token{pool: pool}
}

var _ asset.Token = (*Token)(nil)

// TransferIn implements asset.Token.
func (t *Token) TransferIn(ctx context.Context, from domain.Address, amount math.Int) error {
	return t.move(ctx, "in", string(from), CustodyAccount, string(from), amount)
}

// TransferOut implements asset.Token.
func (t *Token) TransferOut(ctx context.Context, to domain.Address, amount math.Int) error {
	return t.move(ctx, "out", CustodyAccount, string(to), string(to), amount)
}

// Credit mints amount to owner. Used by development deployments.
func (t *Token) Credit(ctx context.Context, owner domain.Address, amount math.Int) (err error) {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", asset.ErrTransferFailed)
	}
	if !asset.InRange(amount) {
		return fmt.Errorf("%w: %w", asset.ErrTransferFailed, asset.ErrAmountRange)
	}
	started := time.Now()
	defer func() { observe("token_credit", started, err) }()

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := credit(ctx, tx, string(owner), amount); err != nil {
		return err
	}
	if err := logTransfer(ctx, tx, "credit", string(owner), amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BalanceOf implements asset.Token.
func (t *Token) BalanceOf(ctx context.Context, owner domain.Address) (math.Int, error) {
	return t.balance(ctx, string(owner))
}

// Custody returns the balance held by the ledger.
func (t *Token) Custody(ctx context.Context) (math.Int, error) {
	return t.balance(ctx, CustodyAccount)
}

func (t *Token) balance(ctx context.Context, owner string) (_ math.Int, err error) {
	started := time.Now()
	defer func() { observe("token_balance", started, err) }()

	var s string
	err = t.pool.QueryRow(ctx, `SELECT balance::text FROM token_balances WHERE owner = $1`, owner).Scan(&s)
	if isNotFoundError(err) {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, fmt.Errorf("query balance: %w", err)
	}
	return parseAmount(s)
}

func (t *Token) move(ctx context.Context, op, from, to, account string, amount math.Int) (err error) {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", asset.ErrTransferFailed)
	}
	started := time.Now()
	defer func() { observe("token_"+op, started, err) }()

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE token_balances
		SET balance = balance - $2::text::numeric, updated_at = now()
		WHERE owner = $1 AND balance >= $2::text::numeric
	`, from, amount.String())
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s cannot cover %s", asset.ErrTransferFailed, from, amount)
	}
	if err := credit(ctx, tx, to, amount); err != nil {
		return err
	}
	if err := logTransfer(ctx, tx, op, account, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", asset.ErrTransferFailed, err)
	}
	return nil
}

func credit(ctx context.Context, tx pgx.Tx, owner string, amount math.Int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO token_balances (owner, balance, updated_at)
		VALUES ($1, $2::text::numeric, now())
		ON CONFLICT (owner) DO UPDATE
		SET balance = token_balances.balance + EXCLUDED.balance, updated_at = now()
	`, owner, amount.String())
	if isCheckViolation(err) {
		return fmt.Errorf("%w: credit %s: %w", asset.ErrTransferFailed, owner, asset.ErrAmountRange)
	}
	if err != nil {
		return fmt.Errorf("credit %s: %w", owner, err)
	}
	return nil
}

func logTransfer(ctx context.Context, tx pgx.Tx, op, account string, amount math.Int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO token_transfers (op, account, amount) VALUES ($1, $2, $3::text::numeric)`,
		op, account, amount.String())
	if err != nil {
		return fmt.Errorf("log transfer: %w", err)
	}
	return nil
}
