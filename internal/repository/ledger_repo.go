package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

// LedgerChannel is the NOTIFY channel carrying the user id of every changed account.
const LedgerChannel = "ledger_changes"

// AdjustFunc computes an account's next state from its locked current state
// and returns the transaction to append. Returning an error aborts the change.
type AdjustFunc func(current model.LedgerAccount) (model.LedgerAccount, *model.LedgerTransaction, error)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// GetAccount returns the account for userID.
func (r *LedgerRepo) GetAccount(ctx context.Context, userID string) (*model.LedgerAccount, error) {
	var a model.LedgerAccount
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, balance, total_earned, total_spent, updated_at
		FROM ledger_accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.Balance, &a.TotalEarned, &a.TotalSpent, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// WithAccountLock runs fn against the row-locked account and, if fn succeeds,
// writes the new account state and appends the transaction in the same
// database transaction. A missing account is created with zero balance; the
// creation is rolled back together with everything else when fn fails.
// Calls for the same user serialize on the row lock; other users are unaffected.
// A second gift or purchase credit for the same related entity fails with
// ErrDuplicate and changes nothing.
func (r *LedgerRepo) WithAccountLock(ctx context.Context, userID string, fn AdjustFunc) (*model.LedgerTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, err
	}

	var current model.LedgerAccount
	err = tx.QueryRow(ctx, `
		SELECT user_id, balance, total_earned, total_spent, updated_at
		FROM ledger_accounts WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&current.UserID, &current.Balance, &current.TotalEarned, &current.TotalSpent, &current.UpdatedAt)
	if err != nil {
		return nil, err
	}

	next, entry, err := fn(current)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("ledger adjust for %s produced no transaction", userID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = $2, total_earned = $3, total_spent = $4, updated_at = NOW()
		WHERE user_id = $1`,
		userID, next.Balance, next.TotalEarned, next.TotalSpent)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (id, user_id, type, delta, balance_before, balance_after,
		                                 description, related_entity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq, created_at`,
		entry.ID, userID, string(entry.Type), entry.Delta, entry.BalanceBefore, entry.BalanceAfter,
		entry.Description, entry.RelatedEntity,
	).Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		return nil, duplicate(err)
	}

	// Delivered on commit only
	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, LedgerChannel, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

const txColumns = `id, seq, user_id, type, delta, balance_before, balance_after,
	description, related_entity, created_at`

func scanTransactions(rows pgx.Rows) ([]model.LedgerTransaction, error) {
	defer rows.Close()
	out := []model.LedgerTransaction{}
	for rows.Next() {
		var (
			t   model.LedgerTransaction
			typ string
		)
		err := rows.Scan(&t.ID, &t.Seq, &t.UserID, &typ, &t.Delta, &t.BalanceBefore, &t.BalanceAfter,
			&t.Description, &t.RelatedEntity, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		t.Type = model.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTransactions returns a page of the user's transactions, newest first.
func (r *LedgerRepo) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.LedgerTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// Snapshot returns the account and its full transaction history in commit
// order, read from one consistent snapshot.
func (r *LedgerRepo) Snapshot(ctx context.Context, userID string) (*model.LedgerAccount, []model.LedgerTransaction, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var a model.LedgerAccount
	err = tx.QueryRow(ctx, `
		SELECT user_id, balance, total_earned, total_spent, updated_at
		FROM ledger_accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.Balance, &a.TotalEarned, &a.TotalSpent, &a.UpdatedAt)
	if err != nil {
		return nil, nil, notFound(err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+txColumns+`
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY seq`, userID)
	if err != nil {
		return nil, nil, err
	}
	history, err := scanTransactions(rows)
	if err != nil {
		return nil, nil, err
	}
	return &a, history, tx.Commit(ctx)
}

// AccountIDs returns every account's user id.
func (r *LedgerRepo) AccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM ledger_accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
