package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
)

// ReconcileStore reads accounts and their complete history.
type ReconcileStore interface {
	AccountIDs(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, userID string) (*model.LedgerAccount, []model.LedgerTransaction, error)
}

// ReconcileWorker is a periodic background job that checks every ledger
// account against its transaction log. Mismatches are reported, never fixed.
type ReconcileWorker struct {
	store    ReconcileStore
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewReconcileWorker creates a worker that ticks every interval.
func NewReconcileWorker(store ReconcileStore, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		store:    store,
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "reconcile-worker").Logger(),
	}
}

// Start runs one pass immediately, then every interval until ctx is cancelled.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("starting")

	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			w.logger.Info().Msg("stopping (context cancelled)")
			return
		}
	}
}

func (w *ReconcileWorker) tick(ctx context.Context) {
	start := time.Now()

	checked, mismatched, err := w.reconcileAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("reconcile pass failed")
		}
		return
	}

	w.logger.Info().
		Int("accounts", checked).
		Int("mismatched", mismatched).
		Dur("took", time.Since(start)).
		Msg("reconcile pass complete")
}

func (w *ReconcileWorker) reconcileAll(ctx context.Context) (checked, mismatched int, err error) {
	ids, err := w.store.AccountIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return checked, mismatched, ctx.Err()
		}
		acct, history, err := w.store.Snapshot(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("user_id", id).Msg("snapshot failed")
			continue
		}
		checked++

		if problems := VerifyChain(*acct, history); len(problems) > 0 {
			mismatched++
			w.metrics.ReconcileMismatches.Inc()
			w.logger.Error().
				Str("user_id", id).
				Strs("problems", problems).
				Msg("ledger account does not reconcile")
		}
	}
	return checked, mismatched, nil
}

// VerifyChain checks an account against its full history, given in commit
// order. Accounts start at zero, so the sum of deltas must equal the balance
// and each transaction must begin where the previous one ended.
func VerifyChain(acct model.LedgerAccount, history []model.LedgerTransaction) []string {
	var problems []string
	if acct.Balance < 0 {
		problems = append(problems, fmt.Sprintf("negative balance %d", acct.Balance))
	}

	var sum, earned, spent, prevAfter int64
	for i, tx := range history {
		if tx.BalanceAfter != tx.BalanceBefore+tx.Delta {
			problems = append(problems, fmt.Sprintf("tx %s: %d%+d != %d", tx.ID, tx.BalanceBefore, tx.Delta, tx.BalanceAfter))
		}
		if tx.BalanceAfter < 0 {
			problems = append(problems, fmt.Sprintf("tx %s: negative balance_after %d", tx.ID, tx.BalanceAfter))
		}
		if tx.BalanceBefore != prevAfter {
			problems = append(problems, fmt.Sprintf("tx %s (#%d): balance_before %d, previous balance_after %d", tx.ID, i, tx.BalanceBefore, prevAfter))
		}
		prevAfter = tx.BalanceAfter

		sum += tx.Delta
		if tx.Delta > 0 {
			earned += tx.Delta
		} else {
			spent += -tx.Delta
		}
	}

	if sum != acct.Balance {
		problems = append(problems, fmt.Sprintf("sum of deltas %d != balance %d", sum, acct.Balance))
	}
	if len(history) > 0 && prevAfter != acct.Balance {
		problems = append(problems, fmt.Sprintf("last balance_after %d != balance %d", prevAfter, acct.Balance))
	}
	if earned != acct.TotalEarned {
		problems = append(problems, fmt.Sprintf("total_earned %d, log says %d", acct.TotalEarned, earned))
	}
	if spent != acct.TotalSpent {
		problems = append(problems, fmt.Sprintf("total_spent %d, log says %d", acct.TotalSpent, spent))
	}
	return problems
}
