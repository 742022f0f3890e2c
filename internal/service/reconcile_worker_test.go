package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

func tx(before, delta int64) model.LedgerTransaction {
	return model.LedgerTransaction{ID: "t", BalanceBefore: before, Delta: delta, BalanceAfter: before + delta}
}

func TestVerifyChain(t *testing.T) {
	tests := []struct {
		name    string
		acct    model.LedgerAccount
		history []model.LedgerTransaction
		wantOK  bool
	}{
		{
			name:   "empty account",
			acct:   model.LedgerAccount{},
			wantOK: true,
		},
		{
			name:    "consistent",
			acct:    model.LedgerAccount{Balance: 15, TotalEarned: 25, TotalSpent: 10},
			history: []model.LedgerTransaction{tx(0, 20), tx(20, -10), tx(10, 5)},
			wantOK:  true,
		},
		{
			name:    "broken link",
			acct:    model.LedgerAccount{Balance: 15, TotalEarned: 25, TotalSpent: 10},
			history: []model.LedgerTransaction{tx(0, 20), tx(12, -10), tx(10, 5)},
		},
		{
			name:    "balance drifted from log",
			acct:    model.LedgerAccount{Balance: 30, TotalEarned: 20},
			history: []model.LedgerTransaction{tx(0, 20)},
		},
		{
			name: "arithmetic mismatch",
			acct: model.LedgerAccount{Balance: 20, TotalEarned: 20},
			history: []model.LedgerTransaction{
				{ID: "t", BalanceBefore: 0, Delta: 20, BalanceAfter: 25},
			},
		},
		{
			name:    "totals wrong",
			acct:    model.LedgerAccount{Balance: 10, TotalEarned: 10, TotalSpent: 3},
			history: []model.LedgerTransaction{tx(0, 10)},
		},
		{
			name:   "missing history",
			acct:   model.LedgerAccount{Balance: 10, TotalEarned: 10},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := VerifyChain(tt.acct, tt.history)
			if tt.wantOK && len(problems) > 0 {
				t.Errorf("unexpected problems: %v", problems)
			}
			if !tt.wantOK && len(problems) == 0 {
				t.Error("expected problems, got none")
			}
		})
	}
}

func TestReconcileWorker_FlagsTamperedAccount(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	ledger.Adjust(ctx, "good", 50, model.TxPurchase, "", nil)
	ledger.Adjust(ctx, "bad", 50, model.TxPurchase, "", nil)

	// Simulate a balance write that bypassed Adjust.
	store.mu.Lock()
	a := store.accounts["bad"]
	a.Balance = 80
	store.accounts["bad"] = a
	store.mu.Unlock()

	m := newTestMetrics()
	w := NewReconcileWorker(store, 0, m, zerolog.Nop())

	checked, mismatched, err := w.reconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcileAll: %v", err)
	}
	if checked != 2 || mismatched != 1 {
		t.Errorf("checked=%d mismatched=%d, want 2/1", checked, mismatched)
	}
	if got := testutil.ToFloat64(m.ReconcileMismatches); got != 1 {
		t.Errorf("mismatch counter = %v, want 1", got)
	}
}

func TestBalanceWorker_FlushDedupes(t *testing.T) {
	w := NewBalanceWorker(nil, &CacheService{}, zerolog.Nop())
	w.enqueue("u1")
	w.enqueue("u1")
	w.enqueue("u2")
	w.enqueue("")

	if n := w.flush(context.Background()); n != 2 {
		t.Errorf("flushed %d users, want 2", n)
	}
	if n := w.flush(context.Background()); n != 0 {
		t.Errorf("second flush = %d, want 0", n)
	}
}
