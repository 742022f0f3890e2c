package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

func newTestPurchases() (*PurchaseService, *memPurchases, *memLedger) {
	ledger, account := newTestLedger()
	store := newMemPurchases()
	return NewPurchaseService(store, ledger, newTestMetrics(), zerolog.Nop()), store, account
}

func creditPack() model.PurchaseRequest {
	return model.PurchaseRequest{
		ProductType:   "credits",
		ProductID:     "pack-100",
		ProductName:   "100 credits",
		Credits:       100,
		Price:         decimal.RequireFromString("9.90"),
		PaymentMethod: "wechat",
	}
}

func TestPurchase_CreateIsPendingAndCreditsNothing(t *testing.T) {
	svc, _, account := newTestPurchases()
	ctx := context.Background()

	p, err := svc.Create(ctx, "u1", creditPack())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != model.PurchasePending || p.ID == "" || !p.Price.Equal(decimal.RequireFromString("9.9")) {
		t.Errorf("purchase = %+v", p)
	}
	if _, err := account.GetAccount(ctx, "u1"); err == nil {
		t.Error("pending purchase must not touch the ledger")
	}

	list, err := svc.List(ctx, "u1", 10, 0)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
	if other, _ := svc.List(ctx, "u2", 10, 0); len(other) != 0 {
		t.Errorf("other user sees %d purchases", len(other))
	}
}

func TestPurchase_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.PurchaseRequest)
	}{
		{"unknown product type", func(r *model.PurchaseRequest) { r.ProductType = "coins" }},
		{"blank name", func(r *model.PurchaseRequest) { r.ProductName = "   " }},
		{"zero credits", func(r *model.PurchaseRequest) { r.Credits = 0 }},
		{"negative credits", func(r *model.PurchaseRequest) { r.Credits = -5 }},
		{"too many credits", func(r *model.PurchaseRequest) { r.Credits = maxPurchaseCredits + 1 }},
		{"negative price", func(r *model.PurchaseRequest) { r.Price = decimal.RequireFromString("-1") }},
		{"sub-cent price", func(r *model.PurchaseRequest) { r.Price = decimal.RequireFromString("9.999") }},
		{"price too large", func(r *model.PurchaseRequest) { r.Price = decimal.RequireFromString("10000000000") }},
		{"unknown payment method", func(r *model.PurchaseRequest) { r.PaymentMethod = "cash" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestPurchases()
			req := creditPack()
			tt.mutate(&req)
			if _, err := svc.Create(context.Background(), "u1", req); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
			if len(store.purchases) != 0 {
				t.Error("invalid purchase was stored")
			}
		})
	}
}

func TestPurchase_CompleteCreditsOnce(t *testing.T) {
	svc, _, account := newTestPurchases()
	ctx := context.Background()
	p, _ := svc.Create(ctx, "u1", creditPack())

	paid, err := svc.Complete(ctx, p.ID, "wx-123")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if paid.Status != model.PurchasePaid || paid.PaidAt == nil || paid.PaymentRef == nil || *paid.PaymentRef != "wx-123" {
		t.Errorf("paid = %+v", paid)
	}

	if _, err := svc.Complete(ctx, p.ID, "wx-123"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second Complete err = %v, want conflict", err)
	}

	acct, _ := account.GetAccount(ctx, "u1")
	if acct.Balance != 100 {
		t.Errorf("balance = %d, want 100", acct.Balance)
	}
	history := account.history("u1")
	if len(history) != 1 || history[0].Type != model.TxPurchase || *history[0].RelatedEntity != p.ID {
		t.Errorf("history = %+v", history)
	}
}

func TestPurchase_ConcurrentCompletesCreditOnce(t *testing.T) {
	svc, _, account := newTestPurchases()
	ctx := context.Background()
	p, _ := svc.Create(ctx, "u1", creditPack())

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		ok, conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(ctx, p.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != 9 {
		t.Errorf("ok=%d conflicts=%d, want 1/9", ok, conflicts)
	}
	acct, _ := account.GetAccount(ctx, "u1")
	if acct.Balance != 100 {
		t.Errorf("balance = %d, want 100", acct.Balance)
	}
	if n := len(account.history("u1")); n != 1 {
		t.Errorf("transactions = %d, want 1", n)
	}
}

func TestPurchase_RetryAfterStatusUpdateFailure(t *testing.T) {
	svc, store, account := newTestPurchases()
	ctx := context.Background()
	p, _ := svc.Create(ctx, "u1", creditPack())

	store.failMarkPaid = errors.New("connection reset")
	if _, err := svc.Complete(ctx, p.ID, ""); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("err = %v, want storage error", err)
	}
	if got, _ := store.FindByID(ctx, p.ID); got.Status != model.PurchasePending {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	paid, err := svc.Complete(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if paid.Status != model.PurchasePaid {
		t.Errorf("status = %s", paid.Status)
	}
	acct, _ := account.GetAccount(ctx, "u1")
	if acct.Balance != 100 {
		t.Errorf("balance = %d, want 100 after retry", acct.Balance)
	}
	if n := len(account.history("u1")); n != 1 {
		t.Errorf("transactions = %d, want 1", n)
	}
}

func TestPurchase_CompleteUnknownIsNotFound(t *testing.T) {
	svc, _, _ := newTestPurchases()
	if _, err := svc.Complete(context.Background(), "7b0c6f8e-3f7a-4d3c-9a57-4a3f3e7e2b11", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}
