package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
)

const (
	maxProductNameLen  = 100
	maxPurchaseCredits = 1_000_000
)

// NUMERIC(12,2) holds prices below 10^10.
var maxPrice = decimal.New(1, 10)

// PurchaseStore is the persistence PurchaseService needs. MarkPaid must only
// transition a pending purchase and report ErrNotFound otherwise.
type PurchaseStore interface {
	Insert(ctx context.Context, p *model.Purchase) error
	FindByID(ctx context.Context, id string) (*model.Purchase, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Purchase, error)
	MarkPaid(ctx context.Context, id, paymentRef string) (*model.Purchase, error)
}

// Crediter applies ledger changes.
type Crediter interface {
	Adjust(ctx context.Context, userID string, delta int64, typ model.TransactionType, description string, related *string) (*model.LedgerTransaction, error)
}

// PurchaseService records credit purchases and credits the ledger when their
// payment completes.
type PurchaseService struct {
	store   PurchaseStore
	ledger  Crediter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewPurchaseService(store PurchaseStore, ledger Crediter, m *metrics.Metrics, logger zerolog.Logger) *PurchaseService {
	return &PurchaseService{
		store:   store,
		ledger:  ledger,
		metrics: m,
		logger:  logger.With().Str("component", "purchases").Logger(),
	}
}

// Create records a pending purchase for userID. Nothing is credited yet.
func (s *PurchaseService) Create(ctx context.Context, userID string, req model.PurchaseRequest) (*model.Purchase, error) {
	if err := validatePurchase(&req); err != nil {
		s.metrics.PurchasesTotal.WithLabelValues("create", "invalid").Inc()
		return nil, err
	}

	p := &model.Purchase{
		ID:            uuid.NewString(),
		UserID:        userID,
		ProductType:   req.ProductType,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Credits:       req.Credits,
		Price:         req.Price,
		PaymentMethod: req.PaymentMethod,
		Status:        model.PurchasePending,
	}
	if err := s.store.Insert(ctx, p); err != nil {
		s.metrics.PurchasesTotal.WithLabelValues("create", "error").Inc()
		return nil, apperr.Wrap(apperr.KindStorage, "save purchase", err)
	}

	s.metrics.PurchasesTotal.WithLabelValues("create", "ok").Inc()
	s.logger.Info().
		Str("purchase_id", p.ID).
		Str("user_id", userID).
		Int64("credits", p.Credits).
		Str("price", p.Price.StringFixed(2)).
		Msg("purchase created")
	return p, nil
}

// List returns a page of the user's purchases, newest first.
func (s *PurchaseService) List(ctx context.Context, userID string, limit, offset int) ([]model.Purchase, error) {
	out, err := s.store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "list purchases", err)
	}
	return out, nil
}

// Complete confirms payment of a pending purchase and credits the buyer.
// The credit is keyed on the purchase id, so it lands exactly once even when
// Complete runs concurrently or is retried after a failure between the credit
// and the status change.
func (s *PurchaseService) Complete(ctx context.Context, id, paymentRef string) (*model.Purchase, error) {
	p, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "purchase not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load purchase", err)
	}
	if p.Status != model.PurchasePending {
		s.metrics.PurchasesTotal.WithLabelValues("complete", "conflict").Inc()
		return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("purchase is already %s", p.Status))
	}

	related := p.ID
	_, err = s.ledger.Adjust(ctx, p.UserID, p.Credits, model.TxPurchase, "purchase "+p.ProductName, &related)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		s.logger.Info().Str("purchase_id", p.ID).Msg("purchase already credited, finishing completion")
	case err != nil:
		s.metrics.PurchasesTotal.WithLabelValues("complete", "error").Inc()
		return nil, err
	}

	paid, err := s.store.MarkPaid(ctx, p.ID, paymentRef)
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.PurchasesTotal.WithLabelValues("complete", "conflict").Inc()
		return nil, apperr.New(apperr.KindConflict, "purchase was completed concurrently")
	}
	if err != nil {
		s.metrics.PurchasesTotal.WithLabelValues("complete", "error").Inc()
		return nil, apperr.Wrap(apperr.KindStorage, "mark purchase paid", err)
	}

	s.metrics.PurchasesTotal.WithLabelValues("complete", "ok").Inc()
	s.logger.Info().
		Str("purchase_id", p.ID).
		Str("user_id", p.UserID).
		Int64("credits", p.Credits).
		Msg("purchase completed")
	return paid, nil
}

func validatePurchase(req *model.PurchaseRequest) error {
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.ProductID = strings.TrimSpace(req.ProductID)

	switch {
	case !model.ValidProductTypes[req.ProductType]:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("invalid product type %q", req.ProductType))
	case req.ProductName == "":
		return apperr.New(apperr.KindValidation, "product name is required")
	case utf8.RuneCountInString(req.ProductName) > maxProductNameLen:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("product name must be at most %d characters", maxProductNameLen))
	case req.Credits <= 0 || req.Credits > maxPurchaseCredits:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("credits must be between 1 and %d", maxPurchaseCredits))
	case req.Price.IsNegative():
		return apperr.New(apperr.KindValidation, "price must not be negative")
	case !req.Price.Round(2).Equal(req.Price):
		return apperr.New(apperr.KindValidation, "price must have at most two decimal places")
	case req.Price.GreaterThanOrEqual(maxPrice):
		return apperr.New(apperr.KindValidation, "price is too large")
	case !model.ValidPaymentMethods[req.PaymentMethod]:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("invalid payment method %q", req.PaymentMethod))
	}
	return nil
}
