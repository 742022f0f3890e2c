package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
)

// LedgerStore is the persistence the ledger needs. WithAccountLock must run
// the read-modify-write atomically and serialize calls per user.
type LedgerStore interface {
	GetAccount(ctx context.Context, userID string) (*model.LedgerAccount, error)
	WithAccountLock(ctx context.Context, userID string, fn repository.AdjustFunc) (*model.LedgerTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.LedgerTransaction, error)
}

// BalanceCache is the cache-aside store behind GetBalance. A value may only
// be stored while the generation read before the database load is current.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID string) ([]byte, error)
	BalanceGeneration(ctx context.Context, userID string) (int64, error)
	SetBalanceIfCurrent(ctx context.Context, userID string, gen int64, data any) (bool, error)
	InvalidateBalance(ctx context.Context, userID string) error
}

// welcomeRelated marks the one-time welcome grant in the audit log.
const welcomeRelated = "welcome_bonus"

type LedgerConfig struct {
	// WelcomeBonus is granted once to every new account. Zero disables it.
	WelcomeBonus int64
}

// LedgerService is the only writer of account balances.
type LedgerService struct {
	store   LedgerStore
	cache   BalanceCache
	cfg     LedgerConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewLedgerService(store LedgerStore, cache BalanceCache, cfg LedgerConfig, m *metrics.Metrics, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:   store,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// GetBalance returns the caller's account, reading through the balance cache.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*model.LedgerAccount, error) {
	if cached, err := s.cache.GetBalance(ctx, userID); err == nil && cached != nil {
		var acct model.LedgerAccount
		if json.Unmarshal(cached, &acct) == nil {
			s.metrics.CacheHits.Inc()
			return &acct, nil
		}
	}
	s.metrics.CacheMisses.Inc()

	gen, genErr := s.cache.BalanceGeneration(ctx, userID)

	acct, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "ledger account not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load ledger account", err)
	}

	if genErr != nil {
		s.logger.Warn().Err(genErr).Msg("failed to read balance generation, not caching")
		return acct, nil
	}
	if _, err := s.cache.SetBalanceIfCurrent(ctx, userID, gen, acct); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache balance")
	}
	return acct, nil
}

// EnsureAccount grants the welcome bonus the first time userID is seen.
// Concurrent first calls race on the grant's unique related entity, so it is
// credited once; the losers see a conflict and treat it as done.
func (s *LedgerService) EnsureAccount(ctx context.Context, userID string) error {
	_, err := s.store.GetAccount(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.KindStorage, "load ledger account", err)
	}
	if s.cfg.WelcomeBonus <= 0 {
		return nil
	}

	related := welcomeRelated
	_, err = s.Adjust(ctx, userID, s.cfg.WelcomeBonus, model.TxGift, "welcome bonus", &related)
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		return err
	}
	return nil
}

// Adjust applies delta to the user's balance and appends exactly one
// transaction, atomically. The result would never be negative: such calls
// fail with an insufficient-balance error and change nothing.
func (s *LedgerService) Adjust(ctx context.Context, userID string, delta int64, typ model.TransactionType, description string, related *string) (*model.LedgerTransaction, error) {
	if err := validateAdjust(userID, delta, typ); err != nil {
		s.metrics.LedgerAdjustments.WithLabelValues(string(typ), "invalid").Inc()
		return nil, err
	}

	entry, err := s.store.WithAccountLock(ctx, userID, func(cur model.LedgerAccount) (model.LedgerAccount, *model.LedgerTransaction, error) {
		return applyDelta(cur, uuid.NewString(), delta, typ, description, related)
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, apperr.ErrInsufficientBalance) {
			outcome = "insufficient"
		} else if errors.Is(err, repository.ErrDuplicate) {
			outcome = "duplicate"
			err = apperr.Wrap(apperr.KindConflict, fmt.Sprintf("%s for %s already applied", typ, deref(related)), err)
		} else if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindStorage, "ledger adjust", err)
		}
		s.metrics.LedgerAdjustments.WithLabelValues(string(typ), outcome).Inc()
		return nil, err
	}

	s.metrics.LedgerAdjustments.WithLabelValues(string(typ), "ok").Inc()
	if err := s.cache.InvalidateBalance(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate cached balance")
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("type", string(typ)).
		Int64("delta", delta).
		Int64("balance_after", entry.BalanceAfter).
		Msg("ledger adjusted")
	return entry, nil
}

// ListTransactions returns a page of the user's audit log, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.LedgerTransaction, error) {
	txs, err := s.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "list ledger transactions", err)
	}
	return txs, nil
}

func validateAdjust(userID string, delta int64, typ model.TransactionType) error {
	if userID == "" {
		return apperr.New(apperr.KindValidation, "user id is required")
	}
	if !model.ValidTransactionTypes[typ] {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("invalid transaction type %q", typ))
	}
	if delta == 0 {
		return apperr.New(apperr.KindValidation, "delta must not be zero")
	}
	if typ == model.TxSpend && delta > 0 {
		return apperr.New(apperr.KindValidation, "spend must have a negative delta")
	}
	if typ != model.TxSpend && delta < 0 {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("%s must have a positive delta", typ))
	}
	return nil
}

// applyDelta is the pure state transition behind Adjust.
func applyDelta(cur model.LedgerAccount, id string, delta int64, typ model.TransactionType, description string, related *string) (model.LedgerAccount, *model.LedgerTransaction, error) {
	next := cur
	next.Balance = cur.Balance + delta
	if next.Balance < 0 {
		return cur, nil, apperr.New(apperr.KindInsufficientBalance,
			fmt.Sprintf("insufficient balance: have %d, need %d", cur.Balance, -delta)).
			WithDetails(map[string]any{"balance": cur.Balance, "required": -delta})
	}
	if delta > 0 {
		next.TotalEarned += delta
	} else {
		next.TotalSpent += -delta
	}

	return next, &model.LedgerTransaction{
		ID:            id,
		UserID:        cur.UserID,
		Type:          typ,
		Delta:         delta,
		BalanceBefore: cur.Balance,
		BalanceAfter:  next.Balance,
		Description:   description,
		RelatedEntity: related,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
