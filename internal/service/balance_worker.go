package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
)

// BalanceWorker listens for PostgreSQL NOTIFY on the ledger channel and
// invalidates cached balances in batches. The ledger service invalidates
// its own writes directly; this covers writes from other replicas.
type BalanceWorker struct {
	pool   *pgxpool.Pool
	cache  *CacheService
	batch  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // user IDs with stale cached balances
}

// NewBalanceWorker creates a cache invalidation worker.
func NewBalanceWorker(pool *pgxpool.Pool, cache *CacheService, logger zerolog.Logger) *BalanceWorker {
	return &BalanceWorker{
		pool:    pool,
		cache:   cache,
		batch:   time.Second,
		logger:  logger.With().Str("component", "balance-worker").Logger(),
		pending: make(map[string]struct{}),
	}
}

// Start listens until ctx is cancelled, reconnecting after errors.
func (w *BalanceWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("batch_window", w.batch).Msg("starting")

	for {
		if err := w.listenLoop(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info().Msg("stopping (context cancelled)")
				return
			}
			w.logger.Warn().Err(err).Msg("listen error, reconnecting in 5s")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				w.logger.Info().Msg("stopping (context cancelled)")
				return
			}
		}
	}
}

// listenLoop acquires a dedicated connection, LISTENs on the ledger channel,
// and queues each notified user for invalidation.
func (w *BalanceWorker) listenLoop(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+repository.LedgerChannel); err != nil {
		return err
	}
	w.logger.Info().Str("channel", repository.LedgerChannel).Msg("listening")

	flushCtx, flushCancel := context.WithCancel(ctx)
	defer flushCancel()
	go w.flushLoop(flushCtx)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		w.enqueue(notification.Payload)
	}
}

func (w *BalanceWorker) enqueue(userID string) {
	if userID == "" {
		return
	}
	w.mu.Lock()
	w.pending[userID] = struct{}{}
	w.mu.Unlock()
}

func (w *BalanceWorker) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(w.batch)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush(ctx)
		case <-ctx.Done():
			// Final flush before exit
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			w.flush(flushCtx)
			cancel()
			return
		}
	}
}

// flush drains the pending set and invalidates each user's cached balance.
// It returns the number of users invalidated.
func (w *BalanceWorker) flush(ctx context.Context) int {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return 0
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	invalidated := 0
	for userID := range batch {
		if err := w.cache.InvalidateBalance(ctx, userID); err != nil {
			w.logger.Warn().Err(err).Str("user_id", userID).Msg("cache invalidate failed")
			continue
		}
		invalidated++
	}
	w.logger.Debug().Int("invalidated", invalidated).Msg("batch complete")
	return invalidated
}
