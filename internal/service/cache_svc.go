package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// Analysis results are append-only, so they can live long.
	AnalysisCacheTTL = time.Hour
	// Balances are invalidated on every change; the TTL only bounds a missed notification.
	BalanceCacheTTL = 5 * time.Minute
	// Must outlive any in-flight balance read, or a reset counter could match a stale generation.
	balanceGenTTL = 24 * time.Hour
)

// CacheService provides a Redis cache-aside layer for analysis results and
// ledger balances.
type CacheService struct {
	rdb *redis.Client
}

// NewCacheService creates a new CacheService. If redisURL is empty or connection
// fails, it returns a CacheService with a nil client (cache operations become no-ops).
func NewCacheService(redisURL string, logger zerolog.Logger) *CacheService {
	log := logger.With().Str("component", "redis").Logger()
	if redisURL == "" {
		log.Warn().Msg("no URL configured, caching disabled")
		return &CacheService{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid URL, caching disabled")
		return &CacheService{}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("connection failed, caching disabled")
		rdb.Close()
		return &CacheService{}
	}

	log.Info().Msg("connected, caching enabled")
	return &CacheService{rdb: rdb}
}

// NewCacheServiceWithClient wraps an existing client. A nil client disables caching.
func NewCacheServiceWithClient(rdb *redis.Client) *CacheService {
	return &CacheService{rdb: rdb}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	return c.rdb
}

// GetAnalysis retrieves a cached analysis result. Returns nil if not cached or cache is disabled.
// Keys are scoped by owner so a hit never crosses users.
func (c *CacheService) GetAnalysis(ctx context.Context, ownerID, id string) ([]byte, error) {
	return c.get(ctx, analysisKey(ownerID, id))
}

// SetAnalysis stores an analysis result in cache.
func (c *CacheService) SetAnalysis(ctx context.Context, ownerID, id string, data any) error {
	return c.set(ctx, analysisKey(ownerID, id), data, AnalysisCacheTTL)
}

// GetBalance retrieves a cached ledger account. Returns nil if not cached.
func (c *CacheService) GetBalance(ctx context.Context, userID string) ([]byte, error) {
	return c.get(ctx, balanceKey(userID))
}

// BalanceGeneration returns the user's balance generation, bumped by every
// InvalidateBalance. Read it before loading the account from the database and
// hand it to SetBalanceIfCurrent.
func (c *CacheService) BalanceGeneration(ctx context.Context, userID string) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	gen, err := c.rdb.Get(ctx, balanceGenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// setIfGeneration writes KEYS[2] only while KEYS[1] still holds ARGV[1].
// A missing generation counts as 0.
var setIfGeneration = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (cur or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// SetBalanceIfCurrent caches a ledger account unless the balance was
// invalidated after gen was read, so a slow reader cannot put back a value
// older than a committed change. It reports whether the value was stored.
func (c *CacheService) SetBalanceIfCurrent(ctx context.Context, userID string, gen int64, data any) (bool, error) {
	if c.rdb == nil {
		return false, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return false, err
	}
	stored, err := setIfGeneration.Run(ctx, c.rdb,
		[]string{balanceGenKey(userID), balanceKey(userID)},
		strconv.FormatInt(gen, 10), b, BalanceCacheTTL.Milliseconds(),
	).Int()
	return stored == 1, err
}

// InvalidateBalance bumps the user's balance generation and removes the cached
// balance (called after every ledger change).
func (c *CacheService) InvalidateBalance(ctx context.Context, userID string) error {
	if c.rdb == nil {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, balanceGenKey(userID))
		pipe.Expire(ctx, balanceGenKey(userID), balanceGenTTL)
		pipe.Del(ctx, balanceKey(userID))
		return nil
	})
	return err
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *CacheService) get(ctx context.Context, key string) ([]byte, error) {
	if c.rdb == nil {
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (c *CacheService) set(ctx context.Context, key string, data any, ttl time.Duration) error {
	if c.rdb == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func analysisKey(ownerID, id string) string {
	return fmt.Sprintf("analysis:%s:%s", ownerID, id)
}

func balanceKey(userID string) string {
	return fmt.Sprintf("balance:%s", userID)
}

func balanceGenKey(userID string) string {
	return fmt.Sprintf("balance-gen:%s", userID)
}
