// Package cache provides Redis-backed caching for weight-table and
// witness-health snapshots, plus per-user, per-day order sequence
// counters.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tradingcore/config"
)

// Key prefix templates. %s placeholders are filled by the helper functions
// below, never by callers building strings directly.
const (
	PrefixWeightTable    = "weight:table:snapshot"
	PrefixWitnessHealth  = "witness:%s:health"
	PrefixRiskState      = "risk:%s:state"
	PrefixUserProfile    = "user:%s:profile"
	PrefixOrderSequence  = "user:%s:order_seq:%s"
)

// DefaultSettingsTTL bounds how long a weight-table or witness-health
// snapshot is trusted before the owning component must recompute it.
const DefaultSettingsTTL = 24 * time.Hour

// DefaultSequenceTTL bounds how long an order sequence counter survives;
// it only needs to outlive one trading day.
const DefaultSequenceTTL = 48 * time.Hour

// CacheService wraps a redis.Client with a software circuit breaker so a
// degraded Redis never blocks the decision loop — callers fall back to
// recomputing from the database of record.
type CacheService struct {
	client *redis.Client
	config config.RedisConfig

	mu              sync.RWMutex
	healthy         bool
	failureCount    int
	lastCheck       time.Time
	maxFailures     int
	checkInterval   time.Duration
	recoveryBackoff time.Duration
}

// NewCacheService connects to Redis per cfg. If the initial ping fails, the
// service is returned in degraded mode rather than erroring, matching the
// decision loop's preference for running without the cache over not
// starting at all.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("cache: redis is disabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:          client,
		config:          cfg,
		maxFailures:     3,
		checkInterval:   30 * time.Second,
		recoveryBackoff: 10 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cs.healthy = false
		return cs, nil
	}
	cs.healthy = true

	return cs, nil
}

// IsHealthy reports whether the last probe considered Redis reachable.
func (c *CacheService) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *CacheService) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	if c.failureCount >= c.maxFailures {
		c.healthy = false
	}
}

func (c *CacheService) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.healthy = true
}

func (c *CacheService) checkHealth(ctx context.Context) {
	c.mu.RLock()
	last := c.lastCheck
	c.mu.RUnlock()
	if time.Since(last) < c.checkInterval {
		return
	}

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.mu.Unlock()

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Ping(pingCtx).Err(); err != nil {
			c.recordFailure()
		} else {
			c.recordSuccess()
		}
	}()
}

// Get retrieves a raw string value.
func (c *CacheService) Get(ctx context.Context, key string) (string, error) {
	c.checkHealth(ctx)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.recordFailure()
		}
		return "", err
	}
	c.recordSuccess()
	return val, nil
}

// MGet retrieves several keys in one round trip.
func (c *CacheService) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	c.checkHealth(ctx)
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	c.recordSuccess()
	return vals, nil
}

// Set stores a raw string value with a TTL.
func (c *CacheService) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.checkHealth(ctx)
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.recordFailure()
		return err
	}
	c.recordSuccess()
	return nil
}

// Delete removes a key.
func (c *CacheService) Delete(ctx context.Context, key string) error {
	c.checkHealth(ctx)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.recordFailure()
		return err
	}
	c.recordSuccess()
	return nil
}

// DeletePattern removes all keys matching a glob pattern.
func (c *CacheService) DeletePattern(ctx context.Context, pattern string) error {
	c.checkHealth(ctx)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.recordFailure()
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.recordFailure()
		return err
	}
	c.recordSuccess()
	return nil
}

// GetJSON unmarshals a cached JSON value into dest.
func (c *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// SetJSON marshals v to JSON and stores it with a TTL.
func (c *CacheService) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshaling value for %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// IncrementOrderSequence atomically increments a per-user, per-day order
// sequence counter. The executor does not use it: its order ids and
// idempotency keys come from the decision id and user id. It sets a TTL on the first increment of the day so the counter self-
// expires rather than growing forever.
func (c *CacheService) IncrementOrderSequence(ctx context.Context, userID, dateKey string) (int64, error) {
	c.checkHealth(ctx)
	key := OrderSequenceKey(userID, dateKey)
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		c.recordFailure()
		return 0, err
	}
	if val == 1 {
		c.client.Expire(ctx, key, DefaultSequenceTTL)
	}
	c.recordSuccess()
	return val, nil
}

// GetCurrentSequence returns the current order sequence counter without
// incrementing it.
func (c *CacheService) GetCurrentSequence(ctx context.Context, userID, dateKey string) (int64, error) {
	val, err := c.Get(ctx, OrderSequenceKey(userID, dateKey))
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	var seq int64
	if _, err := fmt.Sscanf(val, "%d", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// Close releases the underlying Redis connection pool.
func (c *CacheService) Close() error {
	return c.client.Close()
}

// Ping probes Redis directly, bypassing the cached health state.
func (c *CacheService) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient exposes the underlying redis.Client for components (such as the
// executor's idempotency tracker) that need direct access to Redis
// primitives not wrapped here.
func (c *CacheService) GetClient() *redis.Client {
	return c.client
}

// GetStats returns a snapshot of the circuit-breaker state for diagnostics.
func (c *CacheService) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"healthy":       c.healthy,
		"failure_count": c.failureCount,
		"last_check":    c.lastCheck,
	}
}

// WitnessHealthKey builds the cache key for a witness's health snapshot.
func WitnessHealthKey(witnessID string) string {
	return fmt.Sprintf(PrefixWitnessHealth, witnessID)
}

// RiskStateKey builds the cache key for a subject's (system or user)
// risk-tracker snapshot.
func RiskStateKey(subjectID string) string {
	return fmt.Sprintf(PrefixRiskState, subjectID)
}

// UserProfileKey builds the cache key for a user's profile snapshot.
func UserProfileKey(userID string) string {
	return fmt.Sprintf(PrefixUserProfile, userID)
}

// OrderSequenceKey builds the cache key for a user's daily order sequence
// counter.
func OrderSequenceKey(userID, dateKey string) string {
	return fmt.Sprintf(PrefixOrderSequence, userID, dateKey)
}
