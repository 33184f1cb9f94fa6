// Package database also provides a Redis-backed idempotency tracker for the
// per-user executor. It remembers which (user_id, idempotency_key) pairs
// are currently in flight, until Complete removes them, and watches in-flight
// submissions against their per-user deadline, flagging the ones that time
// out so the executor can count them toward the consecutive-timeout lock
// (spec §5, §7).
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyKeyPrefix namespaces idempotency records in Redis.
const IdempotencyKeyPrefix = "tradingcore:idempotency"

// IdempotencyListKey indexes every in-flight idempotency key so the
// monitor loop can scan them without a Redis KEYS call.
const IdempotencyListKey = "tradingcore:idempotency:inflight"

// DefaultDecisionDeadlineSec is the fallback per-user execution deadline
// when none is configured (spec §5).
const DefaultDecisionDeadlineSec = 10

// InFlightExecution describes one submitted-but-not-yet-settled order
// attempt.
type InFlightExecution struct {
	UserID         string    `json:"user_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	SubmittedAt    time.Time `json:"submitted_at"`
	DeadlineSec    int       `json:"deadline_sec"`
	DeadlineAt     time.Time `json:"deadline_at"`
}

// TimeoutFunc is invoked once per execution whose deadline elapses without
// a corresponding settlement. It is responsible for incrementing the
// user's consecutive-timeout counter and, if the threshold is crossed,
// locking the account.
type TimeoutFunc func(userID, idempotencyKey string) error

// IdempotencyTracker tracks in-flight per-user order submissions in Redis
// so a second attempt at a decision still in flight is refused, and so submissions
// that never settle within their deadline are surfaced for the
// consecutive-timeout lockout rule.
type IdempotencyTracker struct {
	client *redis.Client

	mu            sync.RWMutex
	timeoutFunc   TimeoutFunc
	checkInterval time.Duration
	stopChan      chan struct{}
	monitorWG     sync.WaitGroup
	isRunning     bool
}

// NewIdempotencyTracker wraps an existing Redis client.
func NewIdempotencyTracker(client *redis.Client) *IdempotencyTracker {
	return &IdempotencyTracker{
		client:        client,
		checkInterval: 2 * time.Second,
	}
}

// SetTimeoutFunc registers the callback invoked when an in-flight
// execution's deadline elapses.
func (t *IdempotencyTracker) SetTimeoutFunc(fn TimeoutFunc) {
	t.mu.Lock()
	t.timeoutFunc = fn
	t.mu.Unlock()
}

// TryBegin records a new in-flight execution if, and only if, the
// (user_id, idempotency_key) pair is not already tracked. It returns false
// without error if the pair already exists, which the executor treats as
// "this decision was already submitted — do not submit again."
func (t *IdempotencyTracker) TryBegin(ctx context.Context, exec *InFlightExecution) (bool, error) {
	if exec.DeadlineSec <= 0 {
		exec.DeadlineSec = DefaultDecisionDeadlineSec
	}
	exec.SubmittedAt = time.Now()
	exec.DeadlineAt = exec.SubmittedAt.Add(time.Duration(exec.DeadlineSec) * time.Second)

	data, err := json.Marshal(exec)
	if err != nil {
		return false, fmt.Errorf("idempotency: marshaling execution: %w", err)
	}

	key := buildIdempotencyKey(exec.UserID, exec.IdempotencyKey)
	ttl := time.Duration(exec.DeadlineSec)*time.Second + 60*time.Second

	ok, err := t.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: setting key: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := t.client.SAdd(ctx, IdempotencyListKey, key).Err(); err != nil {
		return false, fmt.Errorf("idempotency: indexing key: %w", err)
	}

	return true, nil
}

// Complete removes an in-flight record once its execution has settled
// (filled, rejected, or errored) before its deadline.
func (t *IdempotencyTracker) Complete(ctx context.Context, userID, key2 string) error {
	key := buildIdempotencyKey(userID, key2)
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("idempotency: removing key: %w", err)
	}
	t.client.SRem(ctx, IdempotencyListKey, key)
	return nil
}

// GetInFlight returns every currently tracked execution.
func (t *IdempotencyTracker) GetInFlight(ctx context.Context) ([]*InFlightExecution, error) {
	keys, err := t.client.SMembers(ctx, IdempotencyListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: listing keys: %w", err)
	}

	var executions []*InFlightExecution
	for _, key := range keys {
		data, err := t.client.Get(ctx, key).Result()
		if err == redis.Nil {
			t.client.SRem(ctx, IdempotencyListKey, key)
			continue
		}
		if err != nil {
			continue
		}
		var exec InFlightExecution
		if err := json.Unmarshal([]byte(data), &exec); err != nil {
			continue
		}
		executions = append(executions, &exec)
	}
	return executions, nil
}

// StartMonitor launches the background loop that watches in-flight
// executions for elapsed deadlines.
func (t *IdempotencyTracker) StartMonitor() {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	t.monitorWG.Add(1)
	go t.monitorLoop()
}

// StopMonitor halts the background loop and waits for it to exit.
func (t *IdempotencyTracker) StopMonitor() {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return
	}
	close(t.stopChan)
	t.isRunning = false
	t.mu.Unlock()

	t.monitorWG.Wait()
}

func (t *IdempotencyTracker) monitorLoop() {
	defer t.monitorWG.Done()

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.checkDeadlines()
		}
	}
}

func (t *IdempotencyTracker) checkDeadlines() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	executions, err := t.GetInFlight(ctx)
	if err != nil {
		log.Printf("idempotency: monitor loop: %v", err)
		return
	}

	now := time.Now()
	for _, exec := range executions {
		if now.Before(exec.DeadlineAt) {
			continue
		}

		t.mu.RLock()
		fn := t.timeoutFunc
		t.mu.RUnlock()

		if fn != nil {
			if err := fn(exec.UserID, exec.IdempotencyKey); err != nil {
				log.Printf("idempotency: timeout callback for user %s: %v", exec.UserID, err)
			}
		}

		if err := t.Complete(ctx, exec.UserID, exec.IdempotencyKey); err != nil {
			log.Printf("idempotency: removing timed-out execution: %v", err)
		}
	}
}

// GetStats returns a snapshot of tracker counters for diagnostics.
func (t *IdempotencyTracker) GetStats(ctx context.Context) map[string]interface{} {
	count, _ := t.client.SCard(ctx, IdempotencyListKey).Result()
	return map[string]interface{}{
		"in_flight_count": count,
	}
}

func buildIdempotencyKey(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s", IdempotencyKeyPrefix, userID, key)
}
