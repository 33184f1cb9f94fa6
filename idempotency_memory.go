package main

import (
	"context"
	"sync"

	"tradingcore/internal/database"
)

// memoryIdempotencyStore satisfies executor.IdempotencyStore without Redis,
// for deployments that run with RedisConfig.Enabled=false. It gives up the
// cross-process guarantee database.IdempotencyTracker provides and keeps
// only the in-process one: two goroutines in this run never both begin the
// same (user, key) pair.
type memoryIdempotencyStore struct {
	mu      sync.Mutex
	inFlight map[string]bool
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{inFlight: make(map[string]bool)}
}

func (s *memoryIdempotencyStore) TryBegin(ctx context.Context, exec *database.InFlightExecution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := exec.UserID + ":" + exec.IdempotencyKey
	if s.inFlight[key] {
		return false, nil
	}
	s.inFlight[key] = true
	return true, nil
}

func (s *memoryIdempotencyStore) Complete(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID+":"+key)
	return nil
}
