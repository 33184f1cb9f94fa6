package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradingcore/internal/database"
	"tradingcore/internal/riskengine"
	"tradingcore/internal/witness"
)

// fakeIdempotencyStore stands in for database.IdempotencyTracker's Redis
// backing so the fan-out can be exercised without a live connection.
type fakeIdempotencyStore struct {
	mu      sync.Mutex
	inFlight map[string]bool
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{inFlight: make(map[string]bool)}
}

func (f *fakeIdempotencyStore) key(userID, idemKey string) string { return userID + ":" + idemKey }

func (f *fakeIdempotencyStore) TryBegin(ctx context.Context, exec *database.InFlightExecution) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(exec.UserID, exec.IdempotencyKey)
	if f.inFlight[k] {
		return false, nil
	}
	f.inFlight[k] = true
	return true, nil
}

func (f *fakeIdempotencyStore) Complete(ctx context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, f.key(userID, key))
	return nil
}

type fakeExchange struct {
	failPlace bool
	hang      bool
	fillPrice float64
	filledQty float64
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, order Order) (ExchangeOrderResult, error) {
	if f.hang {
		<-ctx.Done()
		return ExchangeOrderResult{}, ctx.Err()
	}
	if f.failPlace {
		return ExchangeOrderResult{}, errors.New("exchange rejected order")
	}
	return ExchangeOrderResult{OrderID: order.OrderID, FilledQty: f.filledQty, FillPrice: f.fillPrice, Status: "filled"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) (bool, error) { return true, nil }
func (f *fakeExchange) GetPosition(ctx context.Context, symbol string) (Position, error) {
	return Position{Symbol: symbol}, nil
}

func activeUser(id string, exchange ExchangeClient) *UserContext {
	return &UserContext{
		UserID:              id,
		Status:              UserStatusActive,
		CredentialsValid:    true,
		Equity:              10000,
		MaxPositionPct:      0.05,
		MaxLeverage:         2,
		SubscriptionTierCap: 0.10,
		Exchange:            exchange,
	}
}

func newTestExecutor() *Executor {
	engine := riskengine.New(riskengine.DefaultConfig(), nil)
	return New(nil, newFakeIdempotencyStore(), engine, nil, 2*time.Second, 3)
}

func TestEligibleRejectsInactiveUser(t *testing.T) {
	user := activeUser("u1", &fakeExchange{})
	user.Status = UserStatusInactive
	ok, reason := Eligible(user, Decision{ImpliedPositionFraction: 0.01})
	if ok {
		t.Fatalf("Eligible() = true, want false for inactive user")
	}
	if reason == "" {
		t.Errorf("expected a non-empty rejection reason")
	}
}

func TestEligibleRejectsInvalidCredentials(t *testing.T) {
	user := activeUser("u1", &fakeExchange{})
	user.CredentialsValid = false
	ok, _ := Eligible(user, Decision{ImpliedPositionFraction: 0.01})
	if ok {
		t.Fatalf("Eligible() = true, want false for invalid credentials")
	}
}

func TestEligibleRejectsLockedUser(t *testing.T) {
	user := activeUser("u1", &fakeExchange{})
	user.RiskLocked = true
	ok, _ := Eligible(user, Decision{ImpliedPositionFraction: 0.01})
	if ok {
		t.Fatalf("Eligible() = true, want false for a risk-locked user")
	}
}

func TestEligibleRejectsOverSubscriptionCap(t *testing.T) {
	user := activeUser("u1", &fakeExchange{})
	ok, _ := Eligible(user, Decision{ImpliedPositionFraction: user.SubscriptionTierCap + 0.01})
	if ok {
		t.Fatalf("Eligible() = true, want false when the decision exceeds the subscription cap")
	}
}

func TestExecutePerUserIsolation(t *testing.T) {
	exec := newTestExecutor()

	userA := activeUser("A", &fakeExchange{fillPrice: 100, filledQty: 1})
	userB := activeUser("B", &fakeExchange{failPlace: true})
	userC := activeUser("C", &fakeExchange{fillPrice: 100, filledQty: 1})

	decision := Decision{
		DecisionID:              "decision-1",
		Symbol:                  "BTCUSDT",
		Direction:                witness.DirectionLong,
		Price:                    100,
		ImpliedPositionFraction: 0.01,
		Deadline:                 2 * time.Second,
	}

	results := exec.Execute(context.Background(), decision, []*UserContext{userA, userB, userC})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	byUser := map[string]ExecutionResult{}
	for _, r := range results {
		byUser[r.UserID] = r
	}

	if byUser["A"].Status != "filled" {
		t.Errorf("user A status = %s, want filled", byUser["A"].Status)
	}
	if byUser["C"].Status != "filled" {
		t.Errorf("user C status = %s, want filled", byUser["C"].Status)
	}
	if byUser["B"].Status == "filled" {
		t.Errorf("user B status = filled, want a failure status since its exchange rejects")
	}
	if userA.RiskLocked || userC.RiskLocked {
		t.Errorf("user A/C RiskLocked affected by user B's failure, want isolation")
	}
}

func TestExecuteDuplicateWhileInFlightIsRejected(t *testing.T) {
	exec := newTestExecutor()
	user := activeUser("u1", &fakeExchange{hang: true})
	decision := Decision{
		DecisionID:              "decision-dup",
		Symbol:                  "BTCUSDT",
		Direction:                witness.DirectionLong,
		Price:                    100,
		ImpliedPositionFraction: 0.01,
		Deadline:                 30 * time.Millisecond,
	}

	var wg sync.WaitGroup
	var first, second ExecutionResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = exec.Execute(context.Background(), decision, []*UserContext{user})[0]
	}()
	time.Sleep(5 * time.Millisecond)
	second = exec.Execute(context.Background(), decision, []*UserContext{user})[0]
	wg.Wait()

	if first.OrderID != second.OrderID {
		t.Errorf("OrderID differs across the same decision for the same user: %s vs %s", first.OrderID, second.OrderID)
	}
	if second.Status != database.ExecutionStatusRejected {
		t.Errorf("second attempt status = %s, want rejected while the first is still in flight", second.Status)
	}
}

func TestConsecutiveTimeoutsLockUser(t *testing.T) {
	exec := newTestExecutor()
	user := activeUser("u1", &fakeExchange{hang: true})

	for i := 0; i < 3; i++ {
		decision := Decision{
			DecisionID:              "decision-timeout",
			Symbol:                  "BTCUSDT",
			Direction:                witness.DirectionLong,
			Price:                    100,
			ImpliedPositionFraction: 0.01,
			Deadline:                 10 * time.Millisecond,
		}
		// Each retry must use a distinct decision id, or the idempotency
		// tracker's in-flight record from the previous attempt (which has
		// not yet been completed) makes this attempt a no-op.
		decision.DecisionID = decision.DecisionID + string(rune('a'+i))
		exec.Execute(context.Background(), decision, []*UserContext{user})
	}

	if !user.RiskLocked {
		t.Errorf("RiskLocked = false after 3 consecutive timeouts, want true")
	}
}
