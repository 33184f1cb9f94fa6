package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tradingcore/internal/database"
	"tradingcore/internal/events"
	"tradingcore/internal/riskengine"
	"tradingcore/internal/risk"
)

// ErrIneligible is returned by the eligibility filter; it is never fatal,
// it just excludes the user from this decision's fan-out.
var ErrIneligible = errors.New("executor: user not eligible for this decision")

// IdempotencyStore is the narrow contract this package needs from
// database.IdempotencyTracker, kept as an interface so the fan-out can be
// exercised in tests without a live Redis connection.
type IdempotencyStore interface {
	TryBegin(ctx context.Context, exec *database.InFlightExecution) (bool, error)
	Complete(ctx context.Context, userID, key string) error
}

// Executor runs one authorized Decision against every eligible user
// context in parallel (spec §4.6).
type Executor struct {
	repo *database.Repository
	idem IdempotencyStore
	risk *riskengine.Engine
	bus  *events.EventBus

	// orderLog is a narrower, high-frequency logger used only for
	// per-order fill/timeout/cancel lines in the hottest path of this
	// package; every other component logs through the shared structured
	// logger instead.
	orderLog zerolog.Logger

	perUserDeadline          time.Duration
	consecutiveTimeoutsToLock int
}

// New creates an executor. perUserDeadline bounds each user's exchange
// round trip; consecutiveTimeoutsToLock is the count of consecutive
// OrderTimeout results that forces UserContext.RiskLocked = true (spec §7).
func New(repo *database.Repository, idem IdempotencyStore, engine *riskengine.Engine, bus *events.EventBus, perUserDeadline time.Duration, consecutiveTimeoutsToLock int) *Executor {
	return &Executor{
		repo:                      repo,
		idem:                      idem,
		risk:                      engine,
		bus:                       bus,
		orderLog:                  zerolog.New(os.Stdout).With().Timestamp().Str("component", "executor").Logger(),
		perUserDeadline:           perUserDeadline,
		consecutiveTimeoutsToLock: consecutiveTimeoutsToLock,
	}
}

// Eligible runs the four short-circuiting checks from spec §4.6 in order.
func Eligible(user *UserContext, decision Decision) (bool, string) {
	if user.Status != UserStatusActive {
		return false, "user status is not ACTIVE"
	}
	if !user.CredentialsValid {
		return false, "exchange credentials are not valid"
	}
	if user.RiskLocked {
		return false, "user risk state is locked"
	}
	if decision.ImpliedPositionFraction > user.SubscriptionTierCap {
		return false, fmt.Sprintf("decision implies position fraction %.4f exceeds subscription cap %.4f", decision.ImpliedPositionFraction, user.SubscriptionTierCap)
	}
	return true, ""
}

// Execute runs decision against every user in users concurrently, one
// goroutine per user via errgroup, and returns one ExecutionResult per
// user. A failure isolated to one user's task never affects another
// user's result or the overall return value (spec §8: "user A's
// ExecutionResult and UserRiskState are independent of user B's
// success/failure").
func (e *Executor) Execute(ctx context.Context, decision Decision, users []*UserContext) []ExecutionResult {
	results := make([]ExecutionResult, len(users))

	deadline := decision.Deadline
	if deadline <= 0 {
		deadline = e.perUserDeadline
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, user := range users {
		i, user := i, user
		g.Go(func() error {
			results[i] = e.runOne(gctx, decision, user, deadline)
			return nil
		})
	}
	// errgroup's own error is unused by design: per-user failures are
	// captured in each result, not propagated as a group error that would
	// cancel siblings.
	_ = g.Wait()

	return results
}

func (e *Executor) runOne(ctx context.Context, decision Decision, user *UserContext, deadline time.Duration) ExecutionResult {
	if ok, reason := Eligible(user, decision); !ok {
		return ExecutionResult{
			UserID:     user.UserID,
			Symbol:     decision.Symbol,
			Status:     database.ExecutionStatusRejected,
			Reason:     reason,
			RecordedAt: time.Now(),
		}
	}

	// orderID is deterministic from (decision, user), not freshly
	// generated per call: a retried attempt at the same decision for the
	// same user must land on the same id, so the idempotency tracker and
	// the unique (user_id, idempotency_key) constraint both recognize it
	// as the same submission rather than a new one.
	orderID := fmt.Sprintf("%s-%s", decision.DecisionID, user.UserID)
	idemKey := orderID

	taskCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// A decision already recorded for this user returns its prior result
	// without reaching the exchange again.
	if e.repo != nil {
		if prior, perr := e.repo.GetExecutionByIdempotencyKey(taskCtx, user.UserID, idemKey); perr == nil && prior != nil {
			return ExecutionResult{
				UserID: prior.UserID, OrderID: prior.OrderID, Symbol: prior.Symbol,
				Status: prior.Status, Quantity: prior.Quantity, Price: prior.Price,
				Flags: prior.Flags, Reason: "duplicate submission, returning prior result",
				RecordedAt: prior.CreatedAt,
			}
		}
	}

	began, err := e.idem.TryBegin(taskCtx, &database.InFlightExecution{
		UserID:         user.UserID,
		IdempotencyKey: idemKey,
		OrderID:        orderID,
		Symbol:         decision.Symbol,
		DeadlineSec:    int(deadline.Seconds()),
	})
	if err != nil {
		return e.record(user.UserID, orderID, decision.Symbol, database.ExecutionStatusError, 0, 0, []string{"idempotency_error"}, err.Error())
	}
	if !began {
		if e.repo != nil {
			if prior, perr := e.repo.GetExecutionByIdempotencyKey(taskCtx, user.UserID, idemKey); perr == nil && prior != nil {
				return ExecutionResult{
					UserID: prior.UserID, OrderID: prior.OrderID, Symbol: prior.Symbol,
					Status: prior.Status, Quantity: prior.Quantity, Price: prior.Price,
					Flags: prior.Flags, Reason: "duplicate submission, returning prior result",
					RecordedAt: prior.CreatedAt,
				}
			}
		}
		return ExecutionResult{
			UserID: user.UserID, OrderID: orderID, Symbol: decision.Symbol,
			Status: database.ExecutionStatusRejected, Flags: []string{"duplicate_in_flight"},
			Reason: "decision already in flight for this user", RecordedAt: time.Now(),
		}
	}

	quantity := risk.SizeOrder(user.Equity, decision.Price, user.MaxPositionPct, user.MaxLeverage)
	if quantity <= 0 {
		e.idem.Complete(taskCtx, user.UserID, idemKey)
		return e.record(user.UserID, orderID, decision.Symbol, database.ExecutionStatusRejected, 0, 0, []string{"zero_sized_order"}, "sized order quantity was zero")
	}

	verdict := e.risk.Evaluate(riskengine.RiskContext{
		SubjectID:           user.UserID,
		Equity:              user.Equity,
		CurrentPositionPct:  user.CurrentPositionPct,
		ProposedPositionPct: decision.ImpliedPositionFraction,
		Leverage:            user.MaxLeverage,
	})
	if !verdict.Approved {
		e.idem.Complete(taskCtx, user.UserID, idemKey)
		return e.record(user.UserID, orderID, decision.Symbol, database.ExecutionStatusRejected, quantity, decision.Price, []string{"risk_denied"}, verdict.Reason)
	}

	result, err := user.Exchange.PlaceOrder(taskCtx, Order{
		Symbol:    decision.Symbol,
		Direction: decision.Direction,
		Quantity:  quantity,
		OrderID:   orderID,
	})

	if taskCtx.Err() != nil {
		if ctx.Err() == context.Canceled {
			return e.record(user.UserID, orderID, decision.Symbol, "canceled", quantity, decision.Price, []string{"canceled"}, "decision canceled")
		}
		e.onTimeout(user)
		return e.record(user.UserID, orderID, decision.Symbol, database.ExecutionStatusTimeout, quantity, decision.Price, []string{"deadline_exceeded"}, "per-user deadline exceeded")
	}
	if err != nil {
		e.idem.Complete(context.Background(), user.UserID, idemKey)
		return e.record(user.UserID, orderID, decision.Symbol, database.ExecutionStatusRejected, quantity, decision.Price, []string{"exchange_error"}, err.Error())
	}

	e.idem.Complete(context.Background(), user.UserID, idemKey)
	user.ConsecutiveTimeouts = 0
	return e.record(user.UserID, orderID, decision.Symbol, database.ExecutionStatusFilled, result.FilledQty, result.FillPrice, nil, "")
}

// onTimeout increments the user's consecutive-timeout counter and, at
// threshold, locks the user's risk state. This lock is per-user and never
// touches SystemState (spec §4.6, §7).
func (e *Executor) onTimeout(user *UserContext) {
	user.ConsecutiveTimeouts++
	if user.ConsecutiveTimeouts >= e.consecutiveTimeoutsToLock {
		user.RiskLocked = true
	}
	if e.repo != nil {
		locked, err := e.repo.IncrementConsecutiveTimeouts(context.Background(), user.UserID, e.consecutiveTimeoutsToLock)
		if err == nil && locked {
			user.RiskLocked = true
		}
	}
}

func (e *Executor) record(userID, orderID, symbol, status string, quantity, price float64, flags []string, reason string) ExecutionResult {
	result := ExecutionResult{
		UserID: userID, OrderID: orderID, Symbol: symbol, Status: status,
		Quantity: quantity, Price: price, Flags: flags, Reason: reason,
		RecordedAt: time.Now(),
	}

	e.orderLog.Info().
		Str("user_id", userID).
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("status", status).
		Float64("quantity", quantity).
		Msg("order result")

	if e.repo != nil {
		_ = e.repo.CreateExecution(context.Background(), &database.ExecutionRecord{
			ID: uuid.NewString(), UserID: userID, OrderID: orderID, Symbol: symbol,
			Quantity: quantity, Price: price, Status: status, Flags: flags,
			IdempotencyKey: orderID, ErrorMessage: reason,
		})
	}
	if e.bus != nil {
		e.bus.PublishExecutionResult(userID, orderID, status, flags)
	}
	return result
}
