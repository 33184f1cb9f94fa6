// Package executor fans an authorized trade decision out to every eligible
// user context in parallel, isolating one user's failure from another's
// (spec §4.6, §5).
package executor

import (
	"context"
	"time"

	"tradingcore/internal/witness"
)

// UserStatus is the lifecycle state of one user's trading context.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

// Order is the order this package asks an ExchangeClient to place.
type Order struct {
	Symbol    string
	Direction witness.Direction
	Quantity  float64
	OrderID   string // caller-generated, carries the idempotency guarantee
}

// Position is one symbol's current exposure on an exchange.
type Position struct {
	Symbol   string
	Quantity float64
	Entry    float64
}

// ExchangeOrderResult is what placing an order actually did.
type ExchangeOrderResult struct {
	OrderID    string
	FilledQty  float64
	FillPrice  float64
	Status     string
}

// ExchangeClient is the narrow per-user contract this package depends on
// (spec §6). Implementations must treat network errors as typed failures,
// never exceptions-as-control-flow.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, order Order) (ExchangeOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetPosition(ctx context.Context, symbol string) (Position, error)
}

// UserContext is one user's independently-owned trading state. It is
// handed to the fan-out by message passing and owned by exactly one task
// at a time (spec §5).
type UserContext struct {
	UserID string
	Status UserStatus

	CredentialsValid bool
	// ExchangeAPIKey and ExchangeAPISecret are the opened envelope
	// contents, held only for the duration of one decision cycle. Call
	// credentials.Zero on both when the context shuts down.
	ExchangeAPIKey    string
	ExchangeAPISecret string

	RiskLocked          bool
	ConsecutiveTimeouts int

	Equity              float64
	CurrentPositionPct  float64
	MaxPositionPct      float64
	MaxLeverage         float64
	SubscriptionTierCap float64 // largest position fraction this user's plan permits

	Exchange ExchangeClient
}

// Decision is the abstract, symbol-scoped trade authorization the state
// machine broadcasts to the fan-out. It carries no user-specific sizing;
// each user computes its own sized order from this plus its own state.
type Decision struct {
	DecisionID           string // correlation id, shared by every user's attempt at this decision
	Symbol               string
	Direction             witness.Direction
	Price                 float64
	ImpliedPositionFraction float64
	Deadline              time.Duration
}

// ExecutionResult is recorded once per (user_id, order_id) and never
// mutated by any other user's task.
type ExecutionResult struct {
	UserID    string
	OrderID   string
	Symbol    string
	Status    string // filled, rejected, timeout, error, canceled
	Quantity  float64
	Price     float64
	Flags     []string
	Reason    string
	RecordedAt time.Time
}
