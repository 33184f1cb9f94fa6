package database

import (
	"time"
)

// RiskSeverity mirrors the risk engine's severity ladder for audit rows.
const (
	SeverityNone     = "none"
	SeverityWarning  = "warning"
	SeverityCooldown = "cooldown"
	SeverityLocked   = "risk_locked"
)

// ExecutionStatus values recorded against one user's order attempt.
const (
	ExecutionStatusFilled  = "filled"
	ExecutionStatusRejected = "rejected"
	ExecutionStatusTimeout = "timeout"
	ExecutionStatusError   = "error"
)

// ClaimRecord is the durable row written for every witness claim that
// reaches the aggregator, whether or not it survives to a trade decision.
type ClaimRecord struct {
	ID         string
	WitnessID  string
	ClaimType  string
	Direction  string
	Confidence float64
	Symbol     string
	Tier       int
	ValidUntil time.Time
	Dropped    bool
	DropReason string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}

// WitnessHealthRecord is a point-in-time snapshot of one witness's grade.
type WitnessHealthRecord struct {
	ID           string
	WitnessID    string
	Grade        string
	WinRate      float64
	SampleCount  int
	HealthFactor float64
	AutoMuted    bool
	RecordedAt   time.Time
}

// WeightAuditRecord captures one change to a witness's base or learning
// weight, so the cumulative daily-drift rule (spec §4.2, §9) can be
// reconstructed from history alone.
type WeightAuditRecord struct {
	ID        string
	WitnessID string
	Field     string
	OldValue  float64
	NewValue  float64
	Reason    string
	RecordedAt time.Time
}

// RiskEventRecord captures one risk engine verdict.
type RiskEventRecord struct {
	ID         string
	SubjectID  string
	Domain     string
	Severity   string
	Approved   bool
	Reason     string
	Context    map[string]interface{}
	RecordedAt time.Time
}

// StateTransitionRecord captures one system-state-machine transition.
type StateTransitionRecord struct {
	ID         string
	FromState  string
	ToState    string
	Reason     string
	Actor      string
	RecordedAt time.Time
}

// ExecutionRecord captures one per-user order attempt, keyed by
// (user_id, idempotency_key) so retries of the same decision cycle never
// double-submit.
type ExecutionRecord struct {
	ID             string
	UserID         string
	OrderID        string
	Symbol         string
	Direction      string
	Quantity       float64
	Price          float64
	Status         string
	Flags          []string
	IdempotencyKey string
	ErrorMessage   string
	CreatedAt      time.Time
}

// UserProfileRecord holds the per-user operator-configured limits and the
// consecutive-timeout lockout counter from spec §5/§7.
type UserProfileRecord struct {
	UserID              string
	Exchange            string
	IsTestnet           bool
	MaxPositionPct      float64
	MaxLeverage         float64
	StartingEquity      float64
	ConsecutiveTimeouts int
	Locked              bool
	LockReason          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
