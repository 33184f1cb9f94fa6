package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository is the single entry point for audit-record persistence. Every
// decision-loop component writes through this type rather than holding its
// own *DB, so the append-only discipline lives in one place.
type Repository struct {
	db *DB
}

// NewRepository wraps db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck delegates to the wrapped DB.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// GetDB exposes the underlying DB for components that need pool access
// directly (migrations, transactions spanning multiple repository calls).
func (r *Repository) GetDB() *DB {
	return r.db
}

// --- CLAIMS ---

// CreateClaim inserts a claim row, dropped or not; the aggregator records
// every claim it sees so the audit trail explains every non-decision too.
func (r *Repository) CreateClaim(ctx context.Context, c *ClaimRecord) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling claim metadata: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO claims (id, witness_id, claim_type, direction, confidence, symbol, tier,
			valid_until, dropped, drop_reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
		c.ID, c.WitnessID, c.ClaimType, c.Direction, c.Confidence, c.Symbol, c.Tier,
		c.ValidUntil, c.Dropped, c.DropReason, metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting claim: %w", err)
	}
	return nil
}

// GetRecentClaims returns the most recent claims for a symbol, newest
// first.
func (r *Repository) GetRecentClaims(ctx context.Context, symbol string, since time.Time, limit int) ([]*ClaimRecord, error) {
	return r.queryClaims(ctx, `
		SELECT id, witness_id, claim_type, direction, confidence, symbol, tier,
			valid_until, dropped, drop_reason, metadata, created_at
		FROM claims WHERE symbol = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`, symbol, since, limit)
}

// GetClaimsByWitness returns a witness's recent claim history.
func (r *Repository) GetClaimsByWitness(ctx context.Context, witnessID string, limit int) ([]*ClaimRecord, error) {
	return r.queryClaims(ctx, `
		SELECT id, witness_id, claim_type, direction, confidence, symbol, tier,
			valid_until, dropped, drop_reason, metadata, created_at
		FROM claims WHERE witness_id = $1
		ORDER BY created_at DESC LIMIT $2`, witnessID, limit)
}

func (r *Repository) queryClaims(ctx context.Context, query string, args ...interface{}) ([]*ClaimRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying claims: %w", err)
	}
	defer rows.Close()

	var claims []*ClaimRecord
	for rows.Next() {
		c := &ClaimRecord{}
		var metadata []byte
		if err := rows.Scan(&c.ID, &c.WitnessID, &c.ClaimType, &c.Direction, &c.Confidence,
			&c.Symbol, &c.Tier, &c.ValidUntil, &c.Dropped, &c.DropReason, &metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &c.Metadata)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// --- WITNESS HEALTH ---

// CreateWitnessHealth inserts a health snapshot row.
func (r *Repository) CreateWitnessHealth(ctx context.Context, h *WitnessHealthRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO witness_health (id, witness_id, grade, win_rate, sample_count, health_factor, auto_muted, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		h.ID, h.WitnessID, h.Grade, h.WinRate, h.SampleCount, h.HealthFactor, h.AutoMuted,
	)
	if err != nil {
		return fmt.Errorf("inserting witness health: %w", err)
	}
	return nil
}

// GetLatestWitnessHealth returns the most recent health snapshot for a
// witness, or nil if none exists.
func (r *Repository) GetLatestWitnessHealth(ctx context.Context, witnessID string) (*WitnessHealthRecord, error) {
	h := &WitnessHealthRecord{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, witness_id, grade, win_rate, sample_count, health_factor, auto_muted, recorded_at
		FROM witness_health WHERE witness_id = $1
		ORDER BY recorded_at DESC LIMIT 1`, witnessID,
	).Scan(&h.ID, &h.WitnessID, &h.Grade, &h.WinRate, &h.SampleCount, &h.HealthFactor, &h.AutoMuted, &h.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying witness health: %w", err)
	}
	return h, nil
}

// --- WEIGHT AUDIT ---

// CreateWeightAudit records a base or learning weight change.
func (r *Repository) CreateWeightAudit(ctx context.Context, w *WeightAuditRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO weight_audit (id, witness_id, field, old_value, new_value, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		w.ID, w.WitnessID, w.Field, w.OldValue, w.NewValue, w.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting weight audit: %w", err)
	}
	return nil
}

// GetWeightAuditSince returns a witness's weight changes since a cutoff,
// used to reconstruct cumulative daily drift (spec §9) after a restart.
func (r *Repository) GetWeightAuditSince(ctx context.Context, witnessID string, since time.Time) ([]*WeightAuditRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, witness_id, field, old_value, new_value, reason, recorded_at
		FROM weight_audit WHERE witness_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`, witnessID, since)
	if err != nil {
		return nil, fmt.Errorf("querying weight audit: %w", err)
	}
	defer rows.Close()

	var records []*WeightAuditRecord
	for rows.Next() {
		w := &WeightAuditRecord{}
		if err := rows.Scan(&w.ID, &w.WitnessID, &w.Field, &w.OldValue, &w.NewValue, &w.Reason, &w.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning weight audit: %w", err)
		}
		records = append(records, w)
	}
	return records, rows.Err()
}

// --- RISK EVENTS ---

// CreateRiskEvent records one risk engine verdict.
func (r *Repository) CreateRiskEvent(ctx context.Context, e *RiskEventRecord) error {
	context, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshaling risk event context: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO risk_events (id, subject_id, domain, severity, approved, reason, context, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		e.ID, e.SubjectID, e.Domain, e.Severity, e.Approved, e.Reason, context,
	)
	if err != nil {
		return fmt.Errorf("inserting risk event: %w", err)
	}
	return nil
}

// GetRecentRiskEvents returns a subject's recent risk verdicts, newest
// first.
func (r *Repository) GetRecentRiskEvents(ctx context.Context, subjectID string, limit int) ([]*RiskEventRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, subject_id, domain, severity, approved, reason, context, recorded_at
		FROM risk_events WHERE subject_id = $1
		ORDER BY recorded_at DESC LIMIT $2`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying risk events: %w", err)
	}
	defer rows.Close()

	var events []*RiskEventRecord
	for rows.Next() {
		e := &RiskEventRecord{}
		var ctxBytes []byte
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Domain, &e.Severity, &e.Approved, &e.Reason, &ctxBytes, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning risk event: %w", err)
		}
		if len(ctxBytes) > 0 {
			_ = json.Unmarshal(ctxBytes, &e.Context)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- STATE TRANSITIONS ---

// CreateStateTransition records one system-state change.
func (r *Repository) CreateStateTransition(ctx context.Context, t *StateTransitionRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO state_transitions (id, from_state, to_state, reason, actor, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		t.ID, t.FromState, t.ToState, t.Reason, t.Actor,
	)
	if err != nil {
		return fmt.Errorf("inserting state transition: %w", err)
	}
	return nil
}

// GetLatestStateTransition returns the most recent transition, used to
// recover SystemState after a restart.
func (r *Repository) GetLatestStateTransition(ctx context.Context) (*StateTransitionRecord, error) {
	t := &StateTransitionRecord{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, from_state, to_state, reason, actor, recorded_at
		FROM state_transitions ORDER BY recorded_at DESC LIMIT 1`,
	).Scan(&t.ID, &t.FromState, &t.ToState, &t.Reason, &t.Actor, &t.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying latest state transition: %w", err)
	}
	return t, nil
}

// --- EXECUTIONS ---

// CreateExecution inserts an execution result. The (user_id,
// idempotency_key) unique constraint makes a duplicate insert fail with a
// unique-violation error; the executor discards that error, and it looks up
// a prior record with GetExecutionByIdempotencyKey before placing an order.
func (r *Repository) CreateExecution(ctx context.Context, e *ExecutionRecord) error {
	flags, err := json.Marshal(e.Flags)
	if err != nil {
		return fmt.Errorf("marshaling execution flags: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO executions (id, user_id, order_id, symbol, direction, quantity, price,
			status, flags, idempotency_key, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
		e.ID, e.UserID, e.OrderID, e.Symbol, e.Direction, e.Quantity, e.Price,
		e.Status, flags, e.IdempotencyKey, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecutionByIdempotencyKey returns a prior execution for the same user
// and idempotency key, if one was already recorded.
func (r *Repository) GetExecutionByIdempotencyKey(ctx context.Context, userID, key string) (*ExecutionRecord, error) {
	e := &ExecutionRecord{}
	var flags []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, order_id, symbol, direction, quantity, price, status, flags,
			idempotency_key, error_message, created_at
		FROM executions WHERE user_id = $1 AND idempotency_key = $2`, userID, key,
	).Scan(&e.ID, &e.UserID, &e.OrderID, &e.Symbol, &e.Direction, &e.Quantity, &e.Price,
		&e.Status, &flags, &e.IdempotencyKey, &e.ErrorMessage, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	if len(flags) > 0 {
		_ = json.Unmarshal(flags, &e.Flags)
	}
	return e, nil
}

// GetRecentExecutions returns a user's recent executions, newest first.
func (r *Repository) GetRecentExecutions(ctx context.Context, userID string, limit int) ([]*ExecutionRecord, error) {
	return r.queryExecutions(ctx, `
		SELECT id, user_id, order_id, symbol, direction, quantity, price, status, flags,
			idempotency_key, error_message, created_at
		FROM executions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

func (r *Repository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*ExecutionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []*ExecutionRecord
	for rows.Next() {
		e := &ExecutionRecord{}
		var flags []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.Symbol, &e.Direction, &e.Quantity,
			&e.Price, &e.Status, &flags, &e.IdempotencyKey, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		if len(flags) > 0 {
			_ = json.Unmarshal(flags, &e.Flags)
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// --- USER PROFILES ---

// UpsertUserProfile creates or updates a user's operator-configured limits.
func (r *Repository) UpsertUserProfile(ctx context.Context, p *UserProfileRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, exchange, is_testnet, max_position_pct, max_leverage,
			starting_equity, consecutive_timeouts, locked, lock_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			exchange = EXCLUDED.exchange,
			is_testnet = EXCLUDED.is_testnet,
			max_position_pct = EXCLUDED.max_position_pct,
			max_leverage = EXCLUDED.max_leverage,
			starting_equity = EXCLUDED.starting_equity,
			consecutive_timeouts = EXCLUDED.consecutive_timeouts,
			locked = EXCLUDED.locked,
			lock_reason = EXCLUDED.lock_reason`,
		p.UserID, p.Exchange, p.IsTestnet, p.MaxPositionPct, p.MaxLeverage,
		p.StartingEquity, p.ConsecutiveTimeouts, p.Locked, p.LockReason,
	)
	if err != nil {
		return fmt.Errorf("upserting user profile: %w", err)
	}
	return nil
}

// GetUserProfile returns a user's profile, or nil if none exists.
func (r *Repository) GetUserProfile(ctx context.Context, userID string) (*UserProfileRecord, error) {
	p := &UserProfileRecord{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT user_id, exchange, is_testnet, max_position_pct, max_leverage, starting_equity,
			consecutive_timeouts, locked, lock_reason, created_at, updated_at
		FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.Exchange, &p.IsTestnet, &p.MaxPositionPct, &p.MaxLeverage, &p.StartingEquity,
		&p.ConsecutiveTimeouts, &p.Locked, &p.LockReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user profile: %w", err)
	}
	return p, nil
}

// GetAllUserProfiles returns every registered user, used by the per-user
// executor's fan-out to discover who to evaluate each cycle.
func (r *Repository) GetAllUserProfiles(ctx context.Context) ([]*UserProfileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id, exchange, is_testnet, max_position_pct, max_leverage, starting_equity,
			consecutive_timeouts, locked, lock_reason, created_at, updated_at
		FROM user_profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying user profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*UserProfileRecord
	for rows.Next() {
		p := &UserProfileRecord{}
		if err := rows.Scan(&p.UserID, &p.Exchange, &p.IsTestnet, &p.MaxPositionPct, &p.MaxLeverage,
			&p.StartingEquity, &p.ConsecutiveTimeouts, &p.Locked, &p.LockReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// IncrementConsecutiveTimeouts bumps a user's timeout counter and locks the
// account once it reaches the configured threshold (spec §5/§7).
func (r *Repository) IncrementConsecutiveTimeouts(ctx context.Context, userID string, threshold int) (locked bool, err error) {
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE user_profiles SET consecutive_timeouts = consecutive_timeouts + 1
		WHERE user_id = $1 RETURNING consecutive_timeouts`, userID)

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("incrementing consecutive timeouts: %w", err)
	}

	if count >= threshold {
		_, err := r.db.Pool.Exec(ctx, `
			UPDATE user_profiles SET locked = TRUE, lock_reason = $2 WHERE user_id = $1`,
			userID, fmt.Sprintf("locked after %d consecutive execution timeouts", count))
		if err != nil {
			return false, fmt.Errorf("locking user profile: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// ResetConsecutiveTimeouts clears a user's timeout counter after a
// successful execution.
func (r *Repository) ResetConsecutiveTimeouts(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE user_profiles SET consecutive_timeouts = 0 WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("resetting consecutive timeouts: %w", err)
	}
	return nil
}
