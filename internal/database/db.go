package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool for the audit-record store.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds the connection parameters for the audit database. It is
// distinct from config.DatabaseConfig — the wiring layer converts between
// them — so this package stays independent of the root config package.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB opens a pooled connection to the audit-record database and runs a
// health check before returning.
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Println("database: connected to audit-record store")
	return &DB{Pool: pool}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// RunMigrations creates every table the decision core's audit trail needs.
// Every claim, health snapshot, weight adjustment, risk verdict, state
// transition, and execution result is append-only; nothing here is ever
// UPDATEd in place except user_profiles and the updated_at trigger that
// stamps it.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id UUID PRIMARY KEY,
			witness_id VARCHAR(128) NOT NULL,
			claim_type VARCHAR(32) NOT NULL,
			direction VARCHAR(16) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			tier INTEGER NOT NULL,
			valid_until TIMESTAMPTZ NOT NULL,
			dropped BOOLEAN NOT NULL DEFAULT FALSE,
			drop_reason VARCHAR(256),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_witness_id ON claims(witness_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_symbol_created ON claims(symbol, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS witness_health (
			id UUID PRIMARY KEY,
			witness_id VARCHAR(128) NOT NULL,
			grade VARCHAR(16) NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			sample_count INTEGER NOT NULL,
			health_factor DOUBLE PRECISION NOT NULL,
			auto_muted BOOLEAN NOT NULL DEFAULT FALSE,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_witness_health_witness_id ON witness_health(witness_id, recorded_at DESC)`,

		`CREATE TABLE IF NOT EXISTS weight_audit (
			id UUID PRIMARY KEY,
			witness_id VARCHAR(128) NOT NULL,
			field VARCHAR(32) NOT NULL,
			old_value DOUBLE PRECISION NOT NULL,
			new_value DOUBLE PRECISION NOT NULL,
			reason VARCHAR(256),
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weight_audit_witness_id ON weight_audit(witness_id, recorded_at DESC)`,

		`CREATE TABLE IF NOT EXISTS risk_events (
			id UUID PRIMARY KEY,
			subject_id VARCHAR(128) NOT NULL,
			domain VARCHAR(32) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			approved BOOLEAN NOT NULL,
			reason VARCHAR(512),
			context JSONB,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_subject_id ON risk_events(subject_id, recorded_at DESC)`,

		`CREATE TABLE IF NOT EXISTS state_transitions (
			id UUID PRIMARY KEY,
			from_state VARCHAR(32) NOT NULL,
			to_state VARCHAR(32) NOT NULL,
			reason VARCHAR(512),
			actor VARCHAR(64) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_transitions_recorded_at ON state_transitions(recorded_at DESC)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			order_id VARCHAR(128) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			direction VARCHAR(16) NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION,
			status VARCHAR(32) NOT NULL,
			flags JSONB,
			idempotency_key VARCHAR(128) NOT NULL,
			error_message VARCHAR(512),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, idempotency_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_user_id ON executions(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_order_id ON executions(order_id)`,

		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id VARCHAR(128) PRIMARY KEY,
			exchange VARCHAR(32) NOT NULL,
			is_testnet BOOLEAN NOT NULL DEFAULT FALSE,
			max_position_pct DOUBLE PRECISION NOT NULL,
			max_leverage DOUBLE PRECISION NOT NULL,
			starting_equity DOUBLE PRECISION NOT NULL,
			consecutive_timeouts INTEGER NOT NULL DEFAULT 0,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			lock_reason VARCHAR(256),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE OR REPLACE FUNCTION update_updated_at_column()
			RETURNS TRIGGER AS $$
			BEGIN
				NEW.updated_at = NOW();
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql`,

		`DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_user_profiles_updated_at') THEN
				CREATE TRIGGER trg_user_profiles_updated_at
					BEFORE UPDATE ON user_profiles
					FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
			END IF;
		END $$`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("running migration %d: %w", i, err)
		}
	}

	log.Println("database: migrations applied")
	return nil
}

// HealthCheck pings the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
