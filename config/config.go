package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full configuration for the trading decision core.
type Config struct {
	AggregatorConfig AggregatorConfig `json:"aggregator"`
	WeightConfig     WeightConfig     `json:"weight"`
	RiskConfig       RiskConfig       `json:"risk"`
	StateConfig      StateConfig      `json:"state"`
	ExecutorConfig   ExecutorConfig   `json:"executor"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	VaultConfig      VaultConfig      `json:"vault"`
	CredentialConfig CredentialConfig `json:"credentials"`
}

// AggregatorConfig holds the claim-aggregation constants from spec §4.3 and §6.
type AggregatorConfig struct {
	Tier2BaseFactor     float64 `json:"tier2_base_factor"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RegimeUnclearBand   float64 `json:"regime_unclear_band"` // fractional closeness treated as "within 10%"
	ConfidenceCeiling   float64 `json:"confidence_ceiling"`
}

// WeightConfig holds the weight clamp ranges from spec §3/§4.2.
type WeightConfig struct {
	BaseWeightMin          float64 `json:"base_weight_min"`
	BaseWeightMax          float64 `json:"base_weight_max"`
	HealthFactorMin        float64 `json:"health_factor_min"`
	HealthFactorMax        float64 `json:"health_factor_max"`
	LearningFactorMin      float64 `json:"learning_factor_min"`
	LearningFactorMax      float64 `json:"learning_factor_max"`
	MaxDailyLearningDrift  float64 `json:"max_daily_learning_drift"`
	AutoMuteSampleCount    int     `json:"auto_mute_sample_count"`
}

// RiskConfig holds the operator-owned, non-learnable thresholds from spec §4.4.
type RiskConfig struct {
	MaxDrawdown              float64       `json:"max_drawdown"`
	DailyMaxLossPct          float64       `json:"daily_max_loss_pct"`
	WeeklyMaxLossPct         float64       `json:"weekly_max_loss_pct"`
	ConsecutiveLossThreshold int           `json:"consecutive_loss_threshold"`
	MaxSinglePositionPct     float64       `json:"max_single_position_pct"`
	MaxTotalPositionPct      float64       `json:"max_total_position_pct"`
	MaxLeverage              float64       `json:"max_leverage"`
	NormalCooldown           time.Duration `json:"normal_cooldown"`
	StopLossCooldown         time.Duration `json:"stop_loss_cooldown"`
	ConsecutiveLossCooldown  time.Duration `json:"consecutive_loss_cooldown"`
}

// StateConfig holds state-machine timing knobs.
type StateConfig struct {
	CooldownPollInterval time.Duration `json:"cooldown_poll_interval"`
}

// ExecutorConfig holds per-user fan-out timing knobs from spec §5.
type ExecutorConfig struct {
	PerUserDeadline      time.Duration `json:"per_user_deadline"`
	ConsecutiveTimeouts  int           `json:"consecutive_timeouts_to_lock"`
}

// LoggingConfig mirrors the teacher's structured logger configuration.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
	Component   string `json:"component"`
}

// DatabaseConfig configures the PostgreSQL audit-record store.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig configures the idempotency/snapshot cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig configures the HashiCorp Vault-backed credential store.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// CredentialConfig configures the in-process AES-256-GCM credential envelope.
type CredentialConfig struct {
	MasterKeyEnv string `json:"master_key_env"`
	ScryptSaltEnv string `json:"scrypt_salt_env"`
}

// Default returns the baked-in defaults matching spec §6's configuration surface.
func Default() *Config {
	return &Config{
		AggregatorConfig: AggregatorConfig{
			Tier2BaseFactor:     0.1,
			ConfidenceThreshold: 0.6,
			RegimeUnclearBand:   0.1,
			ConfidenceCeiling:   0.95,
		},
		WeightConfig: WeightConfig{
			BaseWeightMin:         0.5,
			BaseWeightMax:         2.0,
			HealthFactorMin:       0.5,
			HealthFactorMax:       1.2,
			LearningFactorMin:     0.8,
			LearningFactorMax:     1.2,
			MaxDailyLearningDrift: 0.05,
			AutoMuteSampleCount:   50,
		},
		RiskConfig: RiskConfig{
			MaxDrawdown:              0.20,
			DailyMaxLossPct:          0.03,
			WeeklyMaxLossPct:         0.10,
			ConsecutiveLossThreshold: 3,
			MaxSinglePositionPct:     0.05,
			MaxTotalPositionPct:      0.30,
			MaxLeverage:              5,
			NormalCooldown:           600 * time.Second,
			StopLossCooldown:         1200 * time.Second,
			ConsecutiveLossCooldown:  3600 * time.Second,
		},
		StateConfig: StateConfig{
			CooldownPollInterval: 5 * time.Second,
		},
		ExecutorConfig: ExecutorConfig{
			PerUserDeadline:     10 * time.Second,
			ConsecutiveTimeouts: 3,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			Component:  "tradingcore",
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "tradingcore",
			Database: "tradingcore",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Enabled:    false,
			MountPath:  "secret",
			SecretPath: "credentials",
		},
		CredentialConfig: CredentialConfig{
			MasterKeyEnv:  "ENCRYPTION_KEY",
			ScryptSaltEnv: "ENCRYPTION_SALT",
		},
	}
}

// Load reads base configuration from config.json (if present) and applies
// environment variable overrides on top, matching the teacher's layering.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.AggregatorConfig.Tier2BaseFactor = getEnvFloatOrDefault("TIER2_BASE_FACTOR", cfg.AggregatorConfig.Tier2BaseFactor)
	cfg.AggregatorConfig.ConfidenceThreshold = getEnvFloatOrDefault("CONFIDENCE_THRESHOLD", cfg.AggregatorConfig.ConfidenceThreshold)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolStr(cfg.LoggingConfig.IncludeFile)) == "true"

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
