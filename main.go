// Command tradingcore runs the trading decision core: the witness panel,
// weight manager, claim aggregator, risk engine, system state machine,
// per-user executor, and strategy lifecycle, wired together into one
// ticker-driven decision loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tradingcore/config"
	"tradingcore/internal/aggregator"
	"tradingcore/internal/cache"
	"tradingcore/internal/circuit"
	"tradingcore/internal/credentials"
	"tradingcore/internal/database"
	"tradingcore/internal/events"
	"tradingcore/internal/executor"
	"tradingcore/internal/lifecycle"
	"tradingcore/internal/logging"
	"tradingcore/internal/marketdata"
	"tradingcore/internal/risk"
	"tradingcore/internal/riskengine"
	"tradingcore/internal/tradestate"
	"tradingcore/internal/vault"
	"tradingcore/internal/weight"
	"tradingcore/internal/witness"
)

// watchedSymbols is the hardcoded default watchlist the decision loop
// polls every cycle, in place of the dynamic instrument-discovery layer
// the collaborator exchange integration would own.
var watchedSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

const (
	decisionInterval  = 30 * time.Second
	barLookback       = 200 * time.Minute
	systemStartEquity = 100000.0
	barInterval       = "1m"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   cfg.LoggingConfig.Component,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
	}))
	log := logging.WithComponent("main")
	log.Info("starting trading decision core")

	bus := events.NewEventBus()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	repo := database.NewRepository(db)

	var cacheSvc *cache.CacheService
	var idemStore executor.IdempotencyStore
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			return fmt.Errorf("connecting to cache: %w", err)
		}
		defer cacheSvc.Close()

		tracker := database.NewIdempotencyTracker(cacheSvc.GetClient())
		tracker.StartMonitor()
		defer tracker.StopMonitor()
		idemStore = tracker
	} else {
		// No Redis means no cross-process idempotency guarantee. A
		// single-process in-memory store still enforces the one-attempt-
		// per-decision rule within this process, which is what the
		// executor actually depends on.
		idemStore = newMemoryIdempotencyStore()
		log.Warn("redis disabled: falling back to in-process idempotency store")
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return fmt.Errorf("initializing vault client: %w", err)
	}

	envelope, err := credentials.NewEnvelope(cfg.CredentialConfig.MasterKeyEnv, cfg.CredentialConfig.ScryptSaltEnv)
	if err != nil {
		return fmt.Errorf("initializing credential envelope: %w", err)
	}

	panel := witness.NewPanel(bus)
	weightMgr := weight.NewManager(panel, bus)
	agg := aggregator.New(aggregator.Config{
		Tier2BaseFactor:     cfg.AggregatorConfig.Tier2BaseFactor,
		ConfidenceThreshold: cfg.AggregatorConfig.ConfidenceThreshold,
		RegimeUnclearBand:   cfg.AggregatorConfig.RegimeUnclearBand,
		ConfidenceCeiling:   cfg.AggregatorConfig.ConfidenceCeiling,
	}, weightMgr, bus)

	riskCfg := riskengine.Config{
		MaxDrawdown:              cfg.RiskConfig.MaxDrawdown,
		DailyMaxLossPct:          cfg.RiskConfig.DailyMaxLossPct,
		WeeklyMaxLossPct:         cfg.RiskConfig.WeeklyMaxLossPct,
		ConsecutiveLossThreshold: cfg.RiskConfig.ConsecutiveLossThreshold,
		MaxSinglePositionPct:     cfg.RiskConfig.MaxSinglePositionPct,
		MaxTotalPositionPct:      cfg.RiskConfig.MaxTotalPositionPct,
		MaxLeverage:              cfg.RiskConfig.MaxLeverage,
		NormalCooldown:           cfg.RiskConfig.NormalCooldown,
		StopLossCooldown:         cfg.RiskConfig.StopLossCooldown,
		ConsecutiveLossCooldown:  cfg.RiskConfig.ConsecutiveLossCooldown,
	}
	riskEngine := riskengine.New(riskCfg, bus)

	machine := tradestate.New(repo, bus)
	if err := machine.Recover(ctx); err != nil {
		return fmt.Errorf("recovering state machine: %w", err)
	}
	if machine.Current() == tradestate.StateSystemInit {
		if err := machine.Transition(ctx, tradestate.StateObserving, "system init complete", "main"); err != nil {
			return fmt.Errorf("initial transition to OBSERVING: %w", err)
		}
	}

	lifecycleMgr := lifecycle.NewManager(panel, repo, bus)
	shadowRunner := lifecycle.NewShadowRunner(panel, repo, bus)

	exec := executor.New(repo, idemStore, riskEngine, bus, cfg.ExecutorConfig.PerUserDeadline, cfg.ExecutorConfig.ConsecutiveTimeouts)

	systemRisk := &riskengine.ContextBuilder{
		SubjectID:   "system",
		Breaker:     circuit.NewTracker(circuit.DefaultConfig(), bus, "system"),
		Equity:      risk.NewEquityTracker(systemStartEquity),
		Stops:       risk.NewStopTracker(),
		Correlation: riskengine.NewCorrelationTracker(),
	}

	var feed marketdata.Source = marketdata.NullSource{}

	loop := &decisionLoop{
		log:          log,
		repo:         repo,
		bus:          bus,
		panel:        panel,
		weightMgr:    weightMgr,
		aggregator:   agg,
		riskEngine:   riskEngine,
		machine:      machine,
		lifecycleMgr: lifecycleMgr,
		shadowRunner: shadowRunner,
		executor:     exec,
		feed:         feed,
		systemRisk:   systemRisk,
		vault:        vaultClient,
		envelope:     envelope,
		cooldownFor:  cfg.RiskConfig.NormalCooldown,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGUSR1 is the manual "unlock approved" operator signal: the only
	// path out of RISK_LOCKED, per spec §4.5. It is deliberately not part
	// of the automatic tick.
	recoverCh := make(chan os.Signal, 1)
	signal.Notify(recoverCh, syscall.SIGUSR1)
	defer signal.Stop(recoverCh)

	ticker := time.NewTicker(decisionInterval)
	defer ticker.Stop()

	log.Info("decision core started")
	for {
		select {
		case <-sigCtx.Done():
			log.Info("shutdown signal received, stopping decision loop")
			return nil
		case <-recoverCh:
			if machine.Current() == tradestate.StateRiskLocked {
				if err := machine.Transition(ctx, tradestate.StateRecovery, "unlock approved by operator", "operator"); err != nil {
					log.WithError(err).Warn("operator recovery transition rejected")
				}
			}
		case now := <-ticker.C:
			loop.tick(sigCtx, now)
		}
	}
}

// decisionLoop holds every long-lived component the per-cycle decision
// logic reads or mutates. One tick walks every watched symbol through
// claims -> aggregation -> risk -> state transition -> (conditionally)
// per-user execution, then runs the lifecycle housekeeping once for the
// whole cycle.
type decisionLoop struct {
	log          *logging.Logger
	repo         *database.Repository
	bus          *events.EventBus
	panel        *witness.Panel
	weightMgr    *weight.Manager
	aggregator   *aggregator.Aggregator
	riskEngine   *riskengine.Engine
	machine      *tradestate.Machine
	lifecycleMgr *lifecycle.Manager
	shadowRunner *lifecycle.ShadowRunner
	executor     *executor.Executor
	feed         marketdata.Source
	systemRisk   *riskengine.ContextBuilder
	vault        *vault.Client
	envelope     *credentials.Envelope
	cooldownFor  time.Duration

	cooldownUntil time.Time
}

func (d *decisionLoop) tick(ctx context.Context, now time.Time) {
	d.lifecycleMgr.Tick(ctx, now)

	for _, symbol := range watchedSymbols {
		d.tickSymbol(ctx, symbol, now)
	}
}

func (d *decisionLoop) tickSymbol(ctx context.Context, symbol string, now time.Time) {
	log := d.log.WithField("symbol", symbol)

	bars, err := d.feed.GetBars(ctx, symbol, barInterval, now.Add(-barLookback), now)
	if err != nil {
		// DataNotFound: the current loop is skipped for this symbol.
		log.WithError(err).Debug("no bar data available, skipping cycle")
		return
	}
	if len(bars) == 0 {
		return
	}
	marketPrice := bars[len(bars)-1].Close

	d.shadowRunner.RunBar(ctx, symbol, bars, marketPrice)

	live, _ := d.panel.GenerateClaims(bars)
	claims := make([]aggregator.ClaimWithTier, 0, len(live))
	contributing := make(map[string]witness.Direction, len(live))
	for _, c := range live {
		tier, err := d.panel.Tier(c.WitnessID)
		if err != nil {
			continue
		}
		claims = append(claims, aggregator.ClaimWithTier{Claim: c, Tier: tier})
		contributing[c.WitnessID] = c.Direction
	}

	result := d.aggregator.Resolve(claims, now)

	riskCtx := d.systemRisk.Build(0, result.TotalConfidence, 1, false, result.ResolutionReason == "REGIME_UNCLEAR", contributing)
	verdict := d.riskEngine.Evaluate(riskCtx)

	d.applyTransition(ctx, log, symbol, result, verdict, marketPrice, now)
}

// applyTransition drives the state machine according to the spec's §4.5
// transition table. RISK_LOCKED -> RECOVERY is intentionally absent here:
// that edge requires an operator's explicit unlock, handled outside the
// tick.
func (d *decisionLoop) applyTransition(ctx context.Context, log *logging.Logger, symbol string, result aggregator.AggregatedResult, verdict riskengine.RiskCheckResult, marketPrice float64, now time.Time) {
	current := d.machine.Current()

	if verdict.Level == riskengine.SeverityRiskLocked {
		if current != tradestate.StateRiskLocked {
			if err := d.machine.Transition(ctx, tradestate.StateRiskLocked, verdict.Reason, "risk_engine"); err != nil {
				log.WithError(err).Warn("risk lock transition rejected")
			}
		}
		return
	}

	switch current {
	case tradestate.StateObserving:
		if result.IsTradeable && verdict.Approved {
			if err := d.machine.Transition(ctx, tradestate.StateEligible, "aggregated claim tradeable and risk approved", "decision_loop"); err != nil {
				log.WithError(err).Warn("transition to ELIGIBLE rejected")
			}
		}

	case tradestate.StateEligible:
		// ELIGIBLE only permits ACTIVE_TRADING or RISK_LOCKED; there is no
		// back-off edge to OBSERVING. A claim that's no longer tradeable
		// this cycle just leaves the machine waiting in ELIGIBLE for
		// either execution authorization or a risk lock.
		if !result.IsTradeable || !verdict.Approved {
			return
		}
		if err := d.machine.Transition(ctx, tradestate.StateActiveTrading, "execution authorized", "decision_loop"); err != nil {
			log.WithError(err).Warn("transition to ACTIVE_TRADING rejected")
			return
		}

		d.executeDecision(ctx, symbol, result, marketPrice)

		cooldown := verdict.CooldownFor
		if cooldown <= 0 {
			cooldown = d.cooldownFor
		}
		d.cooldownUntil = now.Add(cooldown)
		if err := d.machine.Transition(ctx, tradestate.StateCooldown, "execution settled", "decision_loop"); err != nil {
			log.WithError(err).Warn("transition to COOLDOWN rejected")
		}

	case tradestate.StateCooldown:
		if now.After(d.cooldownUntil) {
			if err := d.machine.Transition(ctx, tradestate.StateObserving, "cooldown timer expired", "decision_loop"); err != nil {
				log.WithError(err).Warn("transition back to OBSERVING rejected")
			}
		}

	case tradestate.StateRecovery:
		if err := d.machine.Transition(ctx, tradestate.StateObserving, "recovery complete", "decision_loop"); err != nil {
			log.WithError(err).Warn("transition to OBSERVING after recovery rejected")
		}
	}
}

func (d *decisionLoop) executeDecision(ctx context.Context, symbol string, result aggregator.AggregatedResult, marketPrice float64) {
	profiles, err := d.repo.GetAllUserProfiles(ctx)
	if err != nil {
		d.log.WithError(err).Warn("failed to load user profiles, skipping execution")
		return
	}

	users := make([]*executor.UserContext, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, d.buildUserContext(ctx, p))
	}
	if len(users) == 0 {
		return
	}

	decision := executor.Decision{
		DecisionID:              uuid.NewString(),
		Symbol:                  symbol,
		Direction:               result.DominantDirection,
		Price:                   marketPrice,
		ImpliedPositionFraction: result.TotalConfidence,
		Deadline:                10 * time.Second,
	}

	results := d.executor.Execute(ctx, decision, users)

	for _, uc := range users {
		credentials.Zero(&uc.ExchangeAPIKey)
		credentials.Zero(&uc.ExchangeAPISecret)
	}

	for _, r := range results {
		d.log.WithField("user_id", r.UserID).WithField("status", r.Status).Info("execution result recorded")
	}
}

// buildUserContext hydrates one user's trading context from its stored
// profile and vault-held, envelope-sealed exchange credentials. A failure
// anywhere in that chain leaves CredentialsValid false; the executor's
// own eligibility check keeps that user out of the fan-out rather than
// this function returning an error that would abort the whole cycle.
func (d *decisionLoop) buildUserContext(ctx context.Context, p *database.UserProfileRecord) *executor.UserContext {
	uc := &executor.UserContext{
		UserID:              p.UserID,
		Status:              executor.UserStatusActive,
		RiskLocked:          p.Locked,
		ConsecutiveTimeouts: p.ConsecutiveTimeouts,
		Equity:              p.StartingEquity,
		MaxPositionPct:      p.MaxPositionPct,
		MaxLeverage:         p.MaxLeverage,
		SubscriptionTierCap: p.MaxPositionPct,
	}

	cred, err := d.vault.GetCredential(ctx, p.UserID, p.Exchange, p.IsTestnet)
	if err != nil {
		d.log.WithField("user_id", p.UserID).WithError(err).Debug("no credential available for user")
		return uc
	}

	apiKey, err := d.envelope.Open(cred.APIKey)
	if err != nil {
		return uc
	}
	apiSecret, err := d.envelope.Open(cred.APISecret)
	if err != nil {
		return uc
	}

	uc.ExchangeAPIKey = apiKey
	uc.ExchangeAPISecret = apiSecret
	uc.CredentialsValid = true
	uc.Exchange = newNotConfiguredExchangeClient(p.UserID)

	return uc
}
