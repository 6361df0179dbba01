// Package config loads and validates application configuration from YAML
// with environment variable overrides, and sources secrets from Vault when
// enabled.
package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/spf13/viper"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/registry"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Agent       AgentConfig        `mapstructure:"agent"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Oracles     OraclesConfig      `mapstructure:"oracles"`
	Registry    RegistryConfig     `mapstructure:"registry"`
	Freshness   FreshnessConfig    `mapstructure:"freshness"`
	Ensemble    EnsembleConfig     `mapstructure:"ensemble"`
	Risk        RiskConfig         `mapstructure:"risk"`
	Sizing      SizingConfig       `mapstructure:"sizing"`
	Executor    ExecutorConfig     `mapstructure:"executor"`
	Monitor     MonitorConfig      `mapstructure:"monitor"`
	Memory      MemoryConfig       `mapstructure:"memory"`
	Redis       RedisConfig        `mapstructure:"redis"`
	NATS        NATSConfig         `mapstructure:"nats"`
	Telegram    TelegramConfig     `mapstructure:"telegram"`
	API         APIConfig          `mapstructure:"api"`
	Monitoring  MonitoringConfig   `mapstructure:"monitoring"`
	Vault       VaultConfig        `mapstructure:"vault"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
	Simulation  bool   `mapstructure:"simulation"`
}

// AgentConfig contains the loop settings.
type AgentConfig struct {
	CycleInterval       time.Duration `mapstructure:"cycle_interval"`
	LearningBatch       int           `mapstructure:"learning_batch"`
	MaxConcurrentAssets int           `mapstructure:"max_concurrent_assets"`
	AnalysisDeadline    time.Duration `mapstructure:"analysis_deadline"`
	Timeframe           string        `mapstructure:"timeframe"`
	CandleCount         int           `mapstructure:"candle_count"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	RecoveryMaxAttempts int           `mapstructure:"recovery_max_attempts"`
	RecoveryBackoff     time.Duration `mapstructure:"recovery_backoff"`
}

// InstrumentConfig names one tradable instrument.
type InstrumentConfig struct {
	Symbol     string `mapstructure:"symbol"`
	AssetClass string `mapstructure:"asset_class"`
	Venue      string `mapstructure:"venue"`
}

// OraclesConfig bounds the oracle fan-out.
type OraclesConfig struct {
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	GlobalDeadline time.Duration `mapstructure:"global_deadline"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	Credential     string        `mapstructure:"credential"`
	RSIPeriod      int           `mapstructure:"rsi_period"`
	EMAPeriod      int           `mapstructure:"ema_period"`
}

// RegistryConfig tunes the breaker, limiter, and pool triples guarding
// external services.
type RegistryConfig struct {
	FailureThreshold   uint32        `mapstructure:"failure_threshold"`
	RecoveryTimeout    time.Duration `mapstructure:"recovery_timeout"`
	PoolSize           int64         `mapstructure:"pool_size"`
	PoolAcquireTimeout time.Duration `mapstructure:"pool_acquire_timeout"`
	RateTier           string        `mapstructure:"rate_tier"` // free or paid
	Rate               float64       `mapstructure:"rate"`      // tokens/sec; overrides the tier when set
	Burst              int           `mapstructure:"burst"`
	DataCredential     string        `mapstructure:"data_credential"`
}

// Settings converts to registry settings, starting from the selected rate
// tier and overriding only the fields that are set.
func (r RegistryConfig) Settings() registry.Settings {
	s := registry.DefaultSettings()
	if r.RateTier == "paid" {
		s.Limiter = registry.PaidTierLimiter()
	}
	if r.Rate > 0 {
		s.Limiter.Rate = r.Rate
	}
	if r.Burst > 0 {
		s.Limiter.Burst = r.Burst
	}
	if r.FailureThreshold > 0 {
		s.Breaker.FailureThreshold = r.FailureThreshold
	}
	if r.RecoveryTimeout > 0 {
		s.Breaker.RecoveryTimeout = r.RecoveryTimeout
	}
	if r.PoolSize > 0 {
		s.Pool.Size = r.PoolSize
	}
	if r.PoolAcquireTimeout > 0 {
		s.Pool.AcquireTimeout = r.PoolAcquireTimeout
	}
	return s
}

// FreshnessConfig overrides the quote max-age table. Zero durations keep
// the built-in limits.
type FreshnessConfig struct {
	Soft        time.Duration   `mapstructure:"soft"`
	Crypto      FreshnessLimits `mapstructure:"crypto"`
	Forex       FreshnessLimits `mapstructure:"forex"`
	Equity      FreshnessLimits `mapstructure:"equity"`
	EquityDaily FreshnessLimits `mapstructure:"equity_daily"`
}

// FreshnessLimits holds the hard max-age per session state.
type FreshnessLimits struct {
	Open    time.Duration `mapstructure:"open"`
	Closed  time.Duration `mapstructure:"closed"`
	Weekend time.Duration `mapstructure:"weekend"`
}

// GateConfig builds the freshness table. The gate keys on (asset class,
// session), not bar interval, so the equity row is chosen here from the
// analysis timeframe: daily bars tolerate an overnight close, intraday
// bars do not.
func (f FreshnessConfig) GateConfig(timeframe string) market.GateConfig {
	cfg := market.DefaultGateConfig()
	daily := timeframe == "1d"
	if daily {
		cfg.Equity = market.DailyEquityLimits()
	}

	if f.Soft > 0 {
		cfg.Soft = f.Soft
	}
	applyLimits(&cfg.Crypto, f.Crypto)
	applyLimits(&cfg.Forex, f.Forex)
	if daily {
		applyLimits(&cfg.Equity, f.EquityDaily)
	} else {
		applyLimits(&cfg.Equity, f.Equity)
	}
	return cfg
}

func applyLimits(dst *market.SessionLimits, src FreshnessLimits) {
	if src.Open > 0 {
		dst.Open = src.Open
	}
	if src.Closed > 0 {
		dst.Closed = src.Closed
	}
	if src.Weekend > 0 {
		dst.Weekend = src.Weekend
	}
}

// EnsembleConfig selects the voting strategy and the static base weights.
type EnsembleConfig struct {
	Strategy     string `mapstructure:"strategy"` // weighted, majority, stacking
	QuorumMin    int    `mapstructure:"quorum_min"`
	StrictQuorum bool   `mapstructure:"strict_quorum"`
	// ProviderWeights are the base oracle weights (sum 1.0). They stand
	// until the memory store has learned weights of its own.
	ProviderWeights map[string]float64 `mapstructure:"provider_weights"`
}

// RiskConfig contains the gatekeeper limits.
type RiskConfig struct {
	MaxDrawdown          float64 `mapstructure:"max_drawdown"`
	MaxVaR               float64 `mapstructure:"max_var"`
	MaxSinglePosition    float64 `mapstructure:"max_single_position"`
	MaxCorrelated        int     `mapstructure:"max_correlated"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	MaxDailyTrades       int     `mapstructure:"max_daily_trades"`
	KillSwitchPct        float64 `mapstructure:"kill_switch_pct"`
	AllowClosedSessions  bool    `mapstructure:"allow_closed_sessions"`
}

// SizingConfig contains position sizing settings.
type SizingConfig struct {
	RiskPerTrade       float64 `mapstructure:"risk_per_trade"`
	DefaultStopLossPct float64 `mapstructure:"default_stop_loss_pct"`
	EquityFloor        float64 `mapstructure:"equity_floor"`
	VenueMinimum       float64 `mapstructure:"venue_minimum"`
	SignalOnlyDefault  bool    `mapstructure:"signal_only_default"`
}

// ExecutorConfig contains order dispatch settings.
type ExecutorConfig struct {
	Venue      string        `mapstructure:"venue"`
	Credential string        `mapstructure:"credential"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
}

// MonitorConfig contains position monitor settings.
type MonitorConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	TrackInterval time.Duration `mapstructure:"track_interval"`
	MaxTrackers   int           `mapstructure:"max_trackers"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	StatePath     string        `mapstructure:"state_path"`
}

// MemoryConfig locates the memory store.
type MemoryConfig struct {
	Root       string  `mapstructure:"root"`
	TopK       int     `mapstructure:"top_k"`
	Alpha      float64 `mapstructure:"alpha"`
	ClampFloor float64 `mapstructure:"clamp_floor"`
}

// RedisConfig contains the quote cache settings.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

// NATSConfig contains event bus settings.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Name    string `mapstructure:"name"`
}

// TelegramConfig contains approval-channel settings.
type TelegramConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Token   string  `mapstructure:"token"`
	ChatIDs []int64 `mapstructure:"chat_ids"`
}

// APIConfig contains REST/websocket server settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// Load reads configuration from the given file (or the default search
// path), applies HELMSMAN_* environment overrides, and validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("HELMSMAN")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file: defaults plus environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "helmsman")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.simulation", true)

	v.SetDefault("agent.cycle_interval", "1m")
	v.SetDefault("agent.learning_batch", 32)
	v.SetDefault("agent.max_concurrent_assets", 4)
	v.SetDefault("agent.analysis_deadline", "90s")
	v.SetDefault("agent.timeframe", "1h")
	v.SetDefault("agent.candle_count", 100)
	v.SetDefault("agent.cooldown", "5m")
	v.SetDefault("agent.recovery_max_attempts", 5)
	v.SetDefault("agent.recovery_backoff", "5s")

	v.SetDefault("oracles.call_timeout", "30s")
	v.SetDefault("oracles.global_deadline", "90s")
	v.SetDefault("oracles.max_concurrent", 4)
	v.SetDefault("oracles.credential", "default")
	v.SetDefault("oracles.rsi_period", 14)
	v.SetDefault("oracles.ema_period", 20)

	v.SetDefault("registry.failure_threshold", 3)
	v.SetDefault("registry.recovery_timeout", "60s")
	v.SetDefault("registry.pool_size", 5)
	v.SetDefault("registry.pool_acquire_timeout", "10s")
	v.SetDefault("registry.rate_tier", "free")
	v.SetDefault("registry.data_credential", "default")

	v.SetDefault("ensemble.strategy", "weighted")
	v.SetDefault("ensemble.quorum_min", 3)
	v.SetDefault("ensemble.strict_quorum", false)

	v.SetDefault("risk.max_drawdown", 0.15)
	v.SetDefault("risk.max_var", 0.05)
	v.SetDefault("risk.max_single_position", 0.25)
	v.SetDefault("risk.max_correlated", 2)
	v.SetDefault("risk.correlation_threshold", 0.7)
	v.SetDefault("risk.max_daily_trades", 10)
	v.SetDefault("risk.kill_switch_pct", 0.05)
	v.SetDefault("risk.allow_closed_sessions", false)

	v.SetDefault("sizing.risk_per_trade", 0.01)
	v.SetDefault("sizing.default_stop_loss_pct", 0.02)
	v.SetDefault("sizing.equity_floor", 100)
	v.SetDefault("sizing.venue_minimum", 0)
	v.SetDefault("sizing.signal_only_default", false)

	v.SetDefault("executor.venue", "venue")
	v.SetDefault("executor.credential", "default")
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.retry_base", "500ms")

	v.SetDefault("monitor.poll_interval", "30s")
	v.SetDefault("monitor.track_interval", "10s")
	v.SetDefault("monitor.max_trackers", 2)
	v.SetDefault("monitor.max_age", "0")
	v.SetDefault("monitor.state_path", "data/positions.json")

	v.SetDefault("memory.root", "data/memory")
	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.alpha", 0.1)
	v.SetDefault("memory.clamp_floor", 0.05)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.quote_ttl", "5s")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "helmsman-agent")

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_port", 9090)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "helmsman")
}

// Validate checks invariants a running agent depends on.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name must not be empty")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument must be configured")
	}
	for _, ic := range c.Instruments {
		if ic.Symbol == "" || ic.Venue == "" {
			return fmt.Errorf("instrument needs symbol and venue, got %q on %q", ic.Symbol, ic.Venue)
		}
		switch market.AssetClass(ic.AssetClass) {
		case market.AssetCrypto, market.AssetForex, market.AssetEquity:
		default:
			return fmt.Errorf("instrument %s: unknown asset class %q", ic.Symbol, ic.AssetClass)
		}
	}

	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("risk.max_drawdown must be in (0, 1), got %v", c.Risk.MaxDrawdown)
	}
	if c.Risk.MaxVaR <= 0 || c.Risk.MaxVaR >= 1 {
		return fmt.Errorf("risk.max_var must be in (0, 1), got %v", c.Risk.MaxVaR)
	}
	if c.Risk.MaxSinglePosition <= 0 || c.Risk.MaxSinglePosition > 1 {
		return fmt.Errorf("risk.max_single_position must be in (0, 1], got %v", c.Risk.MaxSinglePosition)
	}
	if c.Risk.KillSwitchPct <= 0 || c.Risk.KillSwitchPct >= 1 {
		return fmt.Errorf("risk.kill_switch_pct must be in (0, 1), got %v", c.Risk.KillSwitchPct)
	}
	if c.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be positive, got %d", c.Risk.MaxDailyTrades)
	}

	if c.Sizing.RiskPerTrade <= 0 || c.Sizing.RiskPerTrade > 0.1 {
		return fmt.Errorf("sizing.risk_per_trade must be in (0, 0.1], got %v", c.Sizing.RiskPerTrade)
	}
	if c.Ensemble.QuorumMin < 1 {
		return fmt.Errorf("ensemble.quorum_min must be at least 1, got %d", c.Ensemble.QuorumMin)
	}
	switch c.Ensemble.Strategy {
	case "weighted", "majority", "stacking":
	default:
		return fmt.Errorf("ensemble.strategy must be weighted, majority, or stacking, got %q", c.Ensemble.Strategy)
	}
	if len(c.Ensemble.ProviderWeights) > 0 {
		var sum float64
		for id, w := range c.Ensemble.ProviderWeights {
			if w < 0 {
				return fmt.Errorf("ensemble.provider_weights[%s] must be non-negative, got %v", id, w)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return fmt.Errorf("ensemble.provider_weights must sum to 1.0, got %v", sum)
		}
	}

	switch c.Registry.RateTier {
	case "", "free", "paid":
	default:
		return fmt.Errorf("registry.rate_tier must be free or paid, got %q", c.Registry.RateTier)
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token required when telegram is enabled")
	}
	return nil
}

// MarketInstruments converts the configured universe to domain instruments.
func (c *Config) MarketInstruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		out = append(out, market.Instrument{
			Symbol: ic.Symbol,
			Class:  market.AssetClass(ic.AssetClass),
			Venue:  ic.Venue,
		})
	}
	return out
}

// Fingerprint hashes the effective configuration. Simulation runs use it to
// derive an isolated memory root, so two different configs never share
// learned state.
func (c *Config) Fingerprint() uint64 {
	data, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
