package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/helmsman-trade/helmsman/internal/agent"
	"github.com/helmsman-trade/helmsman/internal/api"
	"github.com/helmsman-trade/helmsman/internal/approval"
	"github.com/helmsman-trade/helmsman/internal/config"
	"github.com/helmsman-trade/helmsman/internal/ensemble"
	"github.com/helmsman-trade/helmsman/internal/events"
	"github.com/helmsman-trade/helmsman/internal/executor"
	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/memory"
	"github.com/helmsman-trade/helmsman/internal/metrics"
	"github.com/helmsman-trade/helmsman/internal/monitor"
	"github.com/helmsman-trade/helmsman/internal/oracle"
	"github.com/helmsman-trade/helmsman/internal/platform"
	"github.com/helmsman-trade/helmsman/internal/registry"
	"github.com/helmsman-trade/helmsman/internal/risk"
)

// Exit codes: 0 orderly stop (including a kill-switch halt), 2 bad
// configuration, 3 unrecoverable runtime failure, 130 interrupted.
const (
	exitOK          = 0
	exitConfig      = 2
	exitRuntime     = 3
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("environment", cfg.App.Environment).Bool("simulation", cfg.App.Simulation).Msg("Starting helmsman agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadSecrets(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Secret loading failed")
		return exitConfig
	}

	reg := registry.New(cfg.Registry.Settings())

	// The feed shares one (market-data, credential) triple across the agent,
	// the monitor, and the executor's pre-dispatch re-check.
	var data market.DataProvider = market.NewGuardedProvider(
		market.NewSimulatedFeed(100), reg, cfg.Registry.DataCredential)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		data = market.NewCachedProvider(data, client, cfg.Redis.QuoteTTL)
	}

	// The mock venue is the only trading surface in simulation mode; live
	// venue adapters plug into the same port.
	port := platform.NewMockPort(10_000)

	mon, err := monitor.New(port, data, reg, monitor.Config{
		PollInterval:  cfg.Monitor.PollInterval,
		TrackInterval: cfg.Monitor.TrackInterval,
		MaxTrackers:   cfg.Monitor.MaxTrackers,
		MaxAge:        cfg.Monitor.MaxAge,
		StatePath:     cfg.Monitor.StatePath,
		Venue:         cfg.Executor.Venue,
		Credential:    cfg.Executor.Credential,
	})
	if err != nil {
		log.Error().Err(err).Msg("Monitor setup failed")
		return exitConfig
	}

	memCfg := memory.DefaultConfig(cfg.Memory.Root)
	memCfg.TopK = cfg.Memory.TopK
	memCfg.Alpha = cfg.Memory.Alpha
	memCfg.ClampFloor = cfg.Memory.ClampFloor
	if cfg.App.Simulation {
		memCfg.Isolation = true
		memCfg.Fingerprint = cfg.Fingerprint()
	}
	mem, err := memory.NewEngine(memCfg)
	if err != nil {
		log.Error().Err(err).Msg("Memory store setup failed")
		return exitConfig
	}

	providers := []oracle.Provider{
		oracle.NewTechnicalOracle("momentum", oracle.TechnicalConfig{
			RSIPeriod: cfg.Oracles.RSIPeriod, EMAPeriod: cfg.Oracles.EMAPeriod,
			Oversold: 30, Overbought: 70,
		}),
		oracle.NewTechnicalOracle("swing", oracle.TechnicalConfig{
			RSIPeriod: 21, EMAPeriod: 50, Oversold: 35, Overbought: 65,
		}),
		oracle.NewTechnicalOracle("scalper", oracle.TechnicalConfig{
			RSIPeriod: 7, EMAPeriod: 9, Oversold: 25, Overbought: 75,
		}),
	}
	pool := oracle.NewPool(providers, reg, oracle.PoolConfig{
		CallTimeout:    cfg.Oracles.CallTimeout,
		GlobalDeadline: cfg.Oracles.GlobalDeadline,
		MaxConcurrent:  cfg.Oracles.MaxConcurrent,
		Credential:     cfg.Oracles.Credential,
	})

	riskGate := risk.NewGatekeeper(risk.Limits{
		MaxDrawdown:          cfg.Risk.MaxDrawdown,
		MaxVaR:               cfg.Risk.MaxVaR,
		MaxSinglePosition:    cfg.Risk.MaxSinglePosition,
		MaxCorrelated:        cfg.Risk.MaxCorrelated,
		CorrelationThreshold: cfg.Risk.CorrelationThreshold,
		MaxDailyTrades:       cfg.Risk.MaxDailyTrades,
		KillSwitchPct:        cfg.Risk.KillSwitchPct,
		AllowClosedSessions:  cfg.Risk.AllowClosedSessions,
	})
	sizer := risk.NewSizer(risk.SizerConfig{
		RiskPerTrade:       cfg.Sizing.RiskPerTrade,
		DefaultStopLossPct: cfg.Sizing.DefaultStopLossPct,
		EquityFloor:        cfg.Sizing.EquityFloor,
		VenueMinimum:       cfg.Sizing.VenueMinimum,
		MaxSinglePosition:  cfg.Risk.MaxSinglePosition,
		SignalOnlyDefault:  cfg.Sizing.SignalOnlyDefault,
	})

	var bus *events.Bus
	if cfg.NATS.Enabled {
		bus, err = events.Connect(events.Config{URL: cfg.NATS.URL, Name: cfg.NATS.Name})
		if err != nil {
			log.Warn().Err(err).Msg("Event bus unavailable, continuing without it")
			bus = nil
		}
	}
	defer bus.Close()

	var transports []approval.Transport
	if cfg.Telegram.Enabled {
		tg, err := approval.NewTelegramTransport(ctx, cfg.Telegram.Token, cfg.Telegram.ChatIDs)
		if err != nil {
			log.Error().Err(err).Msg("Telegram transport setup failed")
			return exitConfig
		}
		transports = append(transports, tg)
	}

	var ag *agent.Agent
	exec := executor.New(port, reg, riskGate, sizer, mon, transports,
		func(ctx context.Context, d *ensemble.Decision) (risk.Context, error) {
			return ag.RiskContext(ctx, d)
		},
		executor.Config{
			Venue:      cfg.Executor.Venue,
			Credential: cfg.Executor.Credential,
			MaxRetries: cfg.Executor.MaxRetries,
			RetryBase:  cfg.Executor.RetryBase,
		})

	ag = agent.New(agent.Deps{
		Data:     data,
		Gate:     market.NewGate(cfg.Freshness.GateConfig(cfg.Agent.Timeframe)),
		Pool:     pool,
		Memory:   mem,
		RiskGate: riskGate,
		Sizer:    sizer,
		Executor: exec,
		Monitor:  mon,
		Port:     port,
		Bus:      bus,
	}, agent.Config{
		Instruments:         cfg.MarketInstruments(),
		CycleInterval:       cfg.Agent.CycleInterval,
		LearningBatch:       cfg.Agent.LearningBatch,
		MaxConcurrentAssets: cfg.Agent.MaxConcurrentAssets,
		AnalysisDeadline:    cfg.Agent.AnalysisDeadline,
		Timeframe:           cfg.Agent.Timeframe,
		CandleCount:         cfg.Agent.CandleCount,
		Cooldown:            cfg.Agent.Cooldown,
		RecoveryMaxAttempts: cfg.Agent.RecoveryMaxAttempts,
		RecoveryBackoff:     cfg.Agent.RecoveryBackoff,
		Ensemble: ensemble.Config{
			BaseWeights:  cfg.Ensemble.ProviderWeights,
			QuorumMin:    cfg.Ensemble.QuorumMin,
			Strategy:     ensemble.Strategy(cfg.Ensemble.Strategy),
			StrictQuorum: cfg.Ensemble.StrictQuorum,
		},
	})

	srv := api.NewServer(api.Config{Host: cfg.API.Host, Port: cfg.API.Port}, ag,
		func() interface{} { return mon.Tracked() },
		func() interface{} { return mem.OpenPositions() })

	var metricsSrv *metrics.Server
	if cfg.Monitoring.Enabled {
		metricsSrv = metrics.NewServer(cfg.Monitoring.MetricsPort,
			func() bool { return ag.State() != agent.StateHalt }, log.Logger)
		if err := metricsSrv.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server failed to start")
			return exitRuntime
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ag.Run(gctx) })
	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API shutdown failed")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics shutdown failed")
			}
		}
		return nil
	})

	err = g.Wait()
	switch {
	case ctx.Err() != nil:
		log.Info().Msg("Interrupted, shut down cleanly")
		return exitInterrupted
	case err == nil, errors.Is(err, agent.ErrHalted):
		log.Info().Msg("Agent stopped")
		return exitOK
	default:
		log.Error().Err(err).Msg("Unrecoverable failure")
		return exitRuntime
	}
}
