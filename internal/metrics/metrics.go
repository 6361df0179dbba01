// Package metrics defines the Prometheus instrumentation for the agent.
// Label values are drawn from bounded sets so cardinality stays fixed.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values for gate rejections.
const (
	GateReasonStaleData     = "stale_data"
	GateReasonSessionClosed = "session_closed"
	GateReasonKillSwitch    = "kill_switch"
	GateReasonDailyCap      = "daily_trade_cap"
	GateReasonDrawdown      = "max_drawdown"
	GateReasonVaR           = "var_limit"
	GateReasonConcentration = "concentration"
	GateReasonCorrelation   = "correlation"
	GateReasonOther         = "other"
)

// NormalizeGateReason maps a rejection reason onto the bounded label set.
func NormalizeGateReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "stale"):
		return GateReasonStaleData
	case strings.Contains(lower, "session"):
		return GateReasonSessionClosed
	case strings.Contains(lower, "kill"):
		return GateReasonKillSwitch
	case strings.Contains(lower, "daily"):
		return GateReasonDailyCap
	case strings.Contains(lower, "drawdown"):
		return GateReasonDrawdown
	case strings.Contains(lower, "var"):
		return GateReasonVaR
	case strings.Contains(lower, "concentration"):
		return GateReasonConcentration
	case strings.Contains(lower, "correlation"):
		return GateReasonCorrelation
	default:
		return GateReasonOther
	}
}

// Decision pipeline metrics.
var (
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helmsman_cycle_duration_seconds",
		Help:    "Full observe-decide-act cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helmsman_cycles_total",
		Help: "Total number of completed agent cycles",
	})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_decisions_total",
		Help: "Decisions produced by the ensemble, by action",
	}, []string{"action"})

	DecisionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helmsman_decision_confidence",
		Help:    "Final ensemble confidence of actionable decisions",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	OracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_oracle_failures_total",
		Help: "Oracle query failures by provider and reason",
	}, []string{"provider", "reason"})

	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helmsman_oracle_latency_seconds",
		Help:    "Oracle query latency in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})

	EnsembleFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_ensemble_fallbacks_total",
		Help: "Ensemble aggregations by fallback tier",
	}, []string{"tier"})
)

// Risk and execution metrics.
var (
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_gate_rejections_total",
		Help: "Risk gate rejections by reason",
	}, []string{"reason"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_executions_total",
		Help: "Execution results by status",
	}, []string{"status"})

	DailyTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_daily_trades",
		Help: "Trades executed since the last UTC midnight reset",
	})

	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_kill_switch_active",
		Help: "1 when the kill switch has halted trading, 0 otherwise",
	})
)

// Position and outcome metrics.
var (
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_open_positions",
		Help: "Number of currently tracked open positions",
	})

	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_outcomes_total",
		Help: "Closed-position outcomes by exit reason",
	}, []string{"exit_reason"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_realized_pnl",
		Help: "Cumulative realized profit and loss in quote currency",
	})

	PortfolioEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_portfolio_equity",
		Help: "Current portfolio equity in quote currency",
	})

	CurrentDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_current_drawdown",
		Help: "Current drawdown as a ratio (0.0 to 1.0)",
	})
)

// Agent state metrics.
var (
	AgentState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "helmsman_agent_state",
		Help: "1 for the agent's current state, 0 for all others",
	}, []string{"state"})

	FaultedAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helmsman_faulted_assets",
		Help: "Number of instruments currently in fault backoff",
	})

	RecoveryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helmsman_recovery_attempts_total",
		Help: "Total transient-failure recovery attempts",
	})
)

// SetAgentState flips the state gauge so exactly one state reads 1.
func SetAgentState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1.0
		}
		AgentState.WithLabelValues(s).Set(v)
	}
}
