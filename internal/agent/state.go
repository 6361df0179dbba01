package agent

import "time"

// State is the agent's position in the observe-decide-act loop.
type State string

const (
	StateStartup          State = "STARTUP"
	StatePositionRecovery State = "POSITION_RECOVERY"
	StateIdle             State = "IDLE"
	StateLearning         State = "LEARNING"
	StatePerception       State = "PERCEPTION"
	StateReasoning        State = "REASONING"
	StateRiskCheck        State = "RISK_CHECK"
	StateExecution        State = "EXECUTION"
	StateRecovering       State = "RECOVERING"
	StateHalt             State = "HALT"
)

// AllStates lists every state, for metrics registration.
var AllStates = []State{
	StateStartup, StatePositionRecovery, StateIdle, StateLearning,
	StatePerception, StateReasoning, StateRiskCheck, StateExecution,
	StateRecovering, StateHalt,
}

// Status is the coalesced external view of the agent, served over the API
// and streamed on the events websocket.
type Status struct {
	State              State     `json:"state"`
	Paused             bool      `json:"paused"`
	Cycle              uint64    `json:"cycle"`
	TraceID            string    `json:"trace_id,omitempty"`
	LastCycleAt        time.Time `json:"last_cycle_at"`
	OpenPositionsCount int       `json:"open_positions_count"`
	KillSwitch         bool      `json:"kill_switch"`
	FaultedAssets      []string  `json:"faulted_assets,omitempty"`
	DailyTrades        int       `json:"daily_trades"`
	Equity             float64   `json:"equity"`
	Drawdown           float64   `json:"drawdown"`
}

func allStateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = string(s)
	}
	return names
}
