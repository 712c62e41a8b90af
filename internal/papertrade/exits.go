package papertrade

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Exit policies: fixed TP/SL, breakeven-arm, trailing stop
// ---------------------------------------------------------------------------

// ExitKind selects an exit policy shape.
type ExitKind string

const (
	ExitFixed     ExitKind = "fixed"
	ExitBreakeven ExitKind = "breakeven"
	ExitTrailing  ExitKind = "trailing"
)

// Exit reasons recorded on closed sessions.
const (
	ReasonTakeProfit    = "take-profit"
	ReasonStopLoss      = "stop-loss"
	ReasonBreakevenExit = "breakeven-exit"
	ReasonTrailingStop  = "trailing-stop"
	ReasonManualStop    = "manual-stop"
	ReasonShutdown      = "shutdown"
)

// DefaultEpsilonPct keeps an exit from firing exactly on the stop level.
const DefaultEpsilonPct = 0.01

// ExitConfig configures the exit policy. All values are percentage points.
type ExitConfig struct {
	Kind                ExitKind `yaml:"kind"`
	TakeProfitPct       float64  `yaml:"take_profit_pct"`
	StopLossPct         float64  `yaml:"stop_loss_pct"`         // initial stop, as a positive number
	BreakevenTriggerPct float64  `yaml:"breakeven_trigger_pct"` // pnl that arms breakeven/trailing
	EpsilonPct          *float64 `yaml:"epsilon_pct"`           // nil = DefaultEpsilonPct
	TrailingPct         float64  `yaml:"trailing_pct"`          // distance below max pnl once armed
}

// DefaultExitConfig returns the breakeven-arm policy.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		Kind:                ExitBreakeven,
		TakeProfitPct:       10,
		StopLossPct:         5,
		BreakevenTriggerPct: 5,
		TrailingPct:         3,
	}
}

// Validate checks the thresholds for the selected kind.
func (c ExitConfig) Validate() error {
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("exit: take_profit_pct must be > 0, got %v", c.TakeProfitPct)
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("exit: stop_loss_pct must be > 0, got %v", c.StopLossPct)
	}
	if c.Epsilon() < 0 {
		return fmt.Errorf("exit: epsilon_pct must be >= 0, got %v", c.Epsilon())
	}
	switch c.Kind {
	case ExitFixed:
	case ExitBreakeven:
		if c.BreakevenTriggerPct <= 0 {
			return fmt.Errorf("exit: breakeven_trigger_pct must be > 0, got %v", c.BreakevenTriggerPct)
		}
	case ExitTrailing:
		if c.BreakevenTriggerPct <= 0 {
			return fmt.Errorf("exit: breakeven_trigger_pct must be > 0, got %v", c.BreakevenTriggerPct)
		}
		if c.TrailingPct <= 0 {
			return fmt.Errorf("exit: trailing_pct must be > 0, got %v", c.TrailingPct)
		}
	default:
		return fmt.Errorf("exit: unknown kind %q", c.Kind)
	}
	return nil
}

// Epsilon returns the configured epsilon, or DefaultEpsilonPct when unset.
// An explicit zero exits exactly below the stop level.
func (c ExitConfig) Epsilon() float64 {
	if c.EpsilonPct == nil {
		return DefaultEpsilonPct
	}
	return *c.EpsilonPct
}

// ExitDecision is the outcome of one policy evaluation.
type ExitDecision struct {
	ShouldExit bool
	Reason     string
}

// ExitState is the per-session policy state exposed in snapshots.
type ExitState struct {
	Kind      ExitKind `json:"kind"`
	Armed     bool     `json:"armed"`
	StopLevel float64  `json:"stop_level"`
}

// ExitPolicy decides, tick by tick, whether a session should close.
// Implementations are owned by one session loop and are not goroutine-safe.
type ExitPolicy interface {
	Evaluate(pnlPct, maxPnLPct float64) ExitDecision
	State() ExitState
}

// NewExitPolicy builds the policy selected by cfg.Kind.
func NewExitPolicy(cfg ExitConfig) (ExitPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eps := cfg.Epsilon()
	switch cfg.Kind {
	case ExitBreakeven:
		return &breakevenPolicy{cfg: cfg, eps: eps, stop: -cfg.StopLossPct}, nil
	case ExitTrailing:
		return &trailingPolicy{cfg: cfg, eps: eps, stop: -cfg.StopLossPct}, nil
	default:
		return &fixedPolicy{cfg: cfg}, nil
	}
}

type fixedPolicy struct {
	cfg ExitConfig
}

func (p *fixedPolicy) Evaluate(pnl, _ float64) ExitDecision {
	switch {
	case pnl >= p.cfg.TakeProfitPct:
		return ExitDecision{ShouldExit: true, Reason: ReasonTakeProfit}
	case pnl <= -p.cfg.StopLossPct:
		return ExitDecision{ShouldExit: true, Reason: ReasonStopLoss}
	}
	return ExitDecision{}
}

func (p *fixedPolicy) State() ExitState {
	return ExitState{Kind: ExitFixed, StopLevel: -p.cfg.StopLossPct}
}

// breakevenPolicy moves the stop to 0 once pnl reaches the trigger. The
// stop never loosens afterwards.
type breakevenPolicy struct {
	cfg   ExitConfig
	eps   float64
	armed bool
	stop  float64
}

func (p *breakevenPolicy) Evaluate(pnl, _ float64) ExitDecision {
	if !p.armed && pnl >= p.cfg.BreakevenTriggerPct {
		p.armed = true
		p.stop = math.Max(p.stop, 0)
	}
	if pnl >= p.cfg.TakeProfitPct {
		return ExitDecision{ShouldExit: true, Reason: ReasonTakeProfit}
	}
	if pnl < p.stop-p.eps {
		if p.armed {
			return ExitDecision{ShouldExit: true, Reason: ReasonBreakevenExit}
		}
		return ExitDecision{ShouldExit: true, Reason: ReasonStopLoss}
	}
	return ExitDecision{}
}

func (p *breakevenPolicy) State() ExitState {
	return ExitState{Kind: ExitBreakeven, Armed: p.armed, StopLevel: p.stop}
}

// trailingPolicy arms at the trigger and then keeps the stop TrailingPct
// below the best pnl seen.
type trailingPolicy struct {
	cfg   ExitConfig
	eps   float64
	armed bool
	stop  float64
}

func (p *trailingPolicy) Evaluate(pnl, maxPnL float64) ExitDecision {
	if !p.armed && pnl >= p.cfg.BreakevenTriggerPct {
		p.armed = true
	}
	if p.armed {
		p.stop = math.Max(p.stop, maxPnL-p.cfg.TrailingPct)
	}
	if pnl >= p.cfg.TakeProfitPct {
		return ExitDecision{ShouldExit: true, Reason: ReasonTakeProfit}
	}
	if pnl < p.stop-p.eps {
		if p.armed {
			return ExitDecision{ShouldExit: true, Reason: ReasonTrailingStop}
		}
		return ExitDecision{ShouldExit: true, Reason: ReasonStopLoss}
	}
	return ExitDecision{}
}

func (p *trailingPolicy) State() ExitState {
	return ExitState{Kind: ExitTrailing, Armed: p.armed, StopLevel: p.stop}
}
