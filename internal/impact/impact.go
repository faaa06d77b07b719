// Package impact maps single signals to a coarse market state and
// projects the short-horizon price impact of that state.
//
// The projection walks a fixed 6x6 state transition matrix; the final
// confidence blends that projection with a per-state momentum constant
// and a magnitude bucket. None of it is a trained model — the numbers
// are hand-tuned operator policy and live in Policy so they can be
// overridden without a rebuild.
package impact

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
)

// Coarse market states, index order fixed by the transition matrix.
const (
	StateIdle = iota
	StateEscrowUnlock
	StateODLPriming
	StatePump
	StateDump
	StateLiquidityInjection
	numStates
)

var stateNames = [numStates]string{
	"Idle", "EscrowUnlock", "ODLPriming", "Pump", "Dump", "LiquidityInjection",
}

// StateName returns the display name for a state index.
func StateName(state int) string {
	if state < 0 || state >= numStates {
		return "Idle"
	}
	return stateNames[state]
}

// Policy holds every tunable the predictor uses. Rows of Transition
// must each sum to 1.
type Policy struct {
	Transition [numStates][numStates]float64 `json:"transition"`
	Momentum   [numStates]float64            `json:"momentum"`

	ProjectionSteps int     `json:"projectionSteps"`
	BullishScore    float64 `json:"bullishScore"`
	LowPump         float64 `json:"lowPump"`

	ODLPrimingUSD       float64 `json:"odlPrimingUsd"`
	TrustlineLimitFloor float64 `json:"trustlineLimitFloor"`

	// ExpectedMovePct and HorizonMinutes are indexed by state.
	ExpectedMovePct [numStates]float64 `json:"expectedMovePct"`
	HorizonMinutes  [numStates]int     `json:"horizonMinutes"`
}

// DefaultPolicy returns the hand-tuned defaults.
func DefaultPolicy() Policy {
	return Policy{
		Transition: [numStates][numStates]float64{
			{0.80, 0.05, 0.05, 0.03, 0.02, 0.05}, // Idle
			{0.30, 0.20, 0.15, 0.10, 0.20, 0.05}, // EscrowUnlock
			{0.20, 0.05, 0.35, 0.25, 0.10, 0.05}, // ODLPriming
			{0.25, 0.05, 0.10, 0.35, 0.20, 0.05}, // Pump
			{0.40, 0.05, 0.05, 0.10, 0.35, 0.05}, // Dump
			{0.25, 0.05, 0.15, 0.30, 0.05, 0.20}, // LiquidityInjection
		},
		Momentum: [numStates]float64{0.10, 0.45, 0.70, 0.85, 0.20, 0.60},

		ProjectionSteps: 8,
		BullishScore:    0.70,
		LowPump:         0.15,

		ODLPrimingUSD:       50_000_000,
		TrustlineLimitFloor: 1e12,

		ExpectedMovePct: [numStates]float64{0.5, 3.0, 5.0, 8.0, 6.0, 4.0},
		HorizonMinutes:  [numStates]int{1440, 240, 120, 30, 45, 90},
	}
}

// PolicyFromJSON parses an operator override, validating transition rows.
func PolicyFromJSON(raw string) (Policy, error) {
	p := DefaultPolicy()
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Policy{}, fmt.Errorf("parse impact policy: %w", err)
	}
	for i := range p.Transition {
		var sum float64
		for _, v := range p.Transition[i] {
			if v < 0 {
				return Policy{}, fmt.Errorf("impact policy: transition[%d] has negative entry", i)
			}
			sum += v
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return Policy{}, fmt.Errorf("impact policy: transition[%d] sums to %v, want 1.0", i, sum)
		}
	}
	if p.ProjectionSteps <= 0 {
		return Policy{}, fmt.Errorf("impact policy: projectionSteps must be positive")
	}
	return p, nil
}

// relevantKinds are the kinds the predictor runs on; everything else
// passes through untouched.
var relevantKinds = map[signal.Kind]bool{
	signal.KindPayment:   true,
	signal.KindTrustline: true,
	signal.KindRWAAMM:    true,
	signal.KindOrderbook: true,
}

// Predictor attaches impact bundles to qualifying signals.
type Predictor struct {
	policy Policy
	logger *slog.Logger
}

// New creates a predictor with the given policy.
func New(policy Policy, logger *slog.Logger) *Predictor {
	return &Predictor{policy: policy, logger: logger}
}

// Predict attaches an Impact to qualifying signals. Enrichment is best
// effort: any panic leaves the signal exactly as it arrived.
func (p *Predictor) Predict(s *signal.Signal) *signal.Signal {
	if !relevantKinds[s.Kind] {
		return s
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("impact prediction aborted", "signal", s.ID, "panic", r)
			s.Impact = nil
		}
	}()

	state := ClassifyState(s, p.policy)
	pump := ProjectPumpProbability(p.policy, state, p.policy.ProjectionSteps)
	size := magnitudeBucket(s, p.policy)

	score := clip01(0.40*pump + 0.35*p.policy.Momentum[state] + 0.25*size)

	s.Impact = &signal.Impact{
		State:           StateName(state),
		Confidence:      round4(score),
		Direction:       direction(state, pump, score, p.policy),
		PumpProbability: round4(pump),
		ExpectedMovePct: p.policy.ExpectedMovePct[state],
		HorizonMinutes:  p.policy.HorizonMinutes[state],
		Factors: []string{
			fmt.Sprintf("state=%s", StateName(state)),
			fmt.Sprintf("pump_projection=%.4f (steps=%d)", pump, p.policy.ProjectionSteps),
			fmt.Sprintf("momentum=%.2f", p.policy.Momentum[state]),
			fmt.Sprintf("magnitude=%.2f", size),
		},
	}
	return s
}

// ClassifyState maps a signal to its coarse state. Rules are ordered;
// the first match wins.
func ClassifyState(s *signal.Signal, p Policy) int {
	switch {
	case s.SubType == "escrow_finish" || s.SubType == "escrow_release":
		return StateEscrowUnlock
	case s.Kind == signal.KindRWAAMM && s.SubType == "deposit":
		return StateLiquidityInjection
	case s.Kind == signal.KindRWAAMM && s.SubType == "withdraw":
		return StateDump
	case s.Kind == signal.KindPayment && s.USD() >= p.ODLPrimingUSD:
		return StateODLPriming
	case s.Kind == signal.KindTrustline && s.Num("limit") >= p.TrustlineLimitFloor:
		return StateLiquidityInjection
	case s.Kind == signal.KindOrderbook && s.SubType == "bid_wall":
		return StatePump
	case s.Kind == signal.KindOrderbook && s.SubType == "ask_wall":
		return StateDump
	}
	return StateIdle
}

// ProjectPumpProbability raises the transition matrix to the steps-th
// power and reads the state-to-Pump entry.
func ProjectPumpProbability(p Policy, state, steps int) float64 {
	if state < 0 || state >= numStates {
		state = StateIdle
	}
	m := p.Transition
	for i := 1; i < steps; i++ {
		m = multiply(m, p.Transition)
	}
	return m[state][StatePump]
}

func multiply(a, b [numStates][numStates]float64) [numStates][numStates]float64 {
	var out [numStates][numStates]float64
	for i := 0; i < numStates; i++ {
		for j := 0; j < numStates; j++ {
			var sum float64
			for k := 0; k < numStates; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// magnitudeBucket scores the raw size of the event into [0,1].
func magnitudeBucket(s *signal.Signal, p Policy) float64 {
	switch {
	case s.USD() >= 2*p.ODLPrimingUSD:
		return 1.0
	case s.USD() >= p.ODLPrimingUSD:
		return 0.8
	case s.USD() >= p.ODLPrimingUSD/2:
		return 0.6
	case s.USD() >= p.ODLPrimingUSD/5:
		return 0.4
	case s.Num("limit") >= p.TrustlineLimitFloor:
		return 0.7
	case s.USD() > 0:
		return 0.2
	}
	return 0.1
}

func direction(state int, pump, score float64, p Policy) signal.Direction {
	switch {
	case state == StateDump:
		return signal.DirectionBearish
	case state == StateEscrowUnlock && pump < p.LowPump:
		// An unlock with nowhere to go usually means supply hits the market.
		return signal.DirectionBearish
	case score >= p.BullishScore:
		return signal.DirectionBullish
	}
	return signal.DirectionMonitor
}

// Describe renders a one-line audit summary of an impact bundle.
func Describe(imp *signal.Impact) string {
	if imp == nil {
		return ""
	}
	return fmt.Sprintf("%s %s conf=%.4f move=%.1f%% horizon=%dm [%s]",
		imp.State, imp.Direction, imp.Confidence, imp.ExpectedMovePct,
		imp.HorizonMinutes, strings.Join(imp.Factors, "; "))
}

func clip01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
