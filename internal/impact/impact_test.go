package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
)

func paymentSignal(usd float64) *signal.Signal {
	return &signal.Signal{
		ID:        "payment:1700000000:1",
		Kind:      signal.KindPayment,
		Timestamp: 1700000000,
		Tags:      signal.NewTagSet(),
		Numeric:   map[string]float64{"usd_value": usd},
	}
}

func TestClassifyState(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name string
		sig  *signal.Signal
		want int
	}{
		{"escrow finish", &signal.Signal{Kind: signal.KindPayment, SubType: "escrow_finish", Tags: signal.NewTagSet()}, StateEscrowUnlock},
		{"amm deposit", &signal.Signal{Kind: signal.KindRWAAMM, SubType: "deposit", Tags: signal.NewTagSet()}, StateLiquidityInjection},
		{"amm withdraw", &signal.Signal{Kind: signal.KindRWAAMM, SubType: "withdraw", Tags: signal.NewTagSet()}, StateDump},
		{"odl sized payment", paymentSignal(60_000_000), StateODLPriming},
		{"small payment", paymentSignal(1_000_000), StateIdle},
		{"trustline limit", &signal.Signal{Kind: signal.KindTrustline, Tags: signal.NewTagSet(), Numeric: map[string]float64{"limit": 5e12}}, StateLiquidityInjection},
		{"bid wall", &signal.Signal{Kind: signal.KindOrderbook, SubType: "bid_wall", Tags: signal.NewTagSet()}, StatePump},
		{"ask wall", &signal.Signal{Kind: signal.KindOrderbook, SubType: "ask_wall", Tags: signal.NewTagSet()}, StateDump},
		{"default idle", &signal.Signal{Kind: signal.KindOrderbook, Tags: signal.NewTagSet()}, StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyState(tt.sig, p))
		})
	}
}

func TestClassifyState_Deterministic(t *testing.T) {
	p := DefaultPolicy()
	s := paymentSignal(60_000_000)
	first := ClassifyState(s, p)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyState(s, p))
	}
}

func TestProjectPumpProbability(t *testing.T) {
	p := DefaultPolicy()

	for state := 0; state < numStates; state++ {
		got := ProjectPumpProbability(p, state, p.ProjectionSteps)
		assert.GreaterOrEqual(t, got, 0.0, StateName(state))
		assert.LessOrEqual(t, got, 1.0, StateName(state))
		assert.Equal(t, got, ProjectPumpProbability(p, state, p.ProjectionSteps), "deterministic")
	}

	// One step reads the raw matrix row.
	assert.InDelta(t, p.Transition[StatePump][StatePump], ProjectPumpProbability(p, StatePump, 1), 1e-12)
}

func TestProjectPumpProbability_RowsStayStochastic(t *testing.T) {
	p := DefaultPolicy()
	m := p.Transition
	for i := 1; i < 8; i++ {
		m = multiply(m, p.Transition)
	}
	for i := 0; i < numStates; i++ {
		var sum float64
		for j := 0; j < numStates; j++ {
			sum += m[i][j]
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "row %d", i)
	}
}

func TestPredict_IrrelevantKindUntouched(t *testing.T) {
	pr := New(DefaultPolicy(), logging.Discard())

	s := &signal.Signal{Kind: signal.KindVerifierCall, Tags: signal.NewTagSet()}
	assert.Nil(t, pr.Predict(s).Impact)
}

func TestPredict_ODLPayment(t *testing.T) {
	pr := New(DefaultPolicy(), logging.Discard())

	s := pr.Predict(paymentSignal(120_000_000))
	require.NotNil(t, s.Impact)
	assert.Equal(t, "ODLPriming", s.Impact.State)
	assert.GreaterOrEqual(t, s.Impact.Confidence, 0.0)
	assert.LessOrEqual(t, s.Impact.Confidence, 1.0)
	assert.Equal(t, 120, s.Impact.HorizonMinutes)
	assert.Equal(t, 5.0, s.Impact.ExpectedMovePct)
	assert.NotEmpty(t, s.Impact.Factors)
}

func TestPredict_DumpIsBearish(t *testing.T) {
	pr := New(DefaultPolicy(), logging.Discard())

	s := &signal.Signal{Kind: signal.KindRWAAMM, SubType: "withdraw", Tags: signal.NewTagSet()}
	pr.Predict(s)
	require.NotNil(t, s.Impact)
	assert.Equal(t, signal.DirectionBearish, s.Impact.Direction)
}

func TestPredict_EscrowUnlockLowPumpIsBearish(t *testing.T) {
	p := DefaultPolicy()
	// Force the unlock row to almost never reach Pump.
	p.Transition[StateEscrowUnlock] = [numStates]float64{0.50, 0.45, 0.02, 0.01, 0.01, 0.01}
	p.Transition[StateIdle] = [numStates]float64{0.97, 0.01, 0.00, 0.01, 0.00, 0.01}
	p.ProjectionSteps = 1
	pr := New(p, logging.Discard())

	s := &signal.Signal{Kind: signal.KindPayment, SubType: "escrow_finish", Tags: signal.NewTagSet()}
	pr.Predict(s)
	require.NotNil(t, s.Impact)
	assert.Equal(t, signal.DirectionBearish, s.Impact.Direction)
}

func TestPredict_HighScoreIsBullish(t *testing.T) {
	p := DefaultPolicy()
	p.Momentum[StatePump] = 1.0
	p.Transition[StatePump] = [numStates]float64{0, 0, 0, 1, 0, 0}
	p.ProjectionSteps = 1
	pr := New(p, logging.Discard())

	s := &signal.Signal{Kind: signal.KindOrderbook, SubType: "bid_wall", Tags: signal.NewTagSet()}
	pr.Predict(s)
	require.NotNil(t, s.Impact)
	assert.Equal(t, signal.DirectionBullish, s.Impact.Direction)
	assert.GreaterOrEqual(t, s.Impact.Confidence, p.BullishScore)
}

func TestPredict_Deterministic(t *testing.T) {
	pr := New(DefaultPolicy(), logging.Discard())

	a := pr.Predict(paymentSignal(60_000_000)).Impact
	b := pr.Predict(paymentSignal(60_000_000)).Impact
	assert.Equal(t, a, b)
}

func TestPolicyFromJSON(t *testing.T) {
	p, err := PolicyFromJSON(`{"bullishScore": 0.5, "projectionSteps": 4}`)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.BullishScore)
	assert.Equal(t, 4, p.ProjectionSteps)
	// Unset fields keep the defaults.
	assert.Equal(t, DefaultPolicy().Transition, p.Transition)

	_, err = PolicyFromJSON(`{"transition": [[1,0,0,0,0,0],[0.5,0,0,0,0,0],[0,0,1,0,0,0],[0,0,0,1,0,0],[0,0,0,0,1,0],[0,0,0,0,0,1]]}`)
	assert.Error(t, err, "short row must be rejected")

	_, err = PolicyFromJSON(`{"projectionSteps": 0}`)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	pr := New(DefaultPolicy(), logging.Discard())
	s := pr.Predict(paymentSignal(60_000_000))
	out := Describe(s.Impact)
	assert.Contains(t, out, "ODLPriming")
	assert.Contains(t, out, "conf=")
	assert.Equal(t, "", Describe(nil))
}
