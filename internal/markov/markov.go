// Package markov scores the likelihood that recent on-chain activity is
// a coordinated execution sequence rather than background noise.
//
// The model is a three-state hidden Markov chain (Normal, Preparation,
// Imminent) over a four-symbol observation alphabet. The forward
// algorithm runs over the most recent observations and the reported
// score is the posterior mass on the Imminent state.
package markov

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// Hidden states.
const (
	StateNormal = iota
	StatePreparation
	StateImminent
	numStates
)

// Observation symbols, ordered by escalating severity.
const (
	ObsQuiet = iota
	ObsPartnerFlow
	ObsVerifierSpike
	ObsLargeSettlement
	numObservations
)

const (
	historyCap = 30 // retained observations
	inferDepth = 20 // observations fed to the forward pass
	minHistory = 5  // below this the score is pinned to zero
)

// Policy holds the model parameters. All rows are probability
// distributions and must sum to 1.
type Policy struct {
	Start      [numStates]float64                  `json:"start"`
	Transition [numStates][numStates]float64       `json:"transition"`
	Emission   [numStates][numObservations]float64 `json:"emission"`
}

// DefaultPolicy returns parameters tuned on historical settlement runs.
// Normal is sticky, Preparation leaks forward, Imminent decays fast once
// the burst passes.
func DefaultPolicy() Policy {
	return Policy{
		Start: [numStates]float64{0.90, 0.08, 0.02},
		Transition: [numStates][numStates]float64{
			{0.85, 0.12, 0.03},
			{0.25, 0.55, 0.20},
			{0.30, 0.30, 0.40},
		},
		Emission: [numStates][numObservations]float64{
			{0.75, 0.15, 0.07, 0.03},
			{0.30, 0.40, 0.20, 0.10},
			{0.10, 0.20, 0.30, 0.40},
		},
	}
}

// PolicyFromJSON parses an operator-supplied policy override. Rows are
// validated so a typo cannot silently skew every score.
func PolicyFromJSON(raw string) (Policy, error) {
	var p Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Policy{}, fmt.Errorf("parse markov policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	if err := checkRow("start", p.Start[:]); err != nil {
		return err
	}
	for i := range p.Transition {
		if err := checkRow(fmt.Sprintf("transition[%d]", i), p.Transition[i][:]); err != nil {
			return err
		}
	}
	for i := range p.Emission {
		if err := checkRow(fmt.Sprintf("emission[%d]", i), p.Emission[i][:]); err != nil {
			return err
		}
	}
	return nil
}

func checkRow(name string, row []float64) error {
	var sum float64
	for _, v := range row {
		if v < 0 {
			return fmt.Errorf("markov policy: %s has negative entry %v", name, v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("markov policy: %s sums to %v, want 1.0", name, sum)
	}
	return nil
}

// Scorer accumulates observations and scores them on demand. Safe for
// concurrent use.
type Scorer struct {
	mu      sync.Mutex
	policy  Policy
	history []int
}

// NewScorer creates a scorer with an empty history.
func NewScorer(policy Policy) *Scorer {
	return &Scorer{
		policy:  policy,
		history: make([]int, 0, historyCap),
	}
}

// Observe appends a symbol and returns the updated execution score.
// With fewer than five observations the score is 0.0: too little
// evidence to distinguish a sequence from noise.
func (s *Scorer) Observe(obs int) float64 {
	if obs < 0 || obs >= numObservations {
		obs = ObsQuiet
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, obs)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	return s.scoreLocked()
}

// Score returns the current score without adding an observation.
func (s *Scorer) Score() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreLocked()
}

// HistoryLen reports how many observations are retained.
func (s *Scorer) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Scorer) scoreLocked() float64 {
	if len(s.history) < minHistory {
		return 0.0
	}
	window := s.history
	if len(window) > inferDepth {
		window = window[len(window)-inferDepth:]
	}
	posterior := forward(s.policy, window)
	return round4(posterior[StateImminent])
}

// forward runs the scaled forward algorithm and returns the normalized
// posterior over hidden states after the final observation. Each step
// renormalizes so long windows cannot underflow.
func forward(p Policy, obs []int) [numStates]float64 {
	var alpha [numStates]float64
	for i := 0; i < numStates; i++ {
		alpha[i] = p.Start[i] * p.Emission[i][obs[0]]
	}
	normalize(&alpha)

	for t := 1; t < len(obs); t++ {
		var next [numStates]float64
		for j := 0; j < numStates; j++ {
			var sum float64
			for i := 0; i < numStates; i++ {
				sum += alpha[i] * p.Transition[i][j]
			}
			next[j] = sum * p.Emission[j][obs[t]]
		}
		normalize(&next)
		alpha = next
	}
	return alpha
}

// normalize rescales in place; a degenerate all-zero vector (possible
// only with a pathological policy) resets to uniform rather than NaN.
func normalize(v *[numStates]float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		for i := range v {
			v[i] = 1.0 / numStates
		}
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
