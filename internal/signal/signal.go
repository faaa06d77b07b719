// Package signal defines the canonical enriched event record flowing
// through the pipeline, plus validation and content fingerprinting.
package signal

import (
	"fmt"
	"sync/atomic"
)

// Kind is the closed set of signal types the pipeline understands.
// Dispatch is always over this enum, never over open-ended payload shapes.
type Kind string

const (
	KindPayment       Kind = "payment"
	KindEscrow        Kind = "escrow"
	KindTrustline     Kind = "trustline"
	KindRWAAMM        Kind = "rwa_amm"
	KindOrderbook     Kind = "orderbook"
	KindVerifierCall  Kind = "verifier_call"
	KindDarkAMMSwap   Kind = "dark_amm_swap"
	KindDarkPoolPrint Kind = "dark_pool_print"
)

var validKinds = map[Kind]bool{
	KindPayment:       true,
	KindEscrow:        true,
	KindTrustline:     true,
	KindRWAAMM:        true,
	KindOrderbook:     true,
	KindVerifierCall:  true,
	KindDarkAMMSwap:   true,
	KindDarkPoolPrint: true,
}

// IsValid reports whether k is a known signal kind.
func (k Kind) IsValid() bool { return validKinds[k] }

// Addresses carries the optional on-ledger parties of a signal,
// used for registry lookups.
type Addresses struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Issuer      string `json:"issuer,omitempty"`
}

// Direction is the coarse market read attached by the impact predictor.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionMonitor Direction = "monitor"
)

// Impact is the impact predictor's output bundle.
type Impact struct {
	State           string    `json:"state"`
	Confidence      float64   `json:"confidence"`
	Direction       Direction `json:"direction"`
	PumpProbability float64   `json:"pumpProbability"`
	ExpectedMovePct float64   `json:"expectedMovePct"`
	HorizonMinutes  int       `json:"horizonMinutes"`
	Factors         []string  `json:"factors"`
}

// PatternMeta records the window tracker's read of the signal's surroundings.
type PatternMeta struct {
	Types       []string `json:"types"`
	ClusterSize int      `json:"clusterSize"`
}

// Signal is one canonical event record. It is mutable only during
// enrichment; once published to the stream it must never change.
type Signal struct {
	ID        string             `json:"id"`
	Kind      Kind               `json:"kind"`
	SubType   string             `json:"subType,omitempty"`
	Timestamp int64              `json:"timestamp"` // unix seconds
	Summary   string             `json:"summary,omitempty"`
	Tags      *TagSet            `json:"tags"`
	Numeric   map[string]float64 `json:"numeric,omitempty"`
	Addresses Addresses          `json:"addresses,omitempty"`

	// Enrichment outputs.
	ExecutionScore float64      `json:"executionScore,omitempty"` // HMM P(imminent)
	Impact         *Impact      `json:"impact,omitempty"`
	Pattern        *PatternMeta `json:"pattern,omitempty"`
}

// Num returns the named numeric field, or 0 if absent.
func (s *Signal) Num(name string) float64 {
	if s.Numeric == nil {
		return 0
	}
	return s.Numeric[name]
}

// HasNum reports whether the named numeric field is present.
func (s *Signal) HasNum(name string) bool {
	_, ok := s.Numeric[name]
	return ok
}

// USD returns the signal's USD value, or 0 if it carries none.
func (s *Signal) USD() float64 { return s.Num("usd_value") }

// submissionCounter disambiguates ids for signals sharing a timestamp.
var submissionCounter atomic.Uint64

// DeriveID builds the canonical id for a signal whose producer supplied none.
func DeriveID(kind Kind, timestamp int64) string {
	return fmt.Sprintf("%s:%d:%d", kind, timestamp, submissionCounter.Add(1))
}
