package markov

import "github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"

// Thresholds map raw signal magnitudes onto observation symbols.
type Thresholds struct {
	LargeSettlementUSD float64
	SpikeGasUsed       float64
	SpikeCalldataBytes float64
	SpikeEntropy       float64
	SpikeGasPriceGwei  float64
}

// DefaultThresholds mirrors the ingestion defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeSettlementUSD: 10_000_000,
		SpikeGasUsed:       150_000,
		SpikeCalldataBytes: 512,
		SpikeEntropy:       5.0,
		SpikeGasPriceGwei:  50,
	}
}

// ClassifyObservation maps a signal to its observation symbol. Checks
// run from most to least severe; the first match wins.
func ClassifyObservation(s *signal.Signal, th Thresholds) int {
	if s.Tags.Has(signal.TagSettlement) && s.USD() >= th.LargeSettlementUSD {
		return ObsLargeSettlement
	}
	if s.Kind == signal.KindVerifierCall && verifierSpikeIndicators(s, th) >= 2 {
		return ObsVerifierSpike
	}
	if s.Tags.Has(signal.TagPartner) {
		return ObsPartnerFlow
	}
	return ObsQuiet
}

// verifierSpikeIndicators counts how many anomaly dimensions a verifier
// call trips. A single elevated dimension is routine; two or more read
// as deliberate pre-positioning.
func verifierSpikeIndicators(s *signal.Signal, th Thresholds) int {
	n := 0
	if s.Num("gas_used") >= th.SpikeGasUsed {
		n++
	}
	if s.Num("calldata_size") >= th.SpikeCalldataBytes {
		n++
	}
	if s.Num("calldata_entropy") >= th.SpikeEntropy {
		n++
	}
	if s.Num("gas_price_gwei") >= th.SpikeGasPriceGwei {
		n++
	}
	return n
}
