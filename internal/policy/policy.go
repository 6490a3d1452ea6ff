// Package policy resolves the layered scan configuration: compiled-in
// strategy defaults, caller request overrides, and the portfolio risk policy
// merge into one immutable Policy per scan. Pipeline stages only ever read
// the resolved Policy; relaxation produces new copies via With.
package policy

import "math"

// Canonical override keys. Request overrides, the portfolio risk policy, and
// relaxation steps all address Policy fields through these names.
const (
	KeyMinPOP           = "min_pop"
	KeyMinReturnOnRisk  = "min_return_on_risk"
	KeyMinLiquidity     = "min_liquidity"
	KeyMaxBidAskPct     = "max_bid_ask_pct"
	KeyMaxDebitWidthPct = "max_debit_width_pct"
	KeyMinCredit        = "min_credit"
	KeyMinDebit         = "min_debit"
	KeyMinOpenInterest  = "min_open_interest"
	KeyMinVolume        = "min_volume"
	KeyMaxIVRVBuy       = "max_iv_rv_buy"
	KeyMinIVRVSell      = "min_iv_rv_sell"
	KeyDTEMin           = "dte_min"
	KeyDTEMax           = "dte_max"
	KeyNearDTEMax       = "near_dte_max"
	KeyTargetDelta      = "target_delta"
	KeyDeltaBand        = "delta_band"
	KeyTargetWidth      = "target_width"
	KeyWidthMin         = "width_min"
	KeyWidthMax         = "width_max"
	KeyWingWidth        = "wing_width"
	KeySymmetryTol      = "symmetry_tolerance"
	KeyMoneynessBand    = "moneyness_band"
	KeyOTMDistanceMin   = "otm_distance_min"
	KeyOTMDistanceMax   = "otm_distance_max"
	KeyEMMultiple       = "em_multiple"
	KeyDriftPct         = "drift_pct"
	KeyMaxCandidates    = "max_candidates"
	KeyMinResults       = "min_results"
)

// Moneyness modes for body-pinned structures.
const (
	MoneynessSpot         = "spot"
	MoneynessDrift        = "drift"
	MoneynessExpectedMove = "expected_move"
)

// Policy is one scan's merged configuration. It is built once by the
// Resolver and never mutated afterwards; With returns modified copies.
type Policy struct {
	// Hard gate floors and ceilings.
	MinPOP           float64
	MinReturnOnRisk  float64
	MinLiquidity     float64
	MaxBidAskPct     float64 // bid-ask spread as fraction of mid
	MaxDebitWidthPct float64 // debit as fraction of width
	MinCredit        float64 // per share
	MinDebit         float64 // per share
	MinOpenInterest  float64
	MinVolume        float64
	MaxIVRVBuy       float64 // max IV/RV ratio when buying premium
	MinIVRVSell      float64 // min IV/RV ratio when selling premium

	// Structural parameters.
	DTEMin         int
	DTEMax         int
	NearDTEMax     int // calendar near-leg ceiling
	TargetDelta    float64
	DeltaBand      float64
	TargetWidth    float64
	WidthMin       float64
	WidthMax       float64
	WingWidth      float64
	SymmetryTol    float64 // iron condor put/call distance tolerance
	MoneynessMode  string  // butterfly centering: spot | drift | expected_move
	MoneynessBand  float64 // calendar strike moneyness filter, fraction of spot
	OTMDistanceMin float64 // short-leg OTM distance band, fraction of spot
	OTMDistanceMax float64
	EMMultiple     float64 // expected-move multiple for strike targeting
	DriftPct       float64 // forecast drift for butterfly centering

	// Pipeline shape.
	MaxCandidates int
	MinResults    int
}

// With returns a copy of the policy with the given overrides applied.
// Unknown keys are ignored so older relaxation plans stay loadable.
func (p Policy) With(overrides map[string]float64) Policy {
	out := p
	for key, v := range overrides {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		switch key {
		case KeyMinPOP:
			out.MinPOP = v
		case KeyMinReturnOnRisk:
			out.MinReturnOnRisk = v
		case KeyMinLiquidity:
			out.MinLiquidity = v
		case KeyMaxBidAskPct:
			out.MaxBidAskPct = v
		case KeyMaxDebitWidthPct:
			out.MaxDebitWidthPct = v
		case KeyMinCredit:
			out.MinCredit = v
		case KeyMinDebit:
			out.MinDebit = v
		case KeyMinOpenInterest:
			out.MinOpenInterest = v
		case KeyMinVolume:
			out.MinVolume = v
		case KeyMaxIVRVBuy:
			out.MaxIVRVBuy = v
		case KeyMinIVRVSell:
			out.MinIVRVSell = v
		case KeyDTEMin:
			out.DTEMin = int(v)
		case KeyDTEMax:
			out.DTEMax = int(v)
		case KeyNearDTEMax:
			out.NearDTEMax = int(v)
		case KeyTargetDelta:
			out.TargetDelta = v
		case KeyDeltaBand:
			out.DeltaBand = v
		case KeyTargetWidth:
			out.TargetWidth = v
		case KeyWidthMin:
			out.WidthMin = v
		case KeyWidthMax:
			out.WidthMax = v
		case KeyWingWidth:
			out.WingWidth = v
		case KeySymmetryTol:
			out.SymmetryTol = v
		case KeyMoneynessBand:
			out.MoneynessBand = v
		case KeyOTMDistanceMin:
			out.OTMDistanceMin = v
		case KeyOTMDistanceMax:
			out.OTMDistanceMax = v
		case KeyEMMultiple:
			out.EMMultiple = v
		case KeyDriftPct:
			out.DriftPct = v
		case KeyMaxCandidates:
			out.MaxCandidates = int(v)
		case KeyMinResults:
			out.MinResults = int(v)
		}
	}
	return out
}
