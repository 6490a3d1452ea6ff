package quant

import "math"

// TrendLabel classifies the directional regime of the underlying.
type TrendLabel string

const (
	// TrendBullish means the fast moving average sits above the slow one.
	TrendBullish TrendLabel = "bullish"
	// TrendBearish means the fast moving average sits below the slow one.
	TrendBearish TrendLabel = "bearish"
	// TrendSideways means the averages sit within the crossover band.
	TrendSideways TrendLabel = "sideways"
)

// VolTier classifies the volatility regime.
type VolTier string

const (
	// VolLow marks a quiet tape.
	VolLow VolTier = "low"
	// VolNormal marks an unremarkable tape.
	VolNormal VolTier = "normal"
	// VolHigh marks an elevated-volatility tape.
	VolHigh VolTier = "high"
)

// Moving-average windows and crossover band for trend classification.
const (
	trendFastPeriod = 20
	trendSlowPeriod = 50
	trendBandPct    = 0.0025 // fast within ±0.25% of slow reads as sideways
)

// Volatility tier cutoffs, expressed as annualized decimal vol.
// A VIX-style index is divided by 100 before comparison.
const (
	volLowCutoff  = 0.15
	volHighCutoff = 0.25
)

// HistoryScaleTolerance is the default relative tolerance for detecting a
// price-history series quoted on a different scale than the live price.
const HistoryScaleTolerance = 0.25

// Regime is the classified market state consumed by strategy scoring.
type Regime struct {
	Trend       TrendLabel
	Vol         VolTier
	RealizedVol *float64 // annualized, nil when history is unusable
	VolSource   string   // "vol_index", "iv", "realized", or "none"
}

// RegimeInput bundles the observable features regime classification reads.
type RegimeInput struct {
	Closes   []float64 // trailing daily closes, oldest first
	Spot     float64
	VolIndex *float64 // VIX-like broad-market index, in points
	IV       *float64 // annualized decimal IV
}

// ClassifyRegime derives a trend label from moving-average crossovers and a
// volatility tier from the first available of vol index, IV, and realized
// volatility. A close-history series on the wrong price scale is rescaled
// when a single multiplicative factor explains it, otherwise excluded from
// the trend features entirely.
func ClassifyRegime(in RegimeInput) Regime {
	r := Regime{Trend: TrendSideways, Vol: VolNormal, VolSource: "none"}

	closes, usable, _ := ReconcileHistoryScale(in.Closes, in.Spot, HistoryScaleTolerance)
	if usable {
		r.Trend = classifyTrend(closes)
		if rv, ok := RealizedVol(closes, 21); ok {
			r.RealizedVol = &rv
		}
	}

	switch {
	case in.VolIndex != nil && *in.VolIndex > 0:
		r.Vol = volTier(*in.VolIndex / 100)
		r.VolSource = "vol_index"
	case in.IV != nil && *in.IV > 0:
		r.Vol = volTier(*in.IV)
		r.VolSource = "iv"
	case r.RealizedVol != nil && *r.RealizedVol > 0:
		r.Vol = volTier(*r.RealizedVol)
		r.VolSource = "realized"
	}

	return r
}

func classifyTrend(closes []float64) TrendLabel {
	fast, okFast := SMA(closes, trendFastPeriod)
	slow, okSlow := SMA(closes, trendSlowPeriod)
	if !okFast || !okSlow || slow <= 0 {
		return TrendSideways
	}
	switch {
	case fast > slow*(1+trendBandPct):
		return TrendBullish
	case fast < slow*(1-trendBandPct):
		return TrendBearish
	default:
		return TrendSideways
	}
}

func volTier(vol float64) VolTier {
	switch {
	case vol < volLowCutoff:
		return VolLow
	case vol > volHighCutoff:
		return VolHigh
	default:
		return VolNormal
	}
}

// ReconcileHistoryScale checks a close-history series against the live spot
// price. Within tolerance the series is returned as-is. When the mismatch is
// explained by a single power-of-ten factor (a unit mismatch such as cents
// vs dollars) the whole series is rescaled. Any other mismatch returns
// usable=false: a mismatched series is never silently used.
func ReconcileHistoryScale(closes []float64, spot, tolerance float64) (series []float64, usable, rescaled bool) {
	if len(closes) == 0 || spot <= 0 {
		return nil, false, false
	}
	last := closes[len(closes)-1]
	if last <= 0 || math.IsNaN(last) || math.IsInf(last, 0) {
		return nil, false, false
	}

	rel := math.Abs(spot-last) / spot
	if rel <= tolerance {
		return closes, true, false
	}

	// A unit mismatch shows up as a power-of-ten ratio.
	factor := spot / last
	exp := math.Log10(factor)
	rounded := math.Round(exp)
	if rounded == 0 || math.Abs(exp-rounded) > 0.05 {
		return nil, false, false
	}
	scale := math.Pow(10, rounded)

	scaled := make([]float64, len(closes))
	for i, c := range closes {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, false, false
		}
		scaled[i] = c * scale
	}
	if math.Abs(spot-scaled[len(scaled)-1])/spot > tolerance {
		return nil, false, false
	}
	return scaled, true, true
}
