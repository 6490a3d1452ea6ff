package policy

import "fmt"

// Strategy identifiers shared across the scan pipeline.
const (
	StrategyCreditSpread = "credit_spread"
	StrategyDebitSpread  = "debit_spread"
	StrategyIronCondor   = "iron_condor"
	StrategyCalendar     = "calendar"
	StrategyButterfly    = "butterfly"
	StrategyIncome       = "income"
)

// StrategyIDs lists every registered strategy in a fixed order.
var StrategyIDs = []string{
	StrategyCreditSpread,
	StrategyDebitSpread,
	StrategyIronCondor,
	StrategyCalendar,
	StrategyButterfly,
	StrategyIncome,
}

// Request carries the caller's per-scan overrides: a moneyness mode for
// butterfly centering plus numeric overrides keyed by the canonical
// policy key names. Nil maps are fine.
type Request struct {
	MoneynessMode string             `yaml:"moneyness_mode,omitempty" json:"moneyness_mode,omitempty"`
	Overrides     map[string]float64 `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// RiskPolicy is the portfolio risk policy from the policy store: a flat
// key->value map of global floors. It is read-only to this package and has
// the highest merge precedence.
type RiskPolicy map[string]float64

// Resolver merges strategy defaults, request overrides, and the portfolio
// risk policy into one immutable Policy per scan.
type Resolver struct {
	risk RiskPolicy
}

// NewResolver creates a resolver bound to the current portfolio risk policy.
func NewResolver(risk RiskPolicy) *Resolver {
	return &Resolver{risk: risk}
}

// Resolve produces the merged policy for one strategy, in increasing
// precedence: compiled defaults < request overrides < portfolio risk policy.
func (r *Resolver) Resolve(strategyID string, req *Request) (Policy, error) {
	p, err := Defaults(strategyID)
	if err != nil {
		return Policy{}, err
	}
	if req != nil {
		p = p.With(req.Overrides)
		if req.MoneynessMode != "" {
			p.MoneynessMode = req.MoneynessMode
		}
	}
	p = p.With(map[string]float64(r.risk))
	if p.DTEMin > p.DTEMax {
		return Policy{}, fmt.Errorf("resolved policy for %s: dte_min %d > dte_max %d", strategyID, p.DTEMin, p.DTEMax)
	}
	return p, nil
}

// Defaults returns the compiled-in policy for one strategy.
func Defaults(strategyID string) (Policy, error) {
	base := Policy{
		MinPOP:          0.60,
		MinReturnOnRisk: 0.08,
		MinLiquidity:    0.40,
		MaxBidAskPct:    0.10,
		MinOpenInterest: 100,
		MinVolume:       10,
		MaxIVRVBuy:      1.25,
		MinIVRVSell:     1.00,
		MaxCandidates:   200,
		MinResults:      3,
	}

	switch strategyID {
	case StrategyCreditSpread:
		base.DTEMin, base.DTEMax = 5, 45
		base.TargetDelta, base.DeltaBand = 0.20, 0.10
		base.OTMDistanceMin, base.OTMDistanceMax = 0.01, 0.08
		base.TargetWidth, base.WidthMin, base.WidthMax = 5, 1, 10
		base.MinCredit = 0.15
		base.MinPOP = 0.65
	case StrategyDebitSpread:
		base.DTEMin, base.DTEMax = 10, 60
		base.TargetDelta, base.DeltaBand = 0.40, 0.15
		base.TargetWidth, base.WidthMin, base.WidthMax = 5, 1, 15
		base.MinDebit = 0.10
		base.MaxDebitWidthPct = 0.60
		base.MinPOP = 0.35
	case StrategyIronCondor:
		base.DTEMin, base.DTEMax = 20, 60
		base.TargetDelta, base.DeltaBand = 0.16, 0.08
		base.EMMultiple = 1.0
		base.WingWidth = 5
		base.SymmetryTol = 0.15
		base.MinCredit = 0.30
		base.MinPOP = 0.70
	case StrategyCalendar:
		base.DTEMin, base.DTEMax = 25, 90
		base.NearDTEMax = 15
		base.MoneynessBand = 0.03
		base.MinDebit = 0.20
		base.MinPOP = 0 // no closed-form POP model for calendars
	case StrategyButterfly:
		base.DTEMin, base.DTEMax = 10, 45
		base.WingWidth = 5
		base.SymmetryTol = 0.10
		base.MoneynessMode = MoneynessSpot
		base.EMMultiple = 0.5
		base.DriftPct = 0
		base.MinDebit = 0.05
		base.MaxDebitWidthPct = 0.40
		base.MinPOP = 0.20
	case StrategyIncome:
		base.DTEMin, base.DTEMax = 20, 50
		base.TargetDelta, base.DeltaBand = 0.25, 0.10
		base.MinCredit = 0.30
		base.MinPOP = 0.70
		// Return is measured against the full collateral at the strike, so
		// the shared floor would reject every cash-secured put.
		base.MinReturnOnRisk = 0.01
	default:
		return Policy{}, fmt.Errorf("unknown strategy %q", strategyID)
	}
	return base, nil
}
