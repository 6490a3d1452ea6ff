package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/quant"
	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/util"
)

// CreditSpread scans vertical credit spreads on both chain sides: short legs
// picked inside a target OTM-distance band, long legs nearest the target
// width further out.
type CreditSpread struct{}

// Ensure CreditSpread implements Strategy at compile time.
var _ Strategy = (*CreditSpread)(nil)

// ID returns the strategy identifier.
func (s *CreditSpread) ID() string { return policy.StrategyCreditSpread }

// BuildCandidates selects short legs whose OTM distance falls inside the
// policy band, pairing each with the long leg closest to the target width.
func (s *CreditSpread) BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate {
	p := ctx.Policy
	var out []Candidate

	for _, snap := range snapshots {
		if !inDTEWindow(p, snap) || snap.Underlying <= 0 {
			continue
		}
		out = appendVerticals(out, p, snap, quant.SidePut)
		out = appendVerticals(out, p, snap, quant.SideCall)
		if len(out) >= p.MaxCandidates {
			return out[:p.MaxCandidates]
		}
	}
	return out
}

// appendVerticals builds one chain side's spread candidates.
func appendVerticals(out []Candidate, p policy.Policy, snap *chain.Snapshot, side quant.SpreadSide) []Candidate {
	optType := chain.OptionTypePut
	if side == quant.SideCall {
		optType = chain.OptionTypeCall
	}
	contracts := sortedByStrike(snap.Contracts, optType)
	spot := snap.Underlying

	for i := range contracts {
		short := &contracts[i]
		dist := otmDistance(short.Strike, spot, optType)
		if dist < p.OTMDistanceMin || dist > p.OTMDistanceMax {
			continue
		}
		long := longAtWidth(contracts, short.Strike, p.TargetWidth, p.WidthMin, p.WidthMax, side)
		if long == nil {
			continue
		}
		out = append(out, Candidate{
			StrategyID: policy.StrategyCreditSpread,
			Snapshot:   snap,
			Legs: []Leg{
				{Role: RoleShortLeg, Side: SideShort, Contract: short, Snapshot: snap},
				{Role: RoleLongLeg, Side: SideLong, Contract: long, Snapshot: snap},
			},
		})
	}
	return out
}

// otmDistance returns how far out of the money a strike sits, as a fraction
// of spot. Negative for in-the-money strikes.
func otmDistance(strike, spot float64, optType chain.OptionType) float64 {
	if spot <= 0 {
		return -1
	}
	if optType == chain.OptionTypePut {
		return (spot - strike) / spot
	}
	return (strike - spot) / spot
}

// sortedByStrike returns one chain side in ascending strike order.
func sortedByStrike(contracts []chain.OptionContract, optType chain.OptionType) []chain.OptionContract {
	out := make([]chain.OptionContract, 0, len(contracts)/2)
	for _, c := range contracts {
		if c.OptionType == optType {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// longAtWidth finds the protective leg nearest targetWidth further OTM than
// the short strike, bounded by [widthMin, widthMax].
func longAtWidth(contracts []chain.OptionContract, shortStrike, targetWidth, widthMin, widthMax float64, side quant.SpreadSide) *chain.OptionContract {
	var best *chain.OptionContract
	bestDiff := math.MaxFloat64
	for i := range contracts {
		c := &contracts[i]
		var width float64
		if side == quant.SidePut {
			width = shortStrike - c.Strike
		} else {
			width = c.Strike - shortStrike
		}
		if width < widthMin || width > widthMax || width <= 0 {
			continue
		}
		diff := math.Abs(width - targetWidth)
		if diff < bestDiff {
			bestDiff = diff
			best = c
		}
	}
	return best
}

// Enrich prices each candidate at the conservative cross and derives the
// spread economics through the quant model. A candidate with a degenerate
// quote or failing construction comes back with a rejection code instead of
// metrics; it never aborts the batch.
func (s *CreditSpread) Enrich(ctx *ScanContext, candidates []Candidate) []*Trade {
	out := make([]*Trade, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, enrichVerticalCredit(ctx, c))
	}
	return out
}

func enrichVerticalCredit(ctx *ScanContext, c Candidate) *Trade {
	t := baseTrade(ctx, c)

	net, code := netCross(c.Legs)
	if code != "" {
		t.QuoteRejection = code
		return t
	}
	if net <= 0 {
		t.QuoteRejection = RejectNonPositiveCredit
		return t
	}

	short, long := c.Legs[0], c.Legs[1]
	side := quant.SidePut
	if short.Contract.OptionType == chain.OptionTypeCall {
		side = quant.SideCall
	}

	spread, err := quant.NewCreditSpread(quant.CreditSpreadInput{
		Underlying:  c.Snapshot.Underlying,
		ShortStrike: short.Contract.Strike,
		LongStrike:  long.Contract.Strike,
		Credit:      net,
		DTE:         c.Snapshot.DTE,
		Side:        side,
		ShortDelta:  legDelta(short),
		IV:          short.Contract.IV,
	})
	if err != nil {
		t.QuoteRejection = RejectCreditGeWidth
		if verr, ok := err.(*quant.ValidationError); ok && verr.Field != "credit" {
			t.QuoteRejection = fmt.Sprintf("INVALID_STRUCTURE:%s", verr.Field)
		}
		return t
	}

	t.Credit = finiteOrNil(ctx, "credit", net)
	t.Width = spread.Width()
	t.MaxProfit = finiteOrNil(ctx, "max_profit", spread.MaxProfit())
	t.MaxLoss = finiteOrNil(ctx, "max_loss", spread.MaxLoss())
	t.BreakEvens = []float64{spread.BreakEven()}
	t.ReturnOnRisk = finiteOrNil(ctx, "return_on_risk", spread.ReturnOnRisk())
	t.POP = spread.POP()
	t.EV = spread.DeltaExpectedValue()
	t.Kelly = spread.KellyFraction()
	return t
}

// Evaluate applies the credit-spread hard gates plus the shared policy floors.
func (s *CreditSpread) Evaluate(ctx *ScanContext, t *Trade) (bool, []string) {
	p := ctx.Policy
	var reasons []string

	if t.Credit == nil || *t.Credit < p.MinCredit {
		reasons = append(reasons, fmt.Sprintf("net credit below minimum %.2f", p.MinCredit))
	}
	if t.Width < p.WidthMin || t.Width > p.WidthMax {
		reasons = append(reasons, fmt.Sprintf("width %.2f outside [%.2f, %.2f]", t.Width, p.WidthMin, p.WidthMax))
	}
	reasons = append(reasons, hardLiquidityReasons(p, t)...)
	reasons = append(reasons, policyReasons(p, t, true)...)
	return len(reasons) == 0, reasons
}

// Score blends edge, liquidity, probability, delta fit, and credit
// efficiency into a bounded [0,1] rank, penalizing short strikes parked too
// close to the money.
func (s *CreditSpread) Score(ctx *ScanContext, t *Trade) (float64, TieBreaks) {
	p := ctx.Policy

	edge := 0.0
	if t.ReturnOnRisk != nil {
		edge = util.Clamp01(*t.ReturnOnRisk / 0.5)
	}
	pop := 0.0
	if t.POP != nil {
		pop = util.Clamp01(*t.POP)
	}
	creditEff := 0.0
	if t.Credit != nil && t.Width > 0 {
		creditEff = util.Clamp01(*t.Credit / t.Width / 0.5)
	}
	fit := 0.5
	if t.POP != nil && p.DeltaBand > 0 {
		// |short delta| is 1 - pop under the delta approximation.
		fit = util.Clamp01(1 - math.Abs((1-*t.POP)-p.TargetDelta)/(2*p.DeltaBand))
	}

	score := 0.30*edge + 0.25*t.Liquidity + 0.20*pop + 0.15*fit + 0.10*creditEff

	// Tail-risk proximity: short strike inside the minimum distance band.
	if t.Spot > 0 && len(t.ShortStrikes) > 0 {
		dist := math.Abs(t.Spot-t.ShortStrikes[0]) / t.Spot
		if dist < p.OTMDistanceMin {
			score -= 0.10
		}
	}

	score = util.Clamp01(score)
	return score, TieBreaks{
		{Name: "edge", Value: edge},
		{Name: "liquidity", Value: t.Liquidity},
		{Name: "pop", Value: pop},
	}
}

// RelaxationPlan loosens liquidity, then return/edge, then strike distance.
func (s *CreditSpread) RelaxationPlan(base policy.Policy) relax.Plan {
	return relax.Plan{Steps: []relax.Step{
		{
			Name:     "loosen_liquidity",
			Category: relax.CategoryLiquidity,
			Overrides: map[string]float64{
				policy.KeyMinLiquidity:    base.MinLiquidity * 0.5,
				policy.KeyMinOpenInterest: base.MinOpenInterest * 0.5,
				policy.KeyMinVolume:       base.MinVolume * 0.5,
				policy.KeyMaxBidAskPct:    base.MaxBidAskPct * 1.5,
			},
			Rationale: "halve liquidity floors and widen spread tolerance",
		},
		{
			Name:     "loosen_return",
			Category: relax.CategoryReturn,
			Overrides: map[string]float64{
				policy.KeyMinReturnOnRisk: base.MinReturnOnRisk * 0.75,
				policy.KeyMinPOP:          math.Max(0, base.MinPOP-0.05),
				policy.KeyMinCredit:       base.MinCredit * 0.75,
			},
			Rationale: "lower return-on-risk, probability, and credit floors",
		},
		{
			Name:     "loosen_distance",
			Category: relax.CategoryDistance,
			Overrides: map[string]float64{
				policy.KeyOTMDistanceMin: base.OTMDistanceMin * 0.5,
				policy.KeyOTMDistanceMax: base.OTMDistanceMax * 1.5,
				policy.KeyWidthMax:       base.WidthMax * 1.5,
			},
			Rationale: "widen the acceptable strike-distance and width bands",
		},
	}}
}
