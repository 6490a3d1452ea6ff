package strategy

import (
	"fmt"
	"math"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/quant"
	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/util"
)

// DebitSpread scans directional vertical debit spreads: the long leg nearest
// a target delta, the short leg at the target width further out of the
// money. The direction follows the market regime read from the snapshot's
// close history; a sideways tape scans both directions.
type DebitSpread struct{}

// Ensure DebitSpread implements Strategy at compile time.
var _ Strategy = (*DebitSpread)(nil)

// ID returns the strategy identifier.
func (s *DebitSpread) ID() string { return policy.StrategyDebitSpread }

// BuildCandidates picks long legs inside the delta band and shorts them
// against the leg nearest the target width further OTM.
func (s *DebitSpread) BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate {
	p := ctx.Policy
	var out []Candidate

	for _, snap := range snapshots {
		if !inDTEWindow(p, snap) || snap.Underlying <= 0 {
			continue
		}
		regime := quant.ClassifyRegime(quant.RegimeInput{
			Closes:   snap.CloseHistory,
			Spot:     snap.Underlying,
			VolIndex: snap.VolIndex,
			IV:       snap.ATMIV(),
		})

		if regime.Trend != quant.TrendBearish {
			out = appendDebitVerticals(out, p, snap, chain.OptionTypeCall)
		}
		if regime.Trend != quant.TrendBullish {
			out = appendDebitVerticals(out, p, snap, chain.OptionTypePut)
		}
		if len(out) >= p.MaxCandidates {
			return out[:p.MaxCandidates]
		}
	}
	return out
}

func appendDebitVerticals(out []Candidate, p policy.Policy, snap *chain.Snapshot, optType chain.OptionType) []Candidate {
	contracts := sortedByStrike(snap.Contracts, optType)

	for i := range contracts {
		long := &contracts[i]
		d := long.Delta
		if d == nil {
			continue
		}
		if math.Abs(math.Abs(*d)-p.TargetDelta) > p.DeltaBand+1e-9 {
			continue
		}
		// The short leg sits targetWidth further OTM: above for calls,
		// below for puts.
		var target float64
		if optType == chain.OptionTypeCall {
			target = long.Strike + p.TargetWidth
		} else {
			target = long.Strike - p.TargetWidth
		}
		short := nearestWithinWidth(contracts, long.Strike, target, p.WidthMin, p.WidthMax)
		if short == nil {
			continue
		}
		out = append(out, Candidate{
			StrategyID: policy.StrategyDebitSpread,
			Snapshot:   snap,
			Legs: []Leg{
				{Role: RoleLongLeg, Side: SideLong, Contract: long, Snapshot: snap},
				{Role: RoleShortLeg, Side: SideShort, Contract: short, Snapshot: snap},
			},
		})
	}
	return out
}

// nearestWithinWidth finds the contract closest to target whose distance
// from anchor stays inside [widthMin, widthMax].
func nearestWithinWidth(contracts []chain.OptionContract, anchor, target, widthMin, widthMax float64) *chain.OptionContract {
	var best *chain.OptionContract
	bestDiff := math.MaxFloat64
	for i := range contracts {
		c := &contracts[i]
		width := math.Abs(c.Strike - anchor)
		if width < widthMin || width > widthMax || width == 0 {
			continue
		}
		diff := math.Abs(c.Strike - target)
		if diff < bestDiff {
			bestDiff = diff
			best = c
		}
	}
	return best
}

// Enrich prices each candidate at the conservative cross: buy the long leg
// at the ask, sell the short leg at the bid. POP uses the debit-implied
// estimate 1 - debit/width.
func (s *DebitSpread) Enrich(ctx *ScanContext, candidates []Candidate) []*Trade {
	out := make([]*Trade, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, enrichVerticalDebit(ctx, c))
	}
	return out
}

func enrichVerticalDebit(ctx *ScanContext, c Candidate) *Trade {
	t := baseTrade(ctx, c)

	net, code := netCross(c.Legs)
	if code != "" {
		t.QuoteRejection = code
		return t
	}
	debit := -net
	if debit <= 0 {
		t.QuoteRejection = RejectNonPositiveDebit
		return t
	}

	long, short := c.Legs[0], c.Legs[1]
	width := math.Abs(short.Contract.Strike - long.Contract.Strike)
	if width <= 0 || debit >= width {
		// A debit at or above the width can never profit.
		t.QuoteRejection = RejectCreditGeWidth
		return t
	}

	maxProfit := width - debit
	pop := 1 - debit/width
	ev := pop*maxProfit - (1-pop)*debit
	ror := maxProfit / debit

	var breakEven float64
	if long.Contract.OptionType == chain.OptionTypeCall {
		breakEven = long.Contract.Strike + debit
	} else {
		breakEven = long.Contract.Strike - debit
	}

	t.Debit = finiteOrNil(ctx, "debit", debit)
	t.Width = width
	t.MaxProfit = finiteOrNil(ctx, "max_profit", maxProfit)
	t.MaxLoss = finiteOrNil(ctx, "max_loss", debit)
	t.BreakEvens = []float64{breakEven}
	t.POP = finiteOrNil(ctx, "pop", pop)
	t.EV = finiteOrNil(ctx, "ev", ev)
	t.ReturnOnRisk = finiteOrNil(ctx, "return_on_risk", ror)
	return t
}

// Evaluate applies the debit-spread hard gates plus the shared policy
// floors, with the IV/RV gate on the buying side.
func (s *DebitSpread) Evaluate(ctx *ScanContext, t *Trade) (bool, []string) {
	p := ctx.Policy
	var reasons []string

	if t.Debit == nil || *t.Debit < p.MinDebit {
		reasons = append(reasons, fmt.Sprintf("net debit below minimum %.2f", p.MinDebit))
	}
	if t.Debit != nil && t.Width > 0 && p.MaxDebitWidthPct > 0 && *t.Debit > p.MaxDebitWidthPct*t.Width {
		reasons = append(reasons, fmt.Sprintf("debit %.2f exceeds %.0f%% of width %.2f",
			*t.Debit, p.MaxDebitWidthPct*100, t.Width))
	}
	if t.Width < p.WidthMin || t.Width > p.WidthMax {
		reasons = append(reasons, fmt.Sprintf("width %.2f outside [%.2f, %.2f]", t.Width, p.WidthMin, p.WidthMax))
	}
	reasons = append(reasons, hardLiquidityReasons(p, t)...)
	reasons = append(reasons, policyReasons(p, t, false)...)
	return len(reasons) == 0, reasons
}

// Score favors cost efficiency first, then liquidity and the debit-implied
// probability, penalizing debits that crowd the width.
func (s *DebitSpread) Score(ctx *ScanContext, t *Trade) (float64, TieBreaks) {
	p := ctx.Policy

	efficiency := 0.0
	if t.MaxProfit != nil && t.Debit != nil && *t.Debit > 0 {
		// Reward ratio of 2:1 or better scores full marks.
		efficiency = util.Clamp01(*t.MaxProfit / *t.Debit / 2)
	}
	pop := 0.0
	if t.POP != nil {
		pop = util.Clamp01(*t.POP)
	}
	widthFit := 0.5
	if p.TargetWidth > 0 && t.Width > 0 {
		widthFit = util.Clamp01(1 - math.Abs(t.Width-p.TargetWidth)/p.TargetWidth)
	}
	costRatio := 0.0
	if t.Debit != nil && t.Width > 0 {
		costRatio = *t.Debit / t.Width
	}

	score := 0.30*efficiency + 0.25*t.Liquidity + 0.20*pop + 0.15*widthFit + 0.10*(1-util.Clamp01(costRatio))

	// Debit crowding the width leaves no room for the move to pay.
	if p.MaxDebitWidthPct > 0 && costRatio > 0.8*p.MaxDebitWidthPct {
		score -= 0.10
	}

	score = util.Clamp01(score)
	return score, TieBreaks{
		{Name: "efficiency", Value: efficiency},
		{Name: "liquidity", Value: t.Liquidity},
		{Name: "pop", Value: pop},
	}
}

// RelaxationPlan loosens liquidity, then cost efficiency, then width bounds.
func (s *DebitSpread) RelaxationPlan(base policy.Policy) relax.Plan {
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
			Name:     "loosen_cost",
			Category: relax.CategoryReturn,
			Overrides: map[string]float64{
				policy.KeyMaxDebitWidthPct: math.Min(0.90, base.MaxDebitWidthPct*1.25),
				policy.KeyMinPOP:           math.Max(0, base.MinPOP-0.05),
				policy.KeyMaxIVRVBuy:       base.MaxIVRVBuy * 1.2,
			},
			Rationale: "allow richer debits and slightly cheaper edges",
		},
		{
			Name:     "loosen_width",
			Category: relax.CategoryDistance,
			Overrides: map[string]float64{
				policy.KeyWidthMax:  base.WidthMax * 1.5,
				policy.KeyDeltaBand: base.DeltaBand * 1.5,
			},
			Rationale: "widen the acceptable width and delta bands",
		},
	}}
}
