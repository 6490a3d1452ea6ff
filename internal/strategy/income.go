package strategy

import (
	"fmt"
	"math"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/util"
)

// Income scans cash-secured short puts: a single short put in the target
// delta band, collateralized at the strike. Risk is the strike less the
// credit, realized only if the underlying goes to zero.
type Income struct{}

var _ Strategy = (*Income)(nil)

// ID returns the strategy identifier.
func (s *Income) ID() string { return policy.StrategyIncome }

// BuildCandidates picks every OTM put whose |delta| falls inside the target
// band. When no contract carries a delta, it falls back to the single
// strike nearest the target delta's usual territory.
func (s *Income) BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate {
	p := ctx.Policy
	var out []Candidate

	for _, snap := range snapshots {
		if !inDTEWindow(p, snap) || snap.Underlying <= 0 {
			continue
		}
		picked := 0
		for i := range snap.Contracts {
			c := &snap.Contracts[i]
			if c.OptionType != chain.OptionTypePut || c.Strike >= snap.Underlying {
				continue
			}
			if c.Delta == nil || math.Abs(math.Abs(*c.Delta)-p.TargetDelta) > p.DeltaBand+1e-9 {
				continue
			}
			out = append(out, shortPutCandidate(snap, c))
			picked++
			if len(out) >= p.MaxCandidates {
				return out[:p.MaxCandidates]
			}
		}
		if picked == 0 {
			if c := fallbackShortPut(p, snap); c != nil {
				out = append(out, shortPutCandidate(snap, c))
			}
		}
	}
	return out
}

func shortPutCandidate(snap *chain.Snapshot, c *chain.OptionContract) Candidate {
	return Candidate{
		StrategyID: policy.StrategyIncome,
		Snapshot:   snap,
		Legs: []Leg{
			{Role: RoleShortLeg, Side: SideShort, Contract: c, Snapshot: snap},
		},
	}
}

// fallbackShortPut returns the OTM put nearest the target delta when
// deltas exist, otherwise the put nearest 95% of spot.
func fallbackShortPut(p policy.Policy, snap *chain.Snapshot) *chain.OptionContract {
	puts := sortedByStrike(snap.Contracts, chain.OptionTypePut)
	var best *chain.OptionContract
	bestDiff := math.MaxFloat64
	for i := range puts {
		c := &puts[i]
		if c.Strike >= snap.Underlying || c.Delta == nil {
			continue
		}
		if diff := math.Abs(math.Abs(*c.Delta) - p.TargetDelta); diff < bestDiff {
			bestDiff = diff
			best = c
		}
	}
	if best != nil {
		return best
	}
	var otm []chain.OptionContract
	for _, c := range puts {
		if c.Strike < snap.Underlying {
			otm = append(otm, c)
		}
	}
	return nearestInSlice(otm, snap.Underlying*0.95)
}

// Enrich prices the short put at the bid. POP uses the delta complement.
func (s *Income) Enrich(ctx *ScanContext, candidates []Candidate) []*Trade {
	out := make([]*Trade, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, enrichShortPut(ctx, c))
	}
	return out
}

func enrichShortPut(ctx *ScanContext, c Candidate) *Trade {
	t := baseTrade(ctx, c)

	credit, code := netCross(c.Legs)
	if code != "" {
		t.QuoteRejection = code
		return t
	}
	if credit <= 0 {
		t.QuoteRejection = RejectNonPositiveCredit
		return t
	}

	short := c.Legs[0].Contract
	maxLoss := short.Strike - credit

	t.Credit = finiteOrNil(ctx, "credit", credit)
	t.Width = short.Strike
	t.MaxProfit = finiteOrNil(ctx, "max_profit", credit)
	t.MaxLoss = finiteOrNil(ctx, "max_loss", maxLoss)
	t.BreakEvens = []float64{short.Strike - credit}
	if maxLoss > 0 {
		t.ReturnOnRisk = finiteOrNil(ctx, "return_on_risk", credit/maxLoss)
	}

	if short.Delta != nil {
		pop := util.Clamp01(1 - math.Abs(*short.Delta))
		t.POP = finiteOrNil(ctx, "pop", pop)
		if t.POP != nil {
			t.EV = finiteOrNil(ctx, "ev", *t.POP*credit-(1-*t.POP)*maxLoss)
		}
	}
	return t
}

// Evaluate applies the credit floor, the OTM distance window, and the
// shared gates.
func (s *Income) Evaluate(ctx *ScanContext, t *Trade) (bool, []string) {
	p := ctx.Policy
	var reasons []string

	if t.Credit == nil || *t.Credit < p.MinCredit {
		reasons = append(reasons, fmt.Sprintf("net credit below minimum %.2f", p.MinCredit))
	}
	if t.Spot > 0 && len(t.ShortStrikes) == 1 {
		dist := (t.Spot - t.ShortStrikes[0]) / t.Spot
		if dist < p.OTMDistanceMin {
			reasons = append(reasons, fmt.Sprintf("strike distance %.1f%% inside minimum %.1f%%", dist*100, p.OTMDistanceMin*100))
		}
		if p.OTMDistanceMax > 0 && dist > p.OTMDistanceMax {
			reasons = append(reasons, fmt.Sprintf("strike distance %.1f%% beyond maximum %.1f%%", dist*100, p.OTMDistanceMax*100))
		}
	}
	reasons = append(reasons, hardLiquidityReasons(p, t)...)
	reasons = append(reasons, policyReasons(p, t, true)...)
	return len(reasons) == 0, reasons
}

// Score favors annualized yield on collateral with a safe probability and
// a short strike sitting at the target delta.
func (s *Income) Score(ctx *ScanContext, t *Trade) (float64, TieBreaks) {
	p := ctx.Policy

	yield := 0.0
	if t.Credit != nil && len(t.ShortStrikes) == 1 && t.ShortStrikes[0] > 0 && t.DTE > 0 {
		annual := (*t.Credit / t.ShortStrikes[0]) * (365.0 / float64(t.DTE))
		// 30% annualized saturates the component.
		yield = util.Clamp01(annual / 0.30)
	}
	pop := 0.0
	if t.POP != nil {
		pop = util.Clamp01(*t.POP)
	}
	fit := 0.5
	if t.POP != nil {
		impliedDelta := 1 - *t.POP
		if p.DeltaBand > 0 {
			fit = util.Clamp01(1 - math.Abs(impliedDelta-p.TargetDelta)/(2*p.DeltaBand))
		}
	}

	score := util.Clamp01(0.35*yield + 0.25*pop + 0.25*t.Liquidity + 0.15*fit)
	return score, TieBreaks{
		{Name: "yield", Value: yield},
		{Name: "liquidity", Value: t.Liquidity},
		{Name: "pop", Value: pop},
	}
}

// RelaxationPlan loosens liquidity, then the credit and probability
// floors, then the strike distance window.
func (s *Income) RelaxationPlan(base policy.Policy) relax.Plan {
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
				policy.KeyMinCredit:   base.MinCredit * 0.75,
				policy.KeyMinPOP:      math.Max(0, base.MinPOP-0.05),
				policy.KeyMinIVRVSell: base.MinIVRVSell * 0.9,
			},
			Rationale: "lower the credit, probability, and vol-premium floors",
		},
		{
			Name:     "loosen_distance",
			Category: relax.CategoryDistance,
			Overrides: map[string]float64{
				policy.KeyOTMDistanceMin: base.OTMDistanceMin * 0.5,
				policy.KeyDeltaBand:      base.DeltaBand * 1.5,
			},
			Rationale: "allow closer strikes and a wider delta band",
		},
	}}
}
