package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/util"
)

// Calendar scans horizontal spreads: sell a near-dated contract and buy a
// far-dated one at the same strike, harvesting the faster decay of the
// front month. Probability and expected value are not modeled for
// calendars; risk is bounded by the debit paid.
type Calendar struct{}

var _ Strategy = (*Calendar)(nil)

// ID returns the strategy identifier.
func (s *Calendar) ID() string { return policy.StrategyCalendar }

// BuildCandidates pairs each near-dated snapshot (DTE at most NearDTEMax)
// with every far-dated snapshot of the same symbol inside the DTE window,
// joining them at the strike closest to spot within the moneyness band.
func (s *Calendar) BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate {
	p := ctx.Policy

	bySymbol := make(map[string][]*chain.Snapshot)
	var symbols []string
	for _, snap := range snapshots {
		if snap.Underlying <= 0 {
			continue
		}
		if _, seen := bySymbol[snap.Symbol]; !seen {
			symbols = append(symbols, snap.Symbol)
		}
		bySymbol[snap.Symbol] = append(bySymbol[snap.Symbol], snap)
	}
	sort.Strings(symbols)

	var out []Candidate
	for _, sym := range symbols {
		snaps := bySymbol[sym]
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].DTE < snaps[j].DTE })

		for _, near := range snaps {
			if near.DTE > p.NearDTEMax || near.DTE <= 0 {
				continue
			}
			for _, far := range snaps {
				if far.DTE <= near.DTE || !inDTEWindow(p, far) {
					continue
				}
				for _, optType := range []chain.OptionType{chain.OptionTypeCall, chain.OptionTypePut} {
					c := buildCalendar(p, near, far, optType)
					if c != nil {
						out = append(out, *c)
					}
					if len(out) >= p.MaxCandidates {
						return out[:p.MaxCandidates]
					}
				}
			}
		}
	}
	return out
}

func buildCalendar(p policy.Policy, near, far *chain.Snapshot, optType chain.OptionType) *Candidate {
	spot := far.Underlying
	farLeg := nearestInSlice(sortedByStrike(far.Contracts, optType), spot)
	if farLeg == nil {
		return nil
	}
	if p.MoneynessBand > 0 && math.Abs(farLeg.Strike-spot)/spot > p.MoneynessBand {
		return nil
	}
	// Both expirations must list the exact strike.
	nearLeg := near.ContractByStrike(farLeg.Strike, optType)
	if nearLeg == nil {
		return nil
	}
	return &Candidate{
		StrategyID: policy.StrategyCalendar,
		Snapshot:   far,
		Legs: []Leg{
			{Role: RoleNearShort, Side: SideShort, Contract: nearLeg, Snapshot: near},
			{Role: RoleFarLong, Side: SideLong, Contract: farLeg, Snapshot: far},
		},
	}
}

// Enrich prices the calendar at the conservative cross. The payoff at the
// near expiration depends on the volatility surface, so POP and EV stay
// null; max loss is the debit paid.
func (s *Calendar) Enrich(ctx *ScanContext, candidates []Candidate) []*Trade {
	out := make([]*Trade, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, enrichCalendar(ctx, c))
	}
	return out
}

func enrichCalendar(ctx *ScanContext, c Candidate) *Trade {
	t := baseTrade(ctx, c)
	if near := c.Legs[0].Snapshot; near != nil {
		t.NearExpiration = near.Expiration
		t.NearATMIV = near.ATMIV()
	}
	if far := c.Legs[1].Snapshot; far != nil {
		t.FarATMIV = far.ATMIV()
	}

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

	t.Debit = finiteOrNil(ctx, "debit", debit)
	t.MaxLoss = finiteOrNil(ctx, "max_loss", debit)
	return t
}

// Evaluate applies the debit floor, an inverted-term-structure guard, and
// the shared liquidity gates.
func (s *Calendar) Evaluate(ctx *ScanContext, t *Trade) (bool, []string) {
	p := ctx.Policy
	var reasons []string

	if t.Debit == nil || *t.Debit < p.MinDebit {
		reasons = append(reasons, fmt.Sprintf("net debit below minimum %.2f", p.MinDebit))
	}
	reasons = append(reasons, hardLiquidityReasons(p, t)...)
	reasons = append(reasons, policyReasons(p, t, false)...)
	return len(reasons) == 0, reasons
}

// Score favors cheap calendars near the money with a rich front month.
// Term-structure edge is the near/far IV ratio: front IV above back IV
// means the short leg decays from a higher level.
func (s *Calendar) Score(ctx *ScanContext, t *Trade) (float64, TieBreaks) {
	termEdge := 0.5
	if t.NearATMIV != nil && t.FarATMIV != nil && *t.FarATMIV > 0 {
		termEdge = util.Clamp01((*t.NearATMIV / *t.FarATMIV) - 0.5)
	}
	moneyness := 0.0
	if t.Spot > 0 && len(t.LongStrikes) == 1 {
		band := ctx.Policy.MoneynessBand
		if band <= 0 {
			band = 0.05
		}
		moneyness = util.Clamp01(1 - math.Abs(t.LongStrikes[0]-t.Spot)/t.Spot/band)
	}
	cheapness := 0.0
	if t.Debit != nil && t.Spot > 0 {
		cheapness = util.Clamp01(1 - *t.Debit/t.Spot/0.05)
	}

	score := util.Clamp01(0.35*termEdge + 0.30*moneyness + 0.25*t.Liquidity + 0.10*cheapness)
	return score, TieBreaks{
		{Name: "term_edge", Value: termEdge},
		{Name: "liquidity", Value: t.Liquidity},
		{Name: "moneyness", Value: moneyness},
	}
}

// RelaxationPlan loosens liquidity, then the debit floor, then the
// moneyness band.
func (s *Calendar) RelaxationPlan(base policy.Policy) relax.Plan {
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
				policy.KeyMinDebit:   base.MinDebit * 0.5,
				policy.KeyMaxIVRVBuy: base.MaxIVRVBuy * 1.2,
			},
			Rationale: "halve the debit floor and tolerate richer back-month vol",
		},
		{
			Name:     "loosen_distance",
			Category: relax.CategoryDistance,
			Overrides: map[string]float64{
				policy.KeyMoneynessBand: base.MoneynessBand * 1.5,
				policy.KeyNearDTEMax:    float64(base.NearDTEMax) * 1.5,
			},
			Rationale: "accept strikes further from spot and later front months",
		},
	}}
}
