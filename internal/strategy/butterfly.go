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

// Butterfly scans long butterflies: one long wing below, two short at the
// body, one long wing above, all the same type and expiration. The body is
// pinned to a target price chosen by the policy moneyness mode.
type Butterfly struct{}

var _ Strategy = (*Butterfly)(nil)

// ID returns the strategy identifier.
func (s *Butterfly) ID() string { return policy.StrategyButterfly }

// BuildCandidates centers the body at the moneyness target and buys wings
// at the policy wing width, in both puts and calls.
func (s *Butterfly) BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate {
	p := ctx.Policy
	var out []Candidate

	for _, snap := range snapshots {
		if !inDTEWindow(p, snap) || snap.Underlying <= 0 {
			continue
		}
		center := bodyTarget(p, snap)
		if center <= 0 {
			continue
		}
		for _, optType := range []chain.OptionType{chain.OptionTypeCall, chain.OptionTypePut} {
			c := buildButterfly(p, snap, optType, center)
			if c != nil {
				out = append(out, *c)
			}
			if len(out) >= p.MaxCandidates {
				return out[:p.MaxCandidates]
			}
		}
	}
	return out
}

// bodyTarget resolves the body pin price from the moneyness mode: spot
// pins at the money, drift applies the configured drift to spot, and
// expected_move pins one scaled expected move in the drift direction.
func bodyTarget(p policy.Policy, snap *chain.Snapshot) float64 {
	spot := snap.Underlying
	switch p.MoneynessMode {
	case policy.MoneynessDrift:
		return spot * (1 + p.DriftPct)
	case policy.MoneynessExpectedMove:
		sigma := snapshotSigma(snap)
		if sigma <= 0 {
			return spot
		}
		dir := 1.0
		if p.DriftPct < 0 {
			dir = -1.0
		}
		return spot + dir*p.EMMultiple*sigma
	default:
		return spot
	}
}

func buildButterfly(p policy.Policy, snap *chain.Snapshot, optType chain.OptionType, center float64) *Candidate {
	contracts := sortedByStrike(snap.Contracts, optType)
	body := nearestInSlice(contracts, center)
	if body == nil {
		return nil
	}
	lower := nearestInSlice(contracts, body.Strike-p.WingWidth)
	upper := nearestInSlice(contracts, body.Strike+p.WingWidth)
	if lower == nil || upper == nil {
		return nil
	}
	if lower.Strike >= body.Strike || upper.Strike <= body.Strike {
		return nil
	}
	// Lopsided wings change the payoff shape; require near-symmetry.
	lowWing := body.Strike - lower.Strike
	highWing := upper.Strike - body.Strike
	if math.Abs(lowWing-highWing)/math.Max(lowWing, highWing) > p.SymmetryTol {
		return nil
	}
	return &Candidate{
		StrategyID: policy.StrategyButterfly,
		Snapshot:   snap,
		Legs: []Leg{
			{Role: RoleLowerWing, Side: SideLong, Contract: lower, Snapshot: snap},
			{Role: RoleBody, Side: SideShort, Quantity: 2, Contract: body, Snapshot: snap},
			{Role: RoleUpperWing, Side: SideLong, Contract: upper, Snapshot: snap},
		},
	}
}

// Enrich prices the three strikes at the conservative cross. Max profit is
// the wing width less the debit, realized only at the body pin.
func (s *Butterfly) Enrich(ctx *ScanContext, candidates []Candidate) []*Trade {
	out := make([]*Trade, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, enrichButterfly(ctx, c))
	}
	return out
}

func enrichButterfly(ctx *ScanContext, c Candidate) *Trade {
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

	lower, body, upper := c.Legs[0].Contract, c.Legs[1].Contract, c.Legs[2].Contract
	wing := math.Min(body.Strike-lower.Strike, upper.Strike-body.Strike)
	if debit >= wing-quant.NearArbEpsilon {
		t.QuoteRejection = RejectCreditGeWidth
		return t
	}

	maxProfit := wing - debit
	lowerBE := lower.Strike + debit
	upperBE := upper.Strike - debit

	t.Debit = finiteOrNil(ctx, "debit", debit)
	t.Width = wing
	t.MaxProfit = finiteOrNil(ctx, "max_profit", maxProfit)
	t.MaxLoss = finiteOrNil(ctx, "max_loss", debit)
	t.BreakEvens = []float64{lowerBE, upperBE}
	t.ReturnOnRisk = finiteOrNil(ctx, "return_on_risk", maxProfit/debit)

	if sigma := snapshotSigma(c.Snapshot); sigma > 0 {
		pop := quant.ProbBetween(lowerBE, upperBE, c.Snapshot.Underlying, sigma)
		t.POP = finiteOrNil(ctx, "pop", pop)
		if t.POP != nil {
			t.EV = finiteOrNil(ctx, "ev", *t.POP*maxProfit-(1-*t.POP)*debit)
		}
	}
	return t
}

// Evaluate enforces the minimum-debit guard and the shared gates. A debit
// below the floor is noise: fills at that price rarely exist.
func (s *Butterfly) Evaluate(ctx *ScanContext, t *Trade) (bool, []string) {
	p := ctx.Policy
	var reasons []string

	if t.Debit == nil || *t.Debit < p.MinDebit {
		reasons = append(reasons, fmt.Sprintf("net debit below minimum %.2f", p.MinDebit))
	}
	reasons = append(reasons, hardLiquidityReasons(p, t)...)
	reasons = append(reasons, policyReasons(p, t, false)...)
	return len(reasons) == 0, reasons
}

// Score favors high payoff multiples on bodies still near the pin target,
// penalizing bodies that have already drifted outside the break-evens.
func (s *Butterfly) Score(ctx *ScanContext, t *Trade) (float64, TieBreaks) {
	payoff := 0.0
	if t.ReturnOnRisk != nil {
		// A 4:1 payoff saturates the component.
		payoff = util.Clamp01(*t.ReturnOnRisk / 4)
	}
	pop := 0.0
	if t.POP != nil {
		pop = util.Clamp01(*t.POP)
	}
	pinFit := 0.0
	if t.Spot > 0 && len(t.ShortStrikes) == 1 && t.Width > 0 {
		pinFit = util.Clamp01(1 - math.Abs(t.ShortStrikes[0]-t.Spot)/t.Width)
	}

	score := 0.35*payoff + 0.25*pinFit + 0.20*t.Liquidity + 0.20*pop
	if t.Spot > 0 && len(t.BreakEvens) == 2 && (t.Spot < t.BreakEvens[0] || t.Spot > t.BreakEvens[1]) {
		score -= 0.10
	}
	score = util.Clamp01(score)
	return score, TieBreaks{
		{Name: "payoff", Value: payoff},
		{Name: "liquidity", Value: t.Liquidity},
		{Name: "pop", Value: pop},
	}
}

// RelaxationPlan loosens liquidity, then the debit floor, then the wing
// geometry.
func (s *Butterfly) RelaxationPlan(base policy.Policy) relax.Plan {
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
				policy.KeyMinDebit:        math.Max(0.01, base.MinDebit*0.5),
				policy.KeyMinReturnOnRisk: base.MinReturnOnRisk * 0.75,
			},
			Rationale: "halve the debit floor and lower the payoff requirement",
		},
		{
			Name:     "loosen_geometry",
			Category: relax.CategoryDistance,
			Overrides: map[string]float64{
				policy.KeyWingWidth:   base.WingWidth * 1.5,
				policy.KeySymmetryTol: base.SymmetryTol * 1.5,
			},
			Rationale: "widen the wings and tolerate lopsided structures",
		},
	}}
}
