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

// IronCondor scans four-leg condors: short put and short call placed at a
// target expected-move distance from spot (falling back to delta targeting
// when no IV is available), wings bought at the policy wing width.
type IronCondor struct{}

// Ensure IronCondor implements Strategy at compile time.
var _ Strategy = (*IronCondor)(nil)

// ID returns the strategy identifier.
func (s *IronCondor) ID() string { return policy.StrategyIronCondor }

// BuildCandidates places short strikes at the expected-move distance and
// shifts the whole structure across nearby strikes for variants, keeping
// put/call distances within the symmetry tolerance.
func (s *IronCondor) BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate {
	p := ctx.Policy
	var out []Candidate

	for _, snap := range snapshots {
		if !inDTEWindow(p, snap) || snap.Underlying <= 0 {
			continue
		}
		spot := snap.Underlying

		var putTarget, callTarget float64
		if sigma := snapshotSigma(snap); sigma > 0 {
			putTarget = spot - p.EMMultiple*sigma
			callTarget = spot + p.EMMultiple*sigma
		} else {
			// No IV anywhere near the money: target the policy delta instead.
			putTarget = strikeAtDelta(snap, chain.OptionTypePut, p.TargetDelta)
			callTarget = strikeAtDelta(snap, chain.OptionTypeCall, p.TargetDelta)
		}
		if putTarget <= 0 || callTarget <= 0 {
			continue
		}

		puts := sortedByStrike(snap.Contracts, chain.OptionTypePut)
		calls := sortedByStrike(snap.Contracts, chain.OptionTypeCall)
		step := strikeStep(puts)

		// Shift the whole structure by one strike step in each direction to
		// give gating more than a single take per snapshot. Shifts can land
		// on the same strikes near the edge of the chain; dedupe on the
		// short pair.
		seen := make(map[[2]float64]bool, 3)
		for _, offset := range []float64{0, -step, step} {
			c := buildCondor(p, snap, puts, calls, putTarget-offset, callTarget+offset)
			if c == nil {
				continue
			}
			shorts := [2]float64{c.Legs[0].Contract.Strike, c.Legs[2].Contract.Strike}
			if seen[shorts] {
				continue
			}
			seen[shorts] = true
			out = append(out, *c)
			if len(out) >= p.MaxCandidates {
				return out[:p.MaxCandidates]
			}
		}
	}
	return out
}

// strikeAtDelta returns the strike whose |delta| is closest to target.
func strikeAtDelta(snap *chain.Snapshot, optType chain.OptionType, target float64) float64 {
	best, bestDiff := 0.0, math.MaxFloat64
	for _, c := range snap.Contracts {
		if c.OptionType != optType || c.Delta == nil {
			continue
		}
		diff := math.Abs(math.Abs(*c.Delta) - target)
		if diff < bestDiff {
			bestDiff = diff
			best = c.Strike
		}
	}
	return best
}

// strikeStep estimates the chain's strike spacing from the sorted side.
func strikeStep(sorted []chain.OptionContract) float64 {
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i].Strike - sorted[i-1].Strike; d > 0 {
			return d
		}
	}
	return 0
}

func buildCondor(p policy.Policy, snap *chain.Snapshot, puts, calls []chain.OptionContract, putTarget, callTarget float64) *Candidate {
	spot := snap.Underlying
	if putTarget >= spot || callTarget <= spot {
		return nil
	}

	putShort := nearestInSlice(puts, putTarget)
	callShort := nearestInSlice(calls, callTarget)
	if putShort == nil || callShort == nil {
		return nil
	}

	// Symmetry check: the two short distances from spot must agree within
	// the configured tolerance.
	putDist := spot - putShort.Strike
	callDist := callShort.Strike - spot
	if putDist <= 0 || callDist <= 0 {
		return nil
	}
	if maxDist := math.Max(putDist, callDist); math.Abs(putDist-callDist)/maxDist > p.SymmetryTol {
		return nil
	}

	putLong := nearestInSlice(puts, putShort.Strike-p.WingWidth)
	callLong := nearestInSlice(calls, callShort.Strike+p.WingWidth)
	if putLong == nil || callLong == nil {
		return nil
	}
	if putLong.Strike >= putShort.Strike || callLong.Strike <= callShort.Strike {
		return nil
	}

	return &Candidate{
		StrategyID: policy.StrategyIronCondor,
		Snapshot:   snap,
		Legs: []Leg{
			{Role: RolePutShort, Side: SideShort, Contract: putShort, Snapshot: snap},
			{Role: RolePutLong, Side: SideLong, Contract: putLong, Snapshot: snap},
			{Role: RoleCallShort, Side: SideShort, Contract: callShort, Snapshot: snap},
			{Role: RoleCallLong, Side: SideLong, Contract: callLong, Snapshot: snap},
		},
	}
}

func nearestInSlice(contracts []chain.OptionContract, target float64) *chain.OptionContract {
	var best *chain.OptionContract
	bestDiff := math.MaxFloat64
	for i := range contracts {
		diff := math.Abs(contracts[i].Strike - target)
		if diff < bestDiff {
			bestDiff = diff
			best = &contracts[i]
		}
	}
	return best
}

// Enrich prices the four legs at the conservative cross. POP uses the
// normal CDF between the two break-evens with the expected move as sigma.
func (s *IronCondor) Enrich(ctx *ScanContext, candidates []Candidate) []*Trade {
	out := make([]*Trade, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, enrichCondor(ctx, c))
	}
	return out
}

func enrichCondor(ctx *ScanContext, c Candidate) *Trade {
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

	putShort, putLong := c.Legs[0].Contract, c.Legs[1].Contract
	callShort, callLong := c.Legs[2].Contract, c.Legs[3].Contract

	putWing := putShort.Strike - putLong.Strike
	callWing := callLong.Strike - callShort.Strike
	width := math.Max(putWing, callWing)
	if net >= width-quant.NearArbEpsilon {
		t.QuoteRejection = RejectCreditGeWidth
		return t
	}

	maxLoss := width - net
	lowerBE := putShort.Strike - net
	upperBE := callShort.Strike + net

	t.Credit = finiteOrNil(ctx, "credit", net)
	t.Width = width
	t.MaxProfit = finiteOrNil(ctx, "max_profit", net)
	t.MaxLoss = finiteOrNil(ctx, "max_loss", maxLoss)
	t.BreakEvens = []float64{lowerBE, upperBE}
	t.ReturnOnRisk = finiteOrNil(ctx, "return_on_risk", net/maxLoss)

	if sigma := snapshotSigma(c.Snapshot); sigma > 0 {
		pop := quant.ProbBetween(lowerBE, upperBE, c.Snapshot.Underlying, sigma)
		t.POP = finiteOrNil(ctx, "pop", pop)
		if t.POP != nil {
			t.EV = finiteOrNil(ctx, "ev", *t.POP*net-(1-*t.POP)*maxLoss)
		}
	}
	return t
}

// Evaluate applies the condor hard gates plus the shared policy floors.
func (s *IronCondor) Evaluate(ctx *ScanContext, t *Trade) (bool, []string) {
	p := ctx.Policy
	var reasons []string

	if t.Credit == nil || *t.Credit < p.MinCredit {
		reasons = append(reasons, fmt.Sprintf("net credit below minimum %.2f", p.MinCredit))
	}
	if p.WingWidth > 0 && t.Width > 2*p.WingWidth {
		reasons = append(reasons, fmt.Sprintf("wing width %.2f beyond sanity bound %.2f", t.Width, 2*p.WingWidth))
	}
	reasons = append(reasons, hardLiquidityReasons(p, t)...)
	reasons = append(reasons, policyReasons(p, t, true)...)
	return len(reasons) == 0, reasons
}

// Score blends edge, liquidity, probability, and structural symmetry,
// penalizing break-evens crowding spot.
func (s *IronCondor) Score(ctx *ScanContext, t *Trade) (float64, TieBreaks) {
	edge := 0.0
	if t.ReturnOnRisk != nil {
		edge = util.Clamp01(*t.ReturnOnRisk / 0.4)
	}
	pop := 0.0
	if t.POP != nil {
		pop = util.Clamp01(*t.POP)
	}
	symmetry := 0.5
	if t.Spot > 0 && len(t.ShortStrikes) == 2 {
		putDist := t.Spot - t.ShortStrikes[0]
		callDist := t.ShortStrikes[1] - t.Spot
		if maxDist := math.Max(putDist, callDist); maxDist > 0 {
			symmetry = util.Clamp01(1 - math.Abs(putDist-callDist)/maxDist)
		}
	}
	creditEff := 0.0
	if t.Credit != nil && t.Width > 0 {
		creditEff = util.Clamp01(*t.Credit / t.Width / 0.4)
	}

	score := 0.30*edge + 0.25*t.Liquidity + 0.20*pop + 0.15*symmetry + 0.10*creditEff

	// Break-evens hugging spot leave no room for drift.
	if t.Spot > 0 && len(t.BreakEvens) == 2 {
		room := math.Min(t.Spot-t.BreakEvens[0], t.BreakEvens[1]-t.Spot) / t.Spot
		if room < 0.01 {
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

// RelaxationPlan loosens liquidity, then credit/probability, then symmetry
// and distance.
func (s *IronCondor) RelaxationPlan(base policy.Policy) relax.Plan {
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
				policy.KeyMinCredit:       base.MinCredit * 0.75,
				policy.KeyMinPOP:          math.Max(0, base.MinPOP-0.05),
				policy.KeyMinReturnOnRisk: base.MinReturnOnRisk * 0.75,
			},
			Rationale: "lower credit, probability, and return floors",
		},
		{
			Name:     "loosen_symmetry",
			Category: relax.CategoryDistance,
			Overrides: map[string]float64{
				policy.KeySymmetryTol: base.SymmetryTol * 1.5,
				policy.KeyEMMultiple:  base.EMMultiple * 0.85,
			},
			Rationale: "tolerate lopsided structures and closer short strikes",
		},
	}}
}
