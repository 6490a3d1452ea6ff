package strategy

import (
	"fmt"
	"math"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/quant"
	"github.com/mwhitfield/spreadscan/internal/util"
)

// Quote rejection code prefixes. The full code appends the failing leg role,
// e.g. "ASK_LT_BID:short_leg".
const (
	RejectMissingQuote = "MISSING_QUOTE"
	RejectNonFinite    = "NONFINITE_QUOTE"
	RejectAskLtBid     = "ASK_LT_BID"
	// Structure-level codes carry no leg suffix.
	RejectNonPositiveCredit = "NONPOSITIVE_CREDIT"
	RejectNonPositiveDebit  = "NONPOSITIVE_DEBIT"
	RejectCreditGeWidth     = "CREDIT_GE_WIDTH"
)

// Realized-vol window used for the IV/RV enrichment ratio.
const rvWindow = 21

// Fraction of the policy liquidity floors used as hard per-leg gates during
// evaluation. Only clearly illiquid legs are excluded outright; everything
// else is left to the scored liquidity blend and policy floor.
const hardGateFraction = 0.20

// legRejection validates one leg's quote under the conservative cross.
// Returns the empty string when the quote is usable.
func legRejection(l Leg) string {
	c := l.Contract
	if c == nil || c.Bid == nil || c.Ask == nil {
		return fmt.Sprintf("%s:%s", RejectMissingQuote, l.Role)
	}
	if !util.IsFinite(*c.Bid) || !util.IsFinite(*c.Ask) {
		return fmt.Sprintf("%s:%s", RejectNonFinite, l.Role)
	}
	if *c.Ask < *c.Bid {
		return fmt.Sprintf("%s:%s", RejectAskLtBid, l.Role)
	}
	return ""
}

// netCross prices a leg set at the conservative cross: short legs sell at
// the bid, long legs buy at the ask. A positive result is a net credit, a
// negative one a net debit. The rejection code is non-empty when any leg's
// quote is unusable.
func netCross(legs []Leg) (float64, string) {
	net := 0.0
	for _, l := range legs {
		if code := legRejection(l); code != "" {
			return 0, code
		}
		qty := l.Quantity
		if qty == 0 {
			qty = 1
		}
		switch l.Side {
		case SideShort:
			net += float64(qty) * *l.Contract.Bid
		case SideLong:
			net -= float64(qty) * *l.Contract.Ask
		}
	}
	// Penny tick keeps float dust out of reported credits and debits.
	return util.RoundToTick(net, 0.01), ""
}

// bidAskPct returns a contract's bid-ask spread as a fraction of its mid.
// A one-sided market counts as maximally wide.
func bidAskPct(c *chain.OptionContract) float64 {
	if c == nil || !c.HasQuote() {
		return 1
	}
	mid := util.Mid(*c.Bid, *c.Ask)
	if mid <= 0 {
		return 1
	}
	return (*c.Ask - *c.Bid) / mid
}

// worstBidAskPct returns the widest relative spread across the legs.
func worstBidAskPct(legs []Leg) float64 {
	worst := 0.0
	for _, l := range legs {
		if pct := bidAskPct(l.Contract); pct > worst {
			worst = pct
		}
	}
	return worst
}

// worstLegStats returns the smallest open interest and volume across legs.
// Absent values count as zero: an unreported figure is not evidence of depth.
func worstLegStats(legs []Leg) (oi, volume int64) {
	oi, volume = math.MaxInt64, math.MaxInt64
	for _, l := range legs {
		var legOI, legVol int64
		if l.Contract != nil && l.Contract.OpenInterest != nil {
			legOI = *l.Contract.OpenInterest
		}
		if l.Contract != nil && l.Contract.Volume != nil {
			legVol = *l.Contract.Volume
		}
		if legOI < oi {
			oi = legOI
		}
		if legVol < volume {
			volume = legVol
		}
	}
	if len(legs) == 0 {
		return 0, 0
	}
	return oi, volume
}

// liquidityScore blends open-interest ratio, volume ratio, and bid-ask
// tightness, each clamped to [0,1] and normalized against the policy floors.
// The weakest leg sets the score: a structure fills no better than its most
// illiquid leg.
func liquidityScore(p policy.Policy, legs []Leg) float64 {
	if len(legs) == 0 {
		return 0
	}
	score := 1.0
	for _, l := range legs {
		var oiRatio, volRatio float64
		if l.Contract != nil && l.Contract.OpenInterest != nil && p.MinOpenInterest > 0 {
			oiRatio = util.Clamp01(float64(*l.Contract.OpenInterest) / p.MinOpenInterest)
		}
		if l.Contract != nil && l.Contract.Volume != nil && p.MinVolume > 0 {
			volRatio = util.Clamp01(float64(*l.Contract.Volume) / p.MinVolume)
		}
		tightness := 0.0
		if p.MaxBidAskPct > 0 {
			tightness = util.Clamp01(1 - bidAskPct(l.Contract)/p.MaxBidAskPct)
		}
		legScore := 0.4*oiRatio + 0.3*volRatio + 0.3*tightness
		if legScore < score {
			score = legScore
		}
	}
	return util.Clamp01(score)
}

// ivRVRatio computes implied-over-realized volatility for a snapshot using
// the average leg IV and the trailing realized vol. Nil when either side is
// unavailable; a history series on the wrong price scale is reported to the
// sink and excluded rather than used.
func ivRVRatio(ctx *ScanContext, snap *chain.Snapshot, legs []Leg) *float64 {
	if snap == nil {
		return nil
	}
	ivSum, ivN := 0.0, 0
	for _, l := range legs {
		if l.Contract != nil && l.Contract.IV != nil && *l.Contract.IV > 0 {
			ivSum += *l.Contract.IV
			ivN++
		}
	}
	if ivN == 0 {
		return nil
	}
	iv := ivSum / float64(ivN)

	closes, usable, rescaled := quant.ReconcileHistoryScale(snap.CloseHistory, snap.Underlying, quant.HistoryScaleTolerance)
	if !usable {
		if len(snap.CloseHistory) > 0 {
			ctx.Warnings.Addf("%s %s: close history scale mismatch, excluded from IV/RV", snap.Symbol, snap.Expiration)
		}
		return nil
	}
	if rescaled {
		ctx.Warnings.Addf("%s %s: close history rescaled to match spot", snap.Symbol, snap.Expiration)
	}
	rv, ok := quant.RealizedVol(closes, rvWindow)
	if !ok || rv <= 0 {
		return nil
	}
	ratio := iv / rv
	return &ratio
}

// finiteOrNil coerces a non-finite metric to nil and records a warning.
// Non-finite values are never coerced to zero.
func finiteOrNil(ctx *ScanContext, label string, v float64) *float64 {
	if !util.IsFinite(v) {
		ctx.Warnings.Addf("non-finite %s coerced to null", label)
		return nil
	}
	return &v
}

// hardLiquidityReasons applies the per-leg hard gates at hardGateFraction of
// the policy floors. These exclude only clearly illiquid structures.
func hardLiquidityReasons(p policy.Policy, t *Trade) []string {
	var reasons []string
	if floor := p.MinOpenInterest * hardGateFraction; floor > 0 && float64(t.OpenInterest) < floor {
		reasons = append(reasons, fmt.Sprintf("open interest %d below hard floor %.0f", t.OpenInterest, floor))
	}
	if floor := p.MinVolume * hardGateFraction; floor > 0 && float64(t.Volume) < floor {
		reasons = append(reasons, fmt.Sprintf("volume %d below hard floor %.0f", t.Volume, floor))
	}
	return reasons
}

// policyReasons applies the shared policy-sourced floors. selling controls
// which side of the IV/RV gate applies: premium sellers want rich IV,
// premium buyers want cheap IV.
func policyReasons(p policy.Policy, t *Trade, selling bool) []string {
	var reasons []string
	if t.Liquidity < p.MinLiquidity {
		reasons = append(reasons, fmt.Sprintf("liquidity score %.2f below minimum %.2f", t.Liquidity, p.MinLiquidity))
	}
	if p.MaxBidAskPct > 0 && t.BidAskPct > p.MaxBidAskPct {
		reasons = append(reasons, fmt.Sprintf("bid-ask spread %.1f%% above maximum %.1f%%", t.BidAskPct*100, p.MaxBidAskPct*100))
	}
	if t.ReturnOnRisk != nil && *t.ReturnOnRisk < p.MinReturnOnRisk {
		reasons = append(reasons, fmt.Sprintf("return on risk %.3f below minimum %.3f", *t.ReturnOnRisk, p.MinReturnOnRisk))
	}
	if p.MinPOP > 0 && t.POP != nil && *t.POP < p.MinPOP {
		reasons = append(reasons, fmt.Sprintf("probability of profit %.2f below minimum %.2f", *t.POP, p.MinPOP))
	}
	if t.IVRVRatio != nil {
		if selling && p.MinIVRVSell > 0 && *t.IVRVRatio < p.MinIVRVSell {
			reasons = append(reasons, fmt.Sprintf("IV/RV %.2f below selling minimum %.2f", *t.IVRVRatio, p.MinIVRVSell))
		}
		if !selling && p.MaxIVRVBuy > 0 && *t.IVRVRatio > p.MaxIVRVBuy {
			reasons = append(reasons, fmt.Sprintf("IV/RV %.2f above buying maximum %.2f", *t.IVRVRatio, p.MaxIVRVBuy))
		}
	}
	return reasons
}

// strikesOf collects the strikes of legs on one side, in leg order.
func strikesOf(legs []Leg, side LegSide) []float64 {
	var out []float64
	for _, l := range legs {
		if l.Side == side && l.Contract != nil {
			out = append(out, l.Contract.Strike)
		}
	}
	return out
}

// legDelta returns a leg's signed delta, or nil when the greek is absent.
func legDelta(l Leg) *float64 {
	if l.Contract == nil {
		return nil
	}
	return l.Contract.Delta
}

// deltaFit scores how close a leg's |delta| lands to the target, 1 at the
// target decaying linearly to 0 at the edge of twice the band.
func deltaFit(l Leg, target, band float64) float64 {
	d := legDelta(l)
	if d == nil || band <= 0 {
		return 0.5 // no information either way
	}
	return util.Clamp01(1 - math.Abs(math.Abs(*d)-target)/(2*band))
}

// baseTrade fills the identity and liquidity fields shared by every
// strategy's enrichment.
func baseTrade(ctx *ScanContext, c Candidate) *Trade {
	oi, vol := worstLegStats(c.Legs)
	t := &Trade{
		Underlying:   c.Snapshot.Symbol,
		Expiration:   c.Snapshot.Expiration,
		StrategyID:   c.StrategyID,
		DTE:          c.Snapshot.DTE,
		Spot:         c.Snapshot.Underlying,
		ShortStrikes: strikesOf(c.Legs, SideShort),
		LongStrikes:  strikesOf(c.Legs, SideLong),
		Liquidity:    liquidityScore(ctx.Policy, c.Legs),
		BidAskPct:    worstBidAskPct(c.Legs),
		OpenInterest: oi,
		Volume:       vol,
		IVRVRatio:    ivRVRatio(ctx, c.Snapshot, c.Legs),
	}
	t.Key = TradeKey{
		Underlying:   t.Underlying,
		Expiration:   t.Expiration,
		StrategyID:   t.StrategyID,
		ShortStrikes: t.ShortStrikes,
		LongStrikes:  t.LongStrikes,
		DTE:          t.DTE,
	}
	return t
}

// snapshotSigma estimates the standard deviation of the underlying at
// expiration from the ATM IV, for normal-CDF probability models.
// Returns 0 when no IV is available.
func snapshotSigma(snap *chain.Snapshot) float64 {
	iv := snap.ATMIV()
	if iv == nil || *iv <= 0 {
		return 0
	}
	return quant.ExpectedMove(snap.Underlying, *iv, snap.DTE)
}

// inDTEWindow filters snapshots to the policy DTE window.
func inDTEWindow(p policy.Policy, snap *chain.Snapshot) bool {
	return snap.DTE >= p.DTEMin && snap.DTE <= p.DTEMax
}
