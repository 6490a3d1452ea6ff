// Package strategy implements the six scan strategies behind one shared
// contract: build candidates from chain snapshots, enrich them into trades,
// evaluate policy gates, and score survivors. Strategies are stateless;
// everything they need arrives through the ScanContext.
package strategy

import (
	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/relax"
)

// Strategy is the shared contract every scan strategy implements.
//
// All four operations are pure functions of their inputs: they never mutate
// the ScanContext or any shared state, so they are safe to run concurrently
// across snapshots. Evaluate must be idempotent - calling it twice on the
// same trade yields the same result.
type Strategy interface {
	// ID returns the strategy's registry identifier.
	ID() string

	// BuildCandidates selects leg combinations from the snapshots using the
	// strategy's heuristics, capped at the policy's MaxCandidates.
	BuildCandidates(ctx *ScanContext, snapshots []*chain.Snapshot) []Candidate

	// Enrich prices candidates into trades. Candidates with degenerate
	// quotes come back with a QuoteRejection code set; they are excluded
	// from evaluation but kept for funnel diagnostics.
	Enrich(ctx *ScanContext, candidates []Candidate) []*Trade

	// Evaluate applies the strategy's hard gates plus policy floors and
	// returns accepted together with every failing reason, not just the first.
	Evaluate(ctx *ScanContext, trade *Trade) (bool, []string)

	// Score computes the bounded [0,1] rank score and the ordered tie-break
	// values used when rank scores are equal.
	Score(ctx *ScanContext, trade *Trade) (float64, TieBreaks)

	// RelaxationPlan returns the strategy's ordered filter-loosening steps,
	// with override values derived from the given base policy.
	RelaxationPlan(base policy.Policy) relax.Plan
}

// Registry returns the fixed strategy table keyed by strategy ID.
func Registry() map[string]Strategy {
	return map[string]Strategy{
		policy.StrategyCreditSpread: &CreditSpread{},
		policy.StrategyDebitSpread:  &DebitSpread{},
		policy.StrategyIronCondor:   &IronCondor{},
		policy.StrategyCalendar:     &Calendar{},
		policy.StrategyButterfly:    &Butterfly{},
		policy.StrategyIncome:       &Income{},
	}
}
