// Package relax implements the adaptive filter-relaxation controller: when
// too few trades survive gating, it applies a strategy's ordered plan of
// loosening steps to the policy until the minimum result count is reached or
// the plan is exhausted, emitting one auditable event per step taken.
package relax

import "github.com/mwhitfield/spreadscan/internal/policy"

// Category tags classify relaxation steps. Plans loosen liquidity first,
// then return/edge, then strike distance.
type Category string

const (
	// CategoryLiquidity loosens open-interest, volume, and spread floors.
	CategoryLiquidity Category = "liquidity"
	// CategoryReturn loosens return-on-risk, probability, and premium floors.
	CategoryReturn Category = "return"
	// CategoryDistance loosens strike-distance and width constraints.
	CategoryDistance Category = "distance"
)

// Step is one immutable filter-loosening step. Applying it shallow-merges
// its overrides into the current policy.
type Step struct {
	Name      string             `json:"name"`
	Category  Category           `json:"category"`
	Overrides map[string]float64 `json:"overrides"`
	Rationale string             `json:"rationale"`
}

// Plan is a strategy's ordered list of relaxation steps.
type Plan struct {
	Steps []Step `json:"steps"`
}

// State labels where the controller finished.
type State string

const (
	// StateSatisfied means the minimum result count was reached, possibly
	// without applying any step.
	StateSatisfied State = "satisfied"
	// StateExhausted means the plan ran out with the count still short.
	// This is a "filters too strict" diagnostic, not an error.
	StateExhausted State = "exhausted"
)

// Event records one applied relaxation step for the scan diagnostics.
type Event struct {
	Step      string   `json:"step"`
	Category  Category `json:"category"`
	PrevCount int      `json:"prev_count"`
	NewCount  int      `json:"new_count"`
	Rationale string   `json:"rationale"`
}

// EvalFunc re-runs evaluate+score over the already-enriched trade set under
// a candidate policy and returns the accepted count. The controller never
// touches trades directly; the owner of the pipeline supplies this closure.
type EvalFunc func(p policy.Policy) int

// Result is the controller's outcome: the policy in effect at the end, the
// events emitted along the way, the final accepted count, and the terminal
// state.
type Result struct {
	Policy policy.Policy
	Events []Event
	Count  int
	State  State
}

// Run drives the relaxation state machine. The initial evaluation uses the
// base policy; while the accepted count is short of minResults and steps
// remain, the next step's overrides are merged and evaluation re-runs.
func Run(base policy.Policy, minResults int, plan Plan, eval EvalFunc) Result {
	current := base
	count := eval(current)

	res := Result{Policy: current, Count: count, State: StateSatisfied}
	if count >= minResults {
		return res
	}

	for _, step := range plan.Steps {
		next := current.With(step.Overrides)
		newCount := eval(next)
		res.Events = append(res.Events, Event{
			Step:      step.Name,
			Category:  step.Category,
			PrevCount: count,
			NewCount:  newCount,
			Rationale: step.Rationale,
		})
		current, count = next, newCount
		if count >= minResults {
			res.Policy, res.Count = current, count
			return res
		}
	}

	res.Policy, res.Count, res.State = current, count, StateExhausted
	return res
}
