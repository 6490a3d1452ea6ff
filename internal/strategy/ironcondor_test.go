package strategy

import (
	"math"
	"testing"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/quant"
)

func condorSnapshot() *chain.Snapshot {
	put85 := liquidContract(chain.OptionTypePut, 85, 0.35, 0.40)
	put90 := liquidContract(chain.OptionTypePut, 90, 0.60, 0.65)
	put95 := liquidContract(chain.OptionTypePut, 95, 1.00, 1.05)
	call105 := liquidContract(chain.OptionTypeCall, 105, 1.10, 1.15)
	call105.IV = f64(0.20)
	call110 := liquidContract(chain.OptionTypeCall, 110, 0.55, 0.60)
	call115 := liquidContract(chain.OptionTypeCall, 115, 0.30, 0.35)
	return &chain.Snapshot{
		Symbol:     "XYZ",
		Expiration: "2026-10-16",
		DTE:        40,
		Underlying: 100,
		Contracts:  []chain.OptionContract{put85, put90, put95, call105, call110, call115},
	}
}

func TestIronCondorBuildsSymmetricStructure(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyIronCondor)
	s := &IronCondor{}

	candidates := s.BuildCandidates(ctx, []*chain.Snapshot{condorSnapshot()})
	if len(candidates) == 0 {
		t.Fatal("no candidates built")
	}

	c := candidates[0]
	if len(c.Legs) != 4 {
		t.Fatalf("legs = %d, want 4", len(c.Legs))
	}
	wantRoles := []string{RolePutShort, RolePutLong, RoleCallShort, RoleCallLong}
	wantStrikes := []float64{95, 90, 105, 110}
	for i, leg := range c.Legs {
		if leg.Role != wantRoles[i] {
			t.Errorf("leg %d role = %q, want %q", i, leg.Role, wantRoles[i])
		}
		if leg.Contract.Strike != wantStrikes[i] {
			t.Errorf("leg %d strike = %v, want %v", i, leg.Contract.Strike, wantStrikes[i])
		}
	}

	// Shifted variants that collapse onto the same shorts must not repeat.
	seen := make(map[[2]float64]bool)
	for _, cand := range candidates {
		shorts := [2]float64{cand.Legs[0].Contract.Strike, cand.Legs[2].Contract.Strike}
		if seen[shorts] {
			t.Errorf("duplicate condor on shorts %v", shorts)
		}
		seen[shorts] = true
	}
}

func TestIronCondorEnrich(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyIronCondor)
	s := &IronCondor{}

	snap := condorSnapshot()
	candidates := s.BuildCandidates(ctx, []*chain.Snapshot{snap})
	trades := s.Enrich(ctx, candidates)
	tr := trades[0]
	if !tr.Priceable() {
		t.Fatalf("quote rejection %q, want none", tr.QuoteRejection)
	}

	// Shorts at the bid, longs at the ask: 1.00 + 1.10 - 0.65 - 0.60.
	if tr.Credit == nil || math.Abs(*tr.Credit-0.85) > 1e-9 {
		t.Fatalf("credit = %v, want 0.85", tr.Credit)
	}
	if tr.Width != 5 {
		t.Errorf("width = %v, want 5", tr.Width)
	}
	if tr.MaxLoss == nil || math.Abs(*tr.MaxLoss-4.15) > 1e-9 {
		t.Errorf("max loss = %v, want 4.15", tr.MaxLoss)
	}
	wantBE := []float64{94.15, 105.85}
	if len(tr.BreakEvens) != 2 ||
		math.Abs(tr.BreakEvens[0]-wantBE[0]) > 1e-9 ||
		math.Abs(tr.BreakEvens[1]-wantBE[1]) > 1e-9 {
		t.Errorf("break evens = %v, want %v", tr.BreakEvens, wantBE)
	}

	sigma := quant.ExpectedMove(100, 0.20, 40)
	wantPOP := quant.ProbBetween(94.15, 105.85, 100, sigma)
	if tr.POP == nil || math.Abs(*tr.POP-wantPOP) > 1e-9 {
		t.Errorf("pop = %v, want %v", tr.POP, wantPOP)
	}
}

func TestIronCondorSymmetryGate(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyIronCondor)
	s := &IronCondor{}

	// Only one call strike, far above the target: every variant pairs a
	// near put with a distant call and breaks the symmetry tolerance.
	call115 := liquidContract(chain.OptionTypeCall, 115, 0.30, 0.35)
	call115.IV = f64(0.20)
	snap := &chain.Snapshot{
		Symbol:     "XYZ",
		Expiration: "2026-10-16",
		DTE:        40,
		Underlying: 100,
		Contracts: []chain.OptionContract{
			liquidContract(chain.OptionTypePut, 85, 0.35, 0.40),
			liquidContract(chain.OptionTypePut, 90, 0.60, 0.65),
			liquidContract(chain.OptionTypePut, 95, 1.00, 1.05),
			call115,
		},
	}

	if got := s.BuildCandidates(ctx, []*chain.Snapshot{snap}); len(got) != 0 {
		t.Errorf("candidates = %d, want 0 for lopsided shorts", len(got))
	}
}

func TestIronCondorRelaxationLowersFloors(t *testing.T) {
	base, err := policy.Defaults(policy.StrategyIronCondor)
	if err != nil {
		t.Fatal(err)
	}
	plan := (&IronCondor{}).RelaxationPlan(base)

	relaxed := base
	for _, step := range plan.Steps {
		relaxed = relaxed.With(step.Overrides)
	}
	if relaxed.MinCredit >= base.MinCredit {
		t.Errorf("MinCredit not loosened: %v -> %v", base.MinCredit, relaxed.MinCredit)
	}
	if relaxed.MinPOP >= base.MinPOP {
		t.Errorf("MinPOP not loosened: %v -> %v", base.MinPOP, relaxed.MinPOP)
	}
	if relaxed.SymmetryTol <= base.SymmetryTol {
		t.Errorf("SymmetryTol not loosened: %v -> %v", base.SymmetryTol, relaxed.SymmetryTol)
	}
}
