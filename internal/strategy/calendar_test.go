package strategy

import (
	"math"
	"testing"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
)

func calendarSnapshots() []*chain.Snapshot {
	nearCall := liquidContract(chain.OptionTypeCall, 50, 1.00, 1.10)
	nearCall.IV = f64(0.32)
	farCall := liquidContract(chain.OptionTypeCall, 50, 1.90, 2.00)
	farCall.IV = f64(0.24)
	near := &chain.Snapshot{
		Symbol:     "XYZ",
		Expiration: "2026-09-04",
		DTE:        10,
		Underlying: 50,
		Contracts:  []chain.OptionContract{nearCall},
	}
	far := &chain.Snapshot{
		Symbol:     "XYZ",
		Expiration: "2026-10-16",
		DTE:        40,
		Underlying: 50,
		Contracts:  []chain.OptionContract{farCall},
	}
	return []*chain.Snapshot{near, far}
}

func TestCalendarPipeline(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyCalendar)
	s := &Calendar{}

	candidates := s.BuildCandidates(ctx, calendarSnapshots())
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	c := candidates[0]
	if c.Legs[0].Role != RoleNearShort || c.Legs[1].Role != RoleFarLong {
		t.Fatalf("roles = %q/%q, want near_short/far_long", c.Legs[0].Role, c.Legs[1].Role)
	}
	if c.Legs[0].Snapshot.DTE != 10 || c.Legs[1].Snapshot.DTE != 40 {
		t.Errorf("leg DTEs = %d/%d, want 10/40", c.Legs[0].Snapshot.DTE, c.Legs[1].Snapshot.DTE)
	}

	tr := s.Enrich(ctx, candidates)[0]
	if !tr.Priceable() {
		t.Fatalf("quote rejection %q, want none", tr.QuoteRejection)
	}
	// Sell the near at the 1.00 bid, buy the far at the 2.00 ask.
	if tr.Debit == nil || math.Abs(*tr.Debit-1.00) > 1e-9 {
		t.Fatalf("debit = %v, want 1.00", tr.Debit)
	}
	if tr.MaxLoss == nil || math.Abs(*tr.MaxLoss-1.00) > 1e-9 {
		t.Errorf("max loss = %v, want the debit", tr.MaxLoss)
	}
	if tr.NearExpiration != "2026-09-04" {
		t.Errorf("near expiration = %q, want 2026-09-04", tr.NearExpiration)
	}
	if tr.Expiration != "2026-10-16" {
		t.Errorf("expiration = %q, want the far leg's 2026-10-16", tr.Expiration)
	}

	// No closed-form payoff at the near expiration: POP and EV stay null.
	if tr.POP != nil || tr.EV != nil {
		t.Errorf("pop = %v, ev = %v, want both nil", tr.POP, tr.EV)
	}

	accepted, reasons := s.Evaluate(ctx, tr)
	if !accepted {
		t.Fatalf("trade rejected: %v", reasons)
	}
}

func TestCalendarTermStructureInScore(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyCalendar)
	s := &Calendar{}

	trades := s.Enrich(ctx, s.BuildCandidates(ctx, calendarSnapshots()))
	rich := trades[0]
	if rich.NearATMIV == nil || rich.FarATMIV == nil {
		t.Fatal("ATM IVs not captured from the two snapshots")
	}

	flat := *rich
	flat.NearATMIV = f64(0.20)
	flat.FarATMIV = f64(0.24)

	richScore, _ := s.Score(ctx, rich)
	flatScore, _ := s.Score(ctx, &flat)
	if richScore <= flatScore {
		t.Errorf("inverted term structure must outscore flat: %.3f vs %.3f", richScore, flatScore)
	}
}

func TestCalendarSkipsStrikesOutsideMoneynessBand(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyCalendar)
	s := &Calendar{}

	snaps := calendarSnapshots()
	// Only strike on both chains sits 10% from spot; band default is 3%.
	for _, snap := range snaps {
		snap.Contracts[0].Strike = 55
	}

	if got := s.BuildCandidates(ctx, snaps); len(got) != 0 {
		t.Errorf("candidates = %d, want 0 outside the moneyness band", len(got))
	}
}

func TestCalendarRequiresMatchingStrike(t *testing.T) {
	ctx := defaultContext(t, policy.StrategyCalendar)
	s := &Calendar{}

	snaps := calendarSnapshots()
	snaps[0].Contracts[0].Strike = 50.5 // near chain misses the far 50 strike

	if got := s.BuildCandidates(ctx, snaps); len(got) != 0 {
		t.Errorf("candidates = %d, want 0 without a shared strike", len(got))
	}
}
