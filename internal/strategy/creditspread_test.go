package strategy

import (
	"math"
	"testing"

	"github.com/mwhitfield/spreadscan/internal/chain"
)

// spreadSnapshot reproduces a put credit spread setup: spot 681.30, short
// put 655 at 1.50/1.52 with delta -0.20, long put 650 at 0.90/0.95.
func spreadSnapshot() *chain.Snapshot {
	shortPut := liquidContract(chain.OptionTypePut, 655, 1.50, 1.52)
	shortPut.Delta = f64(-0.20)
	shortPut.IV = f64(0.22)
	longPut := liquidContract(chain.OptionTypePut, 650, 0.90, 0.95)
	longPut.Delta = f64(-0.16)
	longPut.IV = f64(0.23)
	return &chain.Snapshot{
		Symbol:     "SPY",
		Expiration: "2026-01-16",
		DTE:        30,
		Underlying: 681.30,
		Contracts:  []chain.OptionContract{shortPut, longPut},
	}
}

func TestCreditSpreadPipeline(t *testing.T) {
	ctx := defaultContext(t, "credit_spread")
	s := &CreditSpread{}

	candidates := s.BuildCandidates(ctx, []*chain.Snapshot{spreadSnapshot()})
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	c := candidates[0]
	if c.Legs[0].Contract.Strike != 655 || c.Legs[1].Contract.Strike != 650 {
		t.Fatalf("legs at %v/%v, want short 655 long 650", c.Legs[0].Contract.Strike, c.Legs[1].Contract.Strike)
	}

	trades := s.Enrich(ctx, candidates)
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if !tr.Priceable() {
		t.Fatalf("quote rejection %q, want none", tr.QuoteRejection)
	}

	// Conservative cross: sell 655 at the 1.50 bid, buy 650 at the 0.95 ask.
	checks := []struct {
		name string
		got  *float64
		want float64
	}{
		{"credit", tr.Credit, 0.55},
		{"max profit", tr.MaxProfit, 0.55},
		{"max loss", tr.MaxLoss, 4.45},
		{"pop", tr.POP, 0.80},
		{"return on risk", tr.ReturnOnRisk, 0.55 / 4.45},
	}
	for _, ck := range checks {
		if ck.got == nil {
			t.Errorf("%s is nil, want %.4f", ck.name, ck.want)
			continue
		}
		if math.Abs(*ck.got-ck.want) > 1e-9 {
			t.Errorf("%s = %.6f, want %.6f", ck.name, *ck.got, ck.want)
		}
	}
	if tr.Width != 5.0 {
		t.Errorf("width = %v, want 5.0", tr.Width)
	}
	if len(tr.BreakEvens) != 1 || math.Abs(tr.BreakEvens[0]-654.45) > 1e-9 {
		t.Errorf("break evens = %v, want [654.45]", tr.BreakEvens)
	}
	if got := tr.Key.Encode(); got != "SPY:2026-01-16:credit_spread:655:650:30" {
		t.Errorf("key = %q", got)
	}

	accepted, reasons := s.Evaluate(ctx, tr)
	if !accepted {
		t.Fatalf("trade rejected: %v", reasons)
	}

	score, ties := s.Score(ctx, tr)
	if score <= 0 || score > 1 {
		t.Errorf("score = %v, want in (0,1]", score)
	}
	if len(ties) != 3 || ties[0].Name != "edge" {
		t.Errorf("tie breaks = %v, want edge first of three", ties)
	}
}

func TestCreditSpreadInvertedShortQuote(t *testing.T) {
	ctx := defaultContext(t, "credit_spread")
	s := &CreditSpread{}

	snap := spreadSnapshot()
	snap.Contracts[0].Ask = f64(1.40) // ask below the 1.50 bid

	trades := s.Enrich(ctx, s.BuildCandidates(ctx, []*chain.Snapshot{snap}))
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if tr.QuoteRejection != "ASK_LT_BID:short_leg" {
		t.Errorf("rejection = %q, want ASK_LT_BID:short_leg", tr.QuoteRejection)
	}
	if tr.Credit != nil || tr.POP != nil {
		t.Error("rejected trade must carry no metrics")
	}
}

func TestCreditSpreadNonPositiveCredit(t *testing.T) {
	ctx := defaultContext(t, "credit_spread")
	s := &CreditSpread{}

	snap := spreadSnapshot()
	// Long ask above the short bid: net is a debit.
	snap.Contracts[1].Bid = f64(1.60)
	snap.Contracts[1].Ask = f64(1.65)

	trades := s.Enrich(ctx, s.BuildCandidates(ctx, []*chain.Snapshot{snap}))
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if got := trades[0].QuoteRejection; got != "NONPOSITIVE_CREDIT" {
		t.Errorf("rejection = %q, want NONPOSITIVE_CREDIT", got)
	}
}

func TestCreditSpreadEvaluateIdempotent(t *testing.T) {
	ctx := defaultContext(t, "credit_spread")
	s := &CreditSpread{}

	trades := s.Enrich(ctx, s.BuildCandidates(ctx, []*chain.Snapshot{spreadSnapshot()}))
	tr := trades[0]

	first, firstReasons := s.Evaluate(ctx, tr)
	second, secondReasons := s.Evaluate(ctx, tr)
	if first != second || len(firstReasons) != len(secondReasons) {
		t.Errorf("evaluate not idempotent: (%v, %v) then (%v, %v)", first, firstReasons, second, secondReasons)
	}
}

func TestCreditSpreadDTEWindow(t *testing.T) {
	ctx := defaultContext(t, "credit_spread")
	s := &CreditSpread{}

	snap := spreadSnapshot()
	snap.DTE = 60 // outside the default 5-45 window

	if got := s.BuildCandidates(ctx, []*chain.Snapshot{snap}); len(got) != 0 {
		t.Errorf("candidates = %d, want 0 outside the DTE window", len(got))
	}
}

func TestCreditSpreadRejectsLowCredit(t *testing.T) {
	ctx := defaultContext(t, "credit_spread")
	s := &CreditSpread{}

	snap := spreadSnapshot()
	// Squeeze the credit under the 0.15 floor: 1.00 bid vs 0.95 long ask.
	snap.Contracts[0].Bid = f64(1.00)
	snap.Contracts[0].Ask = f64(1.02)

	trades := s.Enrich(ctx, s.BuildCandidates(ctx, []*chain.Snapshot{snap}))
	tr := trades[0]
	if !tr.Priceable() {
		t.Fatalf("unexpected quote rejection %q", tr.QuoteRejection)
	}
	accepted, reasons := s.Evaluate(ctx, tr)
	if accepted {
		t.Fatal("trade accepted, want credit floor rejection")
	}
	if len(reasons) == 0 {
		t.Fatal("no reasons reported")
	}
}
