package scan

import (
	"context"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/strategy"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// stubProvider serves fixed snapshots keyed by "symbol|expiration".
type stubProvider struct {
	snapshots   map[string]*chain.Snapshot
	expirations map[string][]string
}

var _ chain.Provider = (*stubProvider)(nil)

func (p *stubProvider) GetSnapshot(_ context.Context, symbol, expiration string) (*chain.Snapshot, error) {
	snap, ok := p.snapshots[symbol+"|"+expiration]
	if !ok {
		return nil, chain.ErrSnapshotNotFound
	}
	return snap, nil
}

func (p *stubProvider) GetExpirations(_ context.Context, symbol string) ([]string, error) {
	return p.expirations[symbol], nil
}

func spreadSnapshot() *chain.Snapshot {
	shortPut := chain.OptionContract{
		Underlying: "SPY", OptionType: chain.OptionTypePut, Strike: 655,
		Bid: f64(1.50), Ask: f64(1.52), Delta: f64(-0.20), IV: f64(0.22),
		OpenInterest: i64(1200), Volume: i64(340),
	}
	longPut := chain.OptionContract{
		Underlying: "SPY", OptionType: chain.OptionTypePut, Strike: 650,
		Bid: f64(0.90), Ask: f64(0.95), Delta: f64(-0.16), IV: f64(0.23),
		OpenInterest: i64(800), Volume: i64(150),
	}
	return &chain.Snapshot{
		Symbol:     "SPY",
		Expiration: "2026-01-16",
		DTE:        30,
		Underlying: 681.30,
		Contracts:  []chain.OptionContract{shortPut, longPut},
	}
}

func testProvider() *stubProvider {
	return &stubProvider{
		snapshots:   map[string]*chain.Snapshot{"SPY|2026-01-16": spreadSnapshot()},
		expirations: map[string][]string{"SPY": {"2026-01-16"}},
	}
}

func TestOrchestratorRun(t *testing.T) {
	o := New(testProvider(), nil, quietLogger(), 2)

	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{policy.StrategyCreditSpread},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ID == "" {
		t.Error("report has no ID")
	}
	if report.Stats.Snapshots != 1 {
		t.Errorf("snapshots = %d, want 1", report.Stats.Snapshots)
	}
	if len(report.Trades) != 1 {
		t.Fatalf("accepted trades = %d, want 1", len(report.Trades))
	}
	tr := report.Trades[0]
	if !tr.Accepted {
		t.Error("ranked trade not marked accepted")
	}
	if tr.Credit == nil || *tr.Credit != 0.55 {
		t.Errorf("credit = %v, want 0.55", tr.Credit)
	}
	if len(report.Funnels) != 1 {
		t.Fatalf("funnels = %d, want 1", len(report.Funnels))
	}
	f := report.Funnels[0]
	if f.StrategyID != policy.StrategyCreditSpread || f.Candidates != 1 || f.Accepted != 1 {
		t.Errorf("funnel = %+v", f)
	}
}

func TestOrchestratorStatsAggregates(t *testing.T) {
	o := New(testProvider(), nil, quietLogger(), 2)

	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{policy.StrategyCreditSpread},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Trades) != 1 {
		t.Fatalf("accepted trades = %d, want 1", len(report.Trades))
	}
	tr := report.Trades[0]

	stats := report.Stats
	if stats.BestUnderlying != "SPY" {
		t.Errorf("best underlying = %q, want SPY", stats.BestUnderlying)
	}
	if stats.AvgRankScore == nil || *stats.AvgRankScore != tr.RankScore {
		t.Errorf("avg rank score = %v, want %v", stats.AvgRankScore, tr.RankScore)
	}
	// Single accepted spread: the averages equal its own metrics.
	if stats.AvgPOP == nil || math.Abs(*stats.AvgPOP-0.80) > 1e-9 {
		t.Errorf("avg pop = %v, want 0.80", stats.AvgPOP)
	}
	wantROR := 0.55 / 4.45
	if stats.AvgReturnOnRisk == nil || math.Abs(*stats.AvgReturnOnRisk-wantROR) > 1e-9 {
		t.Errorf("avg return on risk = %v, want %v", stats.AvgReturnOnRisk, wantROR)
	}
}

func TestOrchestratorStatsEmptyScanLeavesAveragesNil(t *testing.T) {
	o := New(testProvider(), nil, quietLogger(), 2)

	// An impossible credit floor rejects the only trade.
	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{policy.StrategyCreditSpread},
		PolicyRequests: map[string]*policy.Request{
			policy.StrategyCreditSpread: {Overrides: map[string]float64{policy.KeyMinCredit: 50}},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := report.Stats
	if stats.AvgRankScore != nil || stats.AvgPOP != nil || stats.AvgReturnOnRisk != nil {
		t.Errorf("averages = %v/%v/%v, want all nil", stats.AvgRankScore, stats.AvgPOP, stats.AvgReturnOnRisk)
	}
	if stats.BestUnderlying != "" {
		t.Errorf("best underlying = %q, want empty", stats.BestUnderlying)
	}
}

func TestOrchestratorPerSymbolFunnel(t *testing.T) {
	// QQQ carries the same structure with an inverted short-leg quote, so
	// its candidate dies at pricing while SPY's is accepted.
	qqq := spreadSnapshot()
	qqq.Symbol = "QQQ"
	for i := range qqq.Contracts {
		qqq.Contracts[i].Underlying = "QQQ"
	}
	*qqq.Contracts[0].Bid, *qqq.Contracts[0].Ask = 1.52, 1.50

	p := testProvider()
	p.snapshots["QQQ|2026-01-16"] = qqq
	p.expirations["QQQ"] = []string{"2026-01-16"}

	o := New(p, nil, quietLogger(), 2)
	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY", "QQQ"},
		Strategies: []string{policy.StrategyCreditSpread},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	f := report.Funnels[0]
	if len(f.BySymbol) != 2 {
		t.Fatalf("by-symbol entries = %d, want 2 (%+v)", len(f.BySymbol), f.BySymbol)
	}
	spy := f.BySymbol["SPY"]
	if spy.Candidates != 1 || spy.Evaluated != 1 || spy.Accepted != 1 || spy.QuoteRejected != 0 {
		t.Errorf("SPY counts = %+v", spy)
	}
	qqqCounts := f.BySymbol["QQQ"]
	if qqqCounts.Candidates != 1 || qqqCounts.QuoteRejected != 1 || qqqCounts.Evaluated != 0 || qqqCounts.Accepted != 0 {
		t.Errorf("QQQ counts = %+v", qqqCounts)
	}

	// The totals stay consistent with the breakdown.
	if f.Candidates != 2 || f.QuoteRejected != 1 || f.Accepted != 1 {
		t.Errorf("funnel totals = %+v", f)
	}
	if report.Stats.BestUnderlying != "SPY" {
		t.Errorf("best underlying = %q, want SPY", report.Stats.BestUnderlying)
	}
}

func TestOrchestratorMissingSnapshotIsWarning(t *testing.T) {
	p := testProvider()
	p.expirations["SPY"] = []string{"2026-01-16", "2026-02-20"} // second has no data

	o := New(p, nil, quietLogger(), 2)
	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{policy.StrategyCreditSpread},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Stats.Snapshots != 1 {
		t.Errorf("snapshots = %d, want 1", report.Stats.Snapshots)
	}
	if len(report.Warnings) == 0 {
		t.Error("missing snapshot produced no warning")
	}
}

func TestOrchestratorUnknownStrategy(t *testing.T) {
	o := New(testProvider(), nil, quietLogger(), 2)
	if _, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{"covered_straddle"},
	}); err == nil {
		t.Fatal("unknown strategy accepted")
	}
}

func TestOrchestratorRelaxationExhausts(t *testing.T) {
	o := New(testProvider(), nil, quietLogger(), 2)

	// An impossible credit floor: every relaxation step still leaves it
	// far above the 0.55 on offer, so the plan must run out.
	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{policy.StrategyCreditSpread},
		PolicyRequests: map[string]*policy.Request{
			policy.StrategyCreditSpread: {Overrides: map[string]float64{policy.KeyMinCredit: 50}},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Trades) != 0 {
		t.Errorf("accepted = %d, want 0", len(report.Trades))
	}
	f := report.Funnels[0]
	if f.RelaxationState != relax.StateExhausted {
		t.Errorf("relaxation state = %q, want exhausted", f.RelaxationState)
	}
	if len(f.RelaxationEvents) == 0 {
		t.Error("exhausted relaxation recorded no events")
	}
	for _, ev := range f.RelaxationEvents {
		if ev.NewCount < ev.PrevCount {
			t.Errorf("step %q lost trades: %d -> %d", ev.Step, ev.PrevCount, ev.NewCount)
		}
	}
	// Rejected trades carry their reasons for the diagnostics surface.
	if len(report.Rejected) != 1 || len(report.Rejected[0].Reasons) == 0 {
		t.Errorf("rejected = %+v, want one trade with reasons", report.Rejected)
	}
}

func TestOrchestratorRelaxationSatisfiedByStep(t *testing.T) {
	o := New(testProvider(), nil, quietLogger(), 2)

	// A credit floor just above the 0.55 on offer: the loosen_return step
	// multiplies it by 0.75, bringing it under and satisfying the scan.
	report, err := o.Run(context.Background(), Request{
		Symbols:    []string{"SPY"},
		Strategies: []string{policy.StrategyCreditSpread},
		PolicyRequests: map[string]*policy.Request{
			policy.StrategyCreditSpread: {Overrides: map[string]float64{
				policy.KeyMinCredit:  0.60,
				policy.KeyMinResults: 1,
			}},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f := report.Funnels[0]
	if f.RelaxationState != relax.StateSatisfied {
		t.Fatalf("relaxation state = %q, want satisfied (events: %+v)", f.RelaxationState, f.RelaxationEvents)
	}
	if len(f.RelaxationEvents) == 0 {
		t.Fatal("satisfied without any step, want at least the liquidity step recorded")
	}
	if len(report.Trades) != 1 {
		t.Errorf("accepted = %d, want 1 after relaxation", len(report.Trades))
	}
}

func buildRankedTrade(score float64, ties ...float64) *strategy.Trade {
	tb := make(strategy.TieBreaks, len(ties))
	names := []string{"edge", "liquidity", "pop"}
	for i, v := range ties {
		tb[i] = strategy.TieBreak{Name: names[i%len(names)], Value: v}
	}
	return &strategy.Trade{RankScore: score, TieBreaks: tb}
}

func TestRankOrdersByScoreThenTieBreaks(t *testing.T) {
	a := buildRankedTrade(0.80, 0.3)
	b := buildRankedTrade(0.90, 0.1)
	c := buildRankedTrade(0.80, 0.5)
	d := buildRankedTrade(0.80, 0.5) // full tie with c: keeps input order

	trades := []*strategy.Trade{a, b, c, d}
	Rank(trades)

	want := []*strategy.Trade{b, c, d, a}
	for i := range want {
		if trades[i] != want[i] {
			t.Fatalf("position %d: got %+v, want %+v", i, trades[i], want[i])
		}
	}
}

func TestRankDeterministicUnderShuffle(t *testing.T) {
	base := []*strategy.Trade{
		buildRankedTrade(0.91, 0.2, 0.8),
		buildRankedTrade(0.85, 0.9, 0.1),
		buildRankedTrade(0.85, 0.9, 0.4),
		buildRankedTrade(0.85, 0.3, 0.4),
		buildRankedTrade(0.40, 0.3, 0.4),
		buildRankedTrade(0.40, 0.3, 0.4),
	}

	reference := append([]*strategy.Trade(nil), base...)
	Rank(reference)

	rng := rand.New(rand.NewSource(20260826))
	for trial := 0; trial < 50; trial++ {
		shuffled := append([]*strategy.Trade(nil), base...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		Rank(shuffled)
		for i := range reference {
			if shuffled[i].RankScore != reference[i].RankScore {
				t.Fatalf("trial %d: position %d score %v, want %v", trial, i, shuffled[i].RankScore, reference[i].RankScore)
			}
			for k := range reference[i].TieBreaks {
				if shuffled[i].TieBreaks[k].Value != reference[i].TieBreaks[k].Value {
					t.Fatalf("trial %d: position %d tie-break %d = %v, want %v",
						trial, i, k, shuffled[i].TieBreaks[k].Value, reference[i].TieBreaks[k].Value)
				}
			}
		}
	}
}
