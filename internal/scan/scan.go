// Package scan drives the pipeline: fetch chain snapshots, run every
// requested strategy's build/enrich/evaluate/score stages, relax filters
// when too few trades survive, and rank the survivors into one report.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/policy"
	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/strategy"
)

// DefaultConcurrency bounds parallel snapshot fetches when the caller does
// not configure a limit.
const DefaultConcurrency = 4

// Request describes one scan: which symbols and strategies to cover, plus
// optional per-strategy policy requests keyed by strategy ID.
type Request struct {
	Symbols []string
	// Strategies to run; empty means every registered strategy.
	Strategies []string
	// Expirations pins specific expirations per symbol; symbols absent
	// from the map scan every expiration the provider lists.
	Expirations map[string][]string
	// PolicyRequests carries per-strategy overrides, keyed by strategy ID.
	PolicyRequests map[string]*policy.Request
}

// SymbolCounts is one underlying's slice of a strategy funnel.
type SymbolCounts struct {
	Candidates    int `json:"candidates"`
	QuoteRejected int `json:"quote_rejected"`
	Evaluated     int `json:"evaluated"`
	Accepted      int `json:"accepted"`
}

// Funnel is the per-strategy diagnostic trail: how many structures entered
// each stage and where they fell out, in total and per underlying.
type Funnel struct {
	StrategyID    string `json:"strategy_id"`
	Candidates    int    `json:"candidates"`
	QuoteRejected int    `json:"quote_rejected"`
	Evaluated     int    `json:"evaluated"`
	Accepted      int    `json:"accepted"`

	BySymbol map[string]SymbolCounts `json:"by_symbol,omitempty"`

	RelaxationState  relax.State   `json:"relaxation_state"`
	RelaxationEvents []relax.Event `json:"relaxation_events,omitempty"`
}

// Stats aggregates the funnel across strategies, plus headline figures over
// the accepted trades. The averages are nil when no accepted trade carries
// the metric, never zeroed.
type Stats struct {
	Symbols       int `json:"symbols"`
	Snapshots     int `json:"snapshots"`
	Candidates    int `json:"candidates"`
	QuoteRejected int `json:"quote_rejected"`
	Evaluated     int `json:"evaluated"`
	Accepted      int `json:"accepted"`

	AvgRankScore    *float64 `json:"avg_rank_score,omitempty"`
	AvgPOP          *float64 `json:"avg_pop,omitempty"`
	AvgReturnOnRisk *float64 `json:"avg_return_on_risk,omitempty"`
	// BestUnderlying is the underlying of the top-ranked trade.
	BestUnderlying string `json:"best_underlying,omitempty"`
}

// Report is one scan's complete output: the ranked accepted trades plus
// everything needed to audit why the rest fell out.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Symbols     []string  `json:"symbols"`

	Stats    Stats             `json:"stats"`
	Trades   []*strategy.Trade `json:"trades"`
	Rejected []*strategy.Trade `json:"rejected,omitempty"`
	Funnels  []Funnel          `json:"funnels"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Orchestrator wires the provider, policy resolver, and strategy registry
// into a reusable scan runner. Safe for concurrent Run calls: it holds no
// per-scan state.
type Orchestrator struct {
	provider    chain.Provider
	resolver    *policy.Resolver
	registry    map[string]strategy.Strategy
	logger      *logrus.Logger
	concurrency int
}

// New builds an orchestrator over the given provider and portfolio risk
// policy. concurrency bounds parallel snapshot fetches; values below one
// fall back to DefaultConcurrency.
func New(provider chain.Provider, risk policy.RiskPolicy, logger *logrus.Logger, concurrency int) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		provider:    provider,
		resolver:    policy.NewResolver(risk),
		registry:    strategy.Registry(),
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run executes one scan. Missing snapshots are skipped with a warning;
// other provider errors abort the scan.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	if len(req.Symbols) == 0 {
		return nil, errors.New("scan request has no symbols")
	}
	strategies, err := o.selectStrategies(req.Strategies)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		Symbols:     append([]string(nil), req.Symbols...),
	}

	snapshots, warnings, err := o.fetchSnapshots(ctx, req)
	if err != nil {
		return nil, err
	}
	report.Warnings = append(report.Warnings, warnings...)
	report.Stats.Symbols = len(req.Symbols)
	report.Stats.Snapshots = len(snapshots)

	o.logger.WithFields(logrus.Fields{
		"scan_id":    report.ID,
		"symbols":    len(req.Symbols),
		"snapshots":  len(snapshots),
		"strategies": len(strategies),
	}).Info("Scan started")

	var accepted []*strategy.Trade
	for _, id := range strategies {
		funnel, trades, err := o.runStrategy(report.ID, id, req.PolicyRequests[id], snapshots, report)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}
		report.Funnels = append(report.Funnels, funnel)
		report.Stats.Candidates += funnel.Candidates
		report.Stats.QuoteRejected += funnel.QuoteRejected
		report.Stats.Evaluated += funnel.Evaluated
		report.Stats.Accepted += funnel.Accepted
		accepted = append(accepted, trades...)
	}

	Rank(accepted)
	report.Trades = accepted
	aggregateStats(&report.Stats, accepted)

	o.logger.WithFields(logrus.Fields{
		"scan_id":  report.ID,
		"accepted": len(accepted),
		"rejected": len(report.Rejected),
		"warnings": len(report.Warnings),
	}).Info("Scan finished")
	return report, nil
}

// aggregateStats fills the headline figures over the ranked accepted trades.
// Each average covers only the trades that carry the metric; a calendar's
// nil POP does not drag an average toward zero.
func aggregateStats(stats *Stats, ranked []*strategy.Trade) {
	if len(ranked) == 0 {
		return
	}
	stats.BestUnderlying = ranked[0].Underlying

	scoreSum := 0.0
	popSum, popN := 0.0, 0
	rorSum, rorN := 0.0, 0
	for _, t := range ranked {
		scoreSum += t.RankScore
		if t.POP != nil {
			popSum += *t.POP
			popN++
		}
		if t.ReturnOnRisk != nil {
			rorSum += *t.ReturnOnRisk
			rorN++
		}
	}
	avgScore := scoreSum / float64(len(ranked))
	stats.AvgRankScore = &avgScore
	if popN > 0 {
		avg := popSum / float64(popN)
		stats.AvgPOP = &avg
	}
	if rorN > 0 {
		avg := rorSum / float64(rorN)
		stats.AvgReturnOnRisk = &avg
	}
}

// selectStrategies validates the requested strategy IDs, defaulting to the
// full registry in its fixed order.
func (o *Orchestrator) selectStrategies(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return policy.StrategyIDs, nil
	}
	for _, id := range requested {
		if _, ok := o.registry[id]; !ok {
			return nil, fmt.Errorf("unknown strategy %q", id)
		}
	}
	return requested, nil
}

// fetchSnapshots resolves every (symbol, expiration) pair and pulls its
// snapshot with bounded parallelism. The result is sorted by symbol then
// expiration so downstream stages see a deterministic order.
func (o *Orchestrator) fetchSnapshots(ctx context.Context, req Request) ([]*chain.Snapshot, []string, error) {
	type pair struct{ symbol, expiration string }
	var pairs []pair
	for _, sym := range req.Symbols {
		expirations := req.Expirations[sym]
		if len(expirations) == 0 {
			listed, err := o.provider.GetExpirations(ctx, sym)
			if err != nil {
				return nil, nil, fmt.Errorf("listing expirations for %s: %w", sym, err)
			}
			expirations = listed
		}
		for _, exp := range expirations {
			pairs = append(pairs, pair{symbol: sym, expiration: exp})
		}
	}

	snapshots := make([]*chain.Snapshot, len(pairs))
	missing := make([]string, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, pr := range pairs {
		i, pr := i, pr
		g.Go(func() error {
			snap, err := o.provider.GetSnapshot(gctx, pr.symbol, pr.expiration)
			if errors.Is(err, chain.ErrSnapshotNotFound) {
				missing[i] = fmt.Sprintf("%s %s: no snapshot", pr.symbol, pr.expiration)
				return nil
			}
			if err != nil {
				return fmt.Errorf("snapshot %s %s: %w", pr.symbol, pr.expiration, err)
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var out []*chain.Snapshot
	var warnings []string
	for i, snap := range snapshots {
		if snap != nil {
			out = append(out, snap)
		}
		if missing[i] != "" {
			warnings = append(warnings, missing[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Expiration < out[j].Expiration
	})
	return out, warnings, nil
}

// runStrategy drives one strategy through the full pipeline. Build and
// enrich run once; evaluate and score re-run under each relaxation step on
// the already-enriched trades.
func (o *Orchestrator) runStrategy(scanID, id string, polReq *policy.Request, snapshots []*chain.Snapshot, report *Report) (Funnel, []*strategy.Trade, error) {
	s := o.registry[id]
	base, err := o.resolver.Resolve(id, polReq)
	if err != nil {
		return Funnel{}, nil, err
	}

	sctx := strategy.NewScanContext(base, polReq)
	candidates := s.BuildCandidates(sctx, snapshots)
	trades := s.Enrich(sctx, candidates)

	funnel := Funnel{StrategyID: id, Candidates: len(candidates)}
	bySymbol := make(map[string]SymbolCounts)
	for _, c := range candidates {
		sc := bySymbol[c.Snapshot.Symbol]
		sc.Candidates++
		bySymbol[c.Snapshot.Symbol] = sc
	}

	var priceable []*strategy.Trade
	for _, t := range trades {
		sc := bySymbol[t.Underlying]
		if t.Priceable() {
			priceable = append(priceable, t)
			sc.Evaluated++
		} else {
			funnel.QuoteRejected++
			sc.QuoteRejected++
			report.Rejected = append(report.Rejected, t)
		}
		bySymbol[t.Underlying] = sc
	}
	funnel.Evaluated = len(priceable)

	// The relaxation controller only counts; trade records are finalized
	// once under the terminal policy below.
	evalCount := func(p policy.Policy) int {
		ectx := sctx.WithPolicy(p)
		n := 0
		for _, t := range priceable {
			if ok, _ := s.Evaluate(ectx, t); ok {
				n++
			}
		}
		return n
	}
	result := relax.Run(base, base.MinResults, s.RelaxationPlan(base), evalCount)
	funnel.RelaxationState = result.State
	funnel.RelaxationEvents = result.Events

	fctx := sctx.WithPolicy(result.Policy)
	var accepted []*strategy.Trade
	for _, t := range priceable {
		ok, reasons := s.Evaluate(fctx, t)
		t.Accepted = ok
		t.Reasons = reasons
		if !ok {
			report.Rejected = append(report.Rejected, t)
			continue
		}
		t.RankScore, t.TieBreaks = s.Score(fctx, t)
		accepted = append(accepted, t)
		sc := bySymbol[t.Underlying]
		sc.Accepted++
		bySymbol[t.Underlying] = sc
	}
	funnel.Accepted = len(accepted)
	if len(bySymbol) > 0 {
		funnel.BySymbol = bySymbol
	}

	for _, w := range sctx.Warnings.All() {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", id, w))
	}

	o.logger.WithFields(logrus.Fields{
		"scan_id":    scanID,
		"strategy":   id,
		"candidates": funnel.Candidates,
		"accepted":   funnel.Accepted,
		"relaxation": string(result.State),
		"steps":      len(result.Events),
	}).Debug("Strategy pass complete")

	return funnel, accepted, nil
}
