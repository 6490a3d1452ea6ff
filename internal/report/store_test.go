package report

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/scan"
	"github.com/mwhitfield/spreadscan/internal/strategy"
)

func testReport(id string, accepted int, state relax.State) *scan.Report {
	trades := make([]*strategy.Trade, accepted)
	for i := range trades {
		trades[i] = &strategy.Trade{Accepted: true, RankScore: 0.5}
	}
	return &scan.Report{
		ID:          id,
		GeneratedAt: time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC),
		Symbols:     []string{"SPY"},
		Stats:       scan.Stats{Candidates: 10, Accepted: accepted},
		Trades:      trades,
		Funnels: []scan.Funnel{
			{StrategyID: "credit_spread", Candidates: 10, Accepted: accepted, RelaxationState: state},
		},
	}
}

func newTestStore(t *testing.T) (*JSONStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.json")
	s, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	return s, path
}

func TestStoreSaveAndRetrieve(t *testing.T) {
	s, _ := newTestStore(t)

	if s.Latest() != nil {
		t.Error("empty store returned a latest report")
	}

	if err := s.SaveReport(testReport("scan-1", 2, relax.StateSatisfied)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if err := s.SaveReport(testReport("scan-2", 1, relax.StateExhausted)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	latest := s.Latest()
	if latest == nil || latest.ID != "scan-2" {
		t.Fatalf("Latest() = %+v, want scan-2", latest)
	}
	if _, ok := s.Get("scan-1"); !ok {
		t.Error("Get(scan-1) not found")
	}
	if _, ok := s.Get("nope"); ok {
		t.Error("Get(nope) found a report")
	}

	summaries := s.Summaries()
	if len(summaries) != 2 || summaries[0].ID != "scan-2" {
		t.Errorf("summaries = %+v, want scan-2 first of two", summaries)
	}
	if summaries[0].Accepted != 1 || summaries[1].Accepted != 2 {
		t.Errorf("summary accepted counts = %d/%d, want 1/2", summaries[0].Accepted, summaries[1].Accepted)
	}
}

func TestStoreStatistics(t *testing.T) {
	s, _ := newTestStore(t)

	for i, state := range []relax.State{relax.StateSatisfied, relax.StateExhausted, relax.StateExhausted} {
		if err := s.SaveReport(testReport(fmt.Sprintf("scan-%d", i), 2, state)); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}

	stats := s.Statistics()
	if stats.TotalScans != 3 {
		t.Errorf("TotalScans = %d, want 3", stats.TotalScans)
	}
	if stats.TotalAccepted != 6 || stats.AvgAccepted != 2 {
		t.Errorf("accepted = %d avg %v, want 6 avg 2", stats.TotalAccepted, stats.AvgAccepted)
	}
	ss := stats.ByStrategy["credit_spread"]
	if ss.Scans != 3 || ss.Exhausted != 2 {
		t.Errorf("strategy stats = %+v, want 3 scans 2 exhausted", ss)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.SaveReport(testReport("scan-1", 1, relax.StateSatisfied)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Latest(); got == nil || got.ID != "scan-1" {
		t.Fatalf("reopened Latest() = %+v, want scan-1", got)
	}
	if reopened.Statistics().TotalScans != 1 {
		t.Errorf("reopened TotalScans = %d, want 1", reopened.Statistics().TotalScans)
	}
}

func TestStoreBoundsHistory(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 0; i < maxHistory+5; i++ {
		if err := s.SaveReport(testReport(fmt.Sprintf("scan-%d", i), 0, relax.StateSatisfied)); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}

	summaries := s.Summaries()
	if len(summaries) != maxHistory {
		t.Fatalf("retained = %d, want %d", len(summaries), maxHistory)
	}
	// Oldest reports roll off but stay in the aggregates.
	if _, ok := s.Get("scan-0"); ok {
		t.Error("scan-0 still retained past the history bound")
	}
	if got := s.Statistics().TotalScans; got != maxHistory+5 {
		t.Errorf("TotalScans = %d, want %d", got, maxHistory+5)
	}
}

func TestStoreAtomicWriteLeavesNoTempFile(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.SaveReport(testReport("scan-1", 0, relax.StateSatisfied)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file missing: %v", err)
	}
}
