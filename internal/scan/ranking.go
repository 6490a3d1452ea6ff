package scan

import (
	"sort"

	"github.com/mwhitfield/spreadscan/internal/strategy"
)

// Rank orders accepted trades deterministically: rank score descending,
// then the strategy-declared tie-break values descending in their declared
// order. Trades equal on every key keep their input order, which is itself
// deterministic because snapshots and strategies are processed in sorted
// order. Same input, same ranking - regardless of arrival order upstream.
func Rank(trades []*strategy.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return rankLess(trades[j], trades[i])
	})
}

// rankLess reports whether a ranks strictly below b.
func rankLess(a, b *strategy.Trade) bool {
	if a.RankScore != b.RankScore {
		return a.RankScore < b.RankScore
	}
	n := len(a.TieBreaks)
	if len(b.TieBreaks) < n {
		n = len(b.TieBreaks)
	}
	for k := 0; k < n; k++ {
		if a.TieBreaks[k].Value != b.TieBreaks[k].Value {
			return a.TieBreaks[k].Value < b.TieBreaks[k].Value
		}
	}
	return false
}
