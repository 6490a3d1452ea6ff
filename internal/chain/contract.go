// Package chain provides option-chain snapshot types and snapshot providers.
// A Snapshot is the read-only unit of market data the scan pipeline consumes:
// one (symbol, expiration) pair with its contracts, trailing closes, and a
// broad-market volatility proxy.
package chain

import (
	"fmt"
	"math"
	"time"
)

// StrikeMatchEpsilon defines the precision tolerance for matching strike prices.
const StrikeMatchEpsilon = 1e-3

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "put"
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "call"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionTypePut || t == OptionTypeCall
}

// OptionContract is a single quoted contract within a chain snapshot.
//
// Quote and greek fields are pointers: an absent value stays nil and is never
// coerced to zero. Providers must preserve that distinction.
type OptionContract struct {
	Symbol       string     `json:"symbol" yaml:"symbol"`
	Underlying   string     `json:"underlying" yaml:"underlying"`
	OptionType   OptionType `json:"option_type" yaml:"option_type"`
	Expiration   string     `json:"expiration" yaml:"expiration"`
	Strike       float64    `json:"strike" yaml:"strike"`
	Bid          *float64   `json:"bid,omitempty" yaml:"bid,omitempty"`
	Ask          *float64   `json:"ask,omitempty" yaml:"ask,omitempty"`
	OpenInterest *int64     `json:"open_interest,omitempty" yaml:"open_interest,omitempty"`
	Volume       *int64     `json:"volume,omitempty" yaml:"volume,omitempty"`
	Delta        *float64   `json:"delta,omitempty" yaml:"delta,omitempty"`
	Gamma        *float64   `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	Theta        *float64   `json:"theta,omitempty" yaml:"theta,omitempty"`
	Vega         *float64   `json:"vega,omitempty" yaml:"vega,omitempty"`
	IV           *float64   `json:"iv,omitempty" yaml:"iv,omitempty"`
}

// Validate checks structural invariants on a contract. A violated invariant
// means the provider handed us malformed data; the contract should be skipped.
func (c *OptionContract) Validate() error {
	if !c.OptionType.Valid() {
		return fmt.Errorf("contract %s: invalid option type %q", c.Symbol, c.OptionType)
	}
	if c.Strike <= 0 {
		return fmt.Errorf("contract %s: strike must be > 0, got %v", c.Symbol, c.Strike)
	}
	if c.Bid != nil && c.Ask != nil && *c.Ask < *c.Bid {
		return fmt.Errorf("contract %s: ask %.4f < bid %.4f", c.Symbol, *c.Ask, *c.Bid)
	}
	return nil
}

// HasQuote reports whether both sides of the market are present and finite.
func (c *OptionContract) HasQuote() bool {
	return c.Bid != nil && c.Ask != nil &&
		!math.IsNaN(*c.Bid) && !math.IsInf(*c.Bid, 0) &&
		!math.IsNaN(*c.Ask) && !math.IsInf(*c.Ask, 0)
}

// MidPrice returns the quote midpoint, or 0 when either side is missing.
func (c *OptionContract) MidPrice() float64 {
	if !c.HasQuote() {
		return 0
	}
	return (*c.Bid + *c.Ask) / 2
}

// Snapshot is an immutable view of one option chain: a single (symbol,
// expiration) pair plus the underlying context the quant model needs.
// Providers build it once; the pipeline only reads it.
type Snapshot struct {
	Symbol       string           `json:"symbol" yaml:"symbol"`
	Expiration   string           `json:"expiration" yaml:"expiration"`
	DTE          int              `json:"dte" yaml:"dte"`
	Underlying   float64          `json:"underlying" yaml:"underlying"`
	Contracts    []OptionContract `json:"contracts" yaml:"contracts"`
	CloseHistory []float64        `json:"close_history,omitempty" yaml:"close_history,omitempty"`
	VolIndex     *float64         `json:"vol_index,omitempty" yaml:"vol_index,omitempty"`
}

// Puts returns the snapshot's put contracts in chain order.
func (s *Snapshot) Puts() []OptionContract {
	return s.byType(OptionTypePut)
}

// Calls returns the snapshot's call contracts in chain order.
func (s *Snapshot) Calls() []OptionContract {
	return s.byType(OptionTypeCall)
}

func (s *Snapshot) byType(t OptionType) []OptionContract {
	out := make([]OptionContract, 0, len(s.Contracts)/2)
	for _, c := range s.Contracts {
		if c.OptionType == t {
			out = append(out, c)
		}
	}
	return out
}

// ContractByStrike finds the contract of the given type at a specific strike.
// Returns nil when no contract matches within StrikeMatchEpsilon.
func (s *Snapshot) ContractByStrike(strike float64, optionType OptionType) *OptionContract {
	for i := range s.Contracts {
		if s.Contracts[i].OptionType == optionType &&
			math.Abs(s.Contracts[i].Strike-strike) <= StrikeMatchEpsilon {
			return &s.Contracts[i]
		}
	}
	return nil
}

// NearestStrike returns the contract of the given type whose strike is
// closest to target, or nil for an empty chain side.
func (s *Snapshot) NearestStrike(target float64, optionType OptionType) *OptionContract {
	var best *OptionContract
	bestDiff := math.MaxFloat64
	for i := range s.Contracts {
		if s.Contracts[i].OptionType != optionType {
			continue
		}
		diff := math.Abs(s.Contracts[i].Strike - target)
		if diff < bestDiff {
			bestDiff = diff
			best = &s.Contracts[i]
		}
	}
	return best
}

// ATMIV returns the implied volatility of the contract nearest the money,
// preferring whichever type carries an IV. Returns nil when no contract
// near the money has one.
func (s *Snapshot) ATMIV() *float64 {
	for _, t := range []OptionType{OptionTypeCall, OptionTypePut} {
		if c := s.NearestStrike(s.Underlying, t); c != nil && c.IV != nil {
			return c.IV
		}
	}
	return nil
}

// DaysBetween calculates the number of calendar days between two dates.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
