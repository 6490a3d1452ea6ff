// Package quant implements the pure option economics used by every strategy:
// a validated two-leg credit-spread value type plus free functions for
// expected move, IV rank, realized volatility, technical indicators, and
// market-regime classification. Nothing in this package touches I/O or
// mutable shared state.
package quant

import (
	"fmt"
	"math"
)

// NearArbEpsilon is the per-share margin by which a spread's credit must stay
// below its width. Quotes where credit >= width - epsilon are treated as
// near-arbitrage artifacts and rejected rather than priced.
const NearArbEpsilon = 0.01

// SpreadSide identifies which side of the chain a vertical credit spread sits on.
type SpreadSide string

const (
	// SidePut is a put-side (bull put) credit spread: long strike below short.
	SidePut SpreadSide = "put"
	// SideCall is a call-side (bear call) credit spread: long strike above short.
	SideCall SpreadSide = "call"
)

// Valid returns true if the SpreadSide is one of the defined constants.
func (s SpreadSide) Valid() bool {
	return s == SidePut || s == SideCall
}

// ValidationError describes a construction failure in the quant model.
// Callers treat it as "reject this candidate, do not price" - it never
// aborts a batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("spread validation: %s: %s", e.Field, e.Reason)
}

func validationErr(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CreditSpreadInput holds the raw inputs for spread construction.
// ShortDelta, IV and RV are optional; absent values stay nil.
type CreditSpreadInput struct {
	Underlying  float64
	ShortStrike float64
	LongStrike  float64
	Credit      float64 // net credit per share
	DTE         int
	Side        SpreadSide
	ShortDelta  *float64 // signed delta of the short leg
	IV          *float64
	RV          *float64
}

// CreditSpread is an immutable two-leg credit spread with derived economics.
// Construct it with NewCreditSpread; a zero value is meaningless.
type CreditSpread struct {
	in CreditSpreadInput
}

// NewCreditSpread validates inputs and returns the spread value type.
// All violations return a *ValidationError.
func NewCreditSpread(in CreditSpreadInput) (*CreditSpread, error) {
	if !(in.Underlying > 0) {
		return nil, validationErr("underlying", "must be > 0, got %v", in.Underlying)
	}
	if !(in.Credit > 0) {
		return nil, validationErr("credit", "must be > 0, got %v", in.Credit)
	}
	if in.DTE <= 0 {
		return nil, validationErr("dte", "must be > 0, got %d", in.DTE)
	}
	if !in.Side.Valid() {
		return nil, validationErr("side", "unknown spread side %q", in.Side)
	}
	if !(in.ShortStrike > 0) || !(in.LongStrike > 0) {
		return nil, validationErr("strikes", "must be > 0, got short=%v long=%v", in.ShortStrike, in.LongStrike)
	}
	switch in.Side {
	case SidePut:
		if in.LongStrike >= in.ShortStrike {
			return nil, validationErr("strikes", "put side requires long strike %v below short strike %v", in.LongStrike, in.ShortStrike)
		}
	case SideCall:
		if in.LongStrike <= in.ShortStrike {
			return nil, validationErr("strikes", "call side requires long strike %v above short strike %v", in.LongStrike, in.ShortStrike)
		}
	}
	width := math.Abs(in.LongStrike - in.ShortStrike)
	if in.Credit >= width-NearArbEpsilon {
		return nil, validationErr("credit", "credit %v >= width %v - epsilon, near-arbitrage quote", in.Credit, width)
	}
	if in.ShortDelta != nil {
		if d := math.Abs(*in.ShortDelta); !(d > 0 && d < 1) {
			return nil, validationErr("delta", "|delta| must be in (0,1), got %v", *in.ShortDelta)
		}
	}
	if in.IV != nil && (*in.IV < 0 || math.IsNaN(*in.IV)) {
		return nil, validationErr("iv", "must be non-negative, got %v", *in.IV)
	}
	if in.RV != nil && (*in.RV < 0 || math.IsNaN(*in.RV)) {
		return nil, validationErr("rv", "must be non-negative, got %v", *in.RV)
	}
	return &CreditSpread{in: in}, nil
}

// Side returns the spread's chain side.
func (s *CreditSpread) Side() SpreadSide { return s.in.Side }

// Width returns the distance between the strikes, per share.
func (s *CreditSpread) Width() float64 {
	return math.Abs(s.in.LongStrike - s.in.ShortStrike)
}

// MaxProfit returns the best-case per-share profit: the credit collected.
func (s *CreditSpread) MaxProfit() float64 { return s.in.Credit }

// MaxLoss returns the worst-case per-share loss: width minus credit.
func (s *CreditSpread) MaxLoss() float64 { return s.Width() - s.in.Credit }

// BreakEven returns the expiration break-even price: short strike minus the
// credit on the put side, plus the credit on the call side.
func (s *CreditSpread) BreakEven() float64 {
	if s.in.Side == SidePut {
		return s.in.ShortStrike - s.in.Credit
	}
	return s.in.ShortStrike + s.in.Credit
}

// ReturnOnRisk returns max profit over max loss.
func (s *CreditSpread) ReturnOnRisk() float64 {
	loss := s.MaxLoss()
	if loss <= 0 {
		return 0
	}
	return s.MaxProfit() / loss
}

// POP approximates probability of profit as 1 - |short delta|.
// Returns nil when no delta was supplied: an undefined probability is never
// substituted with a number.
func (s *CreditSpread) POP() *float64 {
	if s.in.ShortDelta == nil {
		return nil
	}
	p := 1 - math.Abs(*s.in.ShortDelta)
	return &p
}

// ExpectedValue returns p*profit - (1-p)*loss per share for the supplied
// probability. Probability is clamped to [0,1].
func (s *CreditSpread) ExpectedValue(pop float64) float64 {
	p := pop
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return p*s.MaxProfit() - (1-p)*s.MaxLoss()
}

// DeltaExpectedValue returns the expected value using the delta-derived POP,
// or nil when no delta was supplied.
func (s *CreditSpread) DeltaExpectedValue() *float64 {
	pop := s.POP()
	if pop == nil {
		return nil
	}
	ev := s.ExpectedValue(*pop)
	return &ev
}

// KellyFraction returns the theoretical optimal bet-sizing fraction
// (b*p - q) / b where b is the profit/loss odds ratio. Returns nil when no
// probability is available.
func (s *CreditSpread) KellyFraction() *float64 {
	pop := s.POP()
	if pop == nil {
		return nil
	}
	loss := s.MaxLoss()
	if loss <= 0 {
		return nil
	}
	b := s.MaxProfit() / loss
	if b <= 0 {
		return nil
	}
	p := *pop
	k := (b*p - (1 - p)) / b
	return &k
}

// QualityScore blends probability, capped return-on-risk, and an IV-rank
// input into a bounded [0,1] composite. A spread with no delta scores on
// return and IV rank alone, re-weighted.
func (s *CreditSpread) QualityScore(ivRank float64) float64 {
	ror := s.ReturnOnRisk()
	if ror > 1 {
		ror = 1
	}
	ivr := ivRank
	if ivr < 0 {
		ivr = 0
	} else if ivr > 1 {
		ivr = 1
	}

	pop := s.POP()
	if pop == nil {
		score := (0.35*ror + 0.25*ivr) / 0.60
		return clamp01(score)
	}
	return clamp01(0.40**pop + 0.35*ror + 0.25*ivr)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
