package strategy

import (
	"fmt"
	"strconv"
	"strings"
)

// TradeKey delimiters. Fields are colon-separated; composite strategies join
// multiple strikes within a field with the sub-delimiter.
const (
	keyFieldDelim  = ":"
	keyStrikeDelim = "+"
)

// TradeKey is the canonical identity of a trade, derived deterministically
// from its structure. Composite strategies (iron condor, butterfly) carry
// multiple strikes per side; simple verticals carry one. Encode and
// ParseTradeKey are the only serialization points - nothing else in the
// codebase hand-formats key strings.
type TradeKey struct {
	Underlying   string    `json:"underlying"`
	Expiration   string    `json:"expiration"`
	StrategyID   string    `json:"strategy_id"`
	ShortStrikes []float64 `json:"short_strikes"`
	LongStrikes  []float64 `json:"long_strikes"`
	DTE          int       `json:"dte"`
}

// Encode renders the canonical string form:
// UNDERLYING:EXPIRATION:STRATEGY:SHORTS:LONGS:DTE with strikes joined by "+".
func (k TradeKey) Encode() string {
	return strings.Join([]string{
		k.Underlying,
		k.Expiration,
		k.StrategyID,
		encodeStrikes(k.ShortStrikes),
		encodeStrikes(k.LongStrikes),
		strconv.Itoa(k.DTE),
	}, keyFieldDelim)
}

// String implements fmt.Stringer.
func (k TradeKey) String() string { return k.Encode() }

// MarshalText lets the key serve as a JSON object key.
func (k TradeKey) MarshalText() ([]byte, error) {
	return []byte(k.Encode()), nil
}

// UnmarshalText parses the canonical string form.
func (k *TradeKey) UnmarshalText(text []byte) error {
	parsed, err := ParseTradeKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func encodeStrikes(strikes []float64) string {
	parts := make([]string, len(strikes))
	for i, s := range strikes {
		parts[i] = strconv.FormatFloat(s, 'f', -1, 64)
	}
	return strings.Join(parts, keyStrikeDelim)
}

func parseStrikes(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, keyStrikeDelim)
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing strike %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

// ParseTradeKey parses the canonical string form back into a TradeKey.
func ParseTradeKey(s string) (TradeKey, error) {
	parts := strings.Split(s, keyFieldDelim)
	if len(parts) != 6 {
		return TradeKey{}, fmt.Errorf("trade key %q: expected 6 fields, got %d", s, len(parts))
	}
	shorts, err := parseStrikes(parts[3])
	if err != nil {
		return TradeKey{}, fmt.Errorf("trade key %q: %w", s, err)
	}
	longs, err := parseStrikes(parts[4])
	if err != nil {
		return TradeKey{}, fmt.Errorf("trade key %q: %w", s, err)
	}
	dte, err := strconv.Atoi(parts[5])
	if err != nil {
		return TradeKey{}, fmt.Errorf("trade key %q: parsing dte: %w", s, err)
	}
	return TradeKey{
		Underlying:   parts[0],
		Expiration:   parts[1],
		StrategyID:   parts[2],
		ShortStrikes: shorts,
		LongStrikes:  longs,
		DTE:          dte,
	}, nil
}
