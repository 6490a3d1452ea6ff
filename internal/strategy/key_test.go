package strategy

import (
	"reflect"
	"testing"
)

func TestTradeKeyEncode(t *testing.T) {
	tests := []struct {
		name string
		key  TradeKey
		want string
	}{
		{
			name: "vertical",
			key: TradeKey{
				Underlying:   "SPY",
				Expiration:   "2026-01-16",
				StrategyID:   "credit_spread",
				ShortStrikes: []float64{655},
				LongStrikes:  []float64{650},
				DTE:          30,
			},
			want: "SPY:2026-01-16:credit_spread:655:650:30",
		},
		{
			name: "condor joins strikes per side",
			key: TradeKey{
				Underlying:   "SPY",
				Expiration:   "2026-02-20",
				StrategyID:   "iron_condor",
				ShortStrikes: []float64{95, 105},
				LongStrikes:  []float64{90, 110},
				DTE:          40,
			},
			want: "SPY:2026-02-20:iron_condor:95+105:90+110:40",
		},
		{
			name: "fractional strikes keep full precision",
			key: TradeKey{
				Underlying:   "IWM",
				Expiration:   "2026-03-20",
				StrategyID:   "income",
				ShortStrikes: []float64{192.5},
				DTE:          25,
			},
			want: "IWM:2026-03-20:income:192.5::25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTradeKeyRoundTrip(t *testing.T) {
	keys := []TradeKey{
		{Underlying: "SPY", Expiration: "2026-01-16", StrategyID: "credit_spread", ShortStrikes: []float64{655}, LongStrikes: []float64{650}, DTE: 30},
		{Underlying: "QQQ", Expiration: "2026-02-20", StrategyID: "butterfly", ShortStrikes: []float64{500}, LongStrikes: []float64{495, 505}, DTE: 21},
		{Underlying: "IWM", Expiration: "2026-03-20", StrategyID: "income", ShortStrikes: []float64{192.5}, DTE: 25},
	}

	for _, k := range keys {
		parsed, err := ParseTradeKey(k.Encode())
		if err != nil {
			t.Fatalf("ParseTradeKey(%q): %v", k.Encode(), err)
		}
		if !reflect.DeepEqual(parsed, k) {
			t.Errorf("round trip changed key: got %+v, want %+v", parsed, k)
		}
	}
}

func TestParseTradeKeyErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "too few fields", in: "SPY:2026-01-16:credit_spread:655:650"},
		{name: "bad strike", in: "SPY:2026-01-16:credit_spread:abc:650:30"},
		{name: "bad dte", in: "SPY:2026-01-16:credit_spread:655:650:soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTradeKey(tt.in); err == nil {
				t.Errorf("ParseTradeKey(%q) succeeded, want error", tt.in)
			}
		})
	}
}

func TestTradeKeyMarshalText(t *testing.T) {
	k := TradeKey{Underlying: "SPY", Expiration: "2026-01-16", StrategyID: "calendar", ShortStrikes: []float64{680}, LongStrikes: []float64{680}, DTE: 45}
	text, err := k.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back TradeKey
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !reflect.DeepEqual(back, k) {
		t.Errorf("text round trip changed key: got %+v, want %+v", back, k)
	}
}
