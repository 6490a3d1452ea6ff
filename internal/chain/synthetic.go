package chain

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// SyntheticProvider generates plausible chain snapshots for demos and tests.
// Prices and greeks come from a crude exponential-decay delta model, not a
// real pricing model; the shapes are realistic enough to exercise every
// downstream stage. Generation is deterministic for a given seed.
type SyntheticProvider struct {
	rng            *rand.Rand
	underlying     float64
	iv             float64
	volIndex       float64
	strikeInterval float64
}

// Ensure SyntheticProvider implements Provider at compile time.
var _ Provider = (*SyntheticProvider)(nil)

// NewSyntheticProvider creates a deterministic synthetic provider.
func NewSyntheticProvider(seed int64) *SyntheticProvider {
	rng := rand.New(rand.NewSource(seed)) // #nosec G404 -- synthetic fixture data, not security-sensitive
	return &SyntheticProvider{
		rng:            rng,
		underlying:     450.0 + rng.Float64()*10, // SPY-like level
		iv:             0.12 + rng.Float64()*0.18,
		volIndex:       14.0 + rng.Float64()*10,
		strikeInterval: 5.0,
	}
}

// GetSnapshot builds a synthetic chain for one (symbol, expiration) pair.
func (p *SyntheticProvider) GetSnapshot(_ context.Context, symbol, expiration string) (*Snapshot, error) {
	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}
	dte := DaysBetween(time.Now(), expDate)
	if dte == 0 {
		dte = 1
	}

	spot := p.underlying
	startStrike := math.Floor(spot/p.strikeInterval)*p.strikeInterval - 50
	endStrike := startStrike + 100

	var contracts []OptionContract
	for strike := startStrike; strike <= endStrike; strike += p.strikeInterval {
		contracts = append(contracts,
			p.contract(symbol, expiration, strike, spot, dte, OptionTypePut),
			p.contract(symbol, expiration, strike, spot, dte, OptionTypeCall),
		)
	}

	volIndex := p.volIndex
	return &Snapshot{
		Symbol:       symbol,
		Expiration:   expiration,
		DTE:          dte,
		Underlying:   spot,
		Contracts:    contracts,
		CloseHistory: p.closeHistory(spot, 60),
		VolIndex:     &volIndex,
	}, nil
}

// GetExpirations returns the next three monthly-style expirations.
func (p *SyntheticProvider) GetExpirations(_ context.Context, _ string) ([]string, error) {
	var exps []string
	for _, days := range []int{14, 45, 75} {
		exps = append(exps, nextFriday(time.Now().AddDate(0, 0, days)).Format("2006-01-02"))
	}
	return exps, nil
}

func nextFriday(t time.Time) time.Time {
	for t.Weekday() != time.Friday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (p *SyntheticProvider) contract(symbol, expiration string, strike, spot float64, dte int, typ OptionType) OptionContract {
	distance := math.Abs(strike - spot)
	decay := math.Exp(-distance * 0.02)

	var delta float64
	switch typ {
	case OptionTypePut:
		delta = -0.5 * decay
		if strike > spot {
			delta = -0.5 * (1 - decay)
		}
	case OptionTypeCall:
		delta = 0.5 * decay
		if strike < spot {
			delta = 0.5 * (1 - decay)
		}
	}

	timeValue := float64(dte) / 365.0
	price := math.Max(0.10, p.iv*math.Sqrt(timeValue)*spot*math.Abs(delta)*0.5)
	bid := price - 0.05
	ask := price + 0.05
	if bid < 0.01 {
		bid = 0.01
	}

	oi := p.rng.Int63n(50000)
	vol := p.rng.Int63n(10000)
	iv := p.iv * (1 + distance/spot)
	theta := -0.05 * p.iv
	gamma := 0.01 * decay
	vega := 0.10 * p.iv * spot / 100

	code := "P"
	if typ == OptionTypeCall {
		code = "C"
	}
	expDate, _ := time.Parse("2006-01-02", expiration)

	return OptionContract{
		Symbol:       fmt.Sprintf("%s%s%s%08d", symbol, expDate.Format("060102"), code, int(strike*1000)),
		Underlying:   symbol,
		OptionType:   typ,
		Expiration:   expiration,
		Strike:       strike,
		Bid:          &bid,
		Ask:          &ask,
		OpenInterest: &oi,
		Volume:       &vol,
		Delta:        &delta,
		Gamma:        &gamma,
		Theta:        &theta,
		Vega:         &vega,
		IV:           &iv,
	}
}

// closeHistory simulates a trailing daily close series ending near spot.
func (p *SyntheticProvider) closeHistory(spot float64, days int) []float64 {
	closes := make([]float64, days)
	price := spot * (1 - 0.02*p.rng.Float64())
	for i := range closes {
		price *= 1 + (p.rng.Float64()-0.48)*0.01
		closes[i] = price
	}
	closes[days-1] = spot
	return closes
}
