package quant

import "math"

// ExpectedMove returns the one-standard-deviation expected move over the
// given horizon: price * iv * sqrt(days/365). Returns 0 for non-positive
// inputs rather than propagating garbage.
func ExpectedMove(price, iv float64, days int) float64 {
	if price <= 0 || iv <= 0 || days <= 0 {
		return 0
	}
	return price * iv * math.Sqrt(float64(days)/365.0)
}

// IVRank ranks the current IV within a [low, high] band, clamped to [0,1].
// A degenerate band (high <= low) ranks as 0.
func IVRank(iv, low, high float64) float64 {
	if high <= low {
		return 0
	}
	return clamp01((iv - low) / (high - low))
}

// IVRankFromHistory ranks the current IV against a trailing IV series,
// filtering NaN/Inf readings. Returns 0 when no usable history exists.
func IVRankFromHistory(currentIV float64, historicalIVs []float64) float64 {
	if math.IsNaN(currentIV) || math.IsInf(currentIV, 0) {
		return 0
	}

	clean := make([]float64, 0, len(historicalIVs))
	for _, v := range historicalIVs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}

	low, high := clean[0], clean[0]
	for _, iv := range clean {
		if iv < low {
			low = iv
		}
		if iv > high {
			high = iv
		}
	}
	return IVRank(currentIV, low, high)
}

// RealizedVol computes annualized realized volatility from log returns over
// the trailing window of closes. Returns (0, false) when the series is too
// short or contains non-positive prices.
func RealizedVol(closes []float64, window int) (float64, bool) {
	if window < 2 || len(closes) < window {
		return 0, false
	}
	series := closes[len(closes)-window:]

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] <= 0 || series[i] <= 0 {
			return 0, false
		}
		returns = append(returns, math.Log(series[i]/series[i-1]))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(252), true
}

// SMA returns the simple moving average of the trailing period.
// Returns (0, false) when the series is shorter than the period.
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), true
}

// RSI computes the Relative Strength Index with Wilder's smoothing.
// Returns (50, false) when the series is too short: neutral, flagged unusable.
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 50, false
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(gains); i++ {
		avgGain = avgGain*(1-alpha) + gains[i]*alpha
		avgLoss = avgLoss*(1-alpha) + losses[i]*alpha
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// ProbBetween returns the probability that a normally distributed price with
// the given mean and standard deviation finishes inside (lower, upper).
// Returns 0 when sigma is non-positive or the interval is empty.
func ProbBetween(lower, upper, mean, sigma float64) float64 {
	if sigma <= 0 || upper <= lower {
		return 0
	}
	return NormalCDF((upper-mean)/sigma) - NormalCDF((lower-mean)/sigma)
}
