// Package scoring turns pair snapshots and baselines into composite scores,
// reasons, and category leaderboards.
package scoring

import (
	"fmt"
	"math"

	"github.com/DelaneKay/memeradar/internal/models"
)

// BaselineView is the slice of baseline state the scorer consumes. Surge is
// computed against the EWMA as it stood before the current observation.
type BaselineView struct {
	Vol15EWMAPrior float64
	PriceSlope1m   float64
	PriceSlope5m   float64
	HistoryPoints  int
}

func clamp(lo, hi, x float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Imbalance5 is the normalized buy/sell differential over 5 minutes.
func Imbalance5(buys, sells int) float64 {
	total := buys + sells
	if total < 1 {
		total = 1
	}
	return float64(buys-sells) / float64(total)
}

// Surge15 is the ratio of current 15-minute volume to the EWMA baseline as
// it stood before this observation. A zero baseline is uninformative: the
// signal falls back to 1 until three history points exist, then to 10 when
// there is volume against a still-zero baseline.
func Surge15(vol15 float64, b BaselineView) float64 {
	if b.Vol15EWMAPrior > 0 {
		return vol15 / b.Vol15EWMAPrior
	}
	if b.HistoryPoints < 3 {
		return 1
	}
	if vol15 > 0 {
		return 10
	}
	return 1
}

// PriceAccel contrasts the short and medium slope, clamped to [-3, 3].
func PriceAccel(b BaselineView) float64 {
	return clamp(-3, 3, 100*(b.PriceSlope1m-b.PriceSlope5m))
}

// LiquidityQuality rewards deep pools with healthy 24h turnover.
func LiquidityQuality(liquidityUSD, vol24USD float64) float64 {
	if liquidityUSD <= 0 {
		return 0
	}
	q := math.Log10(liquidityUSD)
	turnover := vol24USD / liquidityUSD
	if turnover > 0.1 && turnover < 5 {
		q++
	} else if turnover > 10 {
		q -= 0.5
	}
	return q
}

// AgeFactor ramps 0→1 over the first two hours, holds 1 until 48 h, then
// decays linearly to 0 at 96 h.
func AgeFactor(ageMinutes float64) float64 {
	h := ageMinutes / 60
	switch {
	case h < 0:
		return 0
	case h < 2:
		return h / 2
	case h <= 48:
		return 1
	case h < 96:
		return 1 - (h-48)/48
	default:
		return 0
	}
}

func zScore(x, mu, sigma float64) float64 {
	return (x - mu) / sigma
}

// Composite weights are fixed.
const (
	weightImbalance = 28.0
	weightSurge     = 28.0
	weightAccel     = 16.0
	weightLiquidity = 18.0
	weightAge       = 10.0
)

// ExtractSignals computes the full signal set for one update.
func ExtractSignals(u models.PairUpdate, b BaselineView, ageMinutes float64, securityPenalty, listingBoost float64) models.Signals {
	return models.Signals{
		Imbalance5:       Imbalance5(u.Stats.Buys5, u.Stats.Sells5),
		Surge15:          Surge15(u.Stats.Vol15USD, b),
		PriceAccel:       PriceAccel(b),
		LiquidityQuality: LiquidityQuality(u.Stats.LiquidityUSD, u.Stats.Vol24USD),
		AgeFactor:        AgeFactor(ageMinutes),
		SecurityPenalty:  securityPenalty,
		ListingBoost:     listingBoost,
	}
}

// Score applies the composite formula and clamps to [0, 100].
func Score(s models.Signals) float64 {
	score := weightImbalance*math.Max(0, s.Imbalance5) +
		weightSurge*clamp(0, 1, zScore(s.Surge15, 1, 2)/3) +
		weightAccel*clamp(0, 1, (s.PriceAccel+3)/6) +
		weightLiquidity*clamp(0, 1, s.LiquidityQuality/6) +
		weightAge*s.AgeFactor -
		s.SecurityPenalty +
		s.ListingBoost
	return clamp(0, 100, score)
}

// Reasons renders the human-readable explanations for materially positive
// signal contributions.
func Reasons(s models.Signals) []string {
	var out []string
	if s.Imbalance5 > 0.3 {
		out = append(out, fmt.Sprintf("Strong buy pressure (%.0f%%)", s.Imbalance5*100))
	}
	if s.Surge15 > 2 {
		out = append(out, fmt.Sprintf("Volume surge %.1f×", s.Surge15))
	}
	if s.PriceAccel > 1 {
		out = append(out, "Price acceleration detected")
	}
	if s.LiquidityQuality > 4 {
		out = append(out, "High liquidity quality")
	}
	if s.AgeFactor > 0.8 {
		out = append(out, "Optimal age range")
	}
	if s.SecurityPenalty > 0 {
		out = append(out, fmt.Sprintf("Security penalty: -%.0f", s.SecurityPenalty))
	}
	if s.ListingBoost > 0 {
		out = append(out, fmt.Sprintf("CEX listing boost: +%.0f", s.ListingBoost))
	}
	return out
}
