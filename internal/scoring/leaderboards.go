package scoring

import (
	"math"
	"sort"

	"github.com/DelaneKay/memeradar/internal/models"
)

const leaderboardLimit = 50

// minScore is the hotlist eligibility floor.
const minScore = 55.0

// EligibilityConfig carries the thresholds the filter needs.
type EligibilityConfig struct {
	MinLiqList  float64
	MaxAgeHours float64
}

// Eligible reports whether a summary may appear in the hotlist or any
// leaderboard.
func Eligible(t models.TokenSummary, cfg EligibilityConfig) bool {
	return t.Security.OK &&
		t.LiquidityUSD >= cfg.MinLiqList &&
		t.AgeMinutes <= cfg.MaxAgeHours*60 &&
		t.Score >= minScore
}

// Filter returns the eligible subset, preserving order.
func Filter(list []models.TokenSummary, cfg EligibilityConfig) []models.TokenSummary {
	out := make([]models.TokenSummary, 0, len(list))
	for _, t := range list {
		if Eligible(t, cfg) {
			out = append(out, t)
		}
	}
	return out
}

// bandedLess compares by primary within a tie band, falling back to
// secondary when the primaries are within band of each other.
func bandedLess(primaryI, primaryJ, band float64, primaryDesc bool, secondary func() bool) bool {
	if math.Abs(primaryI-primaryJ) > band {
		if primaryDesc {
			return primaryI > primaryJ
		}
		return primaryI < primaryJ
	}
	return secondary()
}

// BuildLeaderboards slices the eligible set into the four categories. Input
// must already be filtered; each list is truncated to 50.
func BuildLeaderboards(eligible []models.TokenSummary) models.Leaderboards {
	boards := models.Leaderboards{}

	newMints := pick(eligible, func(t models.TokenSummary) bool {
		return t.AgeMinutes <= 120
	})
	sort.SliceStable(newMints, func(i, j int) bool {
		a, b := newMints[i], newMints[j]
		return bandedLess(a.AgeMinutes, b.AgeMinutes, 30, false, func() bool {
			return a.Score > b.Score
		})
	})
	boards[models.CategoryNewMints] = truncate(newMints)

	momentum := pick(eligible, func(t models.TokenSummary) bool {
		return t.Buys5 > t.Sells5
	})
	sort.SliceStable(momentum, func(i, j int) bool {
		a, b := momentum[i], momentum[j]
		return bandedLess(a.Signals.Imbalance5, b.Signals.Imbalance5, 0.1, true, func() bool {
			return a.Vol5USD > b.Vol5USD
		})
	})
	boards[models.CategoryMomentum5m] = truncate(momentum)

	continuation := pick(eligible, func(t models.TokenSummary) bool {
		return t.Vol15USD > 2*t.Vol5USD
	})
	sort.SliceStable(continuation, func(i, j int) bool {
		a, b := continuation[i], continuation[j]
		ra := a.Vol15USD / math.Max(1, a.Vol5USD)
		rb := b.Vol15USD / math.Max(1, b.Vol5USD)
		return bandedLess(ra, rb, 0.5, true, func() bool {
			return a.Score > b.Score
		})
	})
	boards[models.CategoryContinuation15] = truncate(continuation)

	unusual := pick(eligible, func(t models.TokenSummary) bool {
		turnover := t.Vol15USD / math.Max(1, t.LiquidityUSD)
		return turnover > 0.5 && turnover < 20
	})
	sort.SliceStable(unusual, func(i, j int) bool {
		ta := unusual[i].Vol15USD / math.Max(1, unusual[i].LiquidityUSD)
		tb := unusual[j].Vol15USD / math.Max(1, unusual[j].LiquidityUSD)
		return ta > tb
	})
	boards[models.CategoryUnusualVolume] = truncate(unusual)

	return boards
}

func pick(list []models.TokenSummary, keep func(models.TokenSummary) bool) []models.TokenSummary {
	out := make([]models.TokenSummary, 0, len(list))
	for _, t := range list {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func truncate(list []models.TokenSummary) []models.TokenSummary {
	if len(list) > leaderboardLimit {
		return list[:leaderboardLimit]
	}
	return list
}

// SortByScore orders a hotlist by score descending (stable).
func SortByScore(list []models.TokenSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Score > list[j].Score
	})
}
