package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DelaneKay/memeradar/internal/models"
)

func TestImbalance5(t *testing.T) {
	assert.Equal(t, 0.0, Imbalance5(0, 0), "no trades is neutral, not NaN")
	assert.Equal(t, 1.0, Imbalance5(10, 0))
	assert.Equal(t, -1.0, Imbalance5(0, 10))
	assert.InDelta(t, 0.5, Imbalance5(75, 25), 1e-9)
}

func TestSurge15(t *testing.T) {
	t.Run("ratio against prior EWMA", func(t *testing.T) {
		v := Surge15(3000, BaselineView{Vol15EWMAPrior: 1000, HistoryPoints: 1})
		assert.InDelta(t, 3.0, v, 1e-9)
	})

	t.Run("neutral while history is thin", func(t *testing.T) {
		assert.Equal(t, 1.0, Surge15(5000, BaselineView{HistoryPoints: 0}))
		assert.Equal(t, 1.0, Surge15(5000, BaselineView{HistoryPoints: 2}))
	})

	t.Run("volume against a dead baseline", func(t *testing.T) {
		assert.Equal(t, 10.0, Surge15(5000, BaselineView{HistoryPoints: 5}))
		assert.Equal(t, 1.0, Surge15(0, BaselineView{HistoryPoints: 5}))
	})
}

func TestPriceAccelClamped(t *testing.T) {
	assert.Equal(t, 3.0, PriceAccel(BaselineView{PriceSlope1m: 1, PriceSlope5m: 0}))
	assert.Equal(t, -3.0, PriceAccel(BaselineView{PriceSlope1m: 0, PriceSlope5m: 1}))
	assert.InDelta(t, 1.0, PriceAccel(BaselineView{PriceSlope1m: 0.02, PriceSlope5m: 0.01}), 1e-9)
}

func TestLiquidityQuality(t *testing.T) {
	assert.Equal(t, 0.0, LiquidityQuality(0, 1000))
	assert.Equal(t, 0.0, LiquidityQuality(-5, 1000))

	// log10(10000)=4, turnover 0.2 earns the +1 bonus.
	assert.InDelta(t, 5.0, LiquidityQuality(10000, 2000), 1e-9)

	// turnover 20 takes the churn penalty.
	assert.InDelta(t, 3.5, LiquidityQuality(10000, 200000), 1e-9)

	// turnover 0.05 gets neither.
	assert.InDelta(t, 4.0, LiquidityQuality(10000, 500), 1e-9)
}

func TestAgeFactor(t *testing.T) {
	assert.Equal(t, 0.0, AgeFactor(-10))
	assert.InDelta(t, 0.5, AgeFactor(60), 1e-9)
	assert.Equal(t, 1.0, AgeFactor(120))
	assert.Equal(t, 1.0, AgeFactor(48*60))
	assert.InDelta(t, 1-1.0/48, AgeFactor(49*60), 1e-9)
	assert.Equal(t, 0.0, AgeFactor(96*60))
	assert.Equal(t, 0.0, AgeFactor(200*60))
}

func TestScoreBounds(t *testing.T) {
	// A honeypot penalty of 100 floors the score at 0.
	low := Score(models.Signals{
		Imbalance5: 1, Surge15: 10, PriceAccel: 3,
		LiquidityQuality: 6, AgeFactor: 1, SecurityPenalty: 100,
	})
	assert.Equal(t, 0.0, low)

	// All maxed with a listing boost stays capped at 100.
	high := Score(models.Signals{
		Imbalance5: 1, Surge15: 10, PriceAccel: 3,
		LiquidityQuality: 6, AgeFactor: 1, ListingBoost: 10,
	})
	assert.Equal(t, 100.0, high)
}

func TestScoreComposite(t *testing.T) {
	s := models.Signals{
		Imbalance5:       0.5, // 14
		Surge15:          7,   // z=(7-1)/2=3, /3=1 → 28
		PriceAccel:       0,   // (0+3)/6=0.5 → 8
		LiquidityQuality: 3,   // 3/6=0.5 → 9
		AgeFactor:        1,   // 10
	}
	assert.InDelta(t, 69.0, Score(s), 1e-9)
}

func TestScoreIgnoresNegativeImbalance(t *testing.T) {
	base := models.Signals{Surge15: 1, PriceAccel: 0, AgeFactor: 0}
	sellSide := base
	sellSide.Imbalance5 = -0.8
	neutral := base
	neutral.Imbalance5 = 0
	assert.Equal(t, Score(neutral), Score(sellSide))
}

func TestReasons(t *testing.T) {
	out := Reasons(models.Signals{
		Imbalance5:       0.5,
		Surge15:          3.2,
		PriceAccel:       2,
		LiquidityQuality: 5,
		AgeFactor:        1,
		SecurityPenalty:  15,
		ListingBoost:     10,
	})
	assert.Contains(t, out, "Strong buy pressure (50%)")
	assert.Contains(t, out, "Volume surge 3.2×")
	assert.Contains(t, out, "Price acceleration detected")
	assert.Contains(t, out, "High liquidity quality")
	assert.Contains(t, out, "Optimal age range")
	assert.Contains(t, out, "Security penalty: -15")
	assert.Contains(t, out, "CEX listing boost: +10")

	assert.Empty(t, Reasons(models.Signals{Surge15: 1}))
}

func TestEarlyPumpSignalChain(t *testing.T) {
	// Second observation of a young pair: 150/30 trades, volume 3x the
	// seeded baseline. The token scores into the hotlist band and fits the
	// momentum and continuation categories.
	u := models.PairUpdate{
		ChainID:     models.ChainSolana,
		PairAddress: "pair1",
		Token:       models.TokenRef{ChainID: models.ChainSolana, Address: "mint1", Symbol: "PUP"},
		Stats: models.PairStats{
			Buys5: 150, Sells5: 30,
			Vol5USD: 2000, Vol15USD: 15000,
			PriceUSD: 0.001, LiquidityUSD: 25000,
		},
	}
	view := BaselineView{Vol15EWMAPrior: 5000, HistoryPoints: 1}

	sig := ExtractSignals(u, view, 90, 0, 0)
	assert.InDelta(t, 2.0/3.0, sig.Imbalance5, 1e-9)
	assert.InDelta(t, 3.0, sig.Surge15, 1e-9)
	assert.InDelta(t, 0.75, sig.AgeFactor, 1e-9)

	score := Score(sig)
	assert.GreaterOrEqual(t, score, minScore)

	summary := models.TokenSummary{
		ChainID: u.ChainID, Token: u.Token, PairAddress: u.PairAddress,
		Buys5: u.Stats.Buys5, Sells5: u.Stats.Sells5,
		Vol5USD: u.Stats.Vol5USD, Vol15USD: u.Stats.Vol15USD,
		LiquidityUSD: u.Stats.LiquidityUSD, AgeMinutes: 90,
		Score: score, Signals: sig,
		Security: models.SecuritySummary{OK: true},
	}
	cfg := EligibilityConfig{MinLiqList: 12000, MaxAgeHours: 48}
	assert.True(t, Eligible(summary, cfg))

	boards := BuildLeaderboards([]models.TokenSummary{summary})
	assert.Len(t, boards[models.CategoryMomentum5m], 1, "buys exceed sells")
	assert.Len(t, boards[models.CategoryContinuation15], 1, "vol15 > 2*vol5")
	assert.Len(t, boards[models.CategoryNewMints], 1, "90 minutes old")
}
