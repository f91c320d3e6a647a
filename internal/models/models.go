package models

import (
	"fmt"
	"strings"
	"time"
)

// ChainID identifies a supported blockchain.
type ChainID string

const (
	ChainSolana ChainID = "sol"
	ChainEth    ChainID = "eth"
	ChainBSC    ChainID = "bsc"
	ChainBase   ChainID = "base"
)

// AllChains lists every supported chain in canonical order.
var AllChains = []ChainID{ChainSolana, ChainEth, ChainBSC, ChainBase}

// Valid reports whether the chain is one of the supported set.
func (c ChainID) Valid() bool {
	switch c {
	case ChainSolana, ChainEth, ChainBSC, ChainBase:
		return true
	}
	return false
}

// IsEVM reports whether the chain runs EVM contracts. Honeypot simulation
// is only available on EVM chains.
func (c ChainID) IsEVM() bool {
	return c == ChainEth || c == ChainBSC || c == ChainBase
}

// ParseChain normalizes a chain string to a ChainID.
func ParseChain(s string) (ChainID, error) {
	c := ChainID(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown chain %q", s)
	}
	return c, nil
}

// TokenRef identifies a token on a chain. Equality is (chain, address)
// with address case preserved.
type TokenRef struct {
	ChainID ChainID `json:"chainId"`
	Address string  `json:"address"`
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name,omitempty"`
}

// Key returns the canonical (chain,address) identity for maps.
func (t TokenRef) Key() string {
	return string(t.ChainID) + ":" + t.Address
}

// PairStats carries the windowed trade statistics of a pair snapshot.
type PairStats struct {
	Buys5         int     `json:"buys_5"`
	Sells5        int     `json:"sells_5"`
	Vol5USD       float64 `json:"vol_5_usd"`
	Vol15USD      float64 `json:"vol_15_usd"`
	Vol24USD      float64 `json:"vol_24_usd,omitempty"`
	PriceUSD      float64 `json:"price_usd"`
	PriceChange5m float64 `json:"price_change_5m"`
	LiquidityUSD  float64 `json:"liquidity_usd"`
	FDVUSD        float64 `json:"fdv_usd,omitempty"`
	PairCreatedAt int64   `json:"pair_created_at"` // unix seconds
}

// PairUpdate is the event the collector emits for each changed pair.
type PairUpdate struct {
	ChainID      ChainID   `json:"chainId"`
	PairAddress  string    `json:"pairAddress"`
	Token        TokenRef  `json:"token"`
	Stats        PairStats `json:"stats"`
	BoostsActive int       `json:"boosts_active"`
	TS           int64     `json:"ts"` // unix millis, producer clock
}

// Key returns the (chain,pair) coalescing identity.
func (u PairUpdate) Key() string {
	return string(u.ChainID) + ":" + u.PairAddress
}

// AgeMinutes derives the pair age from its creation timestamp, floored at 0.
func (u PairUpdate) AgeMinutes(now time.Time) float64 {
	if u.Stats.PairCreatedAt <= 0 {
		return 0
	}
	age := now.Sub(time.Unix(u.Stats.PairCreatedAt, 0)).Minutes()
	if age < 0 {
		return 0
	}
	return age
}

// Validate applies the edge-validation rules. Updates failing validation
// are silently dropped by the collector.
func (u PairUpdate) Validate(minLiquidity float64) error {
	if u.PairAddress == "" {
		return fmt.Errorf("empty pair address")
	}
	if u.Token.Address == "" || u.Token.Symbol == "" {
		return fmt.Errorf("base token missing address or symbol")
	}
	if u.Stats.PriceUSD <= 0 {
		return fmt.Errorf("non-positive price %g", u.Stats.PriceUSD)
	}
	if u.Stats.LiquidityUSD < minLiquidity {
		return fmt.Errorf("liquidity %.0f below %0.f", u.Stats.LiquidityUSD, minLiquidity)
	}
	if u.Stats.Buys5 < 0 || u.Stats.Sells5 < 0 {
		return fmt.Errorf("negative trade counts")
	}
	return nil
}

// PricePoint is one observation in a baseline history window.
type PricePoint struct {
	Value float64
	TS    time.Time
}

// Baseline holds per-token rolling statistics maintained by the collector.
// Histories are pruned to the trailing 30 minutes and are monotone in TS.
type Baseline struct {
	Vol15EWMA     float64
	PriceSlope1m  float64
	PriceSlope5m  float64
	PriceHistory  []PricePoint
	VolumeHistory []PricePoint
	LastUpdated   time.Time
}

// Well-known security flags.
const (
	FlagHoneypot        = "honeypot"
	FlagCannotSell      = "cannot_sell"
	FlagFakeToken       = "fake_token"
	FlagHighTax         = "high_tax"
	FlagUpgradeable     = "upgradeable"
	FlagBlacklistable   = "blacklistable"
	FlagMintable        = "mintable"
	FlagAntiWhale       = "anti_whale"
	FlagTradingCooldown = "trading_cooldown"
	FlagExternalCall    = "external_call"
	FlagGasAbuse        = "gas_abuse"
	FlagAirdropScam     = "airdrop_scam"
	FlagHighRisk        = "high_risk"
	FlagAnalysisFailed  = "analysis_failed"
)

// SecurityReport is the merged verdict for a token address.
type SecurityReport struct {
	Address    string   `json:"address"`
	SecurityOK bool     `json:"security_ok"`
	Penalty    int      `json:"penalty"` // 0..100 after clamp
	Flags      []string `json:"flags"`
	Sources    []string `json:"sources"` // subset of {goplus, honeypot.is}
}

// HasFlag reports whether the report carries the given flag.
func (r SecurityReport) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// DegradedReport is returned when analysis fails for a token; it keeps the
// token out of leaderboards until the next cycle.
func DegradedReport(address string) *SecurityReport {
	return &SecurityReport{
		Address:    address,
		SecurityOK: false,
		Penalty:    50,
		Flags:      []string{FlagAnalysisFailed},
	}
}

// Signals are the extracted scoring inputs for one pair snapshot.
type Signals struct {
	Imbalance5       float64 `json:"imbalance5"`
	Surge15          float64 `json:"surge15"`
	PriceAccel       float64 `json:"priceAccel"`
	LiquidityQuality float64 `json:"liquidityQuality"`
	AgeFactor        float64 `json:"ageFactor"`
	SecurityPenalty  float64 `json:"securityPenalty"`
	ListingBoost     float64 `json:"listingBoost"`
}

// SecuritySummary is the trimmed security view carried on a TokenSummary.
type SecuritySummary struct {
	OK    bool     `json:"ok"`
	Flags []string `json:"flags,omitempty"`
}

// Links carries outbound chart links for a token.
type Links struct {
	Dexscreener string `json:"dexscreener"`
	Chart       string `json:"chart"`
}

// TokenSummary is the scored, display-ready view of a token.
type TokenSummary struct {
	ChainID      ChainID         `json:"chainId"`
	Token        TokenRef        `json:"token"`
	PairAddress  string          `json:"pairAddress"`
	PriceUSD     float64         `json:"priceUsd"`
	Buys5        int             `json:"buys5"`
	Sells5       int             `json:"sells5"`
	Vol5USD      float64         `json:"vol5Usd"`
	Vol15USD     float64         `json:"vol15Usd"`
	LiquidityUSD float64         `json:"liquidityUsd"`
	FDVUSD       float64         `json:"fdvUsd,omitempty"`
	AgeMinutes   float64         `json:"ageMinutes"`
	Score        float64         `json:"score"`
	Signals      Signals         `json:"signals"`
	Reasons      []string        `json:"reasons"`
	Security     SecuritySummary `json:"security"`
	Links        Links           `json:"links"`
	UpdatedAt    int64           `json:"updatedAt"` // unix millis
}

// CEXListingEvent is emitted by the sentinel when an exchange announces a
// new listing.
type CEXListingEvent struct {
	Source       string       `json:"source"` // always "cex_listing"
	Exchange     string       `json:"exchange"`
	Title        string       `json:"title,omitempty"`
	Markets      []string     `json:"markets"`
	URLs         []string     `json:"urls"`
	Token        ListingToken `json:"token"`
	Confirmation string       `json:"confirmation"` // "address" | "symbol_only"
	RadarScore   float64      `json:"radarScore"`
	LiquidityUSD float64      `json:"liquidityUsd"`
	TS           int64        `json:"ts"` // unix millis, announcement publish time
}

// ListingToken is the (possibly unresolved) token named by an announcement.
type ListingToken struct {
	Symbol  string  `json:"symbol"`
	Address string  `json:"address,omitempty"`
	ChainID ChainID `json:"chainId,omitempty"`
}

const (
	ConfirmationAddress    = "address"
	ConfirmationSymbolOnly = "symbol_only"
)

// Leaderboard categories.
type Category string

const (
	CategoryNewMints       Category = "new_mints"
	CategoryMomentum5m     Category = "momentum_5m"
	CategoryContinuation15 Category = "continuation_15m"
	CategoryUnusualVolume  Category = "unusual_volume"
)

// AllCategories lists the leaderboard categories in canonical order.
var AllCategories = []Category{
	CategoryNewMints, CategoryMomentum5m, CategoryContinuation15, CategoryUnusualVolume,
}

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	for _, k := range AllCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Leaderboards maps each category to its ranked entries (at most 50).
type Leaderboards map[Category][]TokenSummary

// PinnedToken keeps a CEX-listed token visible in the hotlist until
// PinnedUntil regardless of filters.
type PinnedToken struct {
	Summary     TokenSummary `json:"summary"`
	PinnedUntil int64        `json:"pinnedUntil"` // unix millis
	Reason      string       `json:"reason"`
}

// ServiceStatus is the per-component health view.
type ServiceStatus struct {
	Status    string    `json:"status"` // up | down | degraded
	LastCheck time.Time `json:"lastCheck"`
	Error     string    `json:"error,omitempty"`
}

// HealthSnapshot is the aggregated health report.
type HealthSnapshot struct {
	Status     string                   `json:"status"` // healthy | degraded | unhealthy
	Services   map[string]ServiceStatus `json:"services"`
	RateLimits map[string]RateStatus    `json:"rateLimits"`
	Timestamp  time.Time                `json:"timestamp"`
}

// RateStatus reports one source bucket's state.
type RateStatus struct {
	Tokens       float64   `json:"tokens"`
	Capacity     int       `json:"capacity"`
	BackoffUntil time.Time `json:"backoffUntil,omitempty"`
	Attempts     int       `json:"attempts"`
}

// DexscreenerPairURL builds the public chart link for a pair.
func DexscreenerPairURL(chain ChainID, pairAddress string) string {
	slug := map[ChainID]string{
		ChainSolana: "solana",
		ChainEth:    "ethereum",
		ChainBSC:    "bsc",
		ChainBase:   "base",
	}[chain]
	return "https://dexscreener.com/" + slug + "/" + pairAddress
}
