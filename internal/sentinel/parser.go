package sentinel

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Announcement is one parsed exchange announcement.
type Announcement struct {
	Exchange    string
	Title       string
	Content     string
	URL         string
	PublishedAt int64 // unix millis
	Tokens      []string
	Markets     []string
}

// Identity is the dedup key: title + publish time.
func (a Announcement) Identity() string {
	return a.Title + "|" + strconv.FormatInt(a.PublishedAt, 10)
}

// Symbol candidates that are never meme tokens.
var symbolBlocklist = map[string]bool{
	"USD": true, "USDT": true, "USDC": true, "BTC": true, "ETH": true, "BNB": true,
	"API": true, "URL": true, "HTTP": true, "WWW": true, "COM": true,
	"NEW": true, "OLD": true, "ALL": true, "AND": true, "THE": true, "FOR": true, "NOW": true,
	"UTC": true, "GMT": true, "EST": true, "PST": true, "PDT": true, "EDT": true,
	"CEO": true, "CTO": true, "CMO": true, "CFO": true, "COO": true,
	"FAQ": true, "AMA": true, "IEO": true, "ICO": true, "IDO": true,
	"KYC": true, "AML": true, "P2P": true, "OTC": true, "DEX": true, "CEX": true,
}

var (
	reSymbolParen   = regexp.MustCompile(`\b([A-Z]{2,10})\s*\(`)
	reParenSymbol   = regexp.MustCompile(`\(([A-Z]{2,10})\)`)
	reSymbolKeyword = regexp.MustCompile(`([A-Z]{2,10})\s+(?:[Tt]oken|[Cc]oin|[Ll]isting)`)
	reMarketSlash   = regexp.MustCompile(`\b([A-Z]{2,10})[/-]([A-Z]{2,10})\b`)
)

var commonBases = []string{"USDT", "USDC", "BTC", "ETH"}

// ExtractTokens pulls candidate token symbols from announcement text,
// filtered through the blocklist, in first-appearance order.
func ExtractTokens(text string) []string {
	seen := map[string]int{}
	order := 0
	collect := func(matches [][]string) {
		for _, m := range matches {
			sym := m[1]
			if symbolBlocklist[sym] {
				continue
			}
			if _, ok := seen[sym]; !ok {
				seen[sym] = order
				order++
			}
		}
	}
	collect(reSymbolParen.FindAllStringSubmatch(text, -1))
	collect(reParenSymbol.FindAllStringSubmatch(text, -1))
	collect(reSymbolKeyword.FindAllStringSubmatch(text, -1))

	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return seen[out[i]] < seen[out[j]] })
	return out
}

// ExtractMarkets pulls SYMBOL/SYMBOL and SYMBOL-SYMBOL pairs; when none are
// present it infers "*/<BASE>" for each common base appearing in the text.
func ExtractMarkets(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range reMarketSlash.FindAllStringSubmatch(text, -1) {
		market := m[1] + "/" + m[2]
		if symbolBlocklist[m[1]] && symbolBlocklist[m[2]] {
			continue
		}
		if !seen[market] {
			seen[market] = true
			out = append(out, market)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, base := range commonBases {
		if strings.Contains(text, base) {
			out = append(out, "*/"+base)
		}
	}
	return out
}

var listingKeywords = []string{
	"listing", "list", "added", "support", "launch", "available",
	"trading", "spot trading", "new token", "new coin",
}

var antiKeywords = []string{
	"delisting", "delist", "suspend", "maintenance",
	"withdrawal", "deposit", "upgrade", "migration",
}

// IsListing applies the listing-detection predicate over title and content.
func IsListing(title, content string) bool {
	text := strings.ToLower(title + " " + content)
	for _, bad := range antiKeywords {
		if strings.Contains(text, bad) {
			return false
		}
	}
	for _, good := range listingKeywords {
		if strings.Contains(text, good) {
			return true
		}
	}
	return false
}

// Parse finalizes an announcement: extracts tokens and markets from the
// combined title+content text.
func Parse(a *Announcement) {
	text := a.Title
	if a.Content != "" {
		text += " " + a.Content
	}
	a.Tokens = ExtractTokens(text)
	a.Markets = ExtractMarkets(text)
}
