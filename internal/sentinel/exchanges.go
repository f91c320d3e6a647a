package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"time"

	"github.com/DelaneKay/memeradar/internal/httpx"
)

// announcementSource fetches the raw announcement index for one exchange.
type announcementSource interface {
	Exchange() string
	Fetch(ctx context.Context, f *httpx.Fetcher) ([]Announcement, error)
}

// newSources builds the source list for the configured exchange names.
// Unknown names are skipped.
func newSources(exchanges []string, baseOverride map[string]string) []announcementSource {
	base := func(name, def string) string {
		if baseOverride != nil && baseOverride[name] != "" {
			return baseOverride[name]
		}
		return def
	}

	var out []announcementSource
	for _, name := range exchanges {
		switch name {
		case "kucoin":
			out = append(out, &kucoinSource{url: base(name,
				"https://api.kucoin.com/api/v3/announcements?annType=new-listings&lang=en_US&pageSize=20")})
		case "bybit":
			out = append(out, &bybitSource{url: base(name,
				"https://api.bybit.com/v5/announcements/index?locale=en-US&type=new_crypto&limit=20")})
		case "mexc":
			out = append(out, &htmlSource{exchange: "mexc", url: base(name,
				"https://www.mexc.com/support/sections/15425930840731")})
		case "gate":
			out = append(out, &htmlSource{exchange: "gate", url: base(name,
				"https://www.gate.io/announcements/newlisted")})
		case "lbank":
			out = append(out, &htmlSource{exchange: "lbank", url: base(name,
				"https://support.lbank.com/hc/en-gb/sections/360012596654")})
		case "bitmart":
			out = append(out, &htmlSource{exchange: "bitmart", url: base(name,
				"https://support.bitmart.com/hc/en-us/sections/360000934693")})
		}
	}
	return out
}

// --- kucoin (JSON) ---

type kucoinSource struct{ url string }

func (s *kucoinSource) Exchange() string { return "kucoin" }

func (s *kucoinSource) Fetch(ctx context.Context, f *httpx.Fetcher) ([]Announcement, error) {
	body, err := f.Fetch(ctx, "cex:kucoin", s.url, httpx.Options{Timeout: 12 * time.Second})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Items []struct {
				Title    string `json:"annTitle"`
				Desc     string `json:"annDesc"`
				URL      string `json:"annUrl"`
				Released int64  `json:"cTime"` // unix millis
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kucoin: decode: %w", err)
	}
	out := make([]Announcement, 0, len(resp.Data.Items))
	for _, it := range resp.Data.Items {
		out = append(out, Announcement{
			Exchange:    "kucoin",
			Title:       it.Title,
			Content:     it.Desc,
			URL:         it.URL,
			PublishedAt: it.Released,
		})
	}
	return out, nil
}

// --- bybit (JSON) ---

type bybitSource struct{ url string }

func (s *bybitSource) Exchange() string { return "bybit" }

func (s *bybitSource) Fetch(ctx context.Context, f *httpx.Fetcher) ([]Announcement, error) {
	body, err := f.Fetch(ctx, "cex:bybit", s.url, httpx.Options{Timeout: 12 * time.Second})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				URL         string `json:"url"`
				DateTS      int64  `json:"dateTimestamp"` // unix millis
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bybit: decode: %w", err)
	}
	out := make([]Announcement, 0, len(resp.Result.List))
	for _, it := range resp.Result.List {
		out = append(out, Announcement{
			Exchange:    "bybit",
			Title:       it.Title,
			Content:     it.Description,
			URL:         it.URL,
			PublishedAt: it.DateTS,
		})
	}
	return out, nil
}

// --- generic HTML announcement index ---

// Announcement links on the support-center index pages of mexc, gate,
// lbank, and bitmart all reduce to anchor tags whose text is the title.
var reAnchor = regexp.MustCompile(`(?is)<a[^>]+href="([^"]+)"[^>]*>([^<]{10,200})</a>`)

var reWhitespace = regexp.MustCompile(`\s+`)

type htmlSource struct {
	exchange string
	url      string
}

func (s *htmlSource) Exchange() string { return s.exchange }

func (s *htmlSource) Fetch(ctx context.Context, f *httpx.Fetcher) ([]Announcement, error) {
	body, err := f.Fetch(ctx, "cex:"+s.exchange, s.url, httpx.Options{Timeout: 15 * time.Second})
	if err != nil {
		return nil, err
	}

	matches := reAnchor.FindAllStringSubmatch(string(body), -1)
	out := make([]Announcement, 0, len(matches))
	for _, m := range matches {
		title := reWhitespace.ReplaceAllString(html.UnescapeString(m[2]), " ")
		if !IsListing(title, "") {
			continue
		}
		out = append(out, Announcement{
			Exchange: s.exchange,
			Title:    title,
			URL:      absoluteURL(s.url, m[1]),
			// Index pages carry no timestamps; PublishedAt stays 0 so the
			// dedup identity is stable across fetches.
		})
	}
	return out, nil
}

func absoluteURL(base, href string) string {
	if len(href) >= 4 && href[:4] == "http" {
		return href
	}
	// Keep scheme+host of the base.
	slashes := 0
	for i := 0; i < len(base); i++ {
		if base[i] == '/' {
			slashes++
			if slashes == 3 {
				return base[:i] + href
			}
		}
	}
	return base + href
}
