package security

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
)

const goplusBase = "https://api.gopluslabs.io/api/v1"

var goplusChainIDs = map[models.ChainID]string{
	models.ChainEth:  "1",
	models.ChainBSC:  "56",
	models.ChainBase: "8453",
}

// goplusResult mirrors the fields of the GoPlus token_security payload the
// auditor consumes. All numeric-ish fields arrive as strings.
type goplusResult struct {
	IsHoneypot           string `json:"is_honeypot"`
	CannotSellAll        string `json:"cannot_sell_all"`
	IsFakeToken          string `json:"fake_token"`
	BuyTax               string `json:"buy_tax"`
	SellTax              string `json:"sell_tax"`
	IsProxy              string `json:"is_proxy"`
	CanTakeBackOwnership string `json:"can_take_back_ownership"`
	IsBlacklisted        string `json:"is_blacklisted"`
	IsMintable           string `json:"is_mintable"`
	IsAntiWhale          string `json:"is_anti_whale"`
	TradingCooldown      string `json:"trading_cooldown"`
	ExternalCall         string `json:"external_call"`
	GasAbuse             string `json:"gas_abuse"`
	IsAirdropScam        string `json:"is_airdrop_scam"`
}

type goplusResponse struct {
	Code   int                     `json:"code"`
	Result map[string]goplusResult `json:"result"`
}

// ContractRisk is the normalized GoPlus verdict.
type ContractRisk struct {
	Honeypot        bool
	CannotSell      bool
	FakeToken       bool
	BuyTax          float64
	SellTax         float64
	Upgradeable     bool
	Blacklistable   bool
	Mintable        bool
	AntiWhale       bool
	TradingCooldown bool
	ExternalCall    bool
	GasAbuse        bool
	AirdropScam     bool
}

type goplusClient struct {
	fetcher *httpx.Fetcher
}

func (c *goplusClient) TokenSecurity(ctx context.Context, chain models.ChainID, address string) (*ContractRisk, error) {
	var url string
	if chain == models.ChainSolana {
		url = fmt.Sprintf("%s/solana/token_security?contract_addresses=%s", goplusBase, address)
	} else {
		cid, ok := goplusChainIDs[chain]
		if !ok {
			return nil, fmt.Errorf("goplus: unsupported chain %s", chain)
		}
		url = fmt.Sprintf("%s/token_security/%s?contract_addresses=%s", goplusBase, cid, address)
	}

	body, err := c.fetcher.Fetch(ctx, "goplus", url, httpx.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	var resp goplusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("goplus: decode: %w", err)
	}

	// Result keys are lowercased contract addresses.
	var res goplusResult
	found := false
	for k, v := range resp.Result {
		if strings.EqualFold(k, address) {
			res, found = v, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("goplus: no result for %s", address)
	}

	return &ContractRisk{
		Honeypot:        flag(res.IsHoneypot),
		CannotSell:      flag(res.CannotSellAll),
		FakeToken:       flag(res.IsFakeToken),
		BuyTax:          taxPercent(res.BuyTax),
		SellTax:         taxPercent(res.SellTax),
		Upgradeable:     flag(res.IsProxy) || flag(res.CanTakeBackOwnership),
		Blacklistable:   flag(res.IsBlacklisted),
		Mintable:        flag(res.IsMintable),
		AntiWhale:       flag(res.IsAntiWhale),
		TradingCooldown: flag(res.TradingCooldown),
		ExternalCall:    flag(res.ExternalCall),
		GasAbuse:        flag(res.GasAbuse),
		AirdropScam:     flag(res.IsAirdropScam),
	}, nil
}

func flag(s string) bool { return s == "1" }

// taxPercent parses GoPlus tax fields, which are fractions ("0.05" = 5%).
func taxPercent(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if f <= 1 {
		return f * 100
	}
	return f
}
