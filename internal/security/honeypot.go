package security

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
)

const honeypotBase = "https://api.honeypot.is/v2/IsHoneypot"

var honeypotChainIDs = map[models.ChainID]string{
	models.ChainEth:  "1",
	models.ChainBSC:  "56",
	models.ChainBase: "8453",
}

// HoneypotResult is the normalized honeypot.is simulation verdict.
type HoneypotResult struct {
	IsHoneypot bool
	BuyTax     float64
	SellTax    float64
	RiskLevel  int
}

type honeypotResponse struct {
	HoneypotResult struct {
		IsHoneypot bool `json:"isHoneypot"`
	} `json:"honeypotResult"`
	SimulationResult struct {
		BuyTax  float64 `json:"buyTax"`
		SellTax float64 `json:"sellTax"`
	} `json:"simulationResult"`
	Summary struct {
		RiskLevel int `json:"riskLevel"`
	} `json:"summary"`
}

type honeypotClient struct {
	fetcher *httpx.Fetcher
}

// Simulate runs the honeypot.is buy/sell simulation. EVM chains only.
func (c *honeypotClient) Simulate(ctx context.Context, chain models.ChainID, address string) (*HoneypotResult, error) {
	cid, ok := honeypotChainIDs[chain]
	if !ok {
		return nil, fmt.Errorf("honeypot: unsupported chain %s", chain)
	}
	url := fmt.Sprintf("%s?address=%s&chainID=%s", honeypotBase, address, cid)

	body, err := c.fetcher.Fetch(ctx, "honeypot", url, httpx.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	var resp honeypotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("honeypot: decode: %w", err)
	}
	return &HoneypotResult{
		IsHoneypot: resp.HoneypotResult.IsHoneypot,
		BuyTax:     resp.SimulationResult.BuyTax,
		SellTax:    resp.SimulationResult.SellTax,
		RiskLevel:  resp.Summary.RiskLevel,
	}, nil
}
