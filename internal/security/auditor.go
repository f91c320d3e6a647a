// Package security merges contract-risk and honeypot-simulation verdicts
// into cached SecurityReports with an accumulative penalty model.
package security

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

const (
	upstreamDeadline = 10 * time.Second
	wavePause        = 2 * time.Second
)

// Auditor produces SecurityReports, cached per (chain,address) for an hour.
type Auditor struct {
	goplus        *goplusClient
	honeypot      *honeypotClient
	cache         *cache.Cache
	metrics       *telemetry.Metrics
	maxTax        float64
	maxConcurrent int
	logger        zerolog.Logger

	mu        sync.RWMutex
	lastCheck time.Time
	lastError string
}

// Config tunes the auditor.
type Config struct {
	MaxTax        float64 // percent; above it the high_tax flag applies
	MaxConcurrent int     // batch wave size, default 5
}

// NewAuditor wires the auditor over the shared fetcher and cache.
func NewAuditor(fetcher *httpx.Fetcher, c *cache.Cache, metrics *telemetry.Metrics, cfg Config) *Auditor {
	if cfg.MaxTax <= 0 {
		cfg.MaxTax = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Auditor{
		goplus:        &goplusClient{fetcher: fetcher},
		honeypot:      &honeypotClient{fetcher: fetcher},
		cache:         c,
		metrics:       metrics,
		maxTax:        cfg.MaxTax,
		maxConcurrent: cfg.MaxConcurrent,
		logger:        log.With().Str("component", "security").Logger(),
	}
}

func securityKey(chain models.ChainID, address string) string {
	return "security:" + string(chain) + ":" + address
}

// Analyze returns the report for one token, consulting the cache first.
// A failure yields the degraded report rather than an error.
func (a *Auditor) Analyze(ctx context.Context, chain models.ChainID, address string) *models.SecurityReport {
	key := securityKey(chain, address)
	if raw, ok := a.cache.Get(ctx, key); ok {
		var cached models.SecurityReport
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached
		}
	}

	report := a.analyzeFresh(ctx, chain, address)

	if raw, err := json.Marshal(report); err == nil {
		a.cache.Set(ctx, key, raw, cache.TTLSecurity)
	}
	a.touch(report)
	return report
}

func (a *Auditor) analyzeFresh(ctx context.Context, chain models.ChainID, address string) *models.SecurityReport {
	var (
		wg      sync.WaitGroup
		risk    *ContractRisk
		sim     *HoneypotResult
		riskErr error
		simErr  error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, upstreamDeadline)
		defer cancel()
		risk, riskErr = a.goplus.TokenSecurity(cctx, chain, address)
	}()

	if chain.IsEVM() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, upstreamDeadline)
			defer cancel()
			sim, simErr = a.honeypot.Simulate(cctx, chain, address)
		}()
	}
	wg.Wait()

	if risk == nil && sim == nil {
		a.logger.Debug().Str("chain", string(chain)).Str("address", address).
			AnErr("goplus", riskErr).AnErr("honeypot", simErr).
			Msg("all security sources failed")
		if a.metrics != nil {
			a.metrics.SecurityChecks.WithLabelValues("failed").Inc()
		}
		return models.DegradedReport(address)
	}
	if riskErr != nil && httpx.KindOf(riskErr) != "" {
		a.logger.Debug().Err(riskErr).Str("address", address).Msg("goplus unavailable, merging honeypot only")
	}
	if simErr != nil {
		a.logger.Debug().Err(simErr).Str("address", address).Msg("honeypot unavailable, merging goplus only")
	}

	report := a.merge(address, risk, sim)
	if a.metrics != nil {
		outcome := "ok"
		if !report.SecurityOK {
			outcome = "flagged"
		}
		a.metrics.SecurityChecks.WithLabelValues(outcome).Inc()
	}
	return report
}

// merge applies the accumulative penalty model over both sources.
func (a *Auditor) merge(address string, risk *ContractRisk, sim *HoneypotResult) *models.SecurityReport {
	flags := map[string]int{}

	if risk != nil {
		if risk.Honeypot {
			flags[models.FlagHoneypot] = 100
		}
		if risk.CannotSell {
			flags[models.FlagCannotSell] = 100
		}
		if risk.FakeToken {
			flags[models.FlagFakeToken] = 100
		}
		if max(risk.BuyTax, risk.SellTax) > a.maxTax {
			flags[models.FlagHighTax] = 15
		}
		if risk.Upgradeable {
			flags[models.FlagUpgradeable] = 12
		}
		if risk.Blacklistable {
			flags[models.FlagBlacklistable] = 12
		}
		if risk.Mintable {
			flags[models.FlagMintable] = 8
		}
		if risk.AntiWhale {
			flags[models.FlagAntiWhale] = 5
		}
		if risk.TradingCooldown {
			flags[models.FlagTradingCooldown] = 5
		}
		if risk.ExternalCall {
			flags[models.FlagExternalCall] = 3
		}
		if risk.GasAbuse {
			flags[models.FlagGasAbuse] = 3
		}
		if risk.AirdropScam {
			flags[models.FlagAirdropScam] = 20
		}
	}
	if sim != nil {
		if sim.IsHoneypot {
			flags[models.FlagHoneypot] = 100
		}
		if max(sim.BuyTax, sim.SellTax) > a.maxTax {
			flags[models.FlagHighTax] = 15
		}
		if sim.RiskLevel > 7 {
			flags[models.FlagHighRisk] = 10
		}
	}

	penalty := 0
	names := make([]string, 0, len(flags))
	for name, p := range flags {
		penalty += p
		names = append(names, name)
	}
	sort.Strings(names)
	if penalty > 100 {
		penalty = 100
	}

	fatal := flags[models.FlagHoneypot] > 0 ||
		flags[models.FlagCannotSell] > 0 ||
		flags[models.FlagFakeToken] > 0

	var sources []string
	if risk != nil {
		sources = append(sources, "goplus")
	}
	if sim != nil {
		sources = append(sources, "honeypot.is")
	}

	return &models.SecurityReport{
		Address:    address,
		SecurityOK: penalty < 50 && !fatal,
		Penalty:    penalty,
		Flags:      names,
		Sources:    sources,
	}
}

// AnalyzeBatch resolves reports for a token set, at most maxConcurrent in
// flight, pausing between waves. Individual failures degrade, never abort.
func (a *Auditor) AnalyzeBatch(ctx context.Context, tokens []models.TokenRef) map[string]*models.SecurityReport {
	out := make(map[string]*models.SecurityReport, len(tokens))
	var outMu sync.Mutex

	for start := 0; start < len(tokens); start += a.maxConcurrent {
		end := start + a.maxConcurrent
		if end > len(tokens) {
			end = len(tokens)
		}

		var wg sync.WaitGroup
		for _, tok := range tokens[start:end] {
			wg.Add(1)
			go func(t models.TokenRef) {
				defer wg.Done()
				report := a.Analyze(ctx, t.ChainID, t.Address)
				outMu.Lock()
				out[t.Key()] = report
				outMu.Unlock()
			}(tok)
		}
		wg.Wait()

		if end < len(tokens) {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(wavePause):
			}
		}
	}
	return out
}

// Health reports the auditor's last activity for the health aggregator.
func (a *Auditor) Health() models.ServiceStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	status := "up"
	if a.lastError != "" {
		status = "degraded"
	}
	return models.ServiceStatus{Status: status, LastCheck: a.lastCheck, Error: a.lastError}
}

func (a *Auditor) touch(report *models.SecurityReport) {
	a.mu.Lock()
	a.lastCheck = time.Now()
	if report.HasFlag(models.FlagAnalysisFailed) {
		a.lastError = "analysis_failed"
	} else {
		a.lastError = ""
	}
	a.mu.Unlock()
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
