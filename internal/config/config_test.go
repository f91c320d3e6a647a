package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DelaneKay/memeradar/internal/models"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, models.AllChains, cfg.Chains)
	assert.Equal(t, 30000, cfg.RefreshMS)
	assert.Equal(t, 120000, cfg.SentinelRefreshMS)
	assert.Equal(t, 20000.0, cfg.Thresholds.MinLiqAlert)
	assert.Equal(t, 12000.0, cfg.Thresholds.MinLiqList)
	assert.Equal(t, 70.0, cfg.Thresholds.ScoreAlert)
	assert.Equal(t, 2.5, cfg.Thresholds.Surge15Min)
	assert.Equal(t, 0.4, cfg.Thresholds.Imbalance5Min)
	assert.Equal(t, 50, cfg.AlertsPerHour)
	assert.Len(t, cfg.Exchanges, 6)
	assert.False(t, cfg.Features.RadarOnly)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chains: [sol, base]
refresh_ms: 45000
thresholds:
  score_alert: 80
server:
  port: 9090
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []models.ChainID{models.ChainSolana, models.ChainBase}, cfg.Chains)
	assert.Equal(t, 45000, cfg.RefreshMS)
	assert.Equal(t, 80.0, cfg.Thresholds.ScoreAlert)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched fields keep defaults.
	assert.Equal(t, 12000.0, cfg.Thresholds.MinLiqList)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "chain.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("chains: [dogechain]\n"), 0o644))
	_, err := Load(bad)
	assert.Error(t, err)

	fast := filepath.Join(dir, "fast.yaml")
	require.NoError(t, os.WriteFile(fast, []byte("refresh_ms: 100\n"), 0o644))
	_, err = Load(fast)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHAINS", "sol,eth")
	t.Setenv("REFRESH_MS", "60000")
	t.Setenv("SCORE_ALERT", "75.5")
	t.Setenv("RADAR_ONLY", "true")
	t.Setenv("HTTP_PORT", "3000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []models.ChainID{models.ChainSolana, models.ChainEth}, cfg.Chains)
	assert.Equal(t, 60000, cfg.RefreshMS)
	assert.Equal(t, 75.5, cfg.Thresholds.ScoreAlert)
	assert.True(t, cfg.Features.RadarOnly)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestEnvIgnoresUnparseable(t *testing.T) {
	t.Setenv("REFRESH_MS", "soon")
	t.Setenv("CHAINS", "narnia")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.RefreshMS)
	assert.Equal(t, models.AllChains, cfg.Chains)
}

func TestIntervals(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 2*time.Minute, cfg.SentinelInterval())
}

func TestStoreAtomicSwap(t *testing.T) {
	store := NewStore(Default())
	before := store.Get()

	after := store.Update(func(next *Config) {
		next.Thresholds.ScoreAlert = 90
	})

	assert.Equal(t, 70.0, before.Thresholds.ScoreAlert, "old snapshot untouched")
	assert.Equal(t, 90.0, after.Thresholds.ScoreAlert)
	assert.Same(t, after, store.Get())
}

func TestStoreUpdateCopiesSlices(t *testing.T) {
	store := NewStore(Default())
	orig := store.Get()

	store.Update(func(next *Config) {
		next.Chains[0] = models.ChainBase
	})
	assert.Equal(t, models.ChainSolana, orig.Chains[0], "mutating the copy leaves the old snapshot intact")
}
