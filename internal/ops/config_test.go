package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(5), loaded.SlippageBps)
	assert.Equal(t, time.Second, loaded.EngineSweepInterval)
	assert.Equal(t, time.Second, loaded.RiskSweepInterval)
	assert.Equal(t, StoreMemory, loaded.StoreBackend)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  slippageBps: 10
  sweepInterval: 500ms
risk:
  maxPositionSize: "2000"
  maxNotionalValue: "250000"
  maxDailyTrades: 50
  maxDailyVolume: "20000"
  maxConcentration: "0.25"
  maxTotalExposure: "5000000"
  maxDrawdown: "0.15"
  sweepInterval: 2s
breaker:
  failureThreshold: 3
  resetTimeout: 30s
  testCallsRequired: 2
store:
  backend: postgres
  host: db.internal
  port: 5433
  user: trader
  password: secret
  database: executions
`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(10), loaded.SlippageBps)
	assert.Equal(t, 500*time.Millisecond, loaded.EngineSweepInterval)
	assert.Equal(t, 2*time.Second, loaded.RiskSweepInterval)

	assert.True(t, loaded.Risk.DefaultLimit.MaxPositionSize.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 50, loaded.Risk.DefaultLimit.MaxDailyTrades)
	assert.True(t, loaded.Risk.DefaultLimit.MaxConcentration.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, loaded.Risk.MaxTotalExposure.Equal(decimal.NewFromInt(5_000_000)))

	assert.Equal(t, 3, loaded.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, loaded.Breaker.ResetTimeout)

	assert.Equal(t, StorePostgres, loaded.StoreBackend)
	assert.Equal(t, "db.internal", loaded.Postgres.Host)
	assert.Equal(t, 5433, loaded.Postgres.Port)
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
risk:
  maxPositionSize: "500"
`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.True(t, loaded.Risk.DefaultLimit.MaxPositionSize.Equal(decimal.NewFromInt(500)))
	// Untouched fields keep the documented defaults.
	assert.True(t, loaded.Risk.DefaultLimit.MaxNotionalValue.Equal(decimal.NewFromInt(100_000)))
	assert.Equal(t, 100, loaded.Risk.DefaultLimit.MaxDailyTrades)
	assert.Equal(t, int64(5), loaded.SlippageBps)
	assert.Equal(t, StoreMemory, loaded.StoreBackend)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad decimal":      "risk:\n  maxPositionSize: \"abc\"\n",
		"negative decimal": "risk:\n  maxDailyVolume: \"-5\"\n",
		"bad interval":     "engine:\n  sweepInterval: soon\n",
		"zero interval":    "engine:\n  sweepInterval: 0s\n",
		"unknown backend":  "store:\n  backend: sqlite\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
}
