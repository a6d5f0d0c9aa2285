package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
node:
  peer_id: "peer-test"
  jwt_secret: "secret"
api:
  port: 8080
`

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "peer-test", cfg.Node.PeerID)
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, 100, cfg.API.RateLimit)
	assert.Equal(t, 60*time.Second, cfg.API.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadShippedExample(t *testing.T) {
	cfg, err := LoadConfig("config.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	params, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.True(t, params.SlashFraction.Equal(math.LegacyNewDecWithPrec(10, 2)))
	assert.Equal(t, uint64(100), params.CyclesPerID)
	assert.Equal(t, 30*time.Second, params.DispatchTimeout)
}

func TestValidateRejectsMissingIdentity(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
api:
  port: 8080
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
database:
  backend: "cassandra"
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidatePostgresRequiresConnection(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
database:
  backend: "postgres"
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestMarketParamsOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
market:
  slash_fraction: "0.25"
  cycles_per_id: 50
  dispatch_timeout: 10s
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	params, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.True(t, params.SlashFraction.Equal(math.LegacyNewDecWithPrec(25, 2)))
	assert.Equal(t, uint64(50), params.CyclesPerID)
	assert.Equal(t, 10*time.Second, params.DispatchTimeout)
	// untouched fields keep defaults
	assert.True(t, params.TrustPenalty.Equal(math.LegacyNewDec(10)))
}

func TestMarketParamsRejectsBadDecimal(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
market:
  slash_fraction: "lots"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	_, err = cfg.MarketParams()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRIDMARKET_PEER_ID", "peer-from-env")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "peer-from-env", cfg.Node.PeerID)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}
