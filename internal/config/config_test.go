package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
networks:
  ethereum:
    rpc_url: "https://rpc.example.com"
    transaction_type: "eip1559"
datafeeds:
  - name: eth-usd
    network: ethereum
    contract_address: "0x0000000000000000000000000000000000000001"
    decimals: 8
    check_frequency_secs: 30
    minimum_update_frequency_secs: 3600
    deviation_threshold_pct: 0.5
    feed_url: "https://price.example.com"
    feed_json_path: "price"
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Metrics.Port, "missing metrics.port should default to 9090")
	assert.Len(t, cfg.Datafeeds, 1)
}

func TestLoad_RejectsUnknownTopLevelKey(t *testing.T) {
	path := writeConfig(t, `
networks: {}
totally_unknown_key: true
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsDatafeedForUnknownNetwork(t *testing.T) {
	path := writeConfig(t, `
networks:
  ethereum:
    rpc_url: "https://rpc.example.com"
datafeeds:
  - name: eth-usd
    network: polygon
    contract_address: "0x0000000000000000000000000000000000000001"
    decimals: 8
    check_frequency_secs: 30
    minimum_update_frequency_secs: 3600
    deviation_threshold_pct: 0.5
    feed_url: "https://price.example.com"
    feed_json_path: "price"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown network")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))

	t.Setenv("CHAINKEEPER_CONFIG", "from-env.yaml")
	assert.Equal(t, "from-env.yaml", ResolvePath(""))

	t.Setenv("CHAINKEEPER_CONFIG", "")
	assert.Equal(t, "config.yaml", ResolvePath(""))
}

func TestExpandEnvLiteral_LeavesUndefinedReferencesLiteral(t *testing.T) {
	t.Setenv("CK_TEST_TOKEN", "secret-value")
	assert.Equal(t, "Bearer secret-value", expandEnvLiteral("Bearer ${CK_TEST_TOKEN}"))
	assert.Equal(t, "${CK_TEST_UNDEFINED}", expandEnvLiteral("${CK_TEST_UNDEFINED}"))
}
