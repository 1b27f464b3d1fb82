package gasprice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainkeeper/chainkeeper/internal/config"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

func modelsPriceEntry(usd float64, fetchedAt time.Time) models.PriceEntry {
	return models.PriceEntry{TokenID: "test", USD: usd, FetchedAt: fetchedAt}
}

func testLogger() *logger.Logger { return logger.New(logger.DefaultConfig()) }

func testMetrics() *metrics.Registry { return metrics.New(prometheus.NewRegistry()) }

func TestOracle_RefreshAndPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ethereum":{"usd":3200.5},"matic-network":{"usd":0.75}}`))
	}))
	defer srv.Close()

	cfg := config.GasPriceFeedsConfig{
		Enabled:             true,
		UpdateFrequencySecs: 3600,
		CacheTTLSecs:        60,
		APIBaseURL:          srv.URL,
		NetworkTokenIDs:     map[string]string{"ethereum": "ethereum", "polygon": "matic-network"},
	}
	o := New(cfg, testLogger(), testMetrics())
	defer o.Close()

	o.refresh(context.Background())

	entry, ok := o.Price("ethereum")
	require.True(t, ok)
	assert.Equal(t, 3200.5, entry.USD)

	entry, ok = o.Price("polygon")
	require.True(t, ok)
	assert.Equal(t, 0.75, entry.USD)

	_, ok = o.Price("arbitrum")
	assert.False(t, ok, "unconfigured network has no price")
}

func TestOracle_Price_StaleWithoutFallback(t *testing.T) {
	cfg := config.GasPriceFeedsConfig{CacheTTLSecs: 1, FallbackToCache: false}
	o := New(cfg, testLogger(), testMetrics())
	defer o.Close()

	o.prices["ethereum"] = modelsPriceEntry(3000, time.Now().Add(-time.Hour))

	_, ok := o.Price("ethereum")
	assert.False(t, ok)
}

func TestOracle_Price_StaleWithFallback(t *testing.T) {
	cfg := config.GasPriceFeedsConfig{CacheTTLSecs: 1, FallbackToCache: true}
	o := New(cfg, testLogger(), testMetrics())
	defer o.Close()

	o.prices["ethereum"] = modelsPriceEntry(3000, time.Now().Add(-time.Hour))

	entry, ok := o.Price("ethereum")
	require.True(t, ok)
	assert.Equal(t, 3000.0, entry.USD)
}

func TestOracle_USDCost(t *testing.T) {
	cfg := config.GasPriceFeedsConfig{CacheTTLSecs: 60}
	o := New(cfg, testLogger(), testMetrics())
	defer o.Close()

	o.prices["ethereum"] = modelsPriceEntry(2000, time.Now())

	cost, ok := o.USDCost(21000, decimal.NewFromInt(50_000_000_000), "ethereum")
	require.True(t, ok)
	// 21000 gas * 50 gwei = 0.00105 ETH; at $2000/ETH = $2.10
	assert.True(t, cost.Equal(decimal.NewFromFloat(2.1)), "got %s", cost.String())
}

func TestOracle_USDCost_NoPrice(t *testing.T) {
	cfg := config.GasPriceFeedsConfig{CacheTTLSecs: 60}
	o := New(cfg, testLogger(), testMetrics())
	defer o.Close()

	_, ok := o.USDCost(21000, decimal.NewFromInt(50_000_000_000), "ethereum")
	assert.False(t, ok)
}
