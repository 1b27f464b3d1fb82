// Package gasprice implements the background USD price oracle
// (component C): a CoinGecko-style REST client batched on a single
// ticker, an RWMutex-guarded cache with stale-fallback reads, and
// the usd_cost helper the transaction manager attributes spend to.
// Grounded on the REST client shape of the upstream web3 backend's
// internal/defi/chainlink_client.go, generalized from an on-chain
// price feed reader into an HTTP price source.
package gasprice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainkeeper/chainkeeper/internal/config"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// Oracle tracks USD prices per network behind a TTL cache, refreshed by
// a single background task shared across all configured networks.
type Oracle struct {
	cfg     config.GasPriceFeedsConfig
	client  *http.Client
	log     *logger.Logger
	metrics *metrics.Registry

	mu     sync.RWMutex
	prices map[string]models.PriceEntry // network -> entry

	stop chan struct{}
}

// New constructs an Oracle; call Run to start the background refresh
// loop and Close to stop it.
func New(cfg config.GasPriceFeedsConfig, log *logger.Logger, m *metrics.Registry) *Oracle {
	return &Oracle{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("gasprice"),
		metrics: m,
		prices:  make(map[string]models.PriceEntry),
		stop:    make(chan struct{}),
	}
}

// Run blocks, refreshing prices every UpdateFrequency until ctx is
// cancelled or Close is called. Call it from its own goroutine.
func (o *Oracle) Run(ctx context.Context) {
	if !o.cfg.Enabled {
		return
	}
	o.refresh(ctx)

	ticker := time.NewTicker(o.cfg.UpdateFrequency())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			o.refresh(ctx)
		}
	}
}

// Close stops the background refresh loop.
func (o *Oracle) Close() { close(o.stop) }

// refresh batches all distinct token ids into a single request and
// writes the cache atomically under the write lock (spec.md §4.C.1).
func (o *Oracle) refresh(ctx context.Context) {
	ids := o.distinctTokenIDs()
	if len(ids) == 0 {
		return
	}

	prices, err := o.fetch(ctx, ids)
	if err != nil {
		o.log.Warn("gas price refresh failed", "error", err.Error())
		return
	}

	now := time.Now()
	o.mu.Lock()
	for network, tokenID := range o.cfg.NetworkTokenIDs {
		usd, ok := prices[tokenID]
		if !ok {
			continue
		}
		o.prices[network] = models.PriceEntry{TokenID: tokenID, USD: usd, FetchedAt: now}
	}
	o.mu.Unlock()
}

func (o *Oracle) distinctTokenIDs() []string {
	seen := make(map[string]struct{})
	for _, id := range o.cfg.NetworkTokenIDs {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

func (o *Oracle) fetch(ctx context.Context, ids []string) (map[string]float64, error) {
	base := o.cfg.APIBaseURL
	if base == "" {
		base = defaultBaseURL
	}
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", base, url.QueryEscape(strings.Join(ids, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("x-cg-api-key", o.cfg.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price request: unexpected status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	out := make(map[string]float64, len(body))
	for id, quote := range body {
		if usd, ok := quote["usd"]; ok {
			out[id] = usd
		}
	}
	return out, nil
}

// Price returns the USD price for network, honoring the cache TTL and
// stale-fallback policy (spec.md §4.C.2).
func (o *Oracle) Price(network string) (models.PriceEntry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	entry, ok := o.prices[network]
	if !ok {
		return models.PriceEntry{}, false
	}
	if !entry.Stale(o.cfg.CacheTTL(), time.Now()) {
		return entry, true
	}
	if o.cfg.FallbackToCache {
		return entry, true
	}
	return models.PriceEntry{}, false
}

// USDCost computes the USD cost of a transaction: (gasUsed *
// gasPriceWei / 1e18) * price(network). Returns false if no usable
// price is available (spec.md §4.C.3).
func (o *Oracle) USDCost(gasUsed uint64, gasPriceWei decimal.Decimal, network string) (decimal.Decimal, bool) {
	entry, ok := o.Price(network)
	if !ok {
		return decimal.Zero, false
	}
	weiPerEth := decimal.New(1, 18)
	nativeSpent := decimal.NewFromInt(int64(gasUsed)).Mul(gasPriceWei).Div(weiPerEth)
	return nativeSpent.Mul(decimal.NewFromFloat(entry.USD)), true
}
