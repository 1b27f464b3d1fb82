// Package eventmonitor implements the event monitor (component H):
// a per-(contract, event) worker, subscription-first with a polling
// fallback, that delivers webhook
// payloads with retry/backoff and routes the webhook's response to a
// handler. Grounded on internal/defi/arbitrage_detector.go's poll loop
// and channel-fed processing shape, with retry/backoff modeled on
// pkg/failover/service.go's check-and-retry pattern.
package eventmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/chainkeeper/chainkeeper/internal/abi"
	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/txmanager"
)

// Dispatcher is the subset of the transaction manager a ContractCall
// response handler depends on.
type Dispatcher interface {
	Submit(ctx context.Context, intent models.UpdateIntent) (txmanager.Outcome, error)
}

// Monitor runs one configured event monitor's poll-deliver-handle loop.
type Monitor struct {
	def      models.EventMonitorDef
	provider blockchain.Provider
	dispatch Dispatcher
	client   *http.Client
	log      *logger.Logger
	metrics  *metrics.Registry

	fromBlock uint64
}

// New constructs a Monitor; env var references inside the webhook
// config are expected to already be expanded by internal/config at
// load time.
func New(def models.EventMonitorDef, provider blockchain.Provider, dispatch Dispatcher, log *logger.Logger, m *metrics.Registry) *Monitor {
	return &Monitor{
		def: def, provider: provider, dispatch: dispatch,
		client: &http.Client{Timeout: def.Webhook.Timeout},
		log:    log.Named("eventmonitor." + def.Name),
		metrics: m,
	}
}

// Run delivers logs to the webhook in arrival order (spec.md §5) until
// ctx is cancelled. It prefers a live eth_subscribe subscription and
// falls back to interval polling when the provider's RPC transport
// doesn't support subscriptions (plain HTTP endpoints, most notably) or
// an established subscription drops.
func (m *Monitor) Run(ctx context.Context, pollInterval time.Duration) {
	if m.runSubscription(ctx) {
		return
	}
	m.runPolling(ctx, pollInterval)
}

// runSubscription delivers logs over a live subscription until ctx is
// cancelled, returning true in that case since there's nothing more to
// do. It returns false (Run should fall back to polling) when the
// provider's transport doesn't support eth_subscribe or an established
// subscription drops before ctx is done.
func (m *Monitor) runSubscription(ctx context.Context) bool {
	logs, sub, err := m.provider.SubscribeLogs(ctx, liveFilterQuery(m.def))
	if err != nil {
		m.log.Debug("log subscription unavailable, falling back to polling", "error", err.Error())
		return false
	}
	defer sub.Unsubscribe()
	m.log.Info("event monitor subscribed to logs")

	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-sub.Err():
			m.log.Warn("log subscription dropped, falling back to polling", "error", err.Error())
			return false
		case l := <-logs:
			m.handleLog(ctx, m.decodeLog(l))
		}
	}
}

func (m *Monitor) runPolling(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	current, err := m.provider.BlockNumber(ctx)
	if err != nil {
		m.log.Warn("event monitor block number read failed", "error", err.Error())
		return
	}
	if m.fromBlock == 0 {
		m.fromBlock = current
		return
	}
	if current <= m.fromBlock {
		return
	}

	filter := buildFilterQuery(m.def, m.fromBlock+1, current)
	logs, err := m.provider.GetLogs(ctx, filter)
	if err != nil {
		m.log.Warn("event monitor log fetch failed", "error", err.Error())
		return
	}
	m.fromBlock = current

	for _, l := range logs {
		m.handleLog(ctx, m.decodeLog(l))
	}
}

// decodeLog converts a raw go-ethereum log into the wire Log shape,
// ABI-decoding its indexed topics and non-indexed data into named
// values when the monitor declares event_params. Without event_params,
// the signature's bare type list carries no name/indexed metadata to
// decode against, so DecodedArgs is left nil and only the raw
// topics/data reach the webhook payload.
func (m *Monitor) decodeLog(l types.Log) models.Log {
	out := toModelLog(l)
	if len(m.def.EventParams) == 0 {
		return out
	}
	params := make([]abi.EventParam, len(m.def.EventParams))
	for i, p := range m.def.EventParams {
		params[i] = abi.EventParam{Name: p.Name, Type: p.Type, Indexed: p.Indexed}
	}
	decoded, err := abi.DecodeEventLog(params, l.Topics, l.Data)
	if err != nil {
		m.log.Warn("event log decode failed", "tx_hash", l.TxHash.Hex(), "error", err.Error())
		return out
	}
	out.DecodedArgs = decoded
	return out
}

func (m *Monitor) handleLog(ctx context.Context, l models.Log) {
	payload := models.WebhookPayload{
		MonitorName: m.def.Name, EventName: m.def.EventSignature,
		ContractAddress: m.def.ContractAddress, TxHash: l.TxHash,
		BlockNumber: l.BlockNumber, LogIndex: l.LogIndex, Removed: l.Removed,
		Topics: l.Topics, Data: fmt.Sprintf("0x%x", l.Data), DecodedArgs: l.DecodedArgs,
		Network: m.def.Network, Timestamp: time.Now(),
	}

	resp, err := m.deliver(ctx, payload)
	if err != nil {
		m.log.Error("webhook delivery failed", "error", err.Error())
		m.metrics.IncWebhookCall(m.def.Name, "delivery_failed")
		return
	}
	m.metrics.IncWebhookCall(m.def.Name, "delivered")

	if err := m.route(ctx, resp); err != nil {
		m.log.Error("webhook response handling failed", "error", err.Error())
	}
}

// deliver POSTs (or sends per webhook.method) the payload, retrying up
// to webhook.retries times with a constant webhook.retry_delay between
// attempts (cenkalti/backoff's ConstantBackOff). 5xx responses and
// network errors are retried; 4xx responses are not.
func (m *Monitor) deliver(ctx context.Context, payload models.WebhookPayload) (*models.WebhookResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	var response models.WebhookResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, string(m.def.Webhook.Method), m.def.Webhook.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range m.def.Webhook.Headers {
			req.Header.Set(k, v)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return err // transient network error, retry
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, &response); err != nil {
			return backoff.Permanent(fmt.Errorf("decode webhook response: %w", err))
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(m.def.Webhook.RetryDelay), uint64(maxInt(m.def.Webhook.Retries, 0)))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return &response, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// route dispatches a webhook's response to the handler named by
// response.type (spec.md §4.H).
func (m *Monitor) route(ctx context.Context, resp *models.WebhookResponse) error {
	if resp == nil {
		return nil
	}
	if m.def.Response.Validation != nil && m.def.Response.Validation.RequireSignature {
		if !signatureAllowed(resp.Signature, m.def.Response.Validation.AllowedSigners) {
			return fmt.Errorf("webhook response signature not in allowed_signers")
		}
	}

	switch m.def.Response.Type {
	case models.ResponseLogOnly, "":
		m.log.Info("webhook response (log only)", "action", resp.Action)
		return nil
	case models.ResponseContractCall:
		return m.handleContractCall(ctx, resp)
	case models.ResponseStoreDb:
		m.log.Debug("store_db response handler invoked with no persistence backend configured", "action", resp.Action)
		return nil
	case models.ResponseMultiAction:
		for _, call := range resp.Calls {
			if err := m.submitCall(ctx, call); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown response type %q", m.def.Response.Type)
	}
}

func (m *Monitor) handleContractCall(ctx context.Context, resp *models.WebhookResponse) error {
	for _, call := range resp.Calls {
		if err := m.submitCall(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) submitCall(ctx context.Context, call models.WebhookCall) error {
	if m.def.Response.ContractCall == nil {
		return fmt.Errorf("response.contract_call not configured for monitor %s", m.def.Name)
	}
	def, err := abi.Parse(call.Signature)
	if err != nil {
		return fmt.Errorf("parse webhook call signature: %w", err)
	}
	params, err := resolveWebhookParams(def.Types, call.Params)
	if err != nil {
		return fmt.Errorf("resolve webhook call params: %w", err)
	}
	calldata, err := def.Encode(params...)
	if err != nil {
		return fmt.Errorf("encode webhook call: %w", err)
	}

	intent := models.UpdateIntent{
		Network: m.def.Response.ContractCall.Network, Sender: m.def.Response.ContractCall.Sender,
		Contract: call.Contract, Calldata: calldata, MaxGasPriceGwei: call.MaxGasPriceGwei,
		OriginatorKind: "monitor", OriginatorName: m.def.Name,
		CorrelationID: uuid.New().String(),
	}
	_, err = m.dispatch.Submit(ctx, intent)
	return err
}

func signatureAllowed(sig string, allowed []string) bool {
	for _, a := range allowed {
		if a == sig {
			return true
		}
	}
	return false
}

func toModelLog(l types.Log) models.Log {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	return models.Log{
		TxHash: l.TxHash.Hex(), BlockNumber: l.BlockNumber, LogIndex: l.Index,
		Removed: l.Removed, Topics: topics, Data: l.Data,
	}
}
