package eventmonitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/txmanager"
)

type fakeDispatcher struct {
	calls int32
}

func (f *fakeDispatcher) Submit(ctx context.Context, intent models.UpdateIntent) (txmanager.Outcome, error) {
	atomic.AddInt32(&f.calls, 1)
	return txmanager.Outcome{State: "confirmed"}, nil
}

func testMetrics() *metrics.Registry { return metrics.New(prometheus.NewRegistry()) }

func TestMonitor_Deliver_SucceedsOnFirstTry(t *testing.T) {
	var got models.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(models.WebhookResponse{Action: "log"})
	}))
	defer srv.Close()

	def := models.EventMonitorDef{
		Name: "test-monitor", Network: "ethereum",
		Webhook:  models.WebhookConfig{URL: srv.URL, Method: models.WebhookPOST, Timeout: 5 * time.Second, Retries: 2, RetryDelay: 10 * time.Millisecond},
		Response: models.ResponseConfig{Type: models.ResponseLogOnly},
	}
	m := New(def, nil, &fakeDispatcher{}, logger.New(logger.DefaultConfig()), testMetrics())

	resp, err := m.deliver(context.Background(), models.WebhookPayload{MonitorName: "test-monitor"})
	require.NoError(t, err)
	assert.Equal(t, "log", resp.Action)
	assert.Equal(t, "test-monitor", got.MonitorName)
}

func TestMonitor_Deliver_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(models.WebhookResponse{Action: "log"})
	}))
	defer srv.Close()

	def := models.EventMonitorDef{
		Name: "flaky-monitor",
		Webhook: models.WebhookConfig{URL: srv.URL, Method: models.WebhookPOST, Timeout: 5 * time.Second, Retries: 5, RetryDelay: 5 * time.Millisecond},
	}
	m := New(def, nil, &fakeDispatcher{}, logger.New(logger.DefaultConfig()), testMetrics())

	_, err := m.deliver(context.Background(), models.WebhookPayload{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts)
}

func TestMonitor_Route_ContractCallDispatchesIntent(t *testing.T) {
	dispatch := &fakeDispatcher{}
	def := models.EventMonitorDef{
		Name: "call-monitor",
		Response: models.ResponseConfig{
			Type:         models.ResponseContractCall,
			ContractCall: &models.ContractCallConfig{Network: "ethereum", Sender: "0x1"},
		},
	}
	m := New(def, nil, dispatch, logger.New(logger.DefaultConfig()), testMetrics())

	resp := &models.WebhookResponse{
		Action: "call",
		Calls: []models.WebhookCall{
			{Contract: "0x0000000000000000000000000000000000000002", Signature: "submit(uint256)", Params: []string{"100"}},
		},
	}
	err := m.route(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, int32(1), dispatch.calls)
}

func TestMonitor_Route_RejectsUnsignedResponseWhenRequired(t *testing.T) {
	def := models.EventMonitorDef{
		Name:     "signed-monitor",
		Response: models.ResponseConfig{Type: models.ResponseLogOnly, Validation: &models.ValidationConfig{RequireSignature: true, AllowedSigners: []string{"0xabc"}}},
	}
	m := New(def, nil, &fakeDispatcher{}, logger.New(logger.DefaultConfig()), testMetrics())

	err := m.route(context.Background(), &models.WebhookResponse{Action: "log", Signature: "0xdead"})
	assert.Error(t, err)
}
