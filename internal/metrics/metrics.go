// Package metrics exposes chainkeeper's runtime counters and gauges
// (component I), grounded on prometheus/client_golang as used
// throughout the example pack for service observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every chainkeeper metric. A single Registry is shared
// across the daemon and registered once against the default Prometheus
// registerer by the caller.
type Registry struct {
	RPCLatency *prometheus.HistogramVec
	RPCErrors  *prometheus.CounterVec

	FeedChecks      *prometheus.CounterVec
	FeedUpdates     *prometheus.CounterVec
	FeedSkips       *prometheus.CounterVec
	FeedDeviation   *prometheus.GaugeVec
	FeedStalenessS  *prometheus.GaugeVec

	TxAttempts    *prometheus.CounterVec
	TxConfirmed   *prometheus.CounterVec
	TxReverted    *prometheus.CounterVec
	TxBumped      *prometheus.CounterVec
	TxAbandoned   *prometheus.CounterVec
	TxCostUSD     *prometheus.CounterVec
	TxGasPriceGwei *prometheus.GaugeVec

	SchedulerRuns *prometheus.CounterVec
	WebhookCalls  *prometheus.CounterVec

	SecretFallbacks *prometheus.CounterVec
}

const namespace = "chainkeeper"

// New constructs a Registry with every metric pre-registered on reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registerer.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rpc_latency_seconds",
			Help:    "Latency of chain RPC calls by network and operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"network", "op"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rpc_errors_total",
			Help: "Count of failed chain RPC calls by network, operation, and classification.",
		}, []string{"network", "op", "class"}),

		FeedChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_checks_total",
			Help: "Count of feed check cycles by feed name.",
		}, []string{"feed"}),
		FeedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_updates_total",
			Help: "Count of on-chain feed updates submitted, by feed and trigger reason.",
		}, []string{"feed", "reason"}),
		FeedSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_skips_total",
			Help: "Count of feed check cycles that did not submit an update, by feed and skip reason.",
		}, []string{"feed", "reason"}),
		FeedDeviation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_last_deviation_pct",
			Help: "Most recently observed deviation between feed value and on-chain value, as a percentage.",
		}, []string{"feed"}),
		FeedStalenessS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_last_update_age_seconds",
			Help: "Seconds since the on-chain feed value was last updated.",
		}, []string{"feed"}),

		TxAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_attempts_total",
			Help: "Count of transaction submission attempts by network and sender.",
		}, []string{"network", "sender"}),
		TxConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_confirmed_total",
			Help: "Count of confirmed transactions by network and sender.",
		}, []string{"network", "sender"}),
		TxReverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_reverted_total",
			Help: "Count of reverted transactions by network, sender, and revert class.",
		}, []string{"network", "sender", "class"}),
		TxBumped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_fee_bumps_total",
			Help: "Count of fee-bump resubmissions by network and sender.",
		}, []string{"network", "sender"}),
		TxAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_abandoned_total",
			Help: "Count of transactions abandoned after exhausting fee bumps, by network and sender.",
		}, []string{"network", "sender"}),
		TxCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_cost_usd_total",
			Help: "Cumulative USD cost of confirmed transactions by network and sender.",
		}, []string{"network", "sender"}),
		TxGasPriceGwei: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tx_last_gas_price_gwei",
			Help: "Gas price of the most recently submitted transaction, in gwei.",
		}, []string{"network"}),

		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduled_task_runs_total",
			Help: "Count of scheduled task cron firings by task name and outcome.",
		}, []string{"task", "outcome"}),
		WebhookCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_calls_total",
			Help: "Count of event monitor webhook deliveries by monitor name and outcome.",
		}, []string{"monitor", "outcome"}),

		SecretFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "secret_store_fallbacks_total",
			Help: "Count of secret reads served from stale cache after a remote backend failure.",
		}, []string{"network"}),
	}

	for _, c := range []prometheus.Collector{
		r.RPCLatency, r.RPCErrors,
		r.FeedChecks, r.FeedUpdates, r.FeedSkips, r.FeedDeviation, r.FeedStalenessS,
		r.TxAttempts, r.TxConfirmed, r.TxReverted, r.TxBumped, r.TxAbandoned, r.TxCostUSD, r.TxGasPriceGwei,
		r.SchedulerRuns, r.WebhookCalls,
		r.SecretFallbacks,
	} {
		reg.MustRegister(c)
	}
	return r
}

func (r *Registry) ObserveRPCLatency(network, op string, seconds float64) {
	r.RPCLatency.WithLabelValues(network, op).Observe(seconds)
}

func (r *Registry) IncRPCError(network, op, class string) {
	r.RPCErrors.WithLabelValues(network, op, class).Inc()
}

func (r *Registry) IncFeedCheck(feed string) { r.FeedChecks.WithLabelValues(feed).Inc() }

func (r *Registry) IncFeedUpdate(feed, reason string) {
	r.FeedUpdates.WithLabelValues(feed, reason).Inc()
}

func (r *Registry) IncFeedSkip(feed, reason string) {
	r.FeedSkips.WithLabelValues(feed, reason).Inc()
}

func (r *Registry) SetFeedDeviation(feed string, pct float64) {
	r.FeedDeviation.WithLabelValues(feed).Set(pct)
}

func (r *Registry) SetFeedStaleness(feed string, seconds float64) {
	r.FeedStalenessS.WithLabelValues(feed).Set(seconds)
}

func (r *Registry) IncTxAttempt(network, sender string) {
	r.TxAttempts.WithLabelValues(network, sender).Inc()
}

func (r *Registry) IncTxConfirmed(network, sender string) {
	r.TxConfirmed.WithLabelValues(network, sender).Inc()
}

func (r *Registry) IncTxReverted(network, sender, class string) {
	r.TxReverted.WithLabelValues(network, sender, class).Inc()
}

func (r *Registry) IncTxBumped(network, sender string) {
	r.TxBumped.WithLabelValues(network, sender).Inc()
}

func (r *Registry) IncTxAbandoned(network, sender string) {
	r.TxAbandoned.WithLabelValues(network, sender).Inc()
}

func (r *Registry) AddTxCostUSD(network, sender string, usd float64) {
	r.TxCostUSD.WithLabelValues(network, sender).Add(usd)
}

func (r *Registry) SetLastGasPriceGwei(network string, gwei float64) {
	r.TxGasPriceGwei.WithLabelValues(network).Set(gwei)
}

func (r *Registry) IncSchedulerRun(task, outcome string) {
	r.SchedulerRuns.WithLabelValues(task, outcome).Inc()
}

func (r *Registry) IncWebhookCall(monitor, outcome string) {
	r.WebhookCalls.WithLabelValues(monitor, outcome).Inc()
}

func (r *Registry) IncSecretFallback(network string) {
	r.SecretFallbacks.WithLabelValues(network).Inc()
}
