// Package observability provides Prometheus metrics for the sentinel.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	PendingTxsSeen      prometheus.Counter
	PurchasesClassified prometheus.Counter
	OffersAccepted      prometheus.Counter
	OffersIgnored       prometheus.Counter
	BundlesDrained      prometheus.Counter
	BudgetRejections    *prometheus.CounterVec
	DispatchOutcomes    *prometheus.CounterVec
	PendingRequests     prometheus.Gauge
	BaseFeeGwei         prometheus.Gauge
}

// NewMetrics registers on the default registry, for the daemon.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers on an explicit registry; tests use a fresh one.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "listing_sentinel"
	}
	auto := promauto.With(reg)
	return &Metrics{
		PendingTxsSeen: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pending_txs_seen_total",
			Help: "Pending transactions received from the mempool stream.",
		}),
		PurchasesClassified: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "purchases_classified_total",
			Help: "Purchase sightings recognized by the calldata classifier.",
		}),
		OffersAccepted: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offers_accepted_total",
			Help: "Offers that created or replaced a pending cancel request.",
		}),
		OffersIgnored: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offers_ignored_total",
			Help: "Offers dropped for tokens without an active policy.",
		}),
		BundlesDrained: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bundles_drained_total",
			Help: "Cancel bundles produced by drain cycles.",
		}),
		BudgetRejections: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "budget_rejections_total",
			Help: "Bundles rejected by the budget guard.",
		}, []string{"reason"}),
		DispatchOutcomes: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_outcomes_total",
			Help: "Dispatch attempts by outcome.",
		}, []string{"outcome"}),
		PendingRequests: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_requests",
			Help: "Cancel requests currently pending.",
		}),
		BaseFeeGwei: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "base_fee_gwei",
			Help: "Base fee of the latest observed block, in gwei.",
		}),
	}
}

// Serve exposes /metrics on addr; blocks, so run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
