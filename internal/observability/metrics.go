// Package observability exposes Prometheus metrics for the RLM core. The
// registry is private to the session; hosts that scrape metrics mount it
// alongside their own.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instrument set for one session.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsExternalized prometheus.Counter
	TokensSaved         prometheus.Counter
	RecordsIngested     prometheus.Counter
	ChildCalls          *prometheus.CounterVec
	ChildRetries        prometheus.Counter
	Searches            prometheus.Counter
	StoreBytes          prometheus.Gauge
	StoreRecords        prometheus.Gauge
}

// New builds and registers the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RecordsExternalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlm_records_externalized_total",
			Help: "Records relocated from working context into the store.",
		}),
		TokensSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlm_tokens_saved_total",
			Help: "Estimated tokens removed from working context.",
		}),
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlm_records_ingested_total",
			Help: "Files ingested into the store.",
		}),
		ChildCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rlm_child_calls_total",
			Help: "Child model calls by terminal status.",
		}, []string{"status"}),
		ChildRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlm_child_retries_total",
			Help: "Rate-limit retries of child calls.",
		}),
		Searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlm_searches_total",
			Help: "Store searches executed.",
		}),
		StoreBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rlm_store_bytes",
			Help: "Byte length of store.jsonl.",
		}),
		StoreRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rlm_store_records",
			Help: "Records in the store.",
		}),
	}
	reg.MustRegister(
		m.RecordsExternalized, m.TokensSaved, m.RecordsIngested,
		m.ChildCalls, m.ChildRetries, m.Searches,
		m.StoreBytes, m.StoreRecords,
	)
	return m
}
