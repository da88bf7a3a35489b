package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the indexer does. Pass a nil Registerer to keep the
// counters unregistered, which tests do.
type Metrics struct {
	Indexed   prometheus.Counter
	Conflicts prometheus.Counter
	Deferrals prometheus.Counter
	Errors    prometheus.Counter
	FannedOut prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Indexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_documents_indexed_total",
			Help: "Documents successfully written to the search replica.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_write_conflicts_total",
			Help: "Replica writes dropped because a newer version was already stored.",
		}),
		Deferrals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_deferrals_total",
			Help: "Messages deferred for sequence inversion or missing targets.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_errors_total",
			Help: "Messages whose build or write failed.",
		}),
		FannedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_fanout_queued_total",
			Help: "Messages enqueued to the secondary lane by invalidation fan-out.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Indexed, m.Conflicts, m.Deferrals, m.Errors, m.FannedOut)
	}
	return m
}
