package flow

import (
	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the runtime's Prometheus collectors.
type Metrics struct {
	Assigned   prometheus.Counter
	Processed  *prometheus.CounterVec
	Checks     *prometheus.CounterVec
	Violations *prometheus.CounterVec
	Held       prometheus.Gauge
}

// NewMetrics registers the runtime collectors with reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Assigned: f.NewCounter(prometheus.CounterOpts{
			Name: "pathclock_timestamps_assigned_total",
			Help: "Writes stamped at base shards.",
		}),
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathclock_updates_processed_total",
			Help: "Updates applied by downstream shards.",
		}, []string{"node"}),
		Checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathclock_consistency_checks_total",
			Help: "Consistency checks by verdict.",
		}, []string{"verdict"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathclock_invariant_violations_total",
			Help: "Shards stopped by an invariant violation, by kind.",
		}, []string{"kind"}),
		Held: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathclock_updates_held",
			Help: "Updates buffered on held links.",
		}),
	}
}

func violationKind(err error) string {
	switch {
	case errors.Is(err, clock.ErrSequenceGap):
		return "sequence_gap"
	case errors.Is(err, clock.ErrTopologyMismatch):
		return "topology_mismatch"
	case errors.Is(err, clock.ErrOrderingInvariant):
		return "ordering_invariant"
	case errors.Is(err, clock.ErrDuplicateGenerator):
		return "duplicate_generator"
	default:
		return "other"
	}
}
