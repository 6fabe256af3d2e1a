package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus instruments. Each instance owns its
// own instruments registered against the given registerer, so tests can
// construct independent sets.
type Metrics struct {
	RefreshTotal      *prometheus.CounterVec
	RecordsDropped    prometheus.Counter
	GeometryExcluded  prometheus.Counter
	ReservationsTotal *prometheus.CounterVec
	RenderablePlots   prometheus.Gauge
}

// New creates and registers the instrument set.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plotsync",
			Name:      "refresh_total",
			Help:      "Refresh cycles by outcome (success, failure, stale, gated).",
		}, []string{"outcome"}),
		RecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plotsync",
			Name:      "records_dropped_total",
			Help:      "Raw records dropped during normalization.",
		}),
		GeometryExcluded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plotsync",
			Name:      "geometry_excluded_total",
			Help:      "Plots excluded from the renderable set by geometry validation.",
		}),
		ReservationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plotsync",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome (confirmed, rolled_back, rejected).",
		}, []string{"outcome"}),
		RenderablePlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "plotsync",
			Name:      "renderable_plots",
			Help:      "Plots currently in the renderable set.",
		}),
	}
}
