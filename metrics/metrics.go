package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Layout persistence
var (
	// LayoutSaves counts save attempts by origin (action, explicit, retry) and result.
	LayoutSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layout_saves_total",
			Help: "Layout save attempts by origin and result",
		},
		[]string{"origin", "result"},
	)

	// LayoutSaveRetriesPending tracks users with a failed save awaiting retry.
	LayoutSaveRetriesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "layout_save_retries_pending",
			Help: "Users with a failed layout save waiting for a retry",
		},
	)

	// LayoutLoads counts session opens by source (stored, defaults).
	LayoutLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layout_loads_total",
			Help: "Layout loads by source",
		},
		[]string{"source"},
	)

	// LayoutImportItems counts imported items by outcome (accepted, filtered).
	LayoutImportItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layout_import_items_total",
			Help: "Items seen in layout imports by outcome",
		},
		[]string{"outcome"},
	)
)

// Jobs
var (
	// JobsActive tracks jobs currently polled, by kind.
	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Jobs currently being polled by kind",
		},
		[]string{"kind"},
	)

	// JobsFinished counts jobs that reached a final state.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Jobs that reached a final state by kind and state",
		},
		[]string{"kind", "state"},
	)
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
