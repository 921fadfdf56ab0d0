package jobrun

import (
	"github.com/zeromicro/go-zero/core/metric"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

const metricNamespace = "datadoggo"

var (
	metricRecords = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "ingest",
		Name:      "records_total",
		Help:      "Records processed by ingestion runs, by outcome.",
		Labels:    []string{"kind", "outcome"},
	})
	metricPages = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "ingest",
		Name:      "pages_total",
		Help:      "Pages committed by ingestion runs.",
		Labels:    []string{"kind"},
	})
	metricFailures = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "ingest",
		Name:      "page_failures_total",
		Help:      "Pages that could not be fetched or persisted.",
		Labels:    []string{"kind", "stage"},
	})
	metricAlerts = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "ingest",
		Name:      "alerts_total",
		Help:      "Operator alerts raised during runs.",
		Labels:    []string{"kind", "reason"},
	})
	metricRuns = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Finished ingestion runs by terminal status.",
		Labels:    []string{"kind", "status"},
	})
	metricRunDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: metricNamespace,
		Subsystem: "ingest",
		Name:      "run_duration_ms",
		Help:      "Wall time of finished runs in milliseconds.",
		Labels:    []string{"kind"},
		Buckets:   []float64{1000, 5000, 30000, 60000, 300000, 900000, 3600000},
	})
)

func observePage(kind model.JobKind, c model.PageCounts) {
	k := string(kind)
	metricPages.Inc(k)
	for outcome, n := range map[string]int{
		"fetched":    c.Fetched,
		"rejected":   c.Rejected,
		"persisted":  c.Persisted,
		"changed":    c.Changed,
		"duplicates": c.Duplicates,
	} {
		if n > 0 {
			metricRecords.Add(float64(n), k, outcome)
		}
	}
}
