// Package metrics counts ingest and detection work for one analysis run.
// Each correlator owns its own registry so concurrent runs cannot
// cross-contaminate; nothing here is process-global.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a per-run counter set.
type Metrics struct {
	registry *prometheus.Registry

	RecordsLoaded      *prometheus.CounterVec
	RecordsDropped     *prometheus.CounterVec
	DuplicatesRemoved  prometheus.Counter
	SessionsBuilt      prometheus.Counter
	ActivitiesDetected *prometheus.CounterVec
}

// New creates a counter set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RecordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daas_records_loaded_total",
			Help: "Usable log rows ingested, by source table.",
		}, []string{"source"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daas_records_dropped_total",
			Help: "Rows skipped during ingestion (unparseable payloads), by source table.",
		}, []string{"source"}),
		DuplicatesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daas_duplicates_removed_total",
			Help: "Duplicate rows removed across all load calls.",
		}),
		SessionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daas_sessions_built_total",
			Help: "Sessions produced by the mapping pass.",
		}),
		ActivitiesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daas_activities_detected_total",
			Help: "Detected activities, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.RecordsLoaded, m.RecordsDropped, m.DuplicatesRemoved, m.SessionsBuilt, m.ActivitiesDetected)
	return m
}

// Registry exposes the run's registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Snapshot gathers the registry and flattens every counter into a
// name{label=value} key, for end-of-run reporting.
func (m *Metrics) Snapshot() map[string]float64 {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil
	}
	out := make(map[string]float64, len(families))
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			name := fam.GetName()
			for _, label := range metric.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", label.GetName(), label.GetValue())
			}
			out[name] = metric.GetCounter().GetValue()
		}
	}
	return out
}

// Loaded is a nil-safe increment helper.
func (m *Metrics) Loaded(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsLoaded.WithLabelValues(source).Add(float64(n))
}

// Dropped is a nil-safe increment helper.
func (m *Metrics) Dropped(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsDropped.WithLabelValues(source).Add(float64(n))
}

// Deduped is a nil-safe increment helper.
func (m *Metrics) Deduped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DuplicatesRemoved.Add(float64(n))
}

// Sessions is a nil-safe increment helper.
func (m *Metrics) Sessions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsBuilt.Add(float64(n))
}

// Detected is a nil-safe increment helper.
func (m *Metrics) Detected(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ActivitiesDetected.WithLabelValues(kind).Add(float64(n))
}
