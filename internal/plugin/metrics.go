// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cindermc/cinder/pkg/event"
)

// Metrics for the plugin runtime.
var (
	// loadDuration tracks loader plus hook latency per load attempt.
	loadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cinder_plugin_load_duration_seconds",
		Help:    "Histogram of plugin load latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// loadsTotal counts load attempts by loader and outcome.
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinder_plugin_loads_total",
		Help: "Total number of plugin load attempts",
	}, []string{"loader", "outcome"})

	// unloadsTotal counts unload attempts by outcome.
	unloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinder_plugin_unloads_total",
		Help: "Total number of plugin unload attempts",
	}, []string{"outcome"})

	// activePlugins reports the number of plugins in each state.
	activePlugins = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cinder_plugins",
		Help: "Number of known plugins by state",
	}, []string{"state"})

	// cleanupDepth reports queued cleanup tasks not yet finished.
	cleanupDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cinder_plugin_cleanup_queue_depth",
		Help: "Number of queued plugin cleanup tasks",
	})

	// eventsPublished counts bus publishes by event name.
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinder_events_published_total",
		Help: "Total number of events published on the bus",
	}, []string{"event"})

	// handlerErrors counts handler failures by event name and plugin.
	handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinder_event_handler_errors_total",
		Help: "Total number of event handler errors",
	}, []string{"event", "plugin"})

	// handlerTypeMismatches counts dispatches where a handler's event
	// type did not match the published value. Always zero unless two
	// event types share a name.
	handlerTypeMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinder_event_type_mismatches_total",
		Help: "Total number of handler type mismatches during dispatch",
	}, []string{"event"})
)

func recordLoad(loader string, d time.Duration, err error) {
	loadDuration.Observe(d.Seconds())
	loadsTotal.WithLabelValues(loader, outcomeLabel(err)).Inc()
}

func recordUnload(err error) {
	unloadsTotal.WithLabelValues(outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Compile-time interface check.
var _ event.Observer = busMetrics{}

// busMetrics exports bus activity through the Prometheus registry. The
// manager installs it on the bus it owns.
type busMetrics struct{}

func (busMetrics) Subscribed(string) {}

func (busMetrics) Published(name string) {
	eventsPublished.WithLabelValues(name).Inc()
}

func (busMetrics) HandlerError(name, source string) {
	handlerErrors.WithLabelValues(name, source).Inc()
}

func (busMetrics) TypeMismatch(name string) {
	handlerTypeMismatches.WithLabelValues(name).Inc()
}
