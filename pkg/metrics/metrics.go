// Package metrics exposes the container host's Prometheus collectors:
// tick timing, command drain outcomes, and snapshot generation,
// mirroring the per-container rolling metrics those packages already
// keep in-process but aggregated across the whole fleet for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this package registers, kept
	// separate from prometheus.DefaultRegisterer so embedding this
	// module alongside another Prometheus-instrumented process never
	// collides on metric names.
	Registry = prometheus.NewRegistry()

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgeloop",
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Duration of one completed simulation tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"container_id"},
	)

	tickOverruns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeloop",
			Subsystem: "tick",
			Name:      "overruns_total",
			Help:      "Total ticks whose duration exceeded the configured tick budget.",
		},
		[]string{"container_id"},
	)

	tickFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeloop",
			Subsystem: "tick",
			Name:      "failures_total",
			Help:      "Total ticks that aborted due to a system or AI failure.",
		},
		[]string{"container_id", "kind"},
	)

	tickCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgeloop",
			Subsystem: "tick",
			Name:      "current",
			Help:      "The most recently completed tick number.",
		},
		[]string{"container_id"},
	)

	commandsDrained = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeloop",
			Subsystem: "command",
			Name:      "drained_total",
			Help:      "Total commands drained from the per-container queue, by outcome.",
		},
		[]string{"container_id", "name", "success"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgeloop",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Duration of one command handler invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"container_id", "name"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgeloop",
			Subsystem: "command",
			Name:      "queue_depth",
			Help:      "Commands currently queued, awaiting the next drain.",
		},
		[]string{"container_id"},
	)

	snapshotGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgeloop",
			Subsystem: "snapshot",
			Name:      "generations_total",
			Help:      "Total snapshot cache generations, by strategy.",
		},
		[]string{"container_id", "strategy"},
	)

	snapshotGenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgeloop",
			Subsystem: "snapshot",
			Name:      "generation_duration_seconds",
			Help:      "Duration of one snapshot cache generation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		},
		[]string{"container_id"},
	)

	snapshotSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgeloop",
			Subsystem: "snapshot",
			Name:      "subscribers",
			Help:      "Active snapshot stream subscribers for a match.",
		},
		[]string{"container_id", "match_id"},
	)

	containersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgeloop",
			Subsystem: "container",
			Name:      "state",
			Help:      "Number of containers currently in a given lifecycle state.",
		},
		[]string{"state"},
	)

	entityCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgeloop",
			Subsystem: "ecs",
			Name:      "entity_count",
			Help:      "Live entities currently held by a container's store.",
		},
		[]string{"container_id"},
	)
)

func init() {
	Registry.MustRegister(
		tickDuration,
		tickOverruns,
		tickFailures,
		tickCount,
		commandsDrained,
		commandDuration,
		queueDepth,
		snapshotGenerations,
		snapshotGenerationDuration,
		snapshotSubscribers,
		containersByState,
		entityCount,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing every collector registered
// in Registry, for a host to mount at e.g. /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordTick records one completed tick's timing and outcome.
func RecordTick(containerID string, d time.Duration, overrun bool, failureKind string) {
	tickDuration.WithLabelValues(containerID).Observe(d.Seconds())
	if overrun {
		tickOverruns.WithLabelValues(containerID).Inc()
	}
	if failureKind != "" {
		tickFailures.WithLabelValues(containerID, failureKind).Inc()
	}
}

// SetTickCount publishes the most recently completed tick number.
func SetTickCount(containerID string, tick uint64) {
	tickCount.WithLabelValues(containerID).Set(float64(tick))
}

// RecordCommand records one drained command's outcome and duration.
func RecordCommand(containerID, name string, success bool, d time.Duration) {
	status := "false"
	if success {
		status = "true"
	}
	commandsDrained.WithLabelValues(containerID, name, status).Inc()
	commandDuration.WithLabelValues(containerID, name).Observe(d.Seconds())
}

// SetQueueDepth publishes a container's current queued-command count.
func SetQueueDepth(containerID string, depth int) {
	queueDepth.WithLabelValues(containerID).Set(float64(depth))
}

// RecordSnapshotGeneration records one snapshot cache refresh, tagged
// by whether it was an incremental update or a full rebuild.
func RecordSnapshotGeneration(containerID string, incremental bool, d time.Duration) {
	strategy := "rebuild"
	if incremental {
		strategy = "incremental"
	}
	snapshotGenerations.WithLabelValues(containerID, strategy).Inc()
	snapshotGenerationDuration.WithLabelValues(containerID).Observe(d.Seconds())
}

// SetSnapshotSubscribers publishes a match's current subscriber count.
func SetSnapshotSubscribers(containerID, matchID string, count int) {
	snapshotSubscribers.WithLabelValues(containerID, matchID).Set(float64(count))
}

// SetContainerStateCounts replaces the container-state gauge with a
// fresh tally, called after any container lifecycle transition.
func SetContainerStateCounts(counts map[string]int) {
	containersByState.Reset()
	for state, n := range counts {
		containersByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetEntityCount publishes a container's current live entity count.
func SetEntityCount(containerID string, count int) {
	entityCount.WithLabelValues(containerID).Set(float64(count))
}
