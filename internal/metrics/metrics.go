// Package metrics holds the process-wide Prometheus counters for the
// domain error/drop conditions spec.md §4.H and §7 name, surfaced at
// the Control API's /metrics endpoint alongside the default Go/process
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ParseFailuresTotal counts broker messages the Ingestor could not
	// parse as either a tagInventory or a generic event.
	ParseFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagbridge_parse_failures_total",
		Help: "Total number of broker messages that failed to parse.",
	})

	// DroppedEventsTotal counts tagInventory messages dropped for
	// missing a required field (tid).
	DroppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagbridge_dropped_events_total",
		Help: "Total number of tag events dropped for missing required fields.",
	})

	// CapacityDropsTotal counts documents dropped because the staging
	// queue rejected them at capacity.
	CapacityDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagbridge_capacity_drops_total",
		Help: "Total number of documents dropped because the staging queue was at capacity.",
	})

	// MaxAttemptsDiscardsTotal counts staged items the Forwarder
	// discarded after exhausting their retry budget.
	MaxAttemptsDiscardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagbridge_max_attempts_discards_total",
		Help: "Total number of staged items discarded after exceeding the maximum retry attempts.",
	})
)
