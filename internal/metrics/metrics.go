// Package metrics holds the prometheus collectors for the crash pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// Crashes counts crash events entering the pipeline by kind ("error" or "rejection")
	Crashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "failfast",
			Name:      "crashes_total",
			Help:      "Crash events received by the controller",
		},
		[]string{"kind"},
	)

	// Frames counts frame resolution outcomes ("mapped" or "raw")
	Frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "failfast",
			Name:      "frames_total",
			Help:      "Stack frames processed by the resolver, by outcome",
		},
		[]string{"outcome"},
	)

	// ParseFailures counts errors whose stack could not be parsed
	ParseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failfast",
			Name:      "parse_failures_total",
			Help:      "Errors whose stack could not be parsed",
		},
	)

	// FallbackMounts counts crashes that ended in the fixed fallback overlay
	FallbackMounts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failfast",
			Name:      "fallback_mounts_total",
			Help:      "Crashes rendered with the fallback report",
		},
	)
)

// Register adds all collectors to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(Crashes, Frames, ParseFailures, FallbackMounts)
	})
}
