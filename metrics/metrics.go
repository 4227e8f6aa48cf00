// Package metrics wraps github.com/rcrowley/go-metrics the way
// work/worker.go uses it (metrics.NewRegisteredCounter), and additionally
// exposes the registry to Prometheus so operators get a real scrape
// target instead of a second, parallel counting system.
package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Enabled is the global metrics switch: when false,
// registration returns no-op (Nil*) instruments.
var Enabled = true

// DefaultRegistry is the process-wide registry every package registers
// its counters/meters/gauges into.
var DefaultRegistry = gometrics.NewRegistry()

type Counter = gometrics.Counter
type Meter = gometrics.Meter
type Gauge = gometrics.Gauge

// NewRegisteredCounter creates and registers a Counter, matching the
// NewRegisteredCounter(name, nil) call sites throughout the codebase.
func NewRegisteredCounter(name string, r gometrics.Registry) Counter {
	if !Enabled {
		return gometrics.NilCounter{}
	}
	if r == nil {
		r = DefaultRegistry
	}
	return gometrics.GetOrRegisterCounter(name, r)
}

// NewRegisteredMeter creates and registers a Meter, used by the storage
// layer's compaction/disk throughput instruments.
func NewRegisteredMeter(name string, r gometrics.Registry) Meter {
	if !Enabled {
		return gometrics.NilMeter{}
	}
	if r == nil {
		r = DefaultRegistry
	}
	return gometrics.GetOrRegisterMeter(name, r)
}

// NewRegisteredGauge creates and registers a Gauge, used for point-in-time
// values like mempool size or peer count.
func NewRegisteredGauge(name string, r gometrics.Registry) Gauge {
	if !Enabled {
		return gometrics.NilGauge{}
	}
	if r == nil {
		r = DefaultRegistry
	}
	return gometrics.GetOrRegisterGauge(name, r)
}
