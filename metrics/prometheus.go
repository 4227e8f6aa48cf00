package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
)

// PrometheusCollector adapts DefaultRegistry to prometheus.Collector so
// the control plane's metrics snapshot can be scraped without running a
// second counting system next to rcrowley's.
type PrometheusCollector struct {
	registry gometrics.Registry
	subsys   string
}

// NewPrometheusCollector wraps r (DefaultRegistry when nil) under the
// given subsystem name.
func NewPrometheusCollector(r gometrics.Registry, subsys string) *PrometheusCollector {
	if r == nil {
		r = DefaultRegistry
	}
	return &PrometheusCollector{registry: r, subsys: subsys}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: Collect emits fresh Descs each scrape, matching
	// rcrowley's dynamically-registered counters.
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(name string, i interface{}) {
		fqName := fmt.Sprintf("axledger_%s_%s", c.subsys, sanitize(name))
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, name, nil, nil),
				prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, name, nil, nil),
				prometheus.GaugeValue, float64(m.Value()))
		case gometrics.Meter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, name, nil, nil),
				prometheus.GaugeValue, m.Rate1())
		}
	})
}

func sanitize(name string) string {
	b := []byte(name)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	return string(b)
}
