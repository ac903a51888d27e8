package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bridges a Registry into Prometheus's collection model so the
// process can be scraped by anything already wired to pull
// prometheus.Collector instances, without this package starting an HTTP
// listener of its own — that belongs to whichever binary embeds it.
type Collector struct {
	registry *Registry
}

// NewCollector returns a prometheus.Collector backed by registry.
func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

var _ prometheus.Collector = (*Collector)(nil)

// Describe is intentionally a no-op: the set of metric names is dynamic
// (Registry creates metrics on first access), so descriptors are only
// produced at Collect time. This makes the collector "unchecked" from
// Prometheus's point of view, which is an accepted pattern for registries
// whose metric set isn't known up front.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits every metric currently held in the registry as a
// Prometheus gauge sample. Histograms are flattened into suffixed gauges
// (_count, _sum, _min, _max, _mean) rather than reconstructed as a native
// Prometheus histogram, since the Registry does not retain bucketed
// observations.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, value := range c.registry.Snapshot() {
		fqName := sanitizeName(name)
		switch v := value.(type) {
		case int64:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fqName, "asset database metric", nil, nil),
				prometheus.GaugeValue, float64(v),
			)
		case map[string]interface{}:
			for field, fv := range v {
				f, ok := fv.(float64)
				if !ok {
					if i, ok := fv.(int64); ok {
						f = float64(i)
					}
				}
				ch <- prometheus.MustNewConstMetric(
					prometheus.NewDesc(fqName+"_"+field, "asset database histogram field", nil, nil),
					prometheus.GaugeValue, f,
				)
			}
		}
	}
}

// sanitizeName converts a dotted metric name ("hashcache.hits") into a
// Prometheus-legal one ("hashcache_hits").
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
