package prometheus

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuditSource reports how many audit events were dropped under
// backpressure. *authcore.Engine implements it.
type AuditSource interface {
	AuditDropped() uint64
}

// Exporter owns a private registry and serves it.
type Exporter struct {
	namespace string
	registry  *prom.Registry
}

// NewExporter creates a registry with runtime collectors under namespace.
func NewExporter(namespace string) (*Exporter, error) {
	reg := prom.NewRegistry()
	for _, c := range []prom.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &Exporter{namespace: namespace, registry: reg}, nil
}

// Registry is where engine counters should be registered.
func (e *Exporter) Registry() *prom.Registry {
	return e.registry
}

// WatchAudit exports source's drop count as {namespace}_audit_dropped_total.
func (e *Exporter) WatchAudit(source AuditSource) error {
	return e.registry.Register(prom.NewCounterFunc(prom.CounterOpts{
		Namespace: e.namespace,
		Name:      "audit_dropped_total",
		Help:      "Dropped audit events due to dispatcher backpressure.",
	}, func() float64 {
		return float64(source.AuditDropped())
	}))
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}
