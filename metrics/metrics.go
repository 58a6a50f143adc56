// Package metrics holds the Prometheus collectors of the resource store and
// serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resource_store"

var (
	// CacheRequests counts cache lookups by cache name and result (hit, miss).
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache lookups by result.",
	}, []string{"cache", "result"})

	// CacheWrites counts cache mutations by cache name and operation (set, remove, flush).
	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Cache mutations by operation.",
	}, []string{"cache", "op"})

	// ResourceImports counts imports by storage name and result (ok, error).
	ResourceImports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "imports_total",
		Help:      "Resource imports by result.",
	}, []string{"storage", "result"})

	// ResourcePublications counts published resources by target name and result.
	ResourcePublications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "target",
		Name:      "publications_total",
		Help:      "Published resources by result.",
	}, []string{"target", "result"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		CacheRequests,
		CacheWrites,
		ResourceImports,
		ResourcePublications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the registry all collectors of this package are registered with.
func Registry() *prometheus.Registry {
	return registry
}

// MetricsServer exposes the registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. The service name is
// exported through a constant service_info series.
func New(service, addr string) (*MetricsServer, error) {
	if service != "" {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "service_info",
			Help:        "Constant 1, labelled with the service name.",
			ConstLabels: prometheus.Labels{"service": service},
		})
		info.Set(1)
		if err := registry.Register(info); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown is called.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
