package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives access to the registry holding cache metrics, so
// library consumers can expose them with their preferred method (e.g. an
// HTTP /metrics endpoint).
type RegistryProvider interface {
	// Registry returns the Prometheus registry containing livecache metrics.
	Registry() *prometheus.Registry
}
