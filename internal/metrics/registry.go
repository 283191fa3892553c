// Package metrics provides Prometheus metrics for transfers, write sessions
// and the repository server.
//
// All metrics are optional: when the registry is not initialized the
// constructors return nil and every method on a nil receiver is a no-op.
//
// Usage:
//
//	metrics.InitRegistry()
//	w := wagon.New(wagon.Options{Metrics: metrics.NewTransferMetrics()})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "treewagon"

var (
	// registry is written once by InitRegistry and read many times
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// It's safe to call multiple times - subsequent calls are ignored.
// Process and Go runtime collectors are registered with it.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, nil if metrics are disabled
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called
func IsEnabled() bool {
	return GetRegistry() != nil
}
