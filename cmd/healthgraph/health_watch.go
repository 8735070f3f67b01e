package main

import (
	"context"
	"log/slog"
	"time"

	gatewayhttp "github.com/c360/healthgraph/gateway/http"
	"github.com/c360/healthgraph/health"
	"github.com/c360/healthgraph/metric"
)

// healthWatchInterval is how often component health is sampled into
// the service gauges.
const healthWatchInterval = 15 * time.Second

// healthWatcher samples the components' health sources on an interval,
// keeps the latest statuses in a health.Monitor, and exports the
// per-component and service-level gauges. The gateway answers /health
// from the same sources on demand; the watcher is what keeps the
// Prometheus side current between requests.
type healthWatcher struct {
	service  string
	sources  []gatewayhttp.HealthSource
	monitor  *health.Monitor
	core     *metric.Metrics
	interval time.Duration
	started  time.Time
}

func newHealthWatcher(service string, sources []gatewayhttp.HealthSource, core *metric.Metrics) *healthWatcher {
	return &healthWatcher{
		service:  service,
		sources:  sources,
		monitor:  health.NewMonitor(),
		core:     core,
		interval: healthWatchInterval,
		started:  time.Now(),
	}
}

// sample runs one sweep over the sources and returns the aggregate.
func (w *healthWatcher) sample() health.Status {
	for _, source := range w.sources {
		status := source()
		w.monitor.Update(status.Component, status)
		if w.core != nil {
			w.core.RecordHealthStatus(status.Component, status.Healthy)
		}
	}

	aggregate := w.monitor.AggregateHealth(w.service)
	if w.core != nil {
		w.core.RecordServiceStatus(w.service, aggregate.Healthy)
		w.core.RecordServiceUptime(w.service, time.Since(w.started))
	}
	return aggregate
}

// run samples until the context ends, logging health transitions.
func (w *healthWatcher) run(ctx context.Context) error {
	wasHealthy := w.sample().Healthy

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if w.core != nil {
				w.core.RecordServiceStatus(w.service, false)
			}
			return nil
		case <-ticker.C:
			aggregate := w.sample()
			if aggregate.Healthy != wasHealthy {
				if aggregate.Healthy {
					slog.Info("Service health recovered")
				} else {
					slog.Warn("Service health degraded", "status", aggregate.Status)
				}
				wasHealthy = aggregate.Healthy
			}
		}
	}
}
