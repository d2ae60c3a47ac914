/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package prometheus provides metrics backed by the Prometheus client through
// the go-kit adapters. Metrics are registered with the default registerer.
// Creating a meter whose fully-qualified name is already registered reuses the
// registered collector, so several clients in one process share their meters.
package prometheus

import (
	kitmetrics "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
)

// Provider creates Prometheus backed meters
type Provider struct{}

// NewCounter creates a counter
func (p *Provider) NewCounter(o metrics.CounterOpts) metrics.Counter {
	cv := prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: o.Namespace,
			Subsystem: o.Subsystem,
			Name:      o.Name,
			Help:      o.Help,
		},
		o.LabelNames,
	)
	return &Counter{Counter: prometheus.NewCounter(register(cv).(*prom.CounterVec))}
}

// NewGauge creates a gauge
func (p *Provider) NewGauge(o metrics.GaugeOpts) metrics.Gauge {
	gv := prom.NewGaugeVec(
		prom.GaugeOpts{
			Namespace: o.Namespace,
			Subsystem: o.Subsystem,
			Name:      o.Name,
			Help:      o.Help,
		},
		o.LabelNames,
	)
	return &Gauge{Gauge: prometheus.NewGauge(register(gv).(*prom.GaugeVec))}
}

// NewHistogram creates a histogram
func (p *Provider) NewHistogram(o metrics.HistogramOpts) metrics.Histogram {
	hv := prom.NewHistogramVec(
		prom.HistogramOpts{
			Namespace: o.Namespace,
			Subsystem: o.Subsystem,
			Name:      o.Name,
			Help:      o.Help,
			Buckets:   o.Buckets,
		},
		o.LabelNames,
	)
	return &Histogram{Histogram: prometheus.NewHistogram(register(hv).(*prom.HistogramVec))}
}

// register adds c to the default registerer and returns the collector that
// is registered under its name. It panics on any other registration error.
func register(c prom.Collector) prom.Collector {
	if err := prom.Register(c); err != nil {
		if are, ok := err.(prom.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Counter wraps a go-kit counter
type Counter struct{ kitmetrics.Counter }

// With returns the counter for the given label values
func (c *Counter) With(labelValues ...string) metrics.Counter {
	return &Counter{Counter: c.Counter.With(labelValues...)}
}

// Gauge wraps a go-kit gauge
type Gauge struct{ kitmetrics.Gauge }

// With returns the gauge for the given label values
func (g *Gauge) With(labelValues ...string) metrics.Gauge {
	return &Gauge{Gauge: g.Gauge.With(labelValues...)}
}

// Histogram wraps a go-kit histogram
type Histogram struct{ kitmetrics.Histogram }

// With returns the histogram for the given label values
func (h *Histogram) With(labelValues ...string) metrics.Histogram {
	return &Histogram{Histogram: h.Histogram.With(labelValues...)}
}
