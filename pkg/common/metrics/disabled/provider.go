/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package disabled

import (
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
)

// Provider discards every observation
type Provider struct{}

// NewCounter returns a no-op counter
func (p *Provider) NewCounter(metrics.CounterOpts) metrics.Counter { return &Counter{} }

// NewGauge returns a no-op gauge
func (p *Provider) NewGauge(metrics.GaugeOpts) metrics.Gauge { return &Gauge{} }

// NewHistogram returns a no-op histogram
func (p *Provider) NewHistogram(metrics.HistogramOpts) metrics.Histogram { return &Histogram{} }

// Counter is a no-op counter
type Counter struct{}

// Add is a no-op
func (c *Counter) Add(float64) {}

// With returns the same counter
func (c *Counter) With(...string) metrics.Counter { return c }

// Gauge is a no-op gauge
type Gauge struct{}

// Add is a no-op
func (g *Gauge) Add(float64) {}

// Set is a no-op
func (g *Gauge) Set(float64) {}

// With returns the same gauge
func (g *Gauge) With(...string) metrics.Gauge { return g }

// Histogram is a no-op histogram
type Histogram struct{}

// Observe is a no-op
func (h *Histogram) Observe(float64) {}

// With returns the same histogram
func (h *Histogram) With(...string) metrics.Histogram { return h }
