/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"time"

	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics/disabled"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
)

type params struct {
	eventConsumerBufferSize uint
	registrationTimeout     time.Duration
	metricsProvider         metrics.Provider
}

func defaultParams() *params {
	return &params{
		eventConsumerBufferSize: 100,
		registrationTimeout:     30 * time.Second,
		metricsProvider:         &disabled.Provider{},
	}
}

// WithEventConsumerBufferSize sets the size of the dispatcher's event channel.
func WithEventConsumerBufferSize(value uint) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(eventConsumerBufferSizeSetter); ok {
			setter.SetEventConsumerBufferSize(value)
		}
	}
}

// WithRegistrationTimeout sets the deadline applied to registrations that do not specify one.
func WithRegistrationTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(registrationTimeoutSetter); ok {
			setter.SetRegistrationTimeout(value)
		}
	}
}

// WithMetricsProvider sets the provider of the event hub meters.
func WithMetricsProvider(value metrics.Provider) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(metricsProviderSetter); ok {
			setter.SetMetricsProvider(value)
		}
	}
}

type eventConsumerBufferSizeSetter interface {
	SetEventConsumerBufferSize(value uint)
}

type registrationTimeoutSetter interface {
	SetRegistrationTimeout(value time.Duration)
}

type metricsProviderSetter interface {
	SetMetricsProvider(value metrics.Provider)
}

func (p *params) SetEventConsumerBufferSize(value uint) {
	logger.Debugf("EventConsumerBufferSize: %d", value)
	p.eventConsumerBufferSize = value
}

func (p *params) SetRegistrationTimeout(value time.Duration) {
	logger.Debugf("RegistrationTimeout: %s", value)
	if value > 0 {
		p.registrationTimeout = value
	}
}

func (p *params) SetMetricsProvider(value metrics.Provider) {
	if value != nil {
		p.metricsProvider = value
	}
}
