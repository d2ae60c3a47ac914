/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"time"

	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/dispatcher"
)

const (
	defaultConnEventBufferSize = 100
	defaultResponseTimeout     = 5 * time.Second
)

type params struct {
	connEventCh             chan *dispatcher.ConnectionEvent
	respTimeout             time.Duration
	eventConsumerBufferSize uint
}

func defaultParams() *params {
	return &params{
		eventConsumerBufferSize: defaultConnEventBufferSize,
		respTimeout:             defaultResponseTimeout,
	}
}

// WithConnectionEvent forwards every connect and disconnect of the client to connEvent.
// The channel is closed when the client is closed.
func WithConnectionEvent(connEvent chan *dispatcher.ConnectionEvent) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectEventChSetter); ok {
			setter.SetConnectEventCh(connEvent)
		}
	}
}

// WithResponseTimeout bounds the wait for the dispatcher to acknowledge a connect or close
func WithResponseTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(responseTimeoutSetter); ok {
			setter.SetResponseTimeout(value)
		}
	}
}

type connectEventChSetter interface {
	SetConnectEventCh(value chan *dispatcher.ConnectionEvent)
}

type responseTimeoutSetter interface {
	SetResponseTimeout(value time.Duration)
}

func (p *params) SetConnectEventCh(value chan *dispatcher.ConnectionEvent) {
	p.connEventCh = value
}

func (p *params) SetResponseTimeout(value time.Duration) {
	logger.Debugf("ResponseTimeout: %s", value)
	if value > 0 {
		p.respTimeout = value
	}
}

// SetEventConsumerBufferSize also sizes the client's connection event channel
// when the dispatcher's buffer option is passed to New.
func (p *params) SetEventConsumerBufferSize(value uint) {
	if value > 0 {
		p.eventConsumerBufferSize = value
	}
}
