/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deliverclient

import (
	"time"

	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient/seek"
)

type params struct {
	connProvider api.ConnectionProvider
	seekType     seek.Type
	fromBlock    uint64
	filtered     bool
	respTimeout  time.Duration
}

func defaultParams() *params {
	return &params{
		seekType:    seek.Newest,
		respTimeout: 5 * time.Second,
	}
}

// WithSeekType specifies the point from which block events are to be received.
func WithSeekType(value seek.Type) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(seekTypeSetter); ok {
			setter.SetSeekType(value)
		}
	}
}

// WithBlockNum specifies the block number from which events are to be received.
// Note that this option is only valid if SeekType is set to FromBlock.
func WithBlockNum(value uint64) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(fromBlockSetter); ok {
			setter.SetFromBlock(value)
		}
	}
}

// WithFilteredBlocks connects to the DeliverFiltered service instead of Deliver.
// Filtered blocks do not carry chaincode event payloads.
func WithFilteredBlocks() options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(filteredSetter); ok {
			setter.SetFiltered(true)
		}
	}
}

// WithConnectionProvider overrides the provider of connections to the event server
func WithConnectionProvider(value api.ConnectionProvider) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectionProviderSetter); ok {
			setter.SetConnectionProvider(value)
		}
	}
}

type seekTypeSetter interface {
	SetSeekType(value seek.Type)
}

type fromBlockSetter interface {
	SetFromBlock(value uint64)
}

type filteredSetter interface {
	SetFiltered(value bool)
}

type connectionProviderSetter interface {
	SetConnectionProvider(value api.ConnectionProvider)
}

func (p *params) SetConnectionProvider(connProvider api.ConnectionProvider) {
	logger.Debugf("ConnectionProvider: %p", connProvider)
	p.connProvider = connProvider
}

func (p *params) SetFromBlock(value uint64) {
	logger.Debugf("FromBlock: %d", value)
	p.fromBlock = value
}

func (p *params) SetSeekType(value seek.Type) {
	logger.Debugf("SeekType: %s", value)
	if value != "" {
		p.seekType = value
	}
}

func (p *params) SetFiltered(value bool) {
	logger.Debugf("Filtered: %t", value)
	p.filtered = value
}

func (p *params) SetResponseTimeout(value time.Duration) {
	logger.Debugf("ResponseTimeout: %s", value)
	p.respTimeout = value
}
