/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"time"

	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
)

type params struct {
	connectTimeout time.Duration
}

func defaultParams() *params {
	return &params{
		connectTimeout: 5 * time.Second,
	}
}

// WithConnectTimeout bounds the time spent establishing the event server connection
func WithConnectTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectTimeoutSetter); ok {
			setter.SetConnectTimeout(value)
		}
	}
}

type connectTimeoutSetter interface {
	SetConnectTimeout(value time.Duration)
}

func (p *params) SetConnectTimeout(value time.Duration) {
	logger.Debugf("ConnectTimeout: %s", value)
	if value > 0 {
		p.connectTimeout = value
	}
}
