/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
)

const (
	kindTxStatus  = "txstatus"
	kindChaincode = "chaincode"

	outcomeEvent        = "event"
	outcomeTimeout      = "timeout"
	outcomeCancelled    = "cancelled"
	outcomeDisconnected = "disconnected"
)

var (
	registrationsPending = metrics.GaugeOpts{
		Namespace: "eventhub",
		Name:      "registrations_pending",
		Help:      "The number of registrations that have not been resolved.",
	}
	registrationsResolved = metrics.CounterOpts{
		Namespace:  "eventhub",
		Name:       "registrations_resolved",
		Help:       "The number of resolved registrations by kind and outcome.",
		LabelNames: []string{"kind", "outcome"},
	}
	blocksReceived = metrics.CounterOpts{
		Namespace: "eventhub",
		Name:      "blocks_received",
		Help:      "The number of blocks received from the event server.",
	}
)

// Metrics are the meters updated by the dispatcher
type Metrics struct {
	RegistrationsPending  metrics.Gauge
	RegistrationsResolved metrics.Counter
	BlocksReceived        metrics.Counter
}

// NewMetrics creates the event hub meters from the given provider
func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		RegistrationsPending:  p.NewGauge(registrationsPending),
		RegistrationsResolved: p.NewCounter(registrationsResolved),
		BlocksReceived:        p.NewCounter(blocksReceived),
	}
}
