/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package endorsement

import (
	"sync/atomic"

	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
)

var (
	proposalsSent = metrics.CounterOpts{
		Namespace: "endorsement",
		Name:      "proposals_sent",
		Help:      "The number of proposals sent to endorsers.",
	}
	responsesReceived = metrics.CounterOpts{
		Namespace:  "endorsement",
		Name:       "responses",
		Help:       "The number of endorser responses by peer and outcome.",
		LabelNames: []string{"peer", "status"},
	}
	mismatches = metrics.CounterOpts{
		Namespace: "endorsement",
		Name:      "mismatches",
		Help:      "The number of endorsement sets rejected for differing payloads.",
	}
	quorumFailures = metrics.CounterOpts{
		Namespace: "endorsement",
		Name:      "quorum_failures",
		Help:      "The number of proposals that did not reach the minimum number of endorsements.",
	}
)

// Metrics are the meters updated by the collector
type Metrics struct {
	ProposalsSent  metrics.Counter
	Responses      metrics.Counter
	Mismatches     metrics.Counter
	QuorumFailures metrics.Counter
}

// NewMetrics creates the collector meters from the given provider
func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		ProposalsSent:  p.NewCounter(proposalsSent),
		Responses:      p.NewCounter(responsesReceived),
		Mismatches:     p.NewCounter(mismatches),
		QuorumFailures: p.NewCounter(quorumFailures),
	}
}

// Stats is a snapshot of the collector counters
type Stats struct {
	ProposalsSent    uint64
	Responses        uint64
	FailedResponses  uint64
	Mismatches       uint64
	QuorumFailures   uint64
	PolicyViolations uint64
}

type counters struct {
	proposalsSent    uint64
	responses        uint64
	failedResponses  uint64
	mismatches       uint64
	quorumFailures   uint64
	policyViolations uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		ProposalsSent:    atomic.LoadUint64(&c.proposalsSent),
		Responses:        atomic.LoadUint64(&c.responses),
		FailedResponses:  atomic.LoadUint64(&c.failedResponses),
		Mismatches:       atomic.LoadUint64(&c.mismatches),
		QuorumFailures:   atomic.LoadUint64(&c.quorumFailures),
		PolicyViolations: atomic.LoadUint64(&c.policyViolations),
	}
}
