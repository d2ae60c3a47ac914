/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package endorsement sends signed proposals to endorsing peers and decides
// whether the collected responses may be turned into a transaction.
package endorsement

import (
	"bytes"
	reqContext "context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/multi"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics/disabled"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/txn"
)

var logger = logging.NewLogger("txnflow/fab/endorsement")

const (
	defaultTimeout = 30 * time.Second

	statusSuccess = "success"
	statusError   = "error"
)

// Collector fans a proposal out to endorsing peers. The only state it keeps
// across calls is its counters.
type Collector struct {
	signer       msp.SigningIdentity
	minResponses int
	policy       *Policy
	timeout      time.Duration
	metrics      *Metrics
	counters     counters
}

// Option configures a Collector
type Option func(c *Collector) error

// WithMinResponses sets the minimum number of successful endorsements
func WithMinResponses(n int) Option {
	return func(c *Collector) error {
		if n < 1 {
			return errors.Errorf("minimum responses must be at least 1, got %d", n)
		}
		c.minResponses = n
		return nil
	}
}

// WithPolicy sets the endorsement policy expression. An empty expression disables the policy.
func WithPolicy(expression string) Option {
	return func(c *Collector) error {
		if expression == "" {
			c.policy = nil
			return nil
		}
		p, err := NewPolicy(expression)
		if err != nil {
			return err
		}
		c.policy = p
		return nil
	}
}

// WithTimeout bounds the time spent waiting on each peer
func WithTimeout(timeout time.Duration) Option {
	return func(c *Collector) error {
		if timeout > 0 {
			c.timeout = timeout
		}
		return nil
	}
}

// WithMetricsProvider sets the provider of the collector meters
func WithMetricsProvider(p metrics.Provider) Option {
	return func(c *Collector) error {
		c.metrics = NewMetrics(p)
		return nil
	}
}

// New returns a collector that signs proposals with the given identity
func New(signer msp.SigningIdentity, opts ...Option) (*Collector, error) {
	if signer == nil {
		return nil, errors.New("signing identity is required")
	}

	c := &Collector{
		signer:       signer,
		minResponses: 1,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WithMessage(err, "invalid endorsement collector option")
		}
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(&disabled.Provider{})
	}
	return c, nil
}

// Stats returns a snapshot of the collector counters
func (c *Collector) Stats() Stats {
	return c.counters.snapshot()
}

// SendProposal sends a proposal that is not ordered, such as a chaincode install,
// to the peers. The responses are accepted when at least the minimum number of peers
// endorse successfully and every successful payload is identical. A failed peer only
// fails the call when the quorum is missed. The successful responses are returned
// even when they are rejected, so callers can report which peers endorsed.
func (c *Collector) SendProposal(reqCtx reqContext.Context, proposal *fab.TransactionProposal, peers []fab.ProposalProcessor) ([]*fab.TransactionProposalResponse, error) {
	responses, errs, err := c.collect(reqCtx, proposal, peers)
	if err != nil {
		return nil, err
	}
	if err := c.verify(proposal, responses, errs); err != nil {
		return responses, err
	}
	return responses, nil
}

// SendTransactionProposal sends an invoke or query proposal to the peers. The responses
// are accepted when at least the minimum number of peers endorse successfully, every
// successful payload is identical and the endorsement policy, if any, is satisfied.
func (c *Collector) SendTransactionProposal(reqCtx reqContext.Context, proposal *fab.TransactionProposal, peers []fab.ProposalProcessor) ([]*fab.TransactionProposalResponse, error) {
	responses, errs, err := c.collect(reqCtx, proposal, peers)
	if err != nil {
		return nil, err
	}
	if err := c.verify(proposal, responses, errs); err != nil {
		return nil, err
	}

	if c.policy != nil {
		counts := make(map[string]int)
		for _, r := range responses {
			counts[r.MSPID]++
		}
		satisfied, err := c.policy.Satisfied(counts)
		if err != nil {
			return nil, status.NewClient(status.EndorsementPolicyFailure, err.Error())
		}
		if !satisfied {
			atomic.AddUint64(&c.counters.policyViolations, 1)
			return nil, status.NewClient(status.EndorsementPolicyFailure, "endorsement policy ["+c.policy.String()+"] not satisfied", counts)
		}
	}
	return responses, nil
}

// verify applies the quorum and the payload equality check
func (c *Collector) verify(proposal *fab.TransactionProposal, responses []*fab.TransactionProposalResponse, errs multi.Errors) error {
	if len(responses) < c.minResponses {
		atomic.AddUint64(&c.counters.quorumFailures, 1)
		c.metrics.QuorumFailures.Add(1)
		msg := "received " + strconv.Itoa(len(responses)) + " of the required " + strconv.Itoa(c.minResponses) + " endorsements"
		if len(errs) > 0 {
			msg += ": " + errs.Error()
		}
		return status.NewClient(status.NoEndorsements, msg, errs)
	}

	if err := verifyPayloads(responses); err != nil {
		atomic.AddUint64(&c.counters.mismatches, 1)
		c.metrics.Mismatches.Add(1)
		return err
	}

	if len(errs) > 0 {
		logger.Debugf("Proposal %s accepted despite failed endorsers: %s", proposal.TxnID, errs)
	}
	return nil
}

// collect signs the proposal, sends it to every unique peer concurrently and waits
// for all of them. It returns the successful responses and the per-peer errors.
func (c *Collector) collect(reqCtx reqContext.Context, proposal *fab.TransactionProposal, peers []fab.ProposalProcessor) ([]*fab.TransactionProposalResponse, multi.Errors, error) {
	if proposal == nil || proposal.Proposal == nil {
		return nil, nil, status.NewClient(status.InvalidArgument, "proposal is required")
	}
	if len(peers) < 1 {
		return nil, nil, status.NewClient(status.InvalidArgument, "targets is required")
	}
	for _, p := range peers {
		if p == nil {
			return nil, nil, status.NewClient(status.InvalidArgument, "target is nil")
		}
	}

	signedProposal, err := txn.SignProposal(c.signer, proposal.Proposal)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "sign proposal failed")
	}
	request := fab.ProcessProposalRequest{SignedProposal: signedProposal}

	peers = getTargetsWithoutDuplicates(peers)

	ctx, cancel := reqContext.WithTimeout(reqCtx, c.timeout)
	defer cancel()

	var responseMtx sync.Mutex
	var responses []*fab.TransactionProposalResponse
	var errs multi.Errors
	var wg sync.WaitGroup

	for _, p := range peers {
		wg.Add(1)
		atomic.AddUint64(&c.counters.proposalsSent, 1)
		c.metrics.ProposalsSent.Add(1)

		go func(processor fab.ProposalProcessor) {
			defer wg.Done()

			resp, err := processor.ProcessTransactionProposal(ctx, request)
			if err == nil {
				err = checkResponse(resp)
			}

			endorser := targetName(processor, resp)
			atomic.AddUint64(&c.counters.responses, 1)

			responseMtx.Lock()
			defer responseMtx.Unlock()

			if err != nil {
				logger.Debugf("Received error response from txn proposal processing: %s", err)
				atomic.AddUint64(&c.counters.failedResponses, 1)
				c.metrics.Responses.With("peer", endorser, "status", statusError).Add(1)
				errs = append(errs, err)
				return
			}
			c.metrics.Responses.With("peer", endorser, "status", statusSuccess).Add(1)
			responses = append(responses, resp)
		}(p)
	}
	wg.Wait()

	return responses, errs, nil
}

func checkResponse(resp *fab.TransactionProposalResponse) error {
	if resp == nil || resp.ProposalResponse == nil || resp.ProposalResponse.Response == nil {
		return status.New(status.EndorserClientStatus, status.Unknown.ToInt32(), "empty proposal response", nil)
	}
	code := resp.ProposalResponse.Response.Status
	if code < int32(common.Status_SUCCESS) || code >= int32(common.Status_BAD_REQUEST) {
		return status.NewFromChaincodeResponse(code, resp.ProposalResponse.Response.Message, resp.Endorser)
	}
	return nil
}

// verifyPayloads checks that every endorser produced the same proposal response payload
func verifyPayloads(responses []*fab.TransactionProposalResponse) error {
	first := responses[0]
	for _, r := range responses[1:] {
		if !bytes.Equal(first.ProposalResponse.Payload, r.ProposalResponse.Payload) {
			return status.NewClient(status.EndorsementMismatch,
				"proposal response payloads do not match", first.Endorser, r.Endorser)
		}
	}
	return nil
}

func targetName(processor fab.ProposalProcessor, resp *fab.TransactionProposalResponse) string {
	if p, ok := processor.(fab.Peer); ok {
		return p.URL()
	}
	if resp != nil && resp.Endorser != "" {
		return resp.Endorser
	}
	return "unknown"
}

// getTargetsWithoutDuplicates returns a list of targets without duplicates
func getTargetsWithoutDuplicates(targets []fab.ProposalProcessor) []fab.ProposalProcessor {
	peerUrlsToTargets := map[string]fab.ProposalProcessor{}
	var uniqueTargets []fab.ProposalProcessor

	for i := range targets {
		peer, ok := targets[i].(fab.Peer)
		if !ok {
			// ProposalProcessor is not a fab.Peer... cannot remove duplicates
			return targets
		}
		if _, present := peerUrlsToTargets[peer.URL()]; !present {
			uniqueTargets = append(uniqueTargets, targets[i])
			peerUrlsToTargets[peer.URL()] = targets[i]
		}
	}

	if len(uniqueTargets) != len(targets) {
		logger.Warn("Duplicate target peers in configuration")
	}

	return uniqueTargets
}
