/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package channel

import (
	"time"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/client/channel/invoke"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/retry"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
)

// opts allows the user to specify more advanced options
type requestOptions struct {
	Targets []fab.ProposalProcessor // targets
	Timeout time.Duration
	Retry   retry.Opts
}

// RequestOption func for each Opts argument
type RequestOption func(opts *requestOptions) error

// Request contains the parameters to query and execute an invocation transaction
type Request struct {
	ChaincodeID string
	Fcn         string
	Args        [][]byte
}

// Response contains response parameters for query and execute an invocation transaction
type Response struct {
	Payload          []byte
	TransactionID    fab.TransactionID
	TxValidationCode pb.TxValidationCode
	BlockNumber      uint64
	State            invoke.TxState
	Proposal         *fab.TransactionProposal
	Responses        []*fab.TransactionProposalResponse
}

// WithTimeout bounds the whole request, from proposal to commit
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) error {
		o.Timeout = timeout
		return nil
	}
}

// WithTargets overrides the endorsing peers of the channel for the request
func WithTargets(targets ...fab.ProposalProcessor) RequestOption {
	return func(o *requestOptions) error {
		for _, t := range targets {
			if t == nil {
				return errors.New("target is nil")
			}
		}
		o.Targets = targets
		return nil
	}
}

// WithRetry resubmits an invocation whose outcome matches opts.RetryableCodes. Each
// attempt is a new transaction with a new TxID, and the request timeout bounds every
// attempt on its own. Queries are never retried.
func WithRetry(opts retry.Opts) RequestOption {
	return func(o *requestOptions) error {
		if opts.Attempts < 0 {
			return errors.New("retry attempts must not be negative")
		}
		o.Retry = opts
		return nil
	}
}
