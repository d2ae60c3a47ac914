/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package invoke provides the handlers that drive a chaincode invocation from
// proposal to commit.
package invoke

import (
	reqContext "context"
	"time"

	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
)

// Request contains the parameters to execute transaction
type Request struct {
	ChaincodeID string
	Fcn         string
	Args        [][]byte
}

// Response contains response parameters for query and execute transaction
type Response struct {
	Payload          []byte
	TransactionID    fab.TransactionID
	TxValidationCode pb.TxValidationCode
	BlockNumber      uint64
	State            TxState
	Proposal         *fab.TransactionProposal
	Responses        []*fab.TransactionProposalResponse
}

// Handler for chaining transaction executions
type Handler interface {
	Handle(context *RequestContext, clientContext *ClientContext)
}

// Endorser collects and checks endorsements for a proposal
type Endorser interface {
	SendTransactionProposal(reqCtx reqContext.Context, proposal *fab.TransactionProposal, peers []fab.ProposalProcessor) ([]*fab.TransactionProposalResponse, error)
}

// ClientContext contains the immutable collaborators shared by every request
type ClientContext struct {
	Channel      fab.ChannelCfg
	Signer       msp.SigningIdentity
	Endorser     Endorser
	Targets      []fab.ProposalProcessor
	Orderer      fab.Orderer
	EventService fab.EventService
	// CommitTimeout bounds the wait for the commit event
	CommitTimeout time.Duration
}

// RequestContext contains request, response and state of a single transaction.
// It is owned by the goroutine that runs the handler chain.
type RequestContext struct {
	Request  Request
	Response Response
	Error    error
	Ctx      reqContext.Context
}

// NewRequestContext returns a context for the request in the Initial state
func NewRequestContext(ctx reqContext.Context, request Request) *RequestContext {
	return &RequestContext{Request: request, Ctx: ctx}
}

// State returns the current state of the transaction
func (rc *RequestContext) State() TxState {
	return rc.Response.State
}

// transition moves the transaction to the given state. An illegal transition
// fails the transaction and returns false.
func (rc *RequestContext) transition(to TxState) bool {
	from := rc.Response.State
	if !from.CanTransition(to) {
		logger.Errorf("Transaction %s: %s", rc.Response.TransactionID, illegalTransition(from, to))
		rc.Error = illegalTransition(from, to)
		if !from.IsTerminal() {
			rc.Response.State = Failed
		}
		return false
	}
	logger.Debugf("Transaction %s: %s -> %s", rc.Response.TransactionID, from, to)
	rc.Response.State = to
	return true
}

// fail moves the transaction to the terminal state that matches the error
func (rc *RequestContext) fail(err error) {
	to := Failed
	if isTimeout(rc.Ctx, err) && rc.Response.State.CanTransition(TimedOut) {
		to = TimedOut
	}
	if rc.transition(to) {
		rc.Error = err
	}
}
