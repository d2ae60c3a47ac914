/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package invoke

import (
	reqContext "context"

	"github.com/golang/protobuf/proto"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/txn"
)

var logger = logging.NewLogger("txnflow/client/invoke")

// ProposalBuilder creates the proposal of a request. Every call must mint a new transaction ID.
type ProposalBuilder func(channel fab.ChannelCfg, signer msp.SigningIdentity, request Request) (*fab.TransactionProposal, error)

// ProposalHandler builds the transaction proposal
type ProposalHandler struct {
	next    Handler
	builder ProposalBuilder
}

// Handle builds a proposal with a fresh transaction ID
func (h *ProposalHandler) Handle(requestContext *RequestContext, clientContext *ClientContext) {
	builder := h.builder
	if builder == nil {
		builder = buildInvokeProposal
	}

	proposal, err := builder(clientContext.Channel, clientContext.Signer, requestContext.Request)
	if err != nil {
		requestContext.fail(errors.WithMessage(err, "creating transaction proposal failed"))
		return
	}

	requestContext.Response.Proposal = proposal
	requestContext.Response.TransactionID = proposal.TxnID
	if !requestContext.transition(Built) {
		return
	}

	//Delegate to next step if any
	if h.next != nil {
		h.next.Handle(requestContext, clientContext)
	}
}

func buildInvokeProposal(channel fab.ChannelCfg, signer msp.SigningIdentity, request Request) (*fab.TransactionProposal, error) {
	return txn.Build(channel, signer, fab.ChaincodeInvokeRequest{
		ChaincodeID: request.ChaincodeID,
		Fcn:         request.Fcn,
		Args:        request.Args,
	})
}

// EndorsementHandler for handling endorse transactions
type EndorsementHandler struct {
	next Handler
}

// Handle sends the proposal to the targets and keeps the accepted responses
func (e *EndorsementHandler) Handle(requestContext *RequestContext, clientContext *ClientContext) {
	if len(clientContext.Targets) == 0 {
		requestContext.fail(status.New(status.ClientStatus, status.NoPeersFound.ToInt32(), "targets were not provided", nil))
		return
	}
	if !requestContext.transition(Endorsing) {
		return
	}

	responses, err := clientContext.Endorser.SendTransactionProposal(requestContext.Ctx, requestContext.Response.Proposal, clientContext.Targets)
	if err != nil {
		requestContext.fail(err)
		return
	}

	requestContext.Response.Responses = responses
	payload, err := getResultFromProposalResponse(responses[0].ProposalResponse)
	if err != nil {
		requestContext.fail(err)
		return
	}
	requestContext.Response.Payload = payload

	if !requestContext.transition(Endorsed) {
		return
	}

	//Delegate to next step if any
	if e.next != nil {
		e.next.Handle(requestContext, clientContext)
	}
}

func getResultFromProposalResponse(proposalResponse *pb.ProposalResponse) ([]byte, error) {
	responsePayload := &pb.ProposalResponsePayload{}
	if err := proto.Unmarshal(proposalResponse.GetPayload(), responsePayload); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize proposal response payload")
	}

	chaincodeAction := &pb.ChaincodeAction{}
	if err := proto.Unmarshal(responsePayload.GetExtension(), chaincodeAction); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize chaincode action")
	}

	return chaincodeAction.GetResponse().GetPayload(), nil
}

// CommitTxHandler for committing transactions
type CommitTxHandler struct {
	next Handler
}

// Handle registers for the commit event, submits the transaction to the
// orderer and waits for the outcome
func (c *CommitTxHandler) Handle(requestContext *RequestContext, clientContext *ClientContext) {
	txnID := requestContext.Response.TransactionID

	// the registration must exist before the orderer can cut the block
	reg, statusNotifier, err := clientContext.EventService.RegisterTxStatusEvent(string(txnID), clientContext.CommitTimeout)
	if err != nil {
		requestContext.fail(errors.WithMessage(err, "error registering for TxStatus event"))
		return
	}
	defer clientContext.EventService.Unregister(reg)

	if !requestContext.transition(Submitting) {
		return
	}

	tx, err := txn.New(requestContext.Response.Proposal, requestContext.Response.Responses)
	if err != nil {
		requestContext.fail(errors.WithMessage(err, "CreateTransaction failed"))
		return
	}
	if _, err := txn.Submit(requestContext.Ctx, clientContext.Signer, tx, clientContext.Orderer); err != nil {
		requestContext.fail(errors.WithMessage(err, "SendTransaction failed"))
		return
	}

	if !requestContext.transition(AwaitingNotification) {
		return
	}

	select {
	case result := <-statusNotifier:
		if result.Err != nil {
			requestContext.fail(result.Err)
			return
		}
		txStatus := result.Event
		requestContext.Response.TxValidationCode = txStatus.TxValidationCode
		requestContext.Response.BlockNumber = txStatus.BlockNumber

		if txStatus.TxValidationCode != pb.TxValidationCode_VALID {
			if requestContext.transition(Invalidated) {
				requestContext.Error = status.New(status.EventServerStatus, int32(txStatus.TxValidationCode),
					"received invalid transaction", nil)
			}
			return
		}
		if !requestContext.transition(Committed) {
			return
		}
	case <-requestContext.Ctx.Done():
		requestContext.fail(status.New(status.ClientStatus, status.Timeout.ToInt32(),
			"Execute didn't receive block event", nil))
		return
	}

	//Delegate to next step if any
	if c.next != nil {
		c.next.Handle(requestContext, clientContext)
	}
}

// NewQueryHandler returns query handler with chain of ProposalHandler and EndorsementHandler
func NewQueryHandler(next ...Handler) Handler {
	return NewProposalHandler(
		NewEndorsementHandler(next...),
	)
}

// NewExecuteHandler returns execute handler with chain of ProposalHandler, EndorsementHandler and CommitHandler
func NewExecuteHandler(next ...Handler) Handler {
	return NewProposalHandler(
		NewEndorsementHandler(
			NewCommitHandler(next...),
		),
	)
}

// NewProposalHandler returns a handler that builds a transaction proposal
func NewProposalHandler(next ...Handler) *ProposalHandler {
	return &ProposalHandler{next: getNext(next)}
}

// NewProposalHandlerWithBuilder returns a handler that builds the proposal with the given builder
func NewProposalHandlerWithBuilder(builder ProposalBuilder, next ...Handler) *ProposalHandler {
	return &ProposalHandler{next: getNext(next), builder: builder}
}

// NewEndorsementHandler returns a handler that endorses a transaction proposal
func NewEndorsementHandler(next ...Handler) *EndorsementHandler {
	return &EndorsementHandler{next: getNext(next)}
}

// NewCommitHandler returns a handler that commits transaction propsal responses
func NewCommitHandler(next ...Handler) *CommitTxHandler {
	return &CommitTxHandler{next: getNext(next)}
}

func getNext(next []Handler) Handler {
	if len(next) > 0 {
		return next[0]
	}
	return nil
}

// IsInvalidated returns true if the error reports a transaction that was
// committed with a validation code other than VALID
func IsInvalidated(err error) bool {
	s, ok := status.FromError(err)
	return ok && s.Group == status.EventServerStatus && s.Code != int32(pb.TxValidationCode_VALID)
}

// IsConflict returns true if the transaction was invalidated because a
// concurrent transaction changed the state it read
func IsConflict(err error) bool {
	s, ok := status.FromError(err)
	if !ok || s.Group != status.EventServerStatus {
		return false
	}
	switch pb.TxValidationCode(s.Code) {
	case pb.TxValidationCode_MVCC_READ_CONFLICT, pb.TxValidationCode_PHANTOM_READ_CONFLICT:
		return true
	default:
		return false
	}
}

func isTimeout(ctx reqContext.Context, err error) bool {
	if status.Is(err, status.ClientStatus, status.Timeout) {
		return true
	}
	if errors.Cause(err) == reqContext.DeadlineExceeded {
		return true
	}
	return ctx != nil && ctx.Err() == reqContext.DeadlineExceeded
}
