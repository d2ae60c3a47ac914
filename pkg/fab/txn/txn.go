/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package txn enables creating, endorsing and sending transactions to Fabric peers and orderers.
package txn

import (
	"bytes"
	reqContext "context"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
)

var logger = logging.NewLogger("txnflow/fab/txn")

// New create a transaction with proposal response, following the endorsement policy.
func New(proposal *fab.TransactionProposal, responses []*fab.TransactionProposalResponse) (*fab.Transaction, error) {
	if proposal == nil || proposal.Proposal == nil {
		return nil, status.NewClient(status.InvalidArgument, "proposal is required")
	}
	if len(responses) == 0 {
		return nil, status.NewClient(status.NoEndorsements, "at least one proposal response is necessary")
	}

	// the original header
	hdr := &common.Header{}
	if err := proto.Unmarshal(proposal.Header, hdr); err != nil {
		return nil, errors.Wrap(err, "unmarshal proposal header failed")
	}

	// the original payload
	pPayl := &pb.ChaincodeProposalPayload{}
	if err := proto.Unmarshal(proposal.Payload, pPayl); err != nil {
		return nil, errors.Wrap(err, "unmarshal proposal payload failed")
	}

	responsePayload := responses[0].ProposalResponse.GetPayload()
	for _, r := range responses {
		if r.ProposalResponse == nil || r.ProposalResponse.Response == nil {
			return nil, status.NewClient(status.InvalidArgument, "proposal response is empty", r.Endorser)
		}
		if r.ProposalResponse.Response.Status < int32(common.Status_SUCCESS) || r.ProposalResponse.Response.Status >= int32(common.Status_BAD_REQUEST) {
			return nil, status.NewFromProposalResponse(r.ProposalResponse, r.Endorser)
		}
		if !bytes.Equal(responsePayload, r.ProposalResponse.Payload) {
			return nil, status.NewClient(status.EndorsementMismatch, "proposal response payloads are not the same", r.Endorser)
		}
	}

	// fill endorsements
	endorsements := make([]*pb.Endorsement, len(responses))
	for n, r := range responses {
		endorsements[n] = r.ProposalResponse.Endorsement
	}

	// create ChaincodeEndorsedAction
	cea := &pb.ChaincodeEndorsedAction{ProposalResponsePayload: responsePayload, Endorsements: endorsements}

	// the transient map never goes to the ledger
	propPayloadBytes, err := proto.Marshal(&pb.ChaincodeProposalPayload{Input: pPayl.Input})
	if err != nil {
		return nil, errors.Wrap(err, "marshal of proposal payload failed")
	}

	// serialize the chaincode action payload
	cap := &pb.ChaincodeActionPayload{ChaincodeProposalPayload: propPayloadBytes, Action: cea}
	capBytes, err := proto.Marshal(cap)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of chaincode action payload failed")
	}

	// create a transaction
	taa := &pb.TransactionAction{Header: hdr.SignatureHeader, Payload: capBytes}

	return &fab.Transaction{
		Transaction: &pb.Transaction{Actions: []*pb.TransactionAction{taa}},
		Proposal:    proposal,
	}, nil
}

// Submit signs the transaction envelope and sends it to the orderer. It returns once the
// orderer acknowledges the envelope and does not wait for the transaction to commit.
// A failed attempt is never retried.
func Submit(reqCtx reqContext.Context, signer msp.SigningIdentity, tx *fab.Transaction, orderer fab.Orderer) (*fab.TransportAck, error) {
	if orderer == nil {
		return nil, status.NewClient(status.InvalidArgument, "orderer is required")
	}
	if tx == nil || tx.Transaction == nil {
		return nil, status.NewClient(status.InvalidArgument, "transaction is required")
	}
	if tx.Proposal == nil || tx.Proposal.Proposal == nil {
		return nil, status.NewClient(status.InvalidArgument, "proposal is required")
	}

	// the original header
	hdr := &common.Header{}
	if err := proto.Unmarshal(tx.Proposal.Proposal.Header, hdr); err != nil {
		return nil, errors.Wrap(err, "unmarshal proposal header failed")
	}

	// serialize the tx
	txBytes, err := proto.Marshal(tx.Transaction)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of transaction failed")
	}

	// create the payload
	payload := common.Payload{Header: hdr, Data: txBytes}

	return BroadcastPayload(reqCtx, signer, &payload, orderer)
}

// BroadcastPayload signs the payload and sends it to the orderer
func BroadcastPayload(reqCtx reqContext.Context, signer msp.SigningIdentity, payload *common.Payload, orderer fab.Orderer) (*fab.TransportAck, error) {
	if signer == nil {
		return nil, status.NewClient(status.InvalidArgument, "signing identity is required")
	}

	envelope, err := signPayload(signer, payload)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Broadcasting envelope to orderer: %s", orderer.URL())
	st, err := orderer.SendBroadcast(reqCtx, envelope)
	if err != nil {
		logger.Debugf("Receive Error Response from orderer: %s", err)
		return nil, errors.WithMessagef(err, "calling orderer '%s' failed", orderer.URL())
	}

	ack := &fab.TransportAck{Orderer: orderer.URL(), Status: common.Status_SUCCESS}
	if st != nil {
		ack.Status = *st
	}
	logger.Debugf("Receive Success Response from orderer")

	return ack, nil
}
