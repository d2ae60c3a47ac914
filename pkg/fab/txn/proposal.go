/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
)

const (
	lscc        = "lscc"
	lsccInstall = "install"
)

// Build mints a fresh transaction header for the identity and creates the proposal
// described by request. An empty Fcn builds a deployment-only proposal, which installs
// the package in request.Deployment through the lifecycle system chaincode.
func Build(channel fab.ChannelCfg, identity msp.Identity, request fab.ChaincodeInvokeRequest) (*fab.TransactionProposal, error) {
	if channel == nil || channel.ID() == "" {
		return nil, status.NewClient(status.InvalidArgument, "channel is required")
	}
	if identity == nil {
		return nil, status.NewClient(status.InvalidArgument, "identity is required")
	}
	if request.ChaincodeID == "" {
		return nil, status.NewClient(status.InvalidArgument, "ChaincodeID is required")
	}

	if request.Fcn == "" {
		if request.Deployment == nil {
			return nil, status.NewClient(status.InvalidArgument, "deployment is required when no function is invoked")
		}

		txh, err := NewHeader(identity, fab.SystemChannel)
		if err != nil {
			return nil, errors.WithMessage(err, "create transaction header failed")
		}
		return CreateChaincodeDeploymentProposal(txh, request.ChaincodeID, *request.Deployment)
	}

	txh, err := NewHeader(identity, channel.ID())
	if err != nil {
		return nil, errors.WithMessage(err, "create transaction header failed")
	}
	return CreateChaincodeInvokeProposal(txh, request)
}

// CreateChaincodeInvokeProposal creates a proposal for transaction.
func CreateChaincodeInvokeProposal(txh fab.TransactionHeader, request fab.ChaincodeInvokeRequest) (*fab.TransactionProposal, error) {
	if request.ChaincodeID == "" {
		return nil, status.NewClient(status.InvalidArgument, "ChaincodeID is required")
	}

	if request.Fcn == "" {
		return nil, status.NewClient(status.InvalidArgument, "Fcn is required")
	}

	// Add function name to arguments
	argsArray := make([][]byte, len(request.Args)+1)
	argsArray[0] = []byte(request.Fcn)
	for i, arg := range request.Args {
		argsArray[i+1] = arg
	}

	// create invocation spec to target a chaincode with arguments
	ccis := &pb.ChaincodeInvocationSpec{ChaincodeSpec: &pb.ChaincodeSpec{
		Type: pb.ChaincodeSpec_GOLANG, ChaincodeId: &pb.ChaincodeID{Name: request.ChaincodeID},
		Input: &pb.ChaincodeInput{Args: argsArray}}}

	proposal, err := createProposal(txh, request.ChaincodeID, ccis)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create chaincode proposal")
	}

	tp := fab.TransactionProposal{
		TxnID:    txh.TransactionID(),
		Proposal: proposal,
	}

	return &tp, nil
}

// CreateChaincodeDeploymentProposal creates an lscc install proposal for the given chaincode package.
func CreateChaincodeDeploymentProposal(txh fab.TransactionHeader, chaincodeID string, deployment fab.ChaincodeDeployment) (*fab.TransactionProposal, error) {
	if deployment.Path == "" || deployment.Version == "" {
		return nil, status.NewClient(status.InvalidArgument, "deployment path and version are required")
	}

	lang := deployment.Lang
	if lang == pb.ChaincodeSpec_UNDEFINED {
		lang = pb.ChaincodeSpec_GOLANG
	}

	ccds := &pb.ChaincodeDeploymentSpec{
		ChaincodeSpec: &pb.ChaincodeSpec{
			Type:        lang,
			ChaincodeId: &pb.ChaincodeID{Name: chaincodeID, Path: deployment.Path, Version: deployment.Version},
			Input:       &pb.ChaincodeInput{},
		},
		CodePackage: deployment.Package,
	}
	ccdsBytes, err := proto.Marshal(ccds)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of chaincode deployment spec failed")
	}

	return CreateChaincodeInvokeProposal(txh, fab.ChaincodeInvokeRequest{
		ChaincodeID: lscc,
		Fcn:         lsccInstall,
		Args:        [][]byte{ccdsBytes},
	})
}

func createProposal(txh fab.TransactionHeader, chaincodeID string, ccis *pb.ChaincodeInvocationSpec) (*pb.Proposal, error) {
	channelHeader, err := CreateChannelHeader(common.HeaderType_ENDORSER_TRANSACTION, ChannelHeaderOpts{
		TxnHeader:   txh,
		ChaincodeID: chaincodeID,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "channel header creation failed")
	}

	header, err := createHeader(txh, channelHeader)
	if err != nil {
		return nil, errors.WithMessage(err, "header creation failed")
	}
	headerBytes, err := proto.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of header failed")
	}

	ccisBytes, err := proto.Marshal(ccis)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of invocation spec failed")
	}
	payloadBytes, err := proto.Marshal(&pb.ChaincodeProposalPayload{Input: ccisBytes})
	if err != nil {
		return nil, errors.Wrap(err, "marshal of proposal payload failed")
	}

	return &pb.Proposal{Header: headerBytes, Payload: payloadBytes}, nil
}

// SignProposal creates a SignedProposal using the signing identity.
func SignProposal(signer msp.SigningIdentity, proposal *pb.Proposal) (*pb.SignedProposal, error) {
	if signer == nil {
		return nil, status.NewClient(status.InvalidArgument, "signing identity is required")
	}
	if proposal == nil {
		return nil, status.NewClient(status.InvalidArgument, "proposal is required")
	}

	proposalBytes, err := proto.Marshal(proposal)
	if err != nil {
		return nil, errors.Wrap(err, "mashal proposal failed")
	}

	signature, err := signer.Sign(proposalBytes)
	if err != nil {
		return nil, errors.WithMessage(err, "sign failed")
	}

	return &pb.SignedProposal{ProposalBytes: proposalBytes, Signature: signature}, nil
}
