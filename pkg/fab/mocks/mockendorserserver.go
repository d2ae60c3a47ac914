/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	mspprotos "github.com/hyperledger/fabric-protos-go/msp"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

const (
	lscc        = "lscc"
	lsccInstall = "install"
	lsccDeploy  = "deploy"
	lsccUpgrade = "upgrade"
)

// MockEndorserServer simulates proposals against a shared mock ledger. Chaincodes
// must be installed on the endorser before they can be instantiated.
type MockEndorserServer struct {
	pb.UnimplementedEndorserServer
	Ledger *MockLedger
	Name   string
	MSPID  string
	// ProposalError, if set, is returned for every proposal
	ProposalError error
	mutex         sync.RWMutex
	installed     map[string][]byte
}

// NewMockEndorserServer returns an endorser for the named peer of the given MSP
func NewMockEndorserServer(ledger *MockLedger, name, mspID string) *MockEndorserServer {
	return &MockEndorserServer{
		Ledger:    ledger,
		Name:      name,
		MSPID:     mspID,
		installed: make(map[string][]byte),
	}
}

// IsInstalled returns true if the chaincode version is installed on this endorser
func (m *MockEndorserServer) IsInstalled(name, version string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.installed[name+":"+version]
	return ok
}

// InstalledPackage returns the code package that was installed for the chaincode version
func (m *MockEndorserServer) InstalledPackage(name, version string) ([]byte, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	pkg, ok := m.installed[name+":"+version]
	return pkg, ok
}

// ProcessProposal simulates the proposal and endorses the result
func (m *MockEndorserServer) ProcessProposal(ctx context.Context, signedProposal *pb.SignedProposal) (*pb.ProposalResponse, error) {
	if m.ProposalError != nil {
		return nil, m.ProposalError
	}

	proposal := &pb.Proposal{}
	if err := proto.Unmarshal(signedProposal.GetProposalBytes(), proposal); err != nil {
		return nil, errors.Wrap(err, "invalid proposal")
	}
	hdr := &cb.Header{}
	if err := proto.Unmarshal(proposal.Header, hdr); err != nil {
		return nil, errors.Wrap(err, "invalid proposal header")
	}
	chdr := &cb.ChannelHeader{}
	if err := proto.Unmarshal(hdr.ChannelHeader, chdr); err != nil {
		return nil, errors.Wrap(err, "invalid channel header")
	}
	cpp := &pb.ChaincodeProposalPayload{}
	if err := proto.Unmarshal(proposal.Payload, cpp); err != nil {
		return nil, errors.Wrap(err, "invalid proposal payload")
	}
	cis := &pb.ChaincodeInvocationSpec{}
	if err := proto.Unmarshal(cpp.Input, cis); err != nil {
		return nil, errors.Wrap(err, "invalid chaincode invocation spec")
	}

	ccName := cis.GetChaincodeSpec().GetChaincodeId().GetName()
	args := cis.GetChaincodeSpec().GetInput().GetArgs()
	if ccName == "" || len(args) == 0 {
		return errorResponse("chaincode name and function are required"), nil
	}

	if ccName == lscc {
		return m.processLifecycle(proposal, chdr, string(args[0]), args[1:])
	}

	if chdr.ChannelId != m.Ledger.ChannelID() {
		return errorResponse("channel [" + chdr.ChannelId + "] not found"), nil
	}

	action, err := m.Ledger.Simulate(chdr.TxId, ccName, string(args[0]), args[1:])
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return m.endorse(proposal, action)
}

func (m *MockEndorserServer) processLifecycle(proposal *pb.Proposal, chdr *cb.ChannelHeader, fcn string, args [][]byte) (*pb.ProposalResponse, error) {
	switch fcn {
	case lsccInstall:
		if len(args) < 1 {
			return errorResponse("install requires a chaincode deployment spec"), nil
		}
		cds := &pb.ChaincodeDeploymentSpec{}
		if err := proto.Unmarshal(args[0], cds); err != nil {
			return errorResponse("invalid chaincode deployment spec: " + err.Error()), nil
		}
		ccID := cds.GetChaincodeSpec().GetChaincodeId()
		m.mutex.Lock()
		m.installed[ccID.GetName()+":"+ccID.GetVersion()] = cds.GetCodePackage()
		m.mutex.Unlock()
		return &pb.ProposalResponse{Response: Success([]byte("OK"))}, nil

	case lsccDeploy, lsccUpgrade:
		if len(args) < 2 {
			return errorResponse("deploy requires a channel and a chaincode deployment spec"), nil
		}
		if string(args[0]) != m.Ledger.ChannelID() || chdr.ChannelId != m.Ledger.ChannelID() {
			return errorResponse("channel [" + string(args[0]) + "] not found"), nil
		}
		cds := &pb.ChaincodeDeploymentSpec{}
		if err := proto.Unmarshal(args[1], cds); err != nil {
			return errorResponse("invalid chaincode deployment spec: " + err.Error()), nil
		}
		ccID := cds.GetChaincodeSpec().GetChaincodeId()
		if !m.IsInstalled(ccID.GetName(), ccID.GetVersion()) {
			return errorResponse("cannot get package for chaincode (" + ccID.GetName() + ":" + ccID.GetVersion() + ")"), nil
		}
		action, err := m.Ledger.SimulateDeploy(chdr.TxId, cds, fcn == lsccUpgrade)
		if err != nil {
			return errorResponse(err.Error()), nil
		}
		return m.endorse(proposal, action)

	default:
		return errorResponse("invalid function to lscc: " + fcn), nil
	}
}

func (m *MockEndorserServer) endorse(proposal *pb.Proposal, action *pb.ChaincodeAction) (*pb.ProposalResponse, error) {
	if action.Response.Status >= int32(cb.Status_BAD_REQUEST) {
		return &pb.ProposalResponse{Response: action.Response}, nil
	}

	proposalHash := sha256.Sum256(append(append([]byte{}, proposal.Header...), proposal.Payload...))
	prpBytes, err := proto.Marshal(&pb.ProposalResponsePayload{
		ProposalHash: proposalHash[:],
		Extension:    marshalOrPanic(action),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal of proposal response payload failed")
	}

	endorser := marshalOrPanic(&mspprotos.SerializedIdentity{Mspid: m.MSPID, IdBytes: []byte(m.Name)})
	signature := sha256.Sum256(append(append([]byte{}, prpBytes...), endorser...))

	return &pb.ProposalResponse{
		Version:     1,
		Response:    action.Response,
		Payload:     prpBytes,
		Endorsement: &pb.Endorsement{Endorser: endorser, Signature: signature[:]},
	}, nil
}

func errorResponse(msg string) *pb.ProposalResponse {
	return &pb.ProposalResponse{Response: Error(msg)}
}
