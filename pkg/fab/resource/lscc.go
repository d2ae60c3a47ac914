/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package resource creates proposals for the lifecycle system chaincode.
package resource

import (
	"sort"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	mb "github.com/hyperledger/fabric-protos-go/msp"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/txn"
)

const (
	lscc        = "lscc"
	lsccDeploy  = "deploy"
	lsccUpgrade = "upgrade"
	escc        = "escc"
	vscc        = "vscc"
)

// DeployType selects between instantiating a new chaincode and upgrading an existing one
type DeployType int

// Chaincode deploy types
const (
	InstantiateChaincode DeployType = iota
	UpgradeChaincode
)

// ChaincodeDeployRequest holds the parameters of an instantiate or upgrade proposal
type ChaincodeDeployRequest struct {
	Name    string
	Path    string
	Version string
	Lang    pb.ChaincodeSpec_Type
	// Args are the init arguments; the first is the init function name
	Args   [][]byte
	Policy *common.SignaturePolicyEnvelope
}

// CreateChaincodeDeployProposal creates an instantiate or upgrade proposal on the header's channel.
func CreateChaincodeDeployProposal(txh fab.TransactionHeader, deploy DeployType, request ChaincodeDeployRequest) (*fab.TransactionProposal, error) {
	if request.Name == "" || request.Path == "" || request.Version == "" {
		return nil, status.NewClient(status.InvalidArgument, "chaincode name, path and version are required")
	}
	if request.Policy == nil {
		return nil, status.NewClient(status.InvalidArgument, "chaincode policy is required")
	}

	var fcn string
	switch deploy {
	case InstantiateChaincode:
		fcn = lsccDeploy
	case UpgradeChaincode:
		fcn = lsccUpgrade
	default:
		return nil, errors.Errorf("chaincode deploy type %d unknown", deploy)
	}

	lang := request.Lang
	if lang == pb.ChaincodeSpec_UNDEFINED {
		lang = pb.ChaincodeSpec_GOLANG
	}

	ccds := &pb.ChaincodeDeploymentSpec{ChaincodeSpec: &pb.ChaincodeSpec{
		Type:        lang,
		ChaincodeId: &pb.ChaincodeID{Name: request.Name, Path: request.Path, Version: request.Version},
		Input:       &pb.ChaincodeInput{Args: request.Args}}}
	ccdsBytes, err := proto.Marshal(ccds)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of chaincode deployment spec failed")
	}

	policyBytes, err := proto.Marshal(request.Policy)
	if err != nil {
		return nil, errors.Wrap(err, "marshal of chaincode policy failed")
	}

	// channel, CDS, policy, escc, vscc
	args := [][]byte{
		[]byte(txh.ChannelID()),
		ccdsBytes,
		policyBytes,
		[]byte(escc),
		[]byte(vscc),
	}

	return txn.CreateChaincodeInvokeProposal(txh, fab.ChaincodeInvokeRequest{
		ChaincodeID: lscc,
		Fcn:         fcn,
		Args:        args,
	})
}

// SignedByAnyMember returns a policy that requires one signature from a member
// of any of the given organizations.
func SignedByAnyMember(mspIDs []string) (*common.SignaturePolicyEnvelope, error) {
	if len(mspIDs) == 0 {
		return nil, errors.New("at least one MSP ID is required")
	}

	ids := append([]string(nil), mspIDs...)
	sort.Strings(ids)

	principals := make([]*mb.MSPPrincipal, len(ids))
	rules := make([]*common.SignaturePolicy, len(ids))
	for i, id := range ids {
		role, err := proto.Marshal(&mb.MSPRole{Role: mb.MSPRole_MEMBER, MspIdentifier: id})
		if err != nil {
			return nil, errors.Wrap(err, "marshal of MSP role failed")
		}
		principals[i] = &mb.MSPPrincipal{
			PrincipalClassification: mb.MSPPrincipal_ROLE,
			Principal:               role,
		}
		rules[i] = &common.SignaturePolicy{Type: &common.SignaturePolicy_SignedBy{SignedBy: int32(i)}}
	}

	return &common.SignaturePolicyEnvelope{
		Version: 0,
		Rule: &common.SignaturePolicy{Type: &common.SignaturePolicy_NOutOf_{
			NOutOf: &common.SignaturePolicy_NOutOf{N: 1, Rules: rules},
		}},
		Identities: principals,
	}, nil
}
