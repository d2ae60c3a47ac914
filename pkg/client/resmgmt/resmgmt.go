/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package resmgmt enables installation and instantiation of chaincode on the
// peers of a channel.
package resmgmt

import (
	reqContext "context"
	"time"

	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/client/channel/invoke"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/resource"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/txn"
)

var logger = logging.NewLogger("txnflow/client/resmgmt")

const (
	defaultInstallTimeout     = 30 * time.Second
	defaultInstantiateTimeout = 180 * time.Second
)

// InstallCCRequest contains install chaincode request parameters
type InstallCCRequest struct {
	Name    string
	Path    string
	Version string
	Package []byte
}

// InstallCCResponse contains install chaincode response status
type InstallCCResponse struct {
	Target string
	Status int32
	Info   string
}

// InstantiateCCRequest contains instantiate chaincode request parameters.
// The first argument is the init function name.
type InstantiateCCRequest struct {
	Name    string
	Path    string
	Version string
	Args    [][]byte
	// Policy defaults to a signature from a member of any channel organization
	Policy *common.SignaturePolicyEnvelope
}

// InstantiateCCResponse contains response parameters for Instantiate
type InstantiateCCResponse struct {
	TransactionID    fab.TransactionID
	TxValidationCode pb.TxValidationCode
	BlockNumber      uint64
	State            invoke.TxState
}

// UpgradeCCRequest contains upgrade chaincode request parameters
type UpgradeCCRequest InstantiateCCRequest

// UpgradeCCResponse contains upgrade chaincode response status
type UpgradeCCResponse InstantiateCCResponse

// InstallAndInstantiateRequest describes a chaincode that is installed on every
// target and then instantiated on the channel
type InstallAndInstantiateRequest struct {
	Name    string
	Path    string
	Version string
	Package []byte
	Args    [][]byte
	Policy  *common.SignaturePolicyEnvelope
}

// InstallAndInstantiateResponse contains the install status per target and the
// outcome of the instantiate transaction
type InstallAndInstantiateResponse struct {
	Installed   []InstallCCResponse
	Instantiate InstantiateCCResponse
}

// Context holds the collaborators of the client
type Context struct {
	invoke.ClientContext
	// MSPIDs are the organizations whose members satisfy the default chaincode policy
	MSPIDs []string
}

// proposalSender sends proposals that are not ordered
type proposalSender interface {
	SendProposal(reqCtx reqContext.Context, proposal *fab.TransactionProposal, peers []fab.ProposalProcessor) ([]*fab.TransactionProposalResponse, error)
}

// Client enables managing resources in Fabric network.
type Client struct {
	ctx       Context
	installer proposalSender
}

// New returns a resource management client instance.
func New(ctx Context) (*Client, error) {
	if ctx.Channel == nil || ctx.Channel.ID() == "" {
		return nil, errors.New("channel is required")
	}
	if ctx.Signer == nil {
		return nil, errors.New("signing identity is required")
	}
	installer, ok := ctx.Endorser.(proposalSender)
	if !ok {
		return nil, errors.New("endorser must support install proposals")
	}
	if ctx.Orderer == nil {
		return nil, errors.New("orderer is required")
	}
	if ctx.EventService == nil {
		return nil, errors.New("event service is required")
	}
	if len(ctx.MSPIDs) == 0 {
		return nil, errors.New("at least one MSP ID is required")
	}
	return &Client{ctx: ctx, installer: installer}, nil
}

// InstallAndInstantiate installs the chaincode on every target and instantiates it
// on the channel. The install phase is not ordered. The instantiate phase returns
// once the instantiate transaction is committed.
func (rc *Client) InstallAndInstantiate(ctx reqContext.Context, req InstallAndInstantiateRequest, options ...RequestOption) (InstallAndInstantiateResponse, error) {
	installed, err := rc.InstallCC(ctx, InstallCCRequest{Name: req.Name, Path: req.Path, Version: req.Version, Package: req.Package}, options...)
	if err != nil {
		return InstallAndInstantiateResponse{Installed: installed}, errors.WithMessage(err, "install failed")
	}

	resp, err := rc.InstantiateCC(ctx, InstantiateCCRequest{Name: req.Name, Path: req.Path, Version: req.Version, Args: req.Args, Policy: req.Policy}, options...)
	if err != nil {
		return InstallAndInstantiateResponse{Installed: installed, Instantiate: resp}, errors.WithMessage(err, "instantiate failed")
	}

	return InstallAndInstantiateResponse{Installed: installed, Instantiate: resp}, nil
}

// InstallCC sends a deployment-only proposal to every target. The install succeeds when the
// endorsement quorum is met; targets that failed are missing from the responses.
func (rc *Client) InstallCC(ctx reqContext.Context, req InstallCCRequest, options ...RequestOption) ([]InstallCCResponse, error) {
	if err := checkRequiredInstallCCParams(req); err != nil {
		return nil, err
	}

	opts, err := rc.prepareRequestOpts(options...)
	if err != nil {
		return nil, err
	}

	proposal, err := txn.Build(rc.ctx.Channel, rc.ctx.Signer, fab.ChaincodeInvokeRequest{
		ChaincodeID: req.Name,
		Deployment:  &fab.ChaincodeDeployment{Path: req.Path, Version: req.Version, Package: req.Package},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "creating install proposal failed")
	}

	reqCtx, cancel := reqContext.WithTimeout(ctx, opts.InstallTimeout)
	defer cancel()

	responses, err := rc.installer.SendProposal(reqCtx, proposal, opts.Targets)

	var installResponses []InstallCCResponse
	for _, r := range responses {
		logger.Debugf("Install chaincode '%s' endorser '%s' returned status %d", req.Name, r.Endorser, r.Status)
		installResponses = append(installResponses, InstallCCResponse{Target: r.Endorser, Status: r.Status, Info: r.GetResponse().GetMessage()})
	}
	if err != nil {
		return installResponses, errors.WithMessage(err, "sending install proposal failed")
	}

	logger.Infof("Installed chaincode %s:%s on %d peers", req.Name, req.Version, len(installResponses))
	return installResponses, nil
}

func checkRequiredInstallCCParams(req InstallCCRequest) error {
	if req.Name == "" || req.Version == "" || req.Path == "" {
		return status.NewClient(status.InvalidArgument, "Chaincode name, version and path are required")
	}
	return nil
}

// InstantiateCC instantiates chaincode on the channel and waits for the
// instantiate transaction to commit
func (rc *Client) InstantiateCC(ctx reqContext.Context, req InstantiateCCRequest, options ...RequestOption) (InstantiateCCResponse, error) {
	return rc.sendCCProposal(ctx, resource.InstantiateChaincode, req, options...)
}

// UpgradeCC upgrades an instantiated chaincode to a version that is installed on the targets
func (rc *Client) UpgradeCC(ctx reqContext.Context, req UpgradeCCRequest, options ...RequestOption) (UpgradeCCResponse, error) {
	resp, err := rc.sendCCProposal(ctx, resource.UpgradeChaincode, InstantiateCCRequest(req), options...)
	return UpgradeCCResponse(resp), err
}

// sendCCProposal runs an instantiate or upgrade proposal through the same handler
// chain as a channel invoke
func (rc *Client) sendCCProposal(ctx reqContext.Context, deployType resource.DeployType, req InstantiateCCRequest, options ...RequestOption) (InstantiateCCResponse, error) {
	if req.Name == "" || req.Version == "" || req.Path == "" {
		return InstantiateCCResponse{State: invoke.Failed}, status.NewClient(status.InvalidArgument, "Chaincode name, version and path are required")
	}

	opts, err := rc.prepareRequestOpts(options...)
	if err != nil {
		return InstantiateCCResponse{}, err
	}

	policy := req.Policy
	if policy == nil {
		policy, err = resource.SignedByAnyMember(rc.ctx.MSPIDs)
		if err != nil {
			return InstantiateCCResponse{}, errors.WithMessage(err, "creating chaincode policy failed")
		}
	}

	builder := func(channel fab.ChannelCfg, signer msp.SigningIdentity, _ invoke.Request) (*fab.TransactionProposal, error) {
		txh, err := txn.NewHeader(signer, channel.ID())
		if err != nil {
			return nil, errors.WithMessage(err, "create transaction ID failed")
		}
		return resource.CreateChaincodeDeployProposal(txh, deployType, resource.ChaincodeDeployRequest{
			Name:    req.Name,
			Path:    req.Path,
			Version: req.Version,
			Args:    req.Args,
			Policy:  policy,
		})
	}

	handler := invoke.NewProposalHandlerWithBuilder(builder,
		invoke.NewEndorsementHandler(
			invoke.NewCommitHandler(),
		),
	)

	clientContext := rc.ctx.ClientContext
	clientContext.Targets = opts.Targets
	if clientContext.CommitTimeout <= 0 || clientContext.CommitTimeout > opts.InstantiateTimeout {
		clientContext.CommitTimeout = opts.InstantiateTimeout
	}

	reqCtx, cancel := reqContext.WithTimeout(ctx, opts.InstantiateTimeout)
	defer cancel()

	requestContext := invoke.NewRequestContext(reqCtx, invoke.Request{ChaincodeID: req.Name})
	handler.Handle(requestContext, &clientContext)

	resp := InstantiateCCResponse{
		TransactionID:    requestContext.Response.TransactionID,
		TxValidationCode: requestContext.Response.TxValidationCode,
		BlockNumber:      requestContext.Response.BlockNumber,
		State:            requestContext.State(),
	}
	if requestContext.Error != nil {
		return resp, requestContext.Error
	}

	logger.Infof("Chaincode %s:%s committed in block %d", req.Name, req.Version, resp.BlockNumber)
	return resp, nil
}

// prepareRequestOpts prepares request options
func (rc *Client) prepareRequestOpts(options ...RequestOption) (requestOptions, error) {
	opts := requestOptions{}
	for _, option := range options {
		err := option(&opts)
		if err != nil {
			return opts, errors.WithMessage(err, "Failed to read opts")
		}
	}

	if len(opts.Targets) == 0 {
		opts.Targets = rc.ctx.Targets
	}
	if len(opts.Targets) == 0 {
		return opts, status.New(status.ClientStatus, status.NoPeersFound.ToInt32(), "no targets available", nil)
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = defaultInstallTimeout
	}
	if opts.InstantiateTimeout <= 0 {
		opts.InstantiateTimeout = defaultInstantiateTimeout
	}
	return opts, nil
}
