/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	reqContext "context"
	"sync"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/comm"
)

const (
	// GRPC max message size (same as Fabric)
	maxCallRecvMsgSize = 100 * 1024 * 1024
	maxCallSendMsgSize = 100 * 1024 * 1024
)

// peerEndorser enables access to a GRPC-based endorser for running transaction proposal simulations.
// The connection is dialed on first use and reused until it is closed.
type peerEndorser struct {
	target   string
	connOpts []options.Opt
	mutex    sync.Mutex
	conn     *comm.GRPCConnection
}

func newPeerEndorser(target string, connOpts ...options.Opt) (*peerEndorser, error) {
	if len(target) == 0 {
		return nil, errors.New("target is required")
	}

	return &peerEndorser{
		target:   target,
		connOpts: connOpts,
	}, nil
}

// ProcessTransactionProposal sends the transaction proposal to a peer and returns the response.
func (p *peerEndorser) ProcessTransactionProposal(ctx reqContext.Context, request fab.ProcessProposalRequest) (*fab.TransactionProposalResponse, error) {
	logger.Debugf("Processing proposal using endorser: %s", p.target)

	proposalResponse, err := p.sendProposal(ctx, request)
	if err != nil {
		tpr := fab.TransactionProposalResponse{Endorser: p.target, ProposalResponse: proposalResponse}
		return &tpr, errors.WithMessagef(err, "Transaction processing for endorser [%s]", p.target)
	}

	chaincodeStatus, err := getChaincodeResponseStatus(proposalResponse)
	if err != nil {
		return nil, errors.WithMessage(err, "chaincode response status parsing failed")
	}

	tpr := fab.TransactionProposalResponse{
		ProposalResponse: proposalResponse,
		Endorser:         p.target,
		ChaincodeStatus:  chaincodeStatus,
		Status:           proposalResponse.GetResponse().Status,
	}
	return &tpr, nil
}

func (p *peerEndorser) connection(ctx reqContext.Context) (*grpc.ClientConn, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.conn != nil && !p.conn.Closed() {
		return p.conn.ClientConn(), nil
	}

	conn, err := comm.NewConnection(ctx, p.target, p.connOpts...)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn.ClientConn(), nil
}

func (p *peerEndorser) close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *peerEndorser) sendProposal(ctx reqContext.Context, proposal fab.ProcessProposalRequest) (*pb.ProposalResponse, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, status.New(status.EndorserClientStatus, status.ConnectionFailed.ToInt32(), err.Error(), []interface{}{p.target})
	}

	endorserClient := pb.NewEndorserClient(conn)
	resp, err := endorserClient.ProcessProposal(ctx, proposal.SignedProposal,
		grpc.MaxCallRecvMsgSize(maxCallRecvMsgSize), grpc.MaxCallSendMsgSize(maxCallSendMsgSize))
	if err != nil {
		logger.Errorf("process proposal failed [%s]", err)
		if rpcStatus, ok := grpcstatus.FromError(err); ok {
			return nil, status.NewFromGRPCStatus(rpcStatus)
		}
		return nil, status.New(status.EndorserClientStatus, status.ConnectionFailed.ToInt32(), err.Error(), []interface{}{p.target})
	}

	return resp, extractChaincodeErrorFromResponse(resp, p.target)
}

// extractChaincodeErrorFromResponse extracts chaincode error from proposal response
func extractChaincodeErrorFromResponse(resp *pb.ProposalResponse, endorser string) error {
	if resp.GetResponse() == nil {
		return status.New(status.EndorserServerStatus, int32(common.Status_INTERNAL_SERVER_ERROR), "proposal response has no response", []interface{}{endorser})
	}
	if resp.Response.Status < int32(common.Status_SUCCESS) || resp.Response.Status >= int32(common.Status_BAD_REQUEST) {
		return status.NewFromChaincodeResponse(resp.Response.Status, resp.Response.Message, endorser)
	}
	return nil
}

// getChaincodeResponseStatus gets the actual response status from response.Payload.extension.Response.status, as fabric always returns actual 200
func getChaincodeResponseStatus(response *pb.ProposalResponse) (int32, error) {
	if response.Payload != nil {
		payload := &pb.ProposalResponsePayload{}
		if err := proto.Unmarshal(response.Payload, payload); err != nil {
			return 0, errors.Wrap(err, "unmarshal of proposal response payload failed")
		}

		extension := &pb.ChaincodeAction{}
		if err := proto.Unmarshal(payload.Extension, extension); err != nil {
			return 0, errors.Wrap(err, "unmarshal of chaincode action failed")
		}

		if extension.Response != nil {
			return extension.Response.Status, nil
		}
	}
	return response.Response.Status, nil
}
