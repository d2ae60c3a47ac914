/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	reqContext "context"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/comm"
)

var logger = logging.NewLogger("txnflow/fab/peer")

// Peer represents a node in the target blockchain network to which
// the client sends endorsement proposals and query requests.
type Peer struct {
	processor fab.ProposalProcessor
	endorser  *peerEndorser
	mspID     string
	url       string
	connOpts  []options.Opt
}

// Option describes a functional parameter for the New constructor
type Option func(*Peer) error

// New Returns a new Peer instance
func New(opts ...Option) (*Peer, error) {
	peer := &Peer{}

	for _, opt := range opts {
		err := opt(peer)

		if err != nil {
			return nil, err
		}
	}

	if peer.processor == nil {
		endorser, err := newPeerEndorser(peer.url, peer.connOpts...)
		if err != nil {
			return nil, err
		}
		peer.endorser = endorser
		peer.processor = endorser
	}

	return peer, nil
}

// WithURL is a functional option for the peer.New constructor that configures the peer's URL
func WithURL(url string) Option {
	return func(p *Peer) error {
		p.url = url

		return nil
	}
}

// WithMSPID is a functional option for the peer.New constructor that configures the peer's msp ID
func WithMSPID(mspID string) Option {
	return func(p *Peer) error {
		p.mspID = mspID

		return nil
	}
}

// WithConnOpts is a functional option for the peer.New constructor that adds GRPC connection options
func WithConnOpts(opts ...options.Opt) Option {
	return func(p *Peer) error {
		p.connOpts = append(p.connOpts, opts...)

		return nil
	}
}

// FromPeerConfig is a functional option for the peer.New constructor that configures a new peer
// from a named peer of the network config
func FromPeerConfig(peerCfg config.NamedPeer) Option {
	return func(p *Peer) error {
		if peerCfg.URL == "" {
			return errors.Errorf("peer %s has no url", peerCfg.Name)
		}
		p.url = peerCfg.URL
		p.mspID = peerCfg.MSPID
		p.connOpts = append(p.connOpts, comm.OptsFromPeerConfig(peerCfg.PeerConfig)...)

		return nil
	}
}

// WithPeerProcessor is a functional option for the peer.New constructor that configures the peer's proposal processor
func WithPeerProcessor(processor fab.ProposalProcessor) Option {
	return func(p *Peer) error {
		p.processor = processor

		return nil
	}
}

// MSPID gets the Peer mspID.
func (p *Peer) MSPID() string {
	return p.mspID
}

// URL gets the Peer URL. Required property for the instance objects.
// It returns the address of the Peer.
func (p *Peer) URL() string {
	return p.url
}

// ProcessTransactionProposal sends the created proposal to peer for endorsement.
func (p *Peer) ProcessTransactionProposal(ctx reqContext.Context, proposal fab.ProcessProposalRequest) (*fab.TransactionProposalResponse, error) {
	resp, err := p.processor.ProcessTransactionProposal(ctx, proposal)
	if resp != nil {
		resp.MSPID = p.mspID
	}
	return resp, err
}

// Close releases the connection held by the peer, if any
func (p *Peer) Close() {
	if p.endorser != nil {
		p.endorser.close()
	}
}

func (p *Peer) String() string {
	return p.url
}

// PeersToTxnProcessors converts a slice of Peers to a slice of TxnProposalProcessors
func PeersToTxnProcessors(peers []fab.Peer) []fab.ProposalProcessor {
	tpp := make([]fab.ProposalProcessor, len(peers))

	for i := range peers {
		tpp[i] = peers[i]
	}
	return tpp
}
