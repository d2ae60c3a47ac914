/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"net"
	"sync"
	"time"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	yaml "gopkg.in/yaml.v2"

	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
)

// MockPeerServer is a peer exposing the endorser and deliver services on one listener
type MockPeerServer struct {
	Endorser *MockEndorserServer
	Deliver  *MockDeliverServer
	Org      string
	Address  string
	srv      *grpc.Server
	wg       sync.WaitGroup
}

// StartMockPeer starts a peer of the given organization listening on address
func StartMockPeer(ledger *MockLedger, name, org, mspID, address string) (*MockPeerServer, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "error starting peer %s", name)
	}

	p := &MockPeerServer{
		Endorser: NewMockEndorserServer(ledger, name, mspID),
		Deliver:  NewMockDeliverServer(ledger),
		Org:      org,
		Address:  lis.Addr().String(),
		srv:      grpc.NewServer(),
	}
	pb.RegisterEndorserServer(p.srv, p.Endorser)
	pb.RegisterDeliverServer(p.srv, p.Deliver)

	logger.Debugf("Starting MockPeerServer %s [%s]", name, p.Address)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.srv.Serve(lis); err != nil {
			logger.Warnf("MockPeerServer %s failed [%s]", name, err)
		}
	}()
	return p, nil
}

// Stop the peer and wait for completion
func (p *MockPeerServer) Stop() {
	p.srv.Stop()
	p.wg.Wait()
}

// MockNetwork is a channel of two organizations, each with one peer, ordered by a
// single orderer. All nodes share one ledger.
type MockNetwork struct {
	ChannelID      string
	Ledger         *MockLedger
	Peers          map[string]*MockPeerServer
	Orderer        *MockBroadcastServer
	ordererAddress string
}

// Peer names of the mock network
const (
	Org1Peer = "peer0.org1.example.com"
	Org2Peer = "peer0.org2.example.com"
)

// StartMockNetwork starts the peers and orderer of the channel on ephemeral ports
func StartMockNetwork(channelID string) (*MockNetwork, error) {
	n := &MockNetwork{
		ChannelID: channelID,
		Ledger:    NewMockLedger(channelID),
		Peers:     make(map[string]*MockPeerServer),
	}

	orgs := []struct{ peer, org, mspID string }{
		{Org1Peer, "org1", "Org1MSP"},
		{Org2Peer, "org2", "Org2MSP"},
	}
	for _, o := range orgs {
		p, err := StartMockPeer(n.Ledger, o.peer, o.org, o.mspID, "127.0.0.1:0")
		if err != nil {
			n.Stop()
			return nil, err
		}
		n.Peers[o.peer] = p
	}

	n.Orderer = NewMockBroadcastServer(n.Ledger)
	n.ordererAddress = n.Orderer.Start("127.0.0.1:0")
	return n, nil
}

// Stop every node of the network
func (n *MockNetwork) Stop() {
	for _, p := range n.Peers {
		p.Stop()
	}
	if n.ordererAddress != "" {
		n.Orderer.Stop()
		n.ordererAddress = ""
	}
}

// Config returns a network config pointing at the nodes of the network. The channel
// requires an endorsement from each organization.
func (n *MockNetwork) Config() *config.NetworkConfig {
	cfg := &config.NetworkConfig{
		Client: config.ClientConfig{
			Organization: "org1",
			Logging:      config.LoggingConfig{Level: "info"},
			Timeouts: config.TimeoutsConfig{
				Connect:     5 * time.Second,
				Endorsement: 10 * time.Second,
				Ordering:    10 * time.Second,
				Commit:      20 * time.Second,
				Query:       10 * time.Second,
			},
			Metrics: config.MetricsConfig{Provider: config.MetricsDisabled},
		},
		Channel: config.ChannelConfig{
			Name:        n.ChannelID,
			Peers:       []string{Org1Peer, Org2Peer},
			Endorsement: config.EndorsementConfig{MinResponses: 2},
		},
		Organizations: make(map[string]config.OrganizationConfig),
		Peers:         make(map[string]config.PeerConfig),
		Orderer: config.OrdererConfig{
			URL: "grpc://" + n.ordererAddress,
		},
		EventService: config.EventServiceConfig{
			Peer:                Org1Peer,
			Type:                config.DeliverType,
			Seek:                config.SeekNewest,
			BufferSize:          100,
			RegistrationTimeout: 20 * time.Second,
		},
	}

	for name, p := range n.Peers {
		org := cfg.Organizations[p.Org]
		org.MSPID = p.Endorser.MSPID
		org.Peers = append(org.Peers, name)
		cfg.Organizations[p.Org] = org
		cfg.Peers[name] = config.PeerConfig{URL: "grpc://" + p.Address}
	}
	return cfg
}

// ConfigBytes returns the network config in YAML form
func (n *MockNetwork) ConfigBytes() ([]byte, error) {
	return yaml.Marshal(n.Config())
}

// Disconnect aborts every open deliver stream of the network
func (n *MockNetwork) Disconnect() {
	for _, p := range n.Peers {
		p.Deliver.Disconnect()
	}
}

// WaitForHeight blocks until the ledger reaches the given height or the timeout elapses
func (n *MockNetwork) WaitForHeight(height uint64, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		if height == 0 {
			return nil
		}
		_, wait := n.Ledger.Block(height - 1)
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-deadline:
			return errors.Errorf("timed out waiting for ledger height %d", height)
		}
	}
}
