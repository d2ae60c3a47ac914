/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chconfig

import (
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
)

var _ fab.ChannelCfg = (*ChannelCfg)(nil)

// ChannelCfg contains the channel configuration known to the client
type ChannelCfg struct {
	id       string
	mspIDs   []string
	orderers []string
	peers    []string
}

// NewChannelCfg creates a channel config holding only the channel ID
func NewChannelCfg(channelID string) *ChannelCfg {
	return &ChannelCfg{id: channelID}
}

// FromNetworkConfig creates the channel config described by the network config
func FromNetworkConfig(cfg *config.NetworkConfig) *ChannelCfg {
	peers := make([]string, 0, len(cfg.Channel.Peers))
	for _, p := range cfg.ChannelPeers() {
		peers = append(peers, p.URL)
	}

	return &ChannelCfg{
		id:       cfg.Channel.Name,
		mspIDs:   cfg.MSPIDs(),
		orderers: []string{cfg.Orderer.URL},
		peers:    peers,
	}
}

// ID returns the channel ID
func (cfg *ChannelCfg) ID() string {
	return cfg.id
}

// MSPIDs returns the MSP IDs of the channel members
func (cfg *ChannelCfg) MSPIDs() []string {
	return cfg.mspIDs
}

// Orderers returns the orderer URLs of the channel
func (cfg *ChannelCfg) Orderers() []string {
	return cfg.orderers
}

// Peers returns the URLs of the endorsing peers of the channel
func (cfg *ChannelCfg) Peers() []string {
	return cfg.peers
}
