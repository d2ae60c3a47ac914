/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

// Peer represents an endorsing peer of the channel.
type Peer interface {
	ProposalProcessor
	// MSPID gets the Peer mspID.
	MSPID() string
	// URL gets the peer address
	URL() string
}

// ChannelCfg references the channel a proposal targets
type ChannelCfg interface {
	ID() string
}
