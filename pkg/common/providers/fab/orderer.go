/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	reqContext "context"

	"github.com/hyperledger/fabric-protos-go/common"
)

// Orderer represents the ordering service endpoint that endorsed transactions are broadcast to.
type Orderer interface {
	URL() string
	// SendBroadcast sends the envelope and returns once the orderer has acknowledged it.
	// It does not wait for the transaction to be committed.
	SendBroadcast(ctx reqContext.Context, envelope *SignedEnvelope) (*common.Status, error)
}

// A SignedEnvelope can can be sent to an orderer for broadcasting
type SignedEnvelope struct {
	Payload   []byte
	Signature []byte
}
