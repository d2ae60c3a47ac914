/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// Transaction is an endorsed proposal ready to be ordered
type Transaction struct {
	Proposal    *TransactionProposal
	Transaction *pb.Transaction
}

// TransportAck is the orderer's acknowledgement of a broadcast envelope.
// It says nothing about whether the transaction was committed.
type TransportAck struct {
	Orderer string
	Status  common.Status
}
