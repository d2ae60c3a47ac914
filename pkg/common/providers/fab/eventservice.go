/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// BlockEvent contains the data for the block event
type BlockEvent struct {
	// Block is the block that was committed
	Block *cb.Block
	// SourceURL specifies the URL of the peer that produced the event
	SourceURL string
}

// FilteredBlockEvent contains the data for a filtered block event
type FilteredBlockEvent struct {
	// FilteredBlock contains a filtered version of the block that was committed
	FilteredBlock *pb.FilteredBlock
	// SourceURL specifies the URL of the peer that produced the event
	SourceURL string
}

// TxStatusEvent contains the data for a transaction status event
type TxStatusEvent struct {
	// TxID is the ID of the transaction in which the event was set
	TxID string
	// TxValidationCode is the status code of the commit
	TxValidationCode pb.TxValidationCode
	// BlockNumber contains the block number in which the
	// transaction was committed
	BlockNumber uint64
	// SourceURL specifies the URL of the peer that produced the event
	SourceURL string
}

// Valid returns true if the transaction was committed as valid
func (e *TxStatusEvent) Valid() bool {
	return e.TxValidationCode == pb.TxValidationCode_VALID
}

// CCEvent contains the data for a chaincode event
type CCEvent struct {
	// TxID is the ID of the transaction in which the event was set
	TxID string
	// ChaincodeID is the ID of the chaincode that set the event
	ChaincodeID string
	// EventName is the name of the chaincode event
	EventName string
	// Payload contains the payload of the chaincode event
	// NOTE: Payload will be nil for filtered events
	Payload []byte
	// BlockNumber contains the block number in which the
	// chaincode event was committed
	BlockNumber uint64
	// SourceURL specifies the URL of the peer that produced the event
	SourceURL string
}

// TxStatusResult resolves a transaction status registration. Exactly one of
// Event and Err is set.
type TxStatusResult struct {
	Event *TxStatusEvent
	Err   error
}

// CCEventResult resolves a chaincode event registration. Exactly one of
// Event and Err is set.
type CCEventResult struct {
	Event *CCEvent
	Err   error
}

// Registration is a handle that is returned from a successful RegisterXXXEvent.
// It may be passed to Unregister.
type Registration interface{}

// EventService demultiplexes committed blocks to registrations. Every registration
// is resolved exactly once: the result channel receives a single value and is then closed.
type EventService interface {
	// RegisterChaincodeEvent registers for the first chaincode event of a valid transaction
	// whose name matches pattern.
	// - ccID is the chaincode ID for which events are to be received
	// - pattern is a regular expression matched against the event name
	// - timeout bounds the wait. A non-positive timeout selects the service default.
	RegisterChaincodeEvent(ccID, pattern string, timeout time.Duration) (Registration, <-chan CCEventResult, error)

	// RegisterTxStatusEvent registers for the commit status of the given transaction.
	// Only one registration may exist per transaction ID.
	RegisterTxStatusEvent(txID string, timeout time.Duration) (Registration, <-chan TxStatusResult, error)

	// Unregister resolves a pending registration with a cancellation error and removes it.
	// Unregistering a resolved registration has no effect.
	Unregister(reg Registration)
}

// ConnectionEvent is sent when the client connects to or disconnects from the
// event server. In the disconnected case, Err contains the disconnect error.
type ConnectionEvent struct {
	Connected bool
	Err       error
}

// EventClient is a client that connects to a peer and receives channel events.
type EventClient interface {
	EventService

	// Connect connects to the event server.
	Connect() error

	// Close closes the connection to the event server, resolves all pending
	// registrations and releases all resources.
	// Once this function is invoked the client may no longer be used.
	Close()
}
