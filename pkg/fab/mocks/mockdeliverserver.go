/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"context"
	"math"
	"sync"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

type deliverStream interface {
	Send(*pb.DeliverResponse) error
	Recv() (*cb.Envelope, error)
	Context() context.Context
}

// MockDeliverServer streams the blocks of a mock ledger to Deliver and DeliverFiltered
// clients, waiting for new blocks once the stream has caught up with the ledger.
type MockDeliverServer struct {
	pb.UnimplementedDeliverServer
	Ledger *MockLedger
	// DeliverError, if set, aborts every new stream with the error
	DeliverError error
	// DeliverStatus, if set, is sent in place of blocks and the stream is closed
	DeliverStatus cb.Status

	mutex      sync.Mutex
	disconnect chan struct{}
	starts     []uint64
}

// NewMockDeliverServer returns a deliver service for the given ledger
func NewMockDeliverServer(ledger *MockLedger) *MockDeliverServer {
	return &MockDeliverServer{
		Ledger:     ledger,
		disconnect: make(chan struct{}),
	}
}

// Disconnect aborts every open stream. New streams are accepted.
func (m *MockDeliverServer) Disconnect() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	close(m.disconnect)
	m.disconnect = make(chan struct{})
}

// StartPositions returns the first block number requested by each stream, in order
func (m *MockDeliverServer) StartPositions() []uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]uint64(nil), m.starts...)
}

func (m *MockDeliverServer) disconnected() <-chan struct{} {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.disconnect
}

// Deliver streams full blocks
func (m *MockDeliverServer) Deliver(srv pb.Deliver_DeliverServer) error {
	return m.deliver(srv, false)
}

// DeliverFiltered streams filtered blocks
func (m *MockDeliverServer) DeliverFiltered(srv pb.Deliver_DeliverFilteredServer) error {
	return m.deliver(srv, true)
}

func (m *MockDeliverServer) deliver(srv deliverStream, filtered bool) error {
	if m.DeliverError != nil {
		return m.DeliverError
	}
	disconnect := m.disconnected()

	env, err := srv.Recv()
	if err != nil {
		return err
	}
	if m.DeliverStatus != cb.Status_UNKNOWN {
		return sendStatus(srv, m.DeliverStatus)
	}

	seekInfo, channelID, err := unmarshalSeekInfo(env)
	if err != nil {
		return sendStatus(srv, cb.Status_BAD_REQUEST)
	}
	if channelID != m.Ledger.ChannelID() {
		return sendStatus(srv, cb.Status_NOT_FOUND)
	}

	next := m.startPosition(seekInfo.Start)
	m.mutex.Lock()
	m.starts = append(m.starts, next)
	m.mutex.Unlock()
	stop := stopPosition(seekInfo.Stop)

	for next <= stop {
		block, wait := m.Ledger.Block(next)
		if block == nil {
			select {
			case <-wait:
				continue
			case <-disconnect:
				return errors.New("deliver stream disconnected")
			case <-srv.Context().Done():
				return nil
			}
		}

		resp := &pb.DeliverResponse{Type: &pb.DeliverResponse_Block{Block: block}}
		if filtered {
			resp = &pb.DeliverResponse{Type: &pb.DeliverResponse_FilteredBlock{FilteredBlock: filterBlock(m.Ledger.ChannelID(), block)}}
		}
		if err := srv.Send(resp); err != nil {
			return err
		}
		next++
	}
	return sendStatus(srv, cb.Status_SUCCESS)
}

func (m *MockDeliverServer) startPosition(pos *ab.SeekPosition) uint64 {
	switch t := pos.GetType().(type) {
	case *ab.SeekPosition_Oldest:
		return 0
	case *ab.SeekPosition_Specified:
		return t.Specified.Number
	default:
		if h := m.Ledger.Height(); h > 0 {
			return h - 1
		}
		return 0
	}
}

func stopPosition(pos *ab.SeekPosition) uint64 {
	if s, ok := pos.GetType().(*ab.SeekPosition_Specified); ok {
		return s.Specified.Number
	}
	return math.MaxUint64
}

func sendStatus(srv deliverStream, status cb.Status) error {
	return srv.Send(&pb.DeliverResponse{Type: &pb.DeliverResponse_Status{Status: status}})
}

func unmarshalSeekInfo(env *cb.Envelope) (*ab.SeekInfo, string, error) {
	payload := &cb.Payload{}
	if err := proto.Unmarshal(env.GetPayload(), payload); err != nil || payload.Header == nil {
		return nil, "", errors.New("malformed seek envelope")
	}
	chdr := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, chdr); err != nil {
		return nil, "", errors.Wrap(err, "malformed channel header")
	}
	seekInfo := &ab.SeekInfo{}
	if err := proto.Unmarshal(payload.Data, seekInfo); err != nil {
		return nil, "", errors.Wrap(err, "malformed seek info")
	}
	return seekInfo, chdr.ChannelId, nil
}

// filterBlock reduces a block to what the DeliverFiltered service exposes. Chaincode
// event payloads are dropped.
func filterBlock(channelID string, block *cb.Block) *pb.FilteredBlock {
	filter := block.Metadata.Metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER]
	fblock := NewFilteredBlock(channelID, block.Header.Number)
	for i, envBytes := range block.Data.Data {
		env := &cb.Envelope{}
		if err := proto.Unmarshal(envBytes, env); err != nil {
			continue
		}
		code := pb.TxValidationCode_NOT_VALIDATED
		if i < len(filter) {
			code = pb.TxValidationCode(filter[i])
		}
		txID, ccAction := chaincodeAction(env)
		ftx := NewFilteredTx(txID, code)
		if ccAction != nil && len(ccAction.Events) > 0 {
			event := &pb.ChaincodeEvent{}
			if err := proto.Unmarshal(ccAction.Events, event); err == nil && event.EventName != "" {
				ftx = NewFilteredTxWithCCEvent(txID, code, event.ChaincodeId, event.EventName)
			}
		}
		ftx.Type = cb.HeaderType_ENDORSER_TRANSACTION
		fblock.FilteredTransactions = append(fblock.FilteredTransactions, ftx)
	}
	return fblock
}

func chaincodeAction(env *cb.Envelope) (string, *pb.ChaincodeAction) {
	payload := &cb.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil || payload.Header == nil {
		return "", nil
	}
	chdr := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, chdr); err != nil {
		return "", nil
	}
	tx := &pb.Transaction{}
	if err := proto.Unmarshal(payload.Data, tx); err != nil || len(tx.Actions) == 0 {
		return chdr.TxId, nil
	}
	cap := &pb.ChaincodeActionPayload{}
	if err := proto.Unmarshal(tx.Actions[0].Payload, cap); err != nil || cap.Action == nil {
		return chdr.TxId, nil
	}
	prp := &pb.ProposalResponsePayload{}
	if err := proto.Unmarshal(cap.Action.ProposalResponsePayload, prp); err != nil {
		return chdr.TxId, nil
	}
	ccAction := &pb.ChaincodeAction{}
	if err := proto.Unmarshal(prp.Extension, ccAction); err != nil {
		return chdr.TxId, nil
	}
	return chdr.TxId, ccAction
}
