/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"crypto/sha256"
	"encoding/asn1"
	"fmt"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
)

// NewBlock returns a new mock block whose transactions are the given envelopes. The
// TRANSACTIONS_FILTER metadata carries the validation code of each transaction.
func NewBlock(number uint64, previousHash []byte, transactions ...*TxInfo) *cb.Block {
	data := &cb.BlockData{}
	txValidationFlags := make([]byte, len(transactions))
	for i, tx := range transactions {
		data.Data = append(data.Data, marshalOrPanic(tx.Envelope))
		txValidationFlags[i] = byte(tx.TxValidationCode)
	}

	metadata := make([][]byte, len(cb.BlockMetadataIndex_name))
	metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER] = txValidationFlags

	return &cb.Block{
		Header: &cb.BlockHeader{
			Number:       number,
			PreviousHash: previousHash,
			DataHash:     blockDataHash(data),
		},
		Data:     data,
		Metadata: &cb.BlockMetadata{Metadata: metadata},
	}
}

// BlockHeaderHash returns the hash of the block header, which is the previous hash of the next block
func BlockHeaderHash(header *cb.BlockHeader) []byte {
	asn1Header := struct {
		Number       int64
		PreviousHash []byte
		DataHash     []byte
	}{
		Number:       int64(header.Number),
		PreviousHash: header.PreviousHash,
		DataHash:     header.DataHash,
	}
	result, err := asn1.Marshal(asn1Header)
	if err != nil {
		panic(err)
	}
	digest := sha256.Sum256(result)
	return digest[:]
}

func blockDataHash(data *cb.BlockData) []byte {
	h := sha256.New()
	for _, d := range data.Data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// TxInfo is a transaction envelope along with its validation code
type TxInfo struct {
	Envelope         *cb.Envelope
	TxValidationCode pb.TxValidationCode
}

// NewTransaction returns a new mock endorser transaction
func NewTransaction(txID string, txValidationCode pb.TxValidationCode) *TxInfo {
	return NewTransactionWithCCEvent(txID, txValidationCode, "", "", nil)
}

// NewTransactionWithCCEvent returns a new mock endorser transaction that sets the given chaincode event.
// No event is set when eventName is empty.
func NewTransactionWithCCEvent(txID string, txValidationCode pb.TxValidationCode, ccID, eventName string, payload []byte) *TxInfo {
	var event *pb.ChaincodeEvent
	if eventName != "" {
		event = &pb.ChaincodeEvent{ChaincodeId: ccID, TxId: txID, EventName: eventName, Payload: payload}
	}
	return &TxInfo{
		Envelope:         newEndorserTxEnvelope("mychannel", txID, ccID, nil, event),
		TxValidationCode: txValidationCode,
	}
}

// newEndorserTxEnvelope wraps the chaincode action results and event into an unsigned
// endorser transaction envelope
func newEndorserTxEnvelope(channelID, txID, ccID string, results []byte, event *pb.ChaincodeEvent) *cb.Envelope {
	var eventBytes []byte
	if event != nil {
		eventBytes = marshalOrPanic(event)
	}

	ccAction := &pb.ChaincodeAction{
		Results:     results,
		Events:      eventBytes,
		Response:    &pb.Response{Status: int32(cb.Status_SUCCESS)},
		ChaincodeId: &pb.ChaincodeID{Name: ccID},
	}
	prp := &pb.ProposalResponsePayload{Extension: marshalOrPanic(ccAction)}
	cap := &pb.ChaincodeActionPayload{
		Action: &pb.ChaincodeEndorsedAction{ProposalResponsePayload: marshalOrPanic(prp)},
	}
	tx := &pb.Transaction{Actions: []*pb.TransactionAction{{Payload: marshalOrPanic(cap)}}}

	chdr := &cb.ChannelHeader{Type: int32(cb.HeaderType_ENDORSER_TRANSACTION), ChannelId: channelID, TxId: txID}
	payload := &cb.Payload{
		Header: &cb.Header{ChannelHeader: marshalOrPanic(chdr)},
		Data:   marshalOrPanic(tx),
	}
	return &cb.Envelope{Payload: marshalOrPanic(payload)}
}

// NewEndorsedEnvelope wraps the chaincode action into an endorser transaction envelope
// carrying a single endorsement
func NewEndorsedEnvelope(channelID, txID string, action *pb.ChaincodeAction) *cb.Envelope {
	prp := &pb.ProposalResponsePayload{Extension: marshalOrPanic(action)}
	cap := &pb.ChaincodeActionPayload{
		Action: &pb.ChaincodeEndorsedAction{
			ProposalResponsePayload: marshalOrPanic(prp),
			Endorsements:            []*pb.Endorsement{{Endorser: []byte("peer0"), Signature: []byte("signature")}},
		},
	}
	tx := &pb.Transaction{Actions: []*pb.TransactionAction{{Payload: marshalOrPanic(cap)}}}

	chdr := &cb.ChannelHeader{Type: int32(cb.HeaderType_ENDORSER_TRANSACTION), ChannelId: channelID, TxId: txID}
	payload := &cb.Payload{
		Header: &cb.Header{ChannelHeader: marshalOrPanic(chdr)},
		Data:   marshalOrPanic(tx),
	}
	return &cb.Envelope{Payload: marshalOrPanic(payload)}
}

// NewFilteredBlock returns a new mock filtered block
func NewFilteredBlock(channelID string, number uint64, filteredTx ...*pb.FilteredTransaction) *pb.FilteredBlock {
	return &pb.FilteredBlock{
		ChannelId:            channelID,
		Number:               number,
		FilteredTransactions: filteredTx,
	}
}

// NewFilteredTx returns a new mock filtered transaction
func NewFilteredTx(txID string, txValidationCode pb.TxValidationCode) *pb.FilteredTransaction {
	return &pb.FilteredTransaction{
		Txid:             txID,
		TxValidationCode: txValidationCode,
	}
}

// NewFilteredTxWithCCEvent returns a new mock filtered transaction
// with the given chaincode event
func NewFilteredTxWithCCEvent(txID string, txValidationCode pb.TxValidationCode, ccID, event string) *pb.FilteredTransaction {
	return &pb.FilteredTransaction{
		Txid:             txID,
		TxValidationCode: txValidationCode,
		Type:             cb.HeaderType_ENDORSER_TRANSACTION,
		Data: &pb.FilteredTransaction_TransactionActions{
			TransactionActions: &pb.FilteredTransactionActions{
				ChaincodeActions: []*pb.FilteredChaincodeAction{
					{
						ChaincodeEvent: &pb.ChaincodeEvent{
							ChaincodeId: ccID,
							EventName:   event,
							TxId:        txID,
						},
					},
				},
			},
		},
	}
}

func marshalOrPanic(msg proto.Message) []byte {
	bytes, err := proto.Marshal(msg)
	if err != nil {
		panic(fmt.Sprintf("error marshalling %T: %s", msg, err))
	}
	return bytes
}
