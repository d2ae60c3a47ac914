/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// toFilteredBlock reduces a full block to its transaction IDs, validation codes and
// chaincode events. Unlike blocks from the DeliverFiltered service, the chaincode
// events keep their payloads.
func toFilteredBlock(block *cb.Block) *pb.FilteredBlock {
	var channelID string
	var filteredTxs []*pb.FilteredTransaction

	var txFilter []byte
	if block.Metadata != nil && len(block.Metadata.Metadata) > int(cb.BlockMetadataIndex_TRANSACTIONS_FILTER) {
		txFilter = block.Metadata.Metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER]
	}

	var data [][]byte
	if block.Data != nil {
		data = block.Data.Data
	}

	for i, envBytes := range data {
		filteredTx, chID, err := getFilteredTx(envBytes, txValidationCode(txFilter, i))
		if err != nil {
			logger.Warnf("error extracting Envelope from block: %s", err)
			continue
		}
		channelID = chID
		filteredTxs = append(filteredTxs, filteredTx)
	}

	return &pb.FilteredBlock{
		ChannelId:            channelID,
		Number:               block.Header.Number,
		FilteredTransactions: filteredTxs,
	}
}

// txValidationCode returns the validation code of the i'th transaction in the block
func txValidationCode(txFilter []byte, i int) pb.TxValidationCode {
	if i >= len(txFilter) {
		return pb.TxValidationCode_NOT_VALIDATED
	}
	return pb.TxValidationCode(txFilter[i])
}

func getFilteredTx(data []byte, txValidationCode pb.TxValidationCode) (*pb.FilteredTransaction, string, error) {
	env := &cb.Envelope{}
	if err := proto.Unmarshal(data, env); err != nil {
		return nil, "", errors.Wrap(err, "error extracting Envelope from block")
	}

	payload := &cb.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil {
		return nil, "", errors.Wrap(err, "error extracting Payload from envelope")
	}
	if payload.Header == nil {
		return nil, "", errors.New("payload header is missing")
	}

	channelHeader := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, channelHeader); err != nil {
		return nil, "", errors.Wrap(err, "error extracting ChannelHeader from payload")
	}

	filteredTx := &pb.FilteredTransaction{
		Type:             cb.HeaderType(channelHeader.Type),
		Txid:             channelHeader.TxId,
		TxValidationCode: txValidationCode,
	}

	if cb.HeaderType(channelHeader.Type) == cb.HeaderType_ENDORSER_TRANSACTION {
		actions, err := getFilteredTransactionActions(payload.Data)
		if err != nil {
			return nil, "", errors.Wrap(err, "error getting filtered transaction actions")
		}
		filteredTx.Data = actions
	}
	return filteredTx, channelHeader.ChannelId, nil
}

func getFilteredTransactionActions(data []byte) (*pb.FilteredTransaction_TransactionActions, error) {
	actions := &pb.FilteredTransaction_TransactionActions{
		TransactionActions: &pb.FilteredTransactionActions{},
	}

	tx := &pb.Transaction{}
	if err := proto.Unmarshal(data, tx); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling transaction payload")
	}

	for _, action := range tx.Actions {
		ccEvent, err := chaincodeEvent(action)
		if err != nil {
			return nil, err
		}
		if ccEvent != nil {
			actions.TransactionActions.ChaincodeActions = append(actions.TransactionActions.ChaincodeActions, &pb.FilteredChaincodeAction{ChaincodeEvent: ccEvent})
		}
	}
	return actions, nil
}

func chaincodeEvent(action *pb.TransactionAction) (*pb.ChaincodeEvent, error) {
	chaincodeActionPayload := &pb.ChaincodeActionPayload{}
	if err := proto.Unmarshal(action.Payload, chaincodeActionPayload); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling chaincode action payload")
	}
	if chaincodeActionPayload.Action == nil {
		return nil, nil
	}

	propRespPayload := &pb.ProposalResponsePayload{}
	if err := proto.Unmarshal(chaincodeActionPayload.Action.ProposalResponsePayload, propRespPayload); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling response payload")
	}

	ccAction := &pb.ChaincodeAction{}
	if err := proto.Unmarshal(propRespPayload.Extension, ccAction); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling chaincode action")
	}
	if len(ccAction.Events) == 0 {
		return nil, nil
	}

	ccEvent := &pb.ChaincodeEvent{}
	if err := proto.Unmarshal(ccAction.Events, ccEvent); err != nil {
		return nil, errors.Wrap(err, "error getting chaincode events")
	}
	return ccEvent, nil
}
