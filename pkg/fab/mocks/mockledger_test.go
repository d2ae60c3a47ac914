/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"testing"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "mychannel"

func deploySpec(name, path string, args ...string) *pb.ChaincodeDeploymentSpec {
	input := &pb.ChaincodeInput{}
	for _, a := range args {
		input.Args = append(input.Args, []byte(a))
	}
	return &pb.ChaincodeDeploymentSpec{
		ChaincodeSpec: &pb.ChaincodeSpec{
			Type:        pb.ChaincodeSpec_GOLANG,
			ChaincodeId: &pb.ChaincodeID{Name: name, Path: path, Version: "v0"},
			Input:       input,
		},
	}
}

func deploy(t *testing.T, l *MockLedger, txID string, cds *pb.ChaincodeDeploymentSpec) *cb.Block {
	action, err := l.SimulateDeploy(txID, cds, false)
	require.NoError(t, err)
	require.Equal(t, int32(cb.Status_SUCCESS), action.Response.Status)
	return l.Commit([]*cb.Envelope{NewEndorsedEnvelope(testChannel, txID, action)})
}

func txFilter(block *cb.Block) []byte {
	return block.Metadata.Metadata[cb.BlockMetadataIndex_TRANSACTIONS_FILTER]
}

func TestEventSenderCounts(t *testing.T) {
	l := NewMockLedger(testChannel)
	deploy(t, l, "deploy", deploySpec("events_cc", EventsCCPath, "init"))
	assert.Equal(t, []byte("0"), l.State("events_cc", noEventsKey))

	action, err := l.Simulate("tx1", "events_cc", "invoke", [][]byte{[]byte("SEVERE")})
	require.NoError(t, err)

	event := &pb.ChaincodeEvent{}
	require.NoError(t, proto.Unmarshal(action.Events, event))
	assert.Equal(t, EventSenderEventName, event.EventName)
	assert.Equal(t, "events_cc", event.ChaincodeId)
	assert.Equal(t, "Event 0,SEVERE", string(event.Payload))

	block := l.Commit([]*cb.Envelope{NewEndorsedEnvelope(testChannel, "tx1", action)})
	assert.Equal(t, uint64(1), block.Header.Number)
	assert.Equal(t, byte(pb.TxValidationCode_VALID), txFilter(block)[0])

	query, err := l.Simulate("tx2", "events_cc", "query", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", string(query.Response.Payload))
}

func TestMVCCReadConflict(t *testing.T) {
	l := NewMockLedger(testChannel)
	deploy(t, l, "deploy", deploySpec("events_cc", EventsCCPath, "init"))

	a1, err := l.Simulate("tx1", "events_cc", "invoke", nil)
	require.NoError(t, err)
	a2, err := l.Simulate("tx2", "events_cc", "invoke", nil)
	require.NoError(t, err)

	block := l.Commit([]*cb.Envelope{
		NewEndorsedEnvelope(testChannel, "tx1", a1),
		NewEndorsedEnvelope(testChannel, "tx2", a2),
	})
	filter := txFilter(block)
	assert.Equal(t, byte(pb.TxValidationCode_VALID), filter[0])
	assert.Equal(t, byte(pb.TxValidationCode_MVCC_READ_CONFLICT), filter[1])
	assert.Equal(t, []byte("1"), l.State("events_cc", noEventsKey))
}

func TestCommitRejects(t *testing.T) {
	l := NewMockLedger(testChannel)
	deploy(t, l, "deploy", deploySpec("events_cc", EventsCCPath, "init"))

	action, err := l.Simulate("tx1", "events_cc", "query", nil)
	require.NoError(t, err)

	block := l.Commit([]*cb.Envelope{
		NewEndorsedEnvelope(testChannel, "deploy", action),
		newEndorserTxEnvelope(testChannel, "tx2", "events_cc", action.Results, nil),
		{Payload: []byte("garbage")},
	})
	filter := txFilter(block)
	assert.Equal(t, byte(pb.TxValidationCode_DUPLICATE_TXID), filter[0])
	assert.Equal(t, byte(pb.TxValidationCode_ENDORSEMENT_POLICY_FAILURE), filter[1])
	assert.Equal(t, byte(pb.TxValidationCode_BAD_PAYLOAD), filter[2])
}

func TestDeployErrors(t *testing.T) {
	l := NewMockLedger(testChannel)

	_, err := l.SimulateDeploy("tx", deploySpec("cc", "github.com/unknown"), false)
	assert.Error(t, err)

	_, err = l.SimulateDeploy("tx", deploySpec("events_cc", EventsCCPath, "init"), true)
	assert.Error(t, err, "upgrade of a chaincode that was never instantiated")

	deploy(t, l, "deploy", deploySpec("events_cc", EventsCCPath, "init"))
	_, err = l.SimulateDeploy("tx", deploySpec("events_cc", EventsCCPath, "init"), false)
	assert.Error(t, err, "chaincode already exists")

	_, err = l.Simulate("tx", "example_cc", "query", nil)
	assert.Error(t, err, "chaincode not instantiated")
}

func TestBlockWait(t *testing.T) {
	l := NewMockLedger(testChannel)
	assert.Equal(t, uint64(0), l.Height())

	block, wait := l.Block(0)
	assert.Nil(t, block)
	require.NotNil(t, wait)

	deploy(t, l, "deploy", deploySpec("events_cc", EventsCCPath, "init"))
	select {
	case <-wait:
	default:
		t.Fatal("wait channel was not closed by the commit")
	}

	block, wait = l.Block(0)
	require.NotNil(t, block)
	assert.Nil(t, wait)
	assert.Equal(t, uint64(1), l.Height())
}

func TestExampleCC(t *testing.T) {
	l := NewMockLedger(testChannel)
	deploy(t, l, "deploy", deploySpec("example_cc", ExampleCCPath, "init", "a", "100", "b", "200"))

	action, err := l.Simulate("tx1", "example_cc", "move", [][]byte{[]byte("a"), []byte("b"), []byte("10")})
	require.NoError(t, err)
	l.Commit([]*cb.Envelope{NewEndorsedEnvelope(testChannel, "tx1", action)})

	query, err := l.Simulate("tx2", "example_cc", "query", [][]byte{[]byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "210", string(query.Response.Payload))

	query, err = l.Simulate("tx3", "example_cc", "query", [][]byte{[]byte("c")})
	require.NoError(t, err)
	assert.Equal(t, int32(cb.Status_INTERNAL_SERVER_ERROR), query.Response.Status)
}

func TestSimulationIsDeterministic(t *testing.T) {
	l := NewMockLedger(testChannel)
	deploy(t, l, "deploy", deploySpec("example_cc", ExampleCCPath, "init", "a", "100", "b", "200"))

	args := [][]byte{[]byte("a"), []byte("b"), []byte("10")}
	a1, err := l.Simulate("tx1", "example_cc", "move", args)
	require.NoError(t, err)
	a2, err := l.Simulate("tx1", "example_cc", "move", args)
	require.NoError(t, err)
	assert.Equal(t, marshalOrPanic(a1), marshalOrPanic(a2))
}
