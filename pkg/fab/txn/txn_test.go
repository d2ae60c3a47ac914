/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package txn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/test/mockfab"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/chconfig"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/mocks"
)

const testChannel = "mychannel"

func newIdentity() *mocks.MockSigningIdentity {
	return mocks.NewMockSigningIdentity("User1", "Org1MSP")
}

func TestNewHeader(t *testing.T) {
	id := newIdentity()

	h1, err := NewHeader(id, testChannel)
	require.NoError(t, err)
	h2, err := NewHeader(id, testChannel)
	require.NoError(t, err)

	assert.Len(t, h1.Nonce(), NonceSize)
	assert.NotEqual(t, h1.TransactionID(), h2.TransactionID())
	assert.Equal(t, testChannel, h1.ChannelID())

	creator, err := id.Serialize()
	require.NoError(t, err)
	assert.Equal(t, creator, h1.Creator())

	digest := sha256.Sum256(append(append([]byte{}, h1.Nonce()...), creator...))
	assert.Equal(t, fab.TransactionID(hex.EncodeToString(digest[:])), h1.TransactionID())

	_, err = NewHeader(nil, testChannel)
	assert.Error(t, err)
}

func TestBuildInvoke(t *testing.T) {
	request := fab.ChaincodeInvokeRequest{
		ChaincodeID: "events_cc",
		Fcn:         "invoke",
		Args:        [][]byte{[]byte("SEVERE"), []byte("payload")},
	}

	tp, err := Build(chconfig.NewChannelCfg(testChannel), newIdentity(), request)
	require.NoError(t, err)
	require.NotNil(t, tp.Proposal)

	hdr := &common.Header{}
	require.NoError(t, proto.Unmarshal(tp.Header, hdr))
	chdr := &common.ChannelHeader{}
	require.NoError(t, proto.Unmarshal(hdr.ChannelHeader, chdr))
	assert.Equal(t, testChannel, chdr.ChannelId)
	assert.Equal(t, string(tp.TxnID), chdr.TxId)
	assert.Equal(t, int32(common.HeaderType_ENDORSER_TRANSACTION), chdr.Type)

	ext := &pb.ChaincodeHeaderExtension{}
	require.NoError(t, proto.Unmarshal(chdr.Extension, ext))
	assert.Equal(t, "events_cc", ext.ChaincodeId.Name)

	cis := invocationSpec(t, tp)
	assert.Equal(t, [][]byte{[]byte("invoke"), []byte("SEVERE"), []byte("payload")}, cis.ChaincodeSpec.Input.Args)

	// every build gets a new transaction ID
	tp2, err := Build(chconfig.NewChannelCfg(testChannel), newIdentity(), request)
	require.NoError(t, err)
	assert.NotEqual(t, tp.TxnID, tp2.TxnID)
}

func TestBuildDeployment(t *testing.T) {
	request := fab.ChaincodeInvokeRequest{
		ChaincodeID: "events_cc",
		Deployment:  &fab.ChaincodeDeployment{Path: "github.com/events_cc", Version: "v0", Package: []byte("code")},
	}

	tp, err := Build(chconfig.NewChannelCfg(testChannel), newIdentity(), request)
	require.NoError(t, err)

	hdr := &common.Header{}
	require.NoError(t, proto.Unmarshal(tp.Header, hdr))
	chdr := &common.ChannelHeader{}
	require.NoError(t, proto.Unmarshal(hdr.ChannelHeader, chdr))
	assert.Equal(t, fab.SystemChannel, chdr.ChannelId)

	cis := invocationSpec(t, tp)
	assert.Equal(t, lscc, cis.ChaincodeSpec.ChaincodeId.Name)
	require.Len(t, cis.ChaincodeSpec.Input.Args, 2)
	assert.Equal(t, []byte(lsccInstall), cis.ChaincodeSpec.Input.Args[0])

	cds := &pb.ChaincodeDeploymentSpec{}
	require.NoError(t, proto.Unmarshal(cis.ChaincodeSpec.Input.Args[1], cds))
	assert.Equal(t, "events_cc", cds.ChaincodeSpec.ChaincodeId.Name)
	assert.Equal(t, "v0", cds.ChaincodeSpec.ChaincodeId.Version)
	assert.Equal(t, pb.ChaincodeSpec_GOLANG, cds.ChaincodeSpec.Type)
	assert.Equal(t, []byte("code"), cds.CodePackage)
}

func TestBuildInvalidArguments(t *testing.T) {
	ch := chconfig.NewChannelCfg(testChannel)
	id := newIdentity()
	valid := fab.ChaincodeInvokeRequest{ChaincodeID: "cc", Fcn: "invoke"}

	tests := []struct {
		name    string
		channel fab.ChannelCfg
		request fab.ChaincodeInvokeRequest
		noID    bool
	}{
		{name: "nil channel", request: valid},
		{name: "empty channel", channel: chconfig.NewChannelCfg(""), request: valid},
		{name: "nil identity", channel: ch, request: valid, noID: true},
		{name: "no chaincode", channel: ch, request: fab.ChaincodeInvokeRequest{Fcn: "invoke"}},
		{name: "deployment missing", channel: ch, request: fab.ChaincodeInvokeRequest{ChaincodeID: "cc"}},
		{name: "deployment incomplete", channel: ch, request: fab.ChaincodeInvokeRequest{ChaincodeID: "cc", Deployment: &fab.ChaincodeDeployment{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			if tc.noID {
				_, err = Build(tc.channel, nil, tc.request)
			} else {
				_, err = Build(tc.channel, id, tc.request)
			}
			assert.True(t, status.Is(err, status.ClientStatus, status.InvalidArgument), "unexpected error: %v", err)
		})
	}
}

func TestSignProposal(t *testing.T) {
	id := newIdentity()
	tp, err := Build(chconfig.NewChannelCfg(testChannel), id, fab.ChaincodeInvokeRequest{ChaincodeID: "cc", Fcn: "query"})
	require.NoError(t, err)

	sp, err := SignProposal(id, tp.Proposal)
	require.NoError(t, err)
	digest := sha256.Sum256(sp.ProposalBytes)
	assert.Equal(t, digest[:], sp.Signature)

	id.SignErr = errors.New("HSM unavailable")
	_, err = SignProposal(id, tp.Proposal)
	assert.Error(t, err)

	_, err = SignProposal(nil, tp.Proposal)
	assert.True(t, status.Is(err, status.ClientStatus, status.InvalidArgument))
}

func TestNewTransaction(t *testing.T) {
	tp := newProposal(t)

	_, err := New(tp, nil)
	assert.True(t, status.Is(err, status.ClientStatus, status.NoEndorsements))

	r1 := endorsement("peer0", []byte("rwset"), 200)
	r2 := endorsement("peer1", []byte("rwset"), 200)
	tx, err := New(tp, []*fab.TransactionProposalResponse{r1, r2})
	require.NoError(t, err)
	require.Len(t, tx.Transaction.Actions, 1)

	cap := &pb.ChaincodeActionPayload{}
	require.NoError(t, proto.Unmarshal(tx.Transaction.Actions[0].Payload, cap))
	assert.Equal(t, []byte("rwset"), cap.Action.ProposalResponsePayload)
	assert.Len(t, cap.Action.Endorsements, 2)

	_, err = New(tp, []*fab.TransactionProposalResponse{r1, endorsement("peer1", []byte("other"), 200)})
	assert.True(t, status.Is(err, status.ClientStatus, status.EndorsementMismatch))

	_, err = New(tp, []*fab.TransactionProposalResponse{endorsement("peer1", []byte("rwset"), 500)})
	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, status.EndorserServerStatus, s.Group)
}

func TestSubmit(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	id := newIdentity()
	tx, err := New(newProposal(t), []*fab.TransactionProposalResponse{endorsement("peer0", []byte("rwset"), 200)})
	require.NoError(t, err)

	orderer := mockfab.NewMockOrderer(mockCtrl)
	orderer.EXPECT().URL().Return("grpc://orderer:7050").AnyTimes()
	orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *fab.SignedEnvelope) (*common.Status, error) {
			payload := &common.Payload{}
			require.NoError(t, proto.Unmarshal(env.Payload, payload))
			digest := sha256.Sum256(env.Payload)
			assert.Equal(t, digest[:], env.Signature)

			ptx := &pb.Transaction{}
			require.NoError(t, proto.Unmarshal(payload.Data, ptx))
			assert.Len(t, ptx.Actions, 1)
			st := common.Status_SUCCESS
			return &st, nil
		})

	ack, err := Submit(context.Background(), id, tx, orderer)
	require.NoError(t, err)
	assert.Equal(t, "grpc://orderer:7050", ack.Orderer)
	assert.Equal(t, common.Status_SUCCESS, ack.Status)
}

func TestSubmitNoRetry(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	tx, err := New(newProposal(t), []*fab.TransactionProposalResponse{endorsement("peer0", []byte("rwset"), 200)})
	require.NoError(t, err)

	orderer := mockfab.NewMockOrderer(mockCtrl)
	orderer.EXPECT().URL().Return("grpc://orderer:7050").AnyTimes()
	orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).
		Return(nil, status.New(status.OrdererServerStatus, int32(common.Status_SERVICE_UNAVAILABLE), "unavailable", nil)).
		Times(1)

	_, err = Submit(context.Background(), newIdentity(), tx, orderer)
	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, status.OrdererServerStatus, s.Group)

	_, err = Submit(context.Background(), newIdentity(), nil, orderer)
	assert.True(t, status.Is(err, status.ClientStatus, status.InvalidArgument))
	_, err = Submit(context.Background(), newIdentity(), tx, nil)
	assert.True(t, status.Is(err, status.ClientStatus, status.InvalidArgument))
}

func newProposal(t *testing.T) *fab.TransactionProposal {
	tp, err := Build(chconfig.NewChannelCfg(testChannel), newIdentity(), fab.ChaincodeInvokeRequest{ChaincodeID: "cc", Fcn: "invoke"})
	require.NoError(t, err)
	return tp
}

func endorsement(endorser string, payload []byte, st int32) *fab.TransactionProposalResponse {
	return &fab.TransactionProposalResponse{
		Endorser: endorser,
		Status:   st,
		ProposalResponse: &pb.ProposalResponse{
			Response:    &pb.Response{Status: st},
			Payload:     payload,
			Endorsement: &pb.Endorsement{Endorser: []byte(endorser)},
		},
	}
}

func invocationSpec(t *testing.T, tp *fab.TransactionProposal) *pb.ChaincodeInvocationSpec {
	cpp := &pb.ChaincodeProposalPayload{}
	require.NoError(t, proto.Unmarshal(tp.Payload, cpp))
	cis := &pb.ChaincodeInvocationSpec{}
	require.NoError(t, proto.Unmarshal(cpp.Input, cis))
	return cis
}

func TestCreateSignedEnvelope(t *testing.T) {
	signer := mocks.NewMockSigningIdentity("User1", "Org1MSP")

	env, err := CreateSignedEnvelope(signer, common.HeaderType_DELIVER_SEEK_INFO, "mychannel", &common.Metadata{Value: []byte("seek")})
	require.NoError(t, err)
	require.NotEmpty(t, env.Signature)

	payload := &common.Payload{}
	require.NoError(t, proto.Unmarshal(env.Payload, payload))
	chdr := &common.ChannelHeader{}
	require.NoError(t, proto.Unmarshal(payload.Header.ChannelHeader, chdr))
	assert.Equal(t, int32(common.HeaderType_DELIVER_SEEK_INFO), chdr.Type)
	assert.Equal(t, "mychannel", chdr.ChannelId)

	md := &common.Metadata{}
	require.NoError(t, proto.Unmarshal(payload.Data, md))
	assert.Equal(t, "seek", string(md.Value))

	_, err = CreateSignedEnvelope(nil, common.HeaderType_DELIVER_SEEK_INFO, "mychannel", &common.Metadata{})
	assert.True(t, status.Is(err, status.ClientStatus, status.InvalidArgument))
}
