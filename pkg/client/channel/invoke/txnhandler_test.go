/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package invoke

import (
	reqContext "context"
	"sync"
	"testing"
	"time"

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
	"github.com/hyperledger/fabric-txnflow/pkg/fab/endorsement"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/mocks"
)

const testTimeout = 5 * time.Second

// fakeEventService resolves tx registrations with the result produced by onSubmit
type fakeEventService struct {
	mutex        sync.Mutex
	registerErr  error
	pending      map[string]chan fab.TxStatusResult
	unregistered []string
}

func newFakeEventService() *fakeEventService {
	return &fakeEventService{pending: make(map[string]chan fab.TxStatusResult)}
}

func (s *fakeEventService) RegisterChaincodeEvent(ccID, pattern string, timeout time.Duration) (fab.Registration, <-chan fab.CCEventResult, error) {
	return nil, nil, errors.New("not supported")
}

func (s *fakeEventService) RegisterTxStatusEvent(txID string, timeout time.Duration) (fab.Registration, <-chan fab.TxStatusResult, error) {
	if s.registerErr != nil {
		return nil, nil, s.registerErr
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ch := make(chan fab.TxStatusResult, 1)
	s.pending[txID] = ch
	return txID, ch, nil
}

func (s *fakeEventService) Unregister(reg fab.Registration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.unregistered = append(s.unregistered, reg.(string))
	delete(s.pending, reg.(string))
}

// resolve delivers the result to the registration of every pending transaction.
// It fails the test if nothing is registered.
func (s *fakeEventService) resolve(t *testing.T, result func(txID string) fab.TxStatusResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	require.NotEmpty(t, s.pending, "transaction submitted before registering for its status")
	for txID, ch := range s.pending {
		ch <- result(txID)
	}
}

func (s *fakeEventService) unregisterCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.unregistered)
}

func endorserResponse(url, payload string) *fab.TransactionProposalResponse {
	action := &pb.ChaincodeAction{Response: &pb.Response{Status: 200, Payload: []byte(payload)}}
	actionBytes, err := proto.Marshal(action)
	if err != nil {
		panic(err)
	}
	prpBytes, err := proto.Marshal(&pb.ProposalResponsePayload{ProposalHash: []byte("hash"), Extension: actionBytes})
	if err != nil {
		panic(err)
	}
	return &fab.TransactionProposalResponse{
		Endorser: url,
		MSPID:    "Org1MSP",
		Status:   200,
		ProposalResponse: &pb.ProposalResponse{
			Response:    &pb.Response{Status: 200, Payload: []byte(payload)},
			Payload:     prpBytes,
			Endorsement: &pb.Endorsement{Endorser: []byte(url), Signature: []byte("signature")},
		},
	}
}

func newMockPeer(ctrl *gomock.Controller, url string, resp *fab.TransactionProposalResponse, err error) *mockfab.MockPeer {
	peer := mockfab.NewMockPeer(ctrl)
	peer.EXPECT().URL().Return(url).AnyTimes()
	peer.EXPECT().MSPID().Return("Org1MSP").AnyTimes()
	peer.EXPECT().ProcessTransactionProposal(gomock.Any(), gomock.Any()).Return(resp, err).AnyTimes()
	return peer
}

type fixture struct {
	ctrl          *gomock.Controller
	orderer       *mockfab.MockOrderer
	eventService  *fakeEventService
	clientContext *ClientContext
}

func newFixture(t *testing.T, minResponses int, peers ...fab.ProposalProcessor) *fixture {
	ctrl := gomock.NewController(t)
	signer := mocks.NewMockSigningIdentity("User1", "Org1MSP")

	collector, err := endorsement.New(signer, endorsement.WithMinResponses(minResponses))
	require.NoError(t, err)

	orderer := mockfab.NewMockOrderer(ctrl)
	orderer.EXPECT().URL().Return("grpc://orderer.example.com:7050").AnyTimes()

	eventService := newFakeEventService()
	return &fixture{
		ctrl:         ctrl,
		orderer:      orderer,
		eventService: eventService,
		clientContext: &ClientContext{
			Channel:       chconfig.NewChannelCfg("mychannel"),
			Signer:        signer,
			Endorser:      collector,
			Targets:       peers,
			Orderer:       orderer,
			EventService:  eventService,
			CommitTimeout: testTimeout,
		},
	}
}

// commitWith makes the orderer deliver the given validation code for every submitted transaction
func (f *fixture) commitWith(t *testing.T, code pb.TxValidationCode) {
	f.orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx reqContext.Context, envelope *fab.SignedEnvelope) (*common.Status, error) {
			f.eventService.resolve(t, func(txID string) fab.TxStatusResult {
				return fab.TxStatusResult{Event: &fab.TxStatusEvent{TxID: txID, TxValidationCode: code, BlockNumber: 7}}
			})
			st := common.Status_SUCCESS
			return &st, nil
		})
}

func newRequestContext(t *testing.T, request Request) *RequestContext {
	ctx, cancel := reqContext.WithTimeout(reqContext.Background(), testTimeout)
	t.Cleanup(cancel)
	return NewRequestContext(ctx, request)
}

var moveRequest = Request{ChaincodeID: "example_cc", Fcn: "invoke", Args: [][]byte{[]byte("move"), []byte("a"), []byte("b"), []byte("1")}}

func TestQueryHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "value"), nil)
	peer2 := newMockPeer(ctrl, "grpc://peer2:7051", endorserResponse("grpc://peer2:7051", "value"), nil)
	f := newFixture(t, 2, peer1, peer2)

	requestContext := newRequestContext(t, Request{ChaincodeID: "example_cc", Fcn: "invoke", Args: [][]byte{[]byte("query"), []byte("b")}})
	NewQueryHandler().Handle(requestContext, f.clientContext)

	require.NoError(t, requestContext.Error)
	assert.Equal(t, Endorsed, requestContext.State())
	assert.Equal(t, "value", string(requestContext.Response.Payload))
	assert.NotEmpty(t, requestContext.Response.TransactionID)
	assert.Len(t, requestContext.Response.Responses, 2)
	assert.Equal(t, 0, f.eventService.unregisterCount(), "query must not register for commit events")
}

func TestExecuteHandlerCommitted(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.commitWith(t, pb.TxValidationCode_VALID)

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	require.NoError(t, requestContext.Error)
	assert.Equal(t, Committed, requestContext.State())
	assert.Equal(t, pb.TxValidationCode_VALID, requestContext.Response.TxValidationCode)
	assert.Equal(t, uint64(7), requestContext.Response.BlockNumber)
	assert.Equal(t, "ok", string(requestContext.Response.Payload))
	assert.Equal(t, 1, f.eventService.unregisterCount())
}

func TestExecuteHandlerInvalidated(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.commitWith(t, pb.TxValidationCode_MVCC_READ_CONFLICT)

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	require.Error(t, requestContext.Error)
	assert.Equal(t, Invalidated, requestContext.State())
	assert.Equal(t, pb.TxValidationCode_MVCC_READ_CONFLICT, requestContext.Response.TxValidationCode)
	assert.True(t, IsInvalidated(requestContext.Error))
	assert.True(t, IsConflict(requestContext.Error))
	assert.Equal(t, 1, f.eventService.unregisterCount())
}

func TestExecuteHandlerInvalidatedNotConflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.commitWith(t, pb.TxValidationCode_ENDORSEMENT_POLICY_FAILURE)

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Invalidated, requestContext.State())
	assert.True(t, IsInvalidated(requestContext.Error))
	assert.False(t, IsConflict(requestContext.Error))
}

func TestExecuteHandlerEndorsementMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "a"), nil)
	peer2 := newMockPeer(ctrl, "grpc://peer2:7051", endorserResponse("grpc://peer2:7051", "b"), nil)
	f := newFixture(t, 2, peer1, peer2)

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.EndorsementMismatch), "unexpected error: %v", requestContext.Error)
	assert.False(t, IsInvalidated(requestContext.Error))
	assert.Equal(t, 0, f.eventService.unregisterCount())
}

func TestExecuteHandlerNoEndorsements(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", nil, status.New(status.EndorserClientStatus, status.ConnectionFailed.ToInt32(), "connection refused", nil))
	f := newFixture(t, 1, peer1)

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.NoEndorsements))
}

func TestExecuteHandlerOrdererRejects(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).Return(nil,
		status.New(status.OrdererServerStatus, int32(common.Status_SERVICE_UNAVAILABLE), "not ready", nil))

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	s, ok := status.FromError(requestContext.Error)
	require.True(t, ok)
	assert.Equal(t, status.OrdererServerStatus, s.Group)
	assert.Equal(t, 1, f.eventService.unregisterCount(), "registration must be released when submit fails")
}

func TestExecuteHandlerRegistrationFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.eventService.registerErr = status.NewClient(status.NotConnected, "not connected")

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.NotConnected))
}

func TestExecuteHandlerHubTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx reqContext.Context, envelope *fab.SignedEnvelope) (*common.Status, error) {
			f.eventService.resolve(t, func(txID string) fab.TxStatusResult {
				return fab.TxStatusResult{Err: status.NewClient(status.Timeout, "timeout waiting for event")}
			})
			return nil, nil
		})

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, TimedOut, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.Timeout))
}

func TestExecuteHandlerContextDeadline(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).Return(nil, nil)

	ctx, cancel := reqContext.WithTimeout(reqContext.Background(), 200*time.Millisecond)
	defer cancel()
	requestContext := NewRequestContext(ctx, moveRequest)

	start := time.Now()
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.True(t, time.Since(start) >= 200*time.Millisecond)
	assert.Equal(t, TimedOut, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.Timeout))
	assert.Equal(t, 1, f.eventService.unregisterCount())
}

func TestExecuteHandlerHubDisconnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "ok"), nil)
	f := newFixture(t, 1, peer1)
	f.orderer.EXPECT().SendBroadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx reqContext.Context, envelope *fab.SignedEnvelope) (*common.Status, error) {
			f.eventService.resolve(t, func(txID string) fab.TxStatusResult {
				return fab.TxStatusResult{Err: status.NewClient(status.Disconnected, "event client disconnected")}
			})
			return nil, nil
		})

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.Disconnected))
}

func TestHandlerNoTargets(t *testing.T) {
	f := newFixture(t, 1)

	requestContext := newRequestContext(t, moveRequest)
	NewExecuteHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.NoPeersFound))
}

func TestHandlerInvalidRequest(t *testing.T) {
	f := newFixture(t, 1)

	requestContext := newRequestContext(t, Request{Fcn: "invoke"})
	NewQueryHandler().Handle(requestContext, f.clientContext)

	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.InvalidArgument))
	assert.Empty(t, requestContext.Response.TransactionID)
}

func TestFreshTxIDPerAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	peer1 := newMockPeer(ctrl, "grpc://peer1:7051", endorserResponse("grpc://peer1:7051", "value"), nil)
	f := newFixture(t, 1, peer1)

	first := newRequestContext(t, moveRequest)
	NewQueryHandler().Handle(first, f.clientContext)
	second := newRequestContext(t, moveRequest)
	NewQueryHandler().Handle(second, f.clientContext)

	require.NoError(t, first.Error)
	require.NoError(t, second.Error)
	assert.NotEqual(t, first.Response.TransactionID, second.Response.TransactionID)
}

func TestTxStateTransitions(t *testing.T) {
	valid := [][2]TxState{
		{Initial, Built},
		{Built, Endorsing},
		{Endorsing, Endorsed},
		{Endorsing, TimedOut},
		{Endorsed, Submitting},
		{Submitting, AwaitingNotification},
		{AwaitingNotification, Committed},
		{AwaitingNotification, Invalidated},
		{AwaitingNotification, TimedOut},
		{Built, Failed},
		{AwaitingNotification, Failed},
	}
	for _, tr := range valid {
		assert.True(t, tr[0].CanTransition(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]TxState{
		{Built, Submitting},
		{Endorsed, AwaitingNotification},
		{Endorsed, Invalidated},
		{Submitting, Committed},
		{Committed, Failed},
		{Failed, Built},
		{Invalidated, Committed},
	}
	for _, tr := range invalid {
		assert.False(t, tr[0].CanTransition(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.Equal(t, "AwaitingNotification", AwaitingNotification.String())
	assert.Equal(t, "Unknown", TxState(99).String())
}

func TestIllegalTransitionFails(t *testing.T) {
	requestContext := newRequestContext(t, moveRequest)
	requestContext.Response.State = Endorsed

	assert.False(t, requestContext.transition(Committed))
	assert.Equal(t, Failed, requestContext.State())
	assert.True(t, status.Is(requestContext.Error, status.ClientStatus, status.Unknown))
}
