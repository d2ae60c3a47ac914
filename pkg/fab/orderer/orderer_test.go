/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package orderer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/comm"
)

type testBroadcastServer struct {
	ab.UnimplementedAtomicBroadcastServer
	status   common.Status
	received chan *common.Envelope
}

func (s *testBroadcastServer) Broadcast(srv ab.AtomicBroadcast_BroadcastServer) error {
	for {
		env, err := srv.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.received <- env
		if err := srv.Send(&ab.BroadcastResponse{Status: s.status, Info: "info"}); err != nil {
			return err
		}
	}
}

func startOrderer(t *testing.T, st common.Status) (string, *testBroadcastServer) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testBroadcastServer{status: st, received: make(chan *common.Envelope, 10)}
	srv := grpc.NewServer()
	ab.RegisterAtomicBroadcastServer(srv, ts)
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("orderer stopped: %s", err)
		}
	}()
	t.Cleanup(srv.Stop)

	return "grpc://" + lis.Addr().String(), ts
}

func TestSendBroadcast(t *testing.T) {
	url, ts := startOrderer(t, common.Status_SUCCESS)

	o, err := New(FromOrdererConfig(config.OrdererConfig{URL: url}))
	require.NoError(t, err)
	defer o.Close()
	assert.Equal(t, url, o.URL())

	st, err := o.SendBroadcast(context.Background(), &fab.SignedEnvelope{Payload: []byte("payload"), Signature: []byte("sig")})
	require.NoError(t, err)
	assert.Equal(t, common.Status_SUCCESS, *st)

	select {
	case env := <-ts.received:
		assert.Equal(t, []byte("payload"), env.Payload)
		assert.Equal(t, []byte("sig"), env.Signature)
	case <-time.After(5 * time.Second):
		t.Fatal("envelope not received")
	}
}

func TestSendBroadcastRejected(t *testing.T) {
	url, _ := startOrderer(t, common.Status_SERVICE_UNAVAILABLE)

	o, err := New(WithURL(url))
	require.NoError(t, err)
	defer o.Close()

	_, err = o.SendBroadcast(context.Background(), &fab.SignedEnvelope{})
	require.Error(t, err)

	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, status.OrdererServerStatus, s.Group)
	assert.Equal(t, int32(common.Status_SERVICE_UNAVAILABLE), s.Code)
}

func TestSendBroadcastConnectionFailed(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "grpc://" + lis.Addr().String()
	require.NoError(t, lis.Close())

	o, err := New(WithURL(url), WithConnOpts(comm.WithConnectTimeout(200*time.Millisecond)))
	require.NoError(t, err)

	_, err = o.SendBroadcast(context.Background(), &fab.SignedEnvelope{})
	assert.True(t, status.Is(err, status.OrdererClientStatus, status.ConnectionFailed))
}

func TestNewWithoutURL(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}
