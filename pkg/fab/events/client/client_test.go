/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"fmt"
	"testing"
	"time"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	clientdisp "github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/dispatcher"
	clientmocks "github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/mocks"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/mocks"
)

const sourceURL = "grpc://peer0.org1.example.com:7051"

func newClient(t *testing.T, factory *clientmocks.ProviderFactory, opts ...options.Opt) *Client {
	c := New(clientdisp.New(api.Endpoint{URL: sourceURL}, factory.Provider(), opts...), opts...)
	require.NoError(t, c.Start())
	t.Cleanup(c.Close)
	return c
}

func filteredBlockEvent(number uint64, txs ...*pb.FilteredTransaction) *fab.FilteredBlockEvent {
	return &fab.FilteredBlockEvent{FilteredBlock: mocks.NewFilteredBlock("mychannel", number, txs...), SourceURL: sourceURL}
}

func awaitTx(t *testing.T, eventch <-chan fab.TxStatusResult) fab.TxStatusResult {
	select {
	case result, ok := <-eventch:
		require.True(t, ok, "unexpected closed channel")
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for TxStatus result")
		return fab.TxStatusResult{}
	}
}

func awaitConnectionEvent(t *testing.T, connch <-chan *clientdisp.ConnectionEvent) *clientdisp.ConnectionEvent {
	select {
	case e, ok := <-connch:
		require.True(t, ok, "unexpected closed channel")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection event")
		return nil
	}
}

func TestConnect(t *testing.T) {
	factory := clientmocks.NewProviderFactory()
	connch := make(chan *clientdisp.ConnectionEvent, 10)
	c := newClient(t, factory, WithConnectionEvent(connch))

	assert.Equal(t, Disconnected, c.ConnectionState())

	_, _, err := c.RegisterTxStatusEvent("tx1", 0)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ClientStatus, status.NotConnected), "unexpected error: %s", err)

	require.NoError(t, c.Connect())
	assert.Equal(t, Connected, c.ConnectionState())
	assert.True(t, awaitConnectionEvent(t, connch).Connected)

	// connecting again has no effect
	require.NoError(t, c.Connect())
	assert.Len(t, factory.Connections(), 1)

	_, eventch, err := c.RegisterTxStatusEvent("tx1", 0)
	require.NoError(t, err)

	factory.Last().ProduceEvent(filteredBlockEvent(1, mocks.NewFilteredTx("tx1", pb.TxValidationCode_VALID)))

	result := awaitTx(t, eventch)
	require.NoError(t, result.Err)
	assert.Equal(t, uint64(1), result.Event.BlockNumber)
}

func TestConnectFailed(t *testing.T) {
	factory := clientmocks.NewProviderFactory()
	c := newClient(t, factory)

	factory.FailConnect(errors.New("connection refused"))
	err := c.Connect()
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ClientStatus, status.ConnectFailed), "unexpected error: %s", err)
	assert.Equal(t, Disconnected, c.ConnectionState())

	_, _, err = c.RegisterChaincodeEvent("events_cc", ".*", 0)
	assert.True(t, status.Is(err, status.ClientStatus, status.NotConnected))

	factory.FailConnect(nil)
	require.NoError(t, c.Connect())
	assert.Equal(t, Connected, c.ConnectionState())
}

func TestAfterConnectHandlerFailure(t *testing.T) {
	factory := clientmocks.NewProviderFactory()
	c := newClient(t, factory)
	c.SetAfterConnectHandler(func() error {
		return errors.New("seek failed")
	})

	err := c.Connect()
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ClientStatus, status.ConnectFailed))
	assert.Equal(t, Disconnected, c.ConnectionState())
	require.Len(t, factory.Connections(), 1)
	assert.True(t, factory.Last().Closed())
}

func TestDisconnectResolvesPending(t *testing.T) {
	factory := clientmocks.NewProviderFactory()
	connch := make(chan *clientdisp.ConnectionEvent, 10)
	c := newClient(t, factory, WithConnectionEvent(connch))

	require.NoError(t, c.Connect())
	assert.True(t, awaitConnectionEvent(t, connch).Connected)

	const numRegistrations = 20
	var txchs []<-chan fab.TxStatusResult
	for i := 0; i < numRegistrations; i++ {
		_, txch, err := c.RegisterTxStatusEvent(fmt.Sprintf("tx%d", i), time.Minute)
		require.NoError(t, err)
		txchs = append(txchs, txch)
	}
	_, ccch, err := c.RegisterChaincodeEvent("events_cc", "^evtsender*", time.Minute)
	require.NoError(t, err)

	conn := factory.Last()
	conn.Disconnect(errors.New("stream reset"))

	for _, txch := range txchs {
		result := awaitTx(t, txch)
		assert.True(t, status.Is(result.Err, status.ClientStatus, status.Disconnected), "unexpected error: %v", result.Err)
		_, ok := <-txch
		assert.False(t, ok)
	}
	select {
	case result := <-ccch:
		assert.True(t, status.Is(result.Err, status.ClientStatus, status.Disconnected))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chaincode registration to resolve")
	}

	event := awaitConnectionEvent(t, connch)
	assert.False(t, event.Connected)
	require.Error(t, event.Err)
	assert.False(t, event.Err.IsFatal())

	assert.Eventually(t, func() bool { return c.ConnectionState() == Disconnected }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, conn.Closed())

	_, _, err = c.RegisterTxStatusEvent("tx", 0)
	assert.True(t, status.Is(err, status.ClientStatus, status.NotConnected))

	// the caller may reconnect
	require.NoError(t, c.Connect())
	assert.Len(t, factory.Connections(), 2)
	_, _, err = c.RegisterTxStatusEvent("tx", 0)
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	factory := clientmocks.NewProviderFactory()
	connch := make(chan *clientdisp.ConnectionEvent, 10)
	c := newClient(t, factory, WithConnectionEvent(connch))

	require.NoError(t, c.Connect())
	_, eventch, err := c.RegisterTxStatusEvent("tx1", time.Minute)
	require.NoError(t, err)

	c.Close()

	result := awaitTx(t, eventch)
	assert.True(t, status.Is(result.Err, status.ClientStatus, status.Disconnected))
	assert.Equal(t, Disconnected, c.ConnectionState())
	assert.True(t, c.Stopped())
	assert.True(t, factory.Last().Closed())

	err = c.Connect()
	assert.True(t, status.Is(err, status.ClientStatus, status.ConnectFailed))

	_, _, err = c.RegisterTxStatusEvent("tx2", 0)
	assert.True(t, status.Is(err, status.ClientStatus, status.NotConnected))
	_, _, err = c.RegisterChaincodeEvent("events_cc", ".*", 0)
	assert.True(t, status.Is(err, status.ClientStatus, status.NotConnected))

	// must not block or panic
	c.Unregister("reg")
	c.Close()
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "undefined", ConnectionState(-1).String())
}
