/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	clientdisp "github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/dispatcher"
)

// MockConnection is an event server connection whose events are produced by the test
type MockConnection struct {
	mutex  sync.RWMutex
	rcvch  chan interface{}
	closed int32
}

// NewMockConnection returns a new MockConnection
func NewMockConnection() *MockConnection {
	return &MockConnection{rcvch: make(chan interface{}, 10)}
}

// Close closes the connection
func (c *MockConnection) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.rcvch)
	}
}

// Closed return true if the connection is closed
func (c *MockConnection) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Receive forwards produced events to eventch until the connection is closed
func (c *MockConnection) Receive(eventch chan<- interface{}, done <-chan struct{}) {
	for {
		select {
		case e, ok := <-c.rcvch:
			if !ok {
				return
			}
			select {
			case eventch <- e:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

// ProduceEvent sends the given event to the dispatcher
func (c *MockConnection) ProduceEvent(event interface{}) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.Closed() {
		return
	}
	c.rcvch <- event
}

// Disconnect simulates the loss of the event stream
func (c *MockConnection) Disconnect(cause error) {
	c.ProduceEvent(clientdisp.NewDisconnectedEvent(cause))
}

// ProviderFactory creates connections for a dispatcher and keeps track of them
type ProviderFactory struct {
	mutex       sync.Mutex
	connections []*MockConnection
	connectErr  error
}

// NewProviderFactory returns a new ProviderFactory
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{}
}

// FailConnect causes subsequent connection attempts to fail with the given error.
// A nil error lets them succeed again.
func (f *ProviderFactory) FailConnect(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.connectErr = err
}

// Connections returns the connections created so far
func (f *ProviderFactory) Connections() []*MockConnection {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]*MockConnection(nil), f.connections...)
}

// Last returns the most recently created connection
func (f *ProviderFactory) Last() *MockConnection {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.connections) == 0 {
		return nil
	}
	return f.connections[len(f.connections)-1]
}

// Provider returns a connection provider backed by the factory
func (f *ProviderFactory) Provider() api.ConnectionProvider {
	return func(ctx context.Context, endpoint api.Endpoint) (api.Connection, error) {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		if f.connectErr != nil {
			return nil, errors.WithMessage(f.connectErr, "mock connection to "+endpoint.URL+" failed")
		}
		conn := NewMockConnection()
		f.connections = append(f.connections, conn)
		return conn, nil
	}
}
