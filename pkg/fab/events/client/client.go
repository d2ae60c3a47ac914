/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package client adds a connection life cycle to the event service. Registrations
// are only accepted while the client is connected to the event server.
package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/dispatcher"
	eventservice "github.com/hyperledger/fabric-txnflow/pkg/fab/events/service"
)

var logger = logging.NewLogger("txnflow/fab/events")

// ConnectionState is the state of the client connection
type ConnectionState int32

const (
	// Disconnected indicates that the client is disconnected from the server
	Disconnected ConnectionState = iota
	// Connecting indicates that the client is in the process of establishing a connection
	Connecting
	// Connected indicates that the client is connected to the server
	Connected
)

// Client connects to an event server and receives chaincode and transaction status events.
// Client also monitors the connection to the event server. A lost connection moves the
// client back to Disconnected and resolves every pending registration; the caller
// may then Connect again.
type Client struct {
	eventservice.Service
	params
	sync.RWMutex
	connEvent       chan *dispatcher.ConnectionEvent
	connectionState int32
	stopped         int32
	registerOnce    sync.Once
	beforeConnect   handler
	afterConnect    handler
}

type handler func() error

// New returns a new event client
func New(dispatcher eventservice.Dispatcher, opts ...options.Opt) *Client {
	params := defaultParams()
	options.Apply(params, opts)

	return &Client{
		Service:         *eventservice.New(dispatcher),
		params:          *params,
		connectionState: int32(Disconnected),
	}
}

// SetBeforeConnectHandler registers a handler that is called
// before the client connects to the event server.
func (c *Client) SetBeforeConnectHandler(h handler) {
	c.Lock()
	defer c.Unlock()
	c.beforeConnect = h
}

// SetAfterConnectHandler registers a handler that is called
// after the client connects to the event server. This allows for
// custom code to be executed for a particular
// event client implementation.
func (c *Client) SetAfterConnectHandler(h handler) {
	c.Lock()
	defer c.Unlock()
	c.afterConnect = h
}

func (c *Client) beforeConnectHandler() handler {
	c.RLock()
	defer c.RUnlock()
	return c.beforeConnect
}

func (c *Client) afterConnectHandler() handler {
	c.RLock()
	defer c.RUnlock()
	return c.afterConnect
}

// Connect connects to the event server. Connecting a client that is already
// connected has no effect. A failed attempt leaves the client Disconnected
// and returns a ConnectFailed error.
func (c *Client) Connect() error {
	if c.Stopped() {
		return status.NewClient(status.ConnectFailed, "event hub is closed")
	}

	if c.ConnectionState() == Connected {
		logger.Debugf("Event client already connected")
		return nil
	}

	if !c.setConnectionState(Disconnected, Connecting) {
		return status.NewClient(status.ConnectFailed, "unable to connect event hub since it is ["+c.ConnectionState().String()+"]")
	}

	if err := c.connect(); err != nil {
		c.mustSetConnectionState(Disconnected)
		return status.NewClient(status.ConnectFailed, err.Error(), err)
	}

	if !c.setConnectionState(Connecting, Connected) {
		return status.NewClient(status.ConnectFailed, "connection was lost while connecting")
	}

	logger.Debugf("Submitting connected event")
	if err := c.Submit(dispatcher.NewConnectedEvent()); err != nil {
		c.mustSetConnectionState(Disconnected)
		return status.NewClient(status.ConnectFailed, err.Error(), err)
	}

	return nil
}

func (c *Client) connect() error {
	if h := c.beforeConnectHandler(); h != nil {
		if err := h(); err != nil {
			return errors.WithMessage(err, "error invoking beforeConnect handler")
		}
	}

	logger.Debugf("Submitting connection request...")

	errch := make(chan error, 1)
	if err := c.await(dispatcher.NewConnectEvent(errch), errch, 0); err != nil {
		logger.Debugf("... got error in connection response: %s", err)
		return err
	}

	var regErr error
	c.registerOnce.Do(func() {
		logger.Debugf("Submitting connection event registration...")
		eventch, err := c.registerConnectionEvent()
		if err != nil {
			regErr = errors.WithMessage(err, "error registering for connection events")
			return
		}
		c.connEvent = eventch
		go c.monitorConnection()
	})
	if regErr != nil {
		c.disconnect()
		return regErr
	}

	if h := c.afterConnectHandler(); h != nil {
		if err := h(); err != nil {
			logger.Warnf("Error invoking afterConnect handler: %s. Disconnecting...", err)
			c.disconnect()
			return errors.WithMessage(err, "error invoking afterConnect handler")
		}
	}

	return nil
}

func (c *Client) disconnect() {
	errch := make(chan error, 1)
	if err := c.await(dispatcher.NewDisconnectEvent(errch), errch, c.respTimeout); err != nil {
		logger.Warnf("Received error from disconnect request: %s", err)
	} else {
		logger.Debugf("Received success from disconnect request")
	}
}

// await submits the event and waits for the dispatcher to respond on errch.
// A zero timeout waits until the dispatcher responds or stops.
func (c *Client) await(event interface{}, errch <-chan error, timeout time.Duration) error {
	if err := c.Submit(event); err != nil {
		return err
	}

	var timeoutch <-chan time.Time
	if timeout > 0 {
		timeoutch = time.After(timeout)
	}

	select {
	case err := <-errch:
		return err
	case <-c.Dispatcher().Done():
		return errors.New("event dispatcher has stopped")
	case <-timeoutch:
		return errors.New("timed out waiting for response from event dispatcher")
	}
}

// Close closes the connection to the event server and releases all resources.
// Every pending registration is resolved with a Disconnected error.
// Once this function is invoked the client may no longer be used.
func (c *Client) Close() {
	logger.Debugf("Attempting to close event client...")

	if !c.setStopped() {
		logger.Debugf("Client already stopped")
		return
	}

	logger.Debugf("Stopping dispatcher...")

	c.Stop()

	c.closeConnectEventChan()
	c.mustSetConnectionState(Disconnected)

	logger.Debugf("... event client is stopped")
}

// RegisterChaincodeEvent registers for chaincode events. NotConnected is returned
// unless the client is connected.
func (c *Client) RegisterChaincodeEvent(ccID, pattern string, timeout time.Duration) (fab.Registration, <-chan fab.CCEventResult, error) {
	if c.Stopped() {
		return nil, nil, notConnected()
	}
	return c.Service.RegisterChaincodeEvent(ccID, pattern, timeout)
}

// RegisterTxStatusEvent registers for transaction status events. NotConnected is returned
// unless the client is connected.
func (c *Client) RegisterTxStatusEvent(txID string, timeout time.Duration) (fab.Registration, <-chan fab.TxStatusResult, error) {
	if c.Stopped() {
		return nil, nil, notConnected()
	}
	return c.Service.RegisterTxStatusEvent(txID, timeout)
}

// Unregister removes the given registration. Unregistering after Close has no effect.
func (c *Client) Unregister(reg fab.Registration) {
	if c.Stopped() {
		return
	}
	c.Service.Unregister(reg)
}

// registerConnectionEvent registers a connection event. The returned
// ConnectionEvent channel will be called whenever the client connects or disconnects
// from the event server
func (c *Client) registerConnectionEvent() (chan *dispatcher.ConnectionEvent, error) {
	eventch := make(chan *dispatcher.ConnectionEvent, c.eventConsumerBufferSize)
	errch := make(chan error, 1)
	regch := make(chan fab.Registration, 1)
	if err := c.Submit(dispatcher.NewRegisterConnectionEvent(eventch, regch, errch)); err != nil {
		return nil, err
	}

	select {
	case <-regch:
		return eventch, nil
	case err := <-errch:
		return nil, err
	}
}

// Stopped returns true if the client has been stopped (disconnected)
// and is no longer usable.
func (c *Client) Stopped() bool {
	return atomic.LoadInt32(&c.stopped) == 1
}

func (c *Client) setStopped() bool {
	return atomic.CompareAndSwapInt32(&c.stopped, 0, 1)
}

// ConnectionState returns the connection state
func (c *Client) ConnectionState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.connectionState))
}

// setConnectionState sets the connection state only if the given currentState
// matches the actual state. True is returned if the connection state was successfully set.
func (c *Client) setConnectionState(currentState, newState ConnectionState) bool {
	return atomic.CompareAndSwapInt32(&c.connectionState, int32(currentState), int32(newState))
}

func (c *Client) mustSetConnectionState(newState ConnectionState) {
	atomic.StoreInt32(&c.connectionState, int32(newState))
}

func (c *Client) monitorConnection() {
	logger.Debugf("Monitoring connection")
	for event := range c.connEvent {
		if c.Stopped() {
			logger.Debug("Event client has been stopped.")
			break
		}

		c.notifyConnectEventChan(event)

		if event.Connected {
			logger.Debugf("Event client has connected")
			continue
		}

		logger.Warnf("Event client has disconnected. Details: %s", event.Err)
		if !c.setConnectionState(Connected, Disconnected) {
			c.setConnectionState(Connecting, Disconnected)
		}
	}
	logger.Debugf("Exiting connection monitor")
}

func (c *Client) closeConnectEventChan() {
	c.Lock()
	defer c.Unlock()
	if c.connEventCh != nil {
		close(c.connEventCh)
		c.connEventCh = nil
	}
}

func (c *Client) notifyConnectEventChan(event *dispatcher.ConnectionEvent) {
	c.RLock()
	defer c.RUnlock()
	if c.connEventCh != nil {
		logger.Debug("Sending connection event to subscriber.")
		select {
		case c.connEventCh <- event:
		default:
			logger.Warn("Connection event subscriber is not keeping up. Dropping event.")
		}
	}
}

func notConnected() error {
	return status.NewClient(status.NotConnected, "event hub is closed")
}

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Connecting:
		return "Connecting"
	default:
		return "undefined"
	}
}
