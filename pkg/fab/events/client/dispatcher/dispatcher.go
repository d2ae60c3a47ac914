/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	esdispatcher "github.com/hyperledger/fabric-txnflow/pkg/fab/events/service/dispatcher"
)

var logger = logging.NewLogger("txnflow/fab/events")

// Dispatcher is responsible for handling all events, including connection and registration events originating from the client,
// and events originating from the event server. All events are processed in a single Go routine
// in order to avoid any race conditions and to ensure that events are processed in the order that they are received.
// Registrations are rejected with NotConnected unless the client is connected.
type Dispatcher struct {
	*esdispatcher.Dispatcher
	params
	endpoint               api.Endpoint
	connection             api.Connection
	connectionRegistration *ConnectionReg
	connectionProvider     api.ConnectionProvider
}

// New creates a new dispatcher
func New(endpoint api.Endpoint, connectionProvider api.ConnectionProvider, opts ...options.Opt) *Dispatcher {
	params := defaultParams()
	options.Apply(params, opts)

	return &Dispatcher{
		Dispatcher:         esdispatcher.New(opts...),
		params:             *params,
		endpoint:           endpoint,
		connectionProvider: connectionProvider,
	}
}

// Start starts the dispatcher
func (ed *Dispatcher) Start() error {
	ed.registerHandlers()
	ed.RejectRegistrations(notConnectedError())

	if err := ed.Dispatcher.Start(); err != nil {
		return errors.WithMessage(err, "error starting client event dispatcher")
	}
	return nil
}

// Endpoint returns the event server endpoint
func (ed *Dispatcher) Endpoint() api.Endpoint {
	return ed.endpoint
}

// Connection returns the connection to the event server
func (ed *Dispatcher) Connection() api.Connection {
	return ed.connection
}

// HandleStopEvent handles a Stop event by closing the connection and
// resolving all registrations
func (ed *Dispatcher) HandleStopEvent(e esdispatcher.Event) {
	if ed.connection != nil {
		ed.connection.Close()
		ed.connection = nil
	}
	ed.clearConnectionRegistration()

	ed.Dispatcher.HandleStopEvent(e)
}

// HandleConnectEvent initiates a connection to the event server
func (ed *Dispatcher) HandleConnectEvent(e esdispatcher.Event) {
	evt := e.(*ConnectEvent)

	if ed.connection != nil {
		// Already connected. No error.
		evt.ErrCh <- nil
		return
	}

	eventch, err := ed.EventCh()
	if err != nil {
		evt.ErrCh <- err
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ed.connectTimeout)
	defer cancel()

	conn, err := ed.connectionProvider(ctx, ed.endpoint)
	if err != nil {
		logger.Warnf("error creating connection to %s: %s", ed.endpoint.URL, err)
		evt.ErrCh <- errors.WithMessagef(err, "could not create client conn to %s", ed.endpoint.URL)
		return
	}

	ed.connection = conn

	go ed.connection.Receive(eventch, ed.Done())

	evt.ErrCh <- nil
}

// HandleDisconnectEvent disconnects from the event server. Pending registrations are
// resolved with a Disconnected error.
func (ed *Dispatcher) HandleDisconnectEvent(e esdispatcher.Event) {
	evt := e.(*DisconnectEvent)

	if ed.connection == nil {
		evt.ErrCh <- errors.New("connection already closed")
		return
	}

	logger.Debug("Closing connection due to disconnect event...")

	ed.connection.Close()
	ed.connection = nil

	ed.RejectRegistrations(notConnectedError())
	ed.FailRegistrations(status.NewClient(status.Disconnected, "event hub disconnected"))

	evt.ErrCh <- nil
}

// HandleRegisterConnectionEvent registers a connection listener
func (ed *Dispatcher) HandleRegisterConnectionEvent(e esdispatcher.Event) {
	evt := e.(*RegisterConnectionEvent)

	if ed.connectionRegistration != nil {
		evt.ErrCh <- errors.New("registration already exists for connection event")
		return
	}

	ed.connectionRegistration = evt.Reg
	evt.RegCh <- evt.Reg
}

// HandleConnectedEvent starts accepting registrations and sends a 'connected' event to any registered listener
func (ed *Dispatcher) HandleConnectedEvent(e esdispatcher.Event) {
	logger.Debugf("Handling connected event")

	if ed.connection == nil {
		logger.Warn("Connection was lost before the connected event was processed")
		return
	}

	ed.AcceptRegistrations()

	if ed.connectionRegistration != nil {
		select {
		case ed.connectionRegistration.Eventch <- NewConnectionEvent(true, nil):
		default:
			logger.Warn("Unable to send to connection event channel.")
		}
	}
}

// HandleDisconnectedEvent handles the loss of the event stream. Pending registrations are
// resolved with a Disconnected error and a 'disconnected' event is sent to any registered listener.
func (ed *Dispatcher) HandleDisconnectedEvent(e esdispatcher.Event) {
	evt := e.(*DisconnectedEvent)

	if ed.connection == nil {
		// the stream of a connection that was already closed reported its end
		logger.Debugf("Ignoring disconnected event since there is no connection: %s", evt.Err)
		return
	}

	logger.Warnf("Disconnected from event server: %s", evt.Err)

	ed.connection.Close()
	ed.connection = nil

	ed.RejectRegistrations(notConnectedError())
	ed.FailRegistrations(status.NewClient(status.Disconnected, "connection to event server lost: "+evt.Err.Error()))

	if ed.connectionRegistration != nil {
		select {
		case ed.connectionRegistration.Eventch <- NewConnectionEvent(false, evt.Err):
		default:
			logger.Warn("Unable to send to connection event channel.")
		}
	}
}

func (ed *Dispatcher) registerHandlers() {
	// Override existing handlers
	ed.RegisterHandler(&esdispatcher.StopEvent{}, ed.HandleStopEvent)

	// Register new handlers
	ed.RegisterHandler(&ConnectEvent{}, ed.HandleConnectEvent)
	ed.RegisterHandler(&DisconnectEvent{}, ed.HandleDisconnectEvent)
	ed.RegisterHandler(&ConnectedEvent{}, ed.HandleConnectedEvent)
	ed.RegisterHandler(&DisconnectedEvent{}, ed.HandleDisconnectedEvent)
	ed.RegisterHandler(&RegisterConnectionEvent{}, ed.HandleRegisterConnectionEvent)
}

func (ed *Dispatcher) clearConnectionRegistration() {
	if ed.connectionRegistration != nil {
		logger.Debug("Closing connection registration event channel.")
		close(ed.connectionRegistration.Eventch)
		ed.connectionRegistration = nil
	}
}

func notConnectedError() error {
	return status.NewClient(status.NotConnected, "event hub is not connected")
}
