/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	esdispatcher "github.com/hyperledger/fabric-txnflow/pkg/fab/events/service/dispatcher"
)

// Requests posted by the event client. Each one is answered once on ErrCh.
type (
	// ConnectEvent asks the dispatcher to open the event stream
	ConnectEvent struct {
		ErrCh chan<- error
	}

	// DisconnectEvent asks the dispatcher to close the event stream
	DisconnectEvent struct {
		ErrCh chan<- error
	}

	// RegisterConnectionEvent installs the single listener of connection changes
	RegisterConnectionEvent struct {
		esdispatcher.RegisterEvent
		Reg *ConnectionReg
	}
)

// Notifications produced by the event stream.
type (
	// ConnectedEvent reports that the server acknowledged the stream
	ConnectedEvent struct{}

	// DisconnectedEvent reports that the stream is gone
	DisconnectedEvent struct {
		Err *DisconnectError
	}
)

// ConnectionReg receives a ConnectionEvent on every connect and disconnect
type ConnectionReg struct {
	Eventch chan<- *ConnectionEvent
}

// ConnectionEvent is delivered to the connection listener. Err is nil when Connected.
type ConnectionEvent struct {
	Connected bool
	Err       *DisconnectError
}

// DisconnectError is the cause of a lost stream. A fatal error is one that the
// server will repeat on a new stream, such as a FORBIDDEN deliver status.
type DisconnectError struct {
	Cause error
	Fatal bool
}

func (e *DisconnectError) Error() string {
	return e.Cause.Error()
}

// Unwrap returns the cause
func (e *DisconnectError) Unwrap() error {
	return e.Cause
}

// IsFatal is true when connecting again would fail the same way
func (e *DisconnectError) IsFatal() bool {
	return e.Fatal
}

// NewConnectEvent creates a new ConnectEvent
func NewConnectEvent(errch chan<- error) *ConnectEvent {
	return &ConnectEvent{ErrCh: errch}
}

// NewDisconnectEvent creates a new DisconnectEvent
func NewDisconnectEvent(errch chan<- error) *DisconnectEvent {
	return &DisconnectEvent{ErrCh: errch}
}

// NewRegisterConnectionEvent creates a new RegisterConnectionEvent
func NewRegisterConnectionEvent(eventch chan<- *ConnectionEvent, regch chan<- fab.Registration, errch chan<- error) *RegisterConnectionEvent {
	return &RegisterConnectionEvent{
		Reg:           &ConnectionReg{Eventch: eventch},
		RegisterEvent: esdispatcher.NewRegisterEvent(regch, errch),
	}
}

// NewConnectedEvent creates a new ConnectedEvent
func NewConnectedEvent() *ConnectedEvent {
	return &ConnectedEvent{}
}

// NewDisconnectedEvent reports a lost stream that may be connected again
func NewDisconnectedEvent(cause error) *DisconnectedEvent {
	return &DisconnectedEvent{Err: &DisconnectError{Cause: cause}}
}

// NewFatalDisconnectedEvent reports a lost stream that must not be connected again
func NewFatalDisconnectedEvent(cause error) *DisconnectedEvent {
	return &DisconnectedEvent{Err: &DisconnectError{Cause: cause, Fatal: true}}
}

// NewConnectionEvent returns a new ConnectionEvent
func NewConnectionEvent(connected bool, err *DisconnectError) *ConnectionEvent {
	return &ConnectionEvent{Connected: connected, Err: err}
}
