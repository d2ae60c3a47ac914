/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	clientdisp "github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/dispatcher"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient/connection"
	esdispatcher "github.com/hyperledger/fabric-txnflow/pkg/fab/events/service/dispatcher"
)

var logger = logging.NewLogger("txnflow/fab/events")

// SeekEvent asks the dispatcher to send a SeekInfo on the open stream
type SeekEvent struct {
	SeekInfo *ab.SeekInfo
	ErrCh    chan<- error
}

// NewSeekEvent returns a new SeekEvent
func NewSeekEvent(seekInfo *ab.SeekInfo, errch chan<- error) *SeekEvent {
	return &SeekEvent{SeekInfo: seekInfo, ErrCh: errch}
}

type dsConnection interface {
	api.Connection
	Send(seekInfo *ab.SeekInfo) error
}

// Dispatcher adds seek requests and DeliverResponse decoding to the client
// dispatcher. Like the dispatchers it extends, it handles every event on one
// goroutine in arrival order.
type Dispatcher struct {
	*clientdisp.Dispatcher
}

// New returns a new deliver dispatcher
func New(endpoint api.Endpoint, connectionProvider api.ConnectionProvider, opts ...options.Opt) *Dispatcher {
	return &Dispatcher{
		Dispatcher: clientdisp.New(endpoint, connectionProvider, opts...),
	}
}

// Start starts the dispatcher
func (ed *Dispatcher) Start() error {
	ed.registerHandlers()
	if err := ed.Dispatcher.Start(); err != nil {
		return errors.WithMessage(err, "error starting deliver event dispatcher")
	}
	return nil
}

func (ed *Dispatcher) connection() (dsConnection, error) {
	conn, ok := ed.Dispatcher.Connection().(dsConnection)
	if !ok {
		return nil, errors.Errorf("connection of type %T does not support seek requests", ed.Dispatcher.Connection())
	}
	return conn, nil
}

func (ed *Dispatcher) handleSeekEvent(e esdispatcher.Event) {
	evt := e.(*SeekEvent)

	evt.ErrCh <- ed.sendSeek(evt.SeekInfo)
}

func (ed *Dispatcher) sendSeek(seekInfo *ab.SeekInfo) error {
	if ed.Connection() == nil {
		logger.Warn("Unable to send seek request since no connection was established.")
		return errors.New("no connection to the deliver server")
	}

	conn, err := ed.connection()
	if err != nil {
		return err
	}
	if err := conn.Send(seekInfo); err != nil {
		return errors.Wrapf(err, "error sending seek info to [%s]", ed.Endpoint().URL)
	}
	return nil
}

func (ed *Dispatcher) handleEvent(e esdispatcher.Event) {
	delevent := e.(*connection.Event)
	evt, ok := delevent.Event.(*pb.DeliverResponse)
	if !ok {
		logger.Errorf("unsupported deliver event type %T", delevent.Event)
		return
	}

	switch response := evt.Type.(type) {
	case *pb.DeliverResponse_Status:
		ed.handleDeliverResponseStatus(response)
	case *pb.DeliverResponse_Block:
		ed.HandleBlock(response.Block, delevent.SourceURL)
	case *pb.DeliverResponse_FilteredBlock:
		ed.HandleFilteredBlock(response.FilteredBlock, delevent.SourceURL)
	default:
		logger.Errorf("handler not found for deliver response type %T", response)
	}
}

func (ed *Dispatcher) handleDeliverResponseStatus(evt *pb.DeliverResponse_Status) {
	logger.Debugf("Got deliver response status event: %s", evt.Status)

	if evt.Status == cb.Status_SUCCESS {
		return
	}

	logger.Warnf("Got deliver response status event: %s. Disconnecting...", evt.Status)

	ed.Dispatcher.HandleDisconnectedEvent(disconnectedEventFromStatus(evt.Status))
}

func (ed *Dispatcher) registerHandlers() {
	ed.RegisterHandler(&SeekEvent{}, ed.handleSeekEvent)
	ed.RegisterHandler(&connection.Event{}, ed.handleEvent)
}

func disconnectedEventFromStatus(status cb.Status) *clientdisp.DisconnectedEvent {
	err := errors.Errorf("got error status from deliver server: %s", status)

	if status == cb.Status_FORBIDDEN || status == cb.Status_BAD_REQUEST {
		return clientdisp.NewFatalDisconnectedEvent(err)
	}
	return clientdisp.NewDisconnectedEvent(err)
}
