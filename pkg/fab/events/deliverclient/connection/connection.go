/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection holds the gRPC stream to a peer's Deliver service.
package connection

import (
	"context"
	"fmt"
	"io"

	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/comm"
	clientdisp "github.com/hyperledger/fabric-txnflow/pkg/fab/events/client/dispatcher"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/txn"
)

var logger = logging.NewLogger("txnflow/fab/events")

type deliverStream interface {
	grpc.ClientStream
	Send(*cb.Envelope) error
	Recv() (*pb.DeliverResponse, error)
}

// DeliverConnection manages the connection to the deliver server
type DeliverConnection struct {
	*comm.StreamConnection
	signer    msp.SigningIdentity
	channelID string
	url       string
}

// StreamProvider creates a deliver stream
type StreamProvider func(pb.DeliverClient) (stream deliverStream, cancel func(), err error)

var (
	// Deliver creates a Deliver stream
	Deliver = func(client pb.DeliverClient) (deliverStream, func(), error) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := client.Deliver(ctx)
		return stream, cancel, err
	}

	// DeliverFiltered creates a DeliverFiltered stream
	DeliverFiltered = func(client pb.DeliverClient) (deliverStream, func(), error) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := client.DeliverFiltered(ctx)
		return stream, cancel, err
	}
)

// New returns a new Deliver Server connection. Seek requests sent over the
// connection are signed by signer and target the given channel.
func New(ctx context.Context, signer msp.SigningIdentity, channelID string, streamProvider StreamProvider, url string, opts ...options.Opt) (*DeliverConnection, error) {
	if signer == nil {
		return nil, errors.New("signing identity is required")
	}

	logger.Debugf("Connecting to %s...", url)
	connect, err := comm.NewStreamConnection(
		ctx, url,
		func(grpcconn *grpc.ClientConn) (grpc.ClientStream, func(), error) {
			return streamProvider(pb.NewDeliverClient(grpcconn))
		},
		opts...,
	)
	if err != nil {
		return nil, err
	}

	return &DeliverConnection{
		StreamConnection: connect,
		signer:           signer,
		channelID:        channelID,
		url:              url,
	}, nil
}

func (c *DeliverConnection) deliverStream() deliverStream {
	if c.Stream() == nil {
		return nil
	}
	stream, ok := c.Stream().(deliverStream)
	if !ok {
		panic(fmt.Sprintf("invalid DeliverStream type %T", c.Stream()))
	}
	return stream
}

// Send sends a seek request to the deliver server
func (c *DeliverConnection) Send(seekInfo *ab.SeekInfo) error {
	if c.Closed() {
		return errors.New("connection is closed")
	}

	logger.Debugf("Sending seek request %s to %s", seekInfo, c.url)

	env, err := txn.CreateSignedEnvelope(c.signer, cb.HeaderType_DELIVER_SEEK_INFO, c.channelID, seekInfo)
	if err != nil {
		return errors.WithMessage(err, "failed to create seek envelope")
	}

	return c.deliverStream().Send(env)
}

// Receive receives events from the deliver server and posts them to eventch until the
// stream ends or done is closed. A stream that fails while the connection is still
// open is reported with a DisconnectedEvent.
func (c *DeliverConnection) Receive(eventch chan<- interface{}, done <-chan struct{}) {
	for {
		stream := c.deliverStream()
		if stream == nil {
			logger.Warn("The stream has closed. Terminating loop.")
			break
		}

		in, err := stream.Recv()

		if c.Closed() {
			logger.Debugf("The connection has closed with error [%v]. Terminating loop.", err)
			break
		}

		var event interface{}
		switch {
		case err == io.EOF:
			logger.Warn("Received EOF from stream. Sending disconnected event.")
			event = clientdisp.NewDisconnectedEvent(errors.New("event stream was closed by the server"))
		case err != nil:
			logger.Warnf("Received error from stream: [%s]. Sending disconnected event.", err)
			event = clientdisp.NewDisconnectedEvent(err)
		default:
			event = NewEvent(in, c.url)
		}

		select {
		case eventch <- event:
		case <-done:
			logger.Debug("Dispatcher has stopped. Terminating loop.")
			return
		}

		if err != nil {
			break
		}
	}
	logger.Debug("Exiting stream listener")
}

// Event contains the deliver event as well as the event source
type Event struct {
	SourceURL string
	Event     interface{}
}

// NewEvent returns a deliver event
func NewEvent(event interface{}, sourceURL string) *Event {
	return &Event{
		SourceURL: sourceURL,
		Event:     event,
	}
}
