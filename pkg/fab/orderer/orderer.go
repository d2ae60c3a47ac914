/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package orderer

import (
	reqContext "context"
	"io"
	"sync"

	"github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/multi"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/comm"
)

var logger = logging.NewLogger("txnflow/fab/orderer")

// Orderer allows a client to broadcast a transaction.
type Orderer struct {
	url      string
	connOpts []options.Opt
	mutex    sync.Mutex
	conn     *comm.GRPCConnection
}

// Option describes a functional parameter for the New constructor
type Option func(*Orderer) error

// New Returns a Orderer instance
func New(opts ...Option) (*Orderer, error) {
	orderer := &Orderer{}

	for _, opt := range opts {
		err := opt(orderer)

		if err != nil {
			return nil, err
		}
	}

	if orderer.url == "" {
		return nil, errors.New("orderer URL is required")
	}

	return orderer, nil
}

// WithURL is a functional option for the orderer.New constructor that configures the orderer's URL.
func WithURL(url string) Option {
	return func(o *Orderer) error {
		o.url = url

		return nil
	}
}

// WithConnOpts is a functional option for the orderer.New constructor that adds GRPC connection options
func WithConnOpts(opts ...options.Opt) Option {
	return func(o *Orderer) error {
		o.connOpts = append(o.connOpts, opts...)

		return nil
	}
}

// FromOrdererConfig is a functional option for the orderer.New constructor that configures a new orderer
// from the orderer section of the network config
func FromOrdererConfig(ordererCfg config.OrdererConfig) Option {
	return func(o *Orderer) error {
		o.url = ordererCfg.URL
		o.connOpts = append(o.connOpts, comm.OptsFromOrdererConfig(ordererCfg)...)

		return nil
	}
}

func (o *Orderer) connection(ctx reqContext.Context) (*grpc.ClientConn, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.conn != nil && !o.conn.Closed() {
		return o.conn.ClientConn(), nil
	}

	conn, err := comm.NewConnection(ctx, o.url, o.connOpts...)
	if err != nil {
		return nil, err
	}
	o.conn = conn
	return conn.ClientConn(), nil
}

// Close releases the connection to the orderer
func (o *Orderer) Close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.conn != nil {
		o.conn.Close()
		o.conn = nil
	}
}

// URL Get the Orderer url. Required property for the instance objects.
// Returns the address of the Orderer.
func (o *Orderer) URL() string {
	return o.url
}

// SendBroadcast Send the created transaction to Orderer.
func (o *Orderer) SendBroadcast(ctx reqContext.Context, envelope *fab.SignedEnvelope) (*common.Status, error) {
	conn, err := o.connection(ctx)
	if err != nil {
		return nil, status.New(status.OrdererClientStatus, status.ConnectionFailed.ToInt32(), err.Error(), []interface{}{o.url})
	}

	broadcastClient, err := ab.NewAtomicBroadcastClient(conn).Broadcast(ctx)
	if err != nil {
		rpcStatus, ok := grpcstatus.FromError(err)
		if ok {
			err = status.NewFromGRPCStatus(rpcStatus)
		}
		return nil, errors.WithMessage(err, "NewAtomicBroadcastClient failed")
	}

	responses := make(chan common.Status)
	errs := make(chan error, 1)

	go broadcastStream(broadcastClient, responses, errs)

	err = broadcastClient.Send(&common.Envelope{
		Payload:   envelope.Payload,
		Signature: envelope.Signature,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to send envelope to orderer")
	}
	if err = broadcastClient.CloseSend(); err != nil {
		logger.Debugf("unable to close broadcast client [%s]", err)
	}

	return wrapStreamStatusRPC(responses, errs)
}

func wrapStreamStatusRPC(responses chan common.Status, errs chan error) (*common.Status, error) {
	var status common.Status
	var err multi.Errors

read:
	for {
		select {
		case s, ok := <-responses:
			if !ok {
				break read
			}
			status = s
		case e := <-errs:
			err = append(err, e)
		}
	}

	// drain remaining errors.
	for i := 0; i < len(errs); i++ {
		e := <-errs
		err = append(err, e)
	}

	return &status, err.ToError()
}

func broadcastStream(broadcastClient ab.AtomicBroadcast_BroadcastClient, responses chan common.Status, errs chan error) {
	defer close(responses)
	for {
		broadcastResponse, err := broadcastClient.Recv()
		if err == io.EOF {
			return
		}

		if err != nil {
			rpcStatus, ok := grpcstatus.FromError(err)
			if ok {
				err = status.NewFromGRPCStatus(rpcStatus)
			}
			errs <- errors.WithMessage(err, "broadcast recv failed")
			return
		}

		if broadcastResponse.Status == common.Status_SUCCESS {
			responses <- broadcastResponse.Status
		} else {
			errs <- status.New(status.OrdererServerStatus, int32(broadcastResponse.Status), broadcastResponse.Info, nil)
			return
		}
	}
}
