/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package deliverclient is the event hub implementation backed by a peer's
// Deliver (or DeliverFiltered) service.
package deliverclient

import (
	"context"
	"math"
	"sync"
	"time"

	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/client"
	deliverconn "github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient/connection"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient/dispatcher"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient/seek"
)

var logger = logging.NewLogger("txnflow/fab/events")

// connectionProvider returns the provider that opens a Deliver or DeliverFiltered
// stream for the given channel
func connectionProvider(signer msp.SigningIdentity, channelID string, streamProvider deliverconn.StreamProvider) api.ConnectionProvider {
	return func(ctx context.Context, endpoint api.Endpoint) (api.Connection, error) {
		return deliverconn.New(ctx, signer, channelID, streamProvider, endpoint.URL, endpoint.Opts...)
	}
}

// Client connects to a peer and receives channel events, such as chaincode and transaction status events.
type Client struct {
	client.Client
	params
	seekLock sync.RWMutex
}

// New returns a new deliver event client. The client is started but not connected;
// registrations fail with NotConnected until Connect succeeds.
func New(signer msp.SigningIdentity, channelID string, endpoint api.Endpoint, opts ...options.Opt) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signing identity is required")
	}
	if channelID == "" {
		return nil, errors.New("expecting channel ID")
	}
	if endpoint.URL == "" {
		return nil, errors.New("expecting event server URL")
	}

	params := defaultParams()
	options.Apply(params, opts)

	connProvider := params.connProvider
	if connProvider == nil {
		streamProvider := deliverconn.Deliver
		if params.filtered {
			streamProvider = deliverconn.DeliverFiltered
		}
		connProvider = connectionProvider(signer, channelID, streamProvider)
	}

	client := &Client{
		Client: *client.New(
			dispatcher.New(endpoint, connProvider, opts...),
			opts...,
		),
		params: *params,
	}
	client.SetBeforeConnectHandler(client.setSeekFromLastBlockReceived)
	client.SetAfterConnectHandler(client.seek)

	if err := client.Start(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) seek() error {
	logger.Debugf("sending seek request....")

	seekInfo, err := c.seekInfo()
	if err != nil {
		return err
	}

	errch := make(chan error, 1)
	if err := c.Submit(dispatcher.NewSeekEvent(seekInfo, errch)); err != nil {
		return err
	}

	select {
	case err = <-errch:
	case <-time.After(c.respTimeout):
		err = errors.New("timeout waiting for deliver status response")
	}

	if err != nil {
		logger.Errorf("unable to send seek request: %s", err)
		return err
	}

	logger.Debugf("successfully sent seek")
	return nil
}

// setSeekFromLastBlockReceived makes sure that, when we reconnect, we receive all of the
// events that we've missed
func (c *Client) setSeekFromLastBlockReceived() error {
	c.seekLock.Lock()
	defer c.seekLock.Unlock()

	lastBlockNum := c.Dispatcher().LastBlockNum()
	if lastBlockNum < math.MaxUint64 {
		c.seekType = seek.FromBlock
		c.fromBlock = lastBlockNum + 1
	}
	return nil
}

func (c *Client) seekInfo() (*ab.SeekInfo, error) {
	c.seekLock.RLock()
	defer c.seekLock.RUnlock()

	return seek.Info(c.seekType, c.fromBlock)
}
