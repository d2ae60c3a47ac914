/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"context"

	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
)

// Connection defines the functions for an event server connection
type Connection interface {
	// Receive sends events to the given channel until the stream ends or done is closed
	Receive(eventch chan<- interface{}, done <-chan struct{})
	// Close closes the connection
	Close()
	// Closed return true if the connection is closed
	Closed() bool
}

// Endpoint identifies the event server
type Endpoint struct {
	URL  string
	Opts []options.Opt
}

// ConnectionProvider creates a Connection.
type ConnectionProvider func(ctx context.Context, endpoint Endpoint) (Connection, error)
