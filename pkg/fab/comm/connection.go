/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config/endpoint"
)

var logger = logging.NewLogger("txnflow/fab/comm")

// GRPCConnection manages a GRPC client connection to a single endpoint
type GRPCConnection struct {
	url  string
	conn *grpc.ClientConn
	done int32
}

// NewConnection creates a new connection and waits until it is ready or the
// connect timeout expires
func NewConnection(ctx context.Context, url string, opts ...options.Opt) (*GRPCConnection, error) {
	if url == "" {
		return nil, errors.New("server URL not specified")
	}

	params := defaultParams()
	options.Apply(params, opts)

	dialOpts, err := newDialOpts(url, params)
	if err != nil {
		return nil, err
	}

	grpcconn, err := grpc.NewClient(endpoint.ToAddress(url), dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create client for %s", url)
	}

	reqCtx, cancel := context.WithTimeout(ctx, params.connectTimeout)
	defer cancel()

	if err := waitForReady(reqCtx, grpcconn); err != nil {
		if cerr := grpcconn.Close(); cerr != nil {
			logger.Warnf("error closing GRPC connection: %s", cerr)
		}
		return nil, errors.Wrapf(err, "could not connect to %s", url)
	}

	return &GRPCConnection{
		url:  url,
		conn: grpcconn,
	}, nil
}

// ClientConn returns the underlying GRPC connection
func (c *GRPCConnection) ClientConn() *grpc.ClientConn {
	return c.conn
}

// URL returns the URL the connection was made to
func (c *GRPCConnection) URL() string {
	return c.url
}

// Close closes the connection
func (c *GRPCConnection) Close() {
	if !c.setClosed() {
		logger.Debugf("Already closed")
		return
	}

	logger.Debugf("Closing connection to %s", c.url)
	if err := c.conn.Close(); err != nil {
		logger.Warnf("error closing GRPC connection: %s", err)
	}
}

// Closed returns true if the connection has been closed
func (c *GRPCConnection) Closed() bool {
	return atomic.LoadInt32(&c.done) == 1
}

func (c *GRPCConnection) setClosed() bool {
	return atomic.CompareAndSwapInt32(&c.done, 0, 1)
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return errors.Wrapf(ctx.Err(), "connection not ready, last state %s", state)
		}
	}
}

func newDialOpts(url string, params *params) ([]grpc.DialOption, error) {
	var dialOpts []grpc.DialOption

	if params.keepAliveParams.Time > 0 || params.keepAliveParams.Timeout > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(params.keepAliveParams))
	}

	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.WaitForReady(!params.failFast)))

	if endpoint.AttemptSecured(url, params.insecure) {
		tlsConfig, err := newTLSConfig(params.tlsCACertPath, params.hostOverride)
		if err != nil {
			return nil, err
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		logger.Debugf("Creating a secure connection to [%s] with TLS HostOverride [%s]", url, params.hostOverride)
	} else {
		logger.Debugf("Creating an insecure connection [%s]", url)
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return dialOpts, nil
}

// newTLSConfig builds a client TLS config. Without a CA path the system pool is used.
func newTLSConfig(caPath, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if caPath == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(os.ExpandEnv(caPath))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read TLS CA certs from %s", caPath)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates found in %s", caPath)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
