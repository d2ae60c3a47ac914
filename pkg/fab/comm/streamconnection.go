/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/x509"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
)

// StreamProvider creates a GRPC stream along with the function that cancels it
type StreamProvider func(conn *grpc.ClientConn) (grpc.ClientStream, func(), error)

// StreamConnection manages the GRPC connection and client stream
type StreamConnection struct {
	*GRPCConnection
	stream grpc.ClientStream
	cancel func()
	lock   sync.Mutex
}

// NewStreamConnection creates a new connection with stream
func NewStreamConnection(ctx context.Context, url string, streamProvider StreamProvider, opts ...options.Opt) (*StreamConnection, error) {
	conn, err := NewConnection(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	stream, cancel, err := streamProvider(conn.conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "could not create stream to %s", url)
	}

	if stream == nil {
		conn.Close()
		return nil, errors.New("unexpected nil stream received from provider")
	}

	if err := validatePeerCertificates(stream); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	return &StreamConnection{
		GRPCConnection: conn,
		stream:         stream,
		cancel:         cancel,
	}, nil
}

// Close closes the connection
func (c *StreamConnection) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.Closed() {
		return
	}

	logger.Debug("Closing stream....")

	if err := c.stream.CloseSend(); err != nil {
		logger.Warnf("error closing GRPC stream: %s", err)
	}

	c.cancel()
	c.GRPCConnection.Close()
}

// Stream returns the GRPC stream
func (c *StreamConnection) Stream() grpc.ClientStream {
	return c.stream
}

func validatePeerCertificates(stream grpc.ClientStream) error {
	p, ok := peer.FromContext(stream.Context())
	if !ok || p == nil || p.AuthInfo == nil {
		return nil
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return nil
	}
	for _, cert := range tlsInfo.State.PeerCertificates {
		if err := validateCertificateDates(cert, time.Now()); err != nil {
			logger.Error(err)
			return errors.Wrapf(err, "error validating certificate dates for [%v]", cert.Subject)
		}
	}
	return nil
}

func validateCertificateDates(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return errors.Errorf("certificate provided is not valid until %s", cert.NotBefore)
	}
	if now.After(cert.NotAfter) {
		return errors.Errorf("certificate provided expired on %s", cert.NotAfter)
	}
	return nil
}
