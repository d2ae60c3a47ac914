/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
)

func startHealthServer(t *testing.T) string {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("health server stopped: %s", err)
		}
	}()
	t.Cleanup(srv.Stop)

	return "grpc://" + lis.Addr().String()
}

func TestConnection(t *testing.T) {
	url := startHealthServer(t)

	conn, err := NewConnection(context.Background(), url, WithConnectTimeout(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, url, conn.URL())
	assert.Equal(t, connectivity.Ready, conn.ClientConn().GetState())

	_, err = healthpb.NewHealthClient(conn.ClientConn()).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	assert.False(t, conn.Closed())
	conn.Close()
	assert.True(t, conn.Closed())
	conn.Close()
}

func TestConnectionErrors(t *testing.T) {
	_, err := NewConnection(context.Background(), "")
	assert.Error(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "grpc://" + lis.Addr().String()
	require.NoError(t, lis.Close())

	start := time.Now()
	_, err = NewConnection(context.Background(), url, WithConnectTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
}

func TestStreamConnection(t *testing.T) {
	url := startHealthServer(t)

	provider := func(conn *grpc.ClientConn) (grpc.ClientStream, func(), error) {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := healthpb.NewHealthClient(conn).Watch(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			cancel()
			return nil, nil, err
		}
		return stream, cancel, nil
	}

	conn, err := NewStreamConnection(context.Background(), url, provider)
	require.NoError(t, err)

	resp := &healthpb.HealthCheckResponse{}
	require.NoError(t, conn.Stream().RecvMsg(resp))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	conn.Close()
	assert.True(t, conn.Closed())
	conn.Close()

	failing := func(conn *grpc.ClientConn) (grpc.ClientStream, func(), error) {
		return nil, nil, assert.AnError
	}
	_, err = NewStreamConnection(context.Background(), url, failing)
	assert.Error(t, err)
}

func TestOptsFromPeerConfig(t *testing.T) {
	p := defaultParams()
	opts := OptsFromPeerConfig(config.PeerConfig{
		URL: "grpcs://peer0:7051",
		GRPCOptions: map[string]interface{}{
			"ssl-target-name-override": "peer0.org1.example.com",
			"keep-alive-time":          "10s",
			"keep-alive-permit":        "true",
			"fail-fast":                false,
			"allow-insecure":           "true",
		},
		TLSCACerts: config.TLSConfig{Path: "/tmp/ca.pem"},
	})
	for _, opt := range opts {
		opt(p)
	}

	assert.Equal(t, "peer0.org1.example.com", p.hostOverride)
	assert.Equal(t, 10*time.Second, p.keepAliveParams.Time)
	assert.True(t, p.keepAliveParams.PermitWithoutStream)
	assert.False(t, p.failFast)
	assert.True(t, p.insecure)
	assert.Equal(t, "/tmp/ca.pem", p.tlsCACertPath)

	p = defaultParams()
	for _, opt := range OptsFromOrdererConfig(config.OrdererConfig{URL: "orderer:7050"}) {
		opt(p)
	}
	assert.True(t, p.failFast)
	assert.False(t, p.insecure)
}

func TestTLSConfig(t *testing.T) {
	cfg, err := newTLSConfig("", "peer0")
	require.NoError(t, err)
	assert.Equal(t, "peer0", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)

	_, err = newTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), "")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0600))
	_, err = newTLSConfig(bad, "")
	assert.Error(t, err)
}

func TestValidateCertificateDates(t *testing.T) {
	now := time.Now()
	cert := &x509.Certificate{NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)}
	assert.NoError(t, validateCertificateDates(cert, now))
	assert.Error(t, validateCertificateDates(cert, now.Add(2*time.Hour)))
	assert.Error(t, validateCertificateDates(cert, now.Add(-2*time.Hour)))
}
