/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/mocks"
)

const (
	testChannel = "mychannel"
	testMSPID   = "Org1MSP"
)

var testPackage = []byte("events_cc code package")

type testEnv struct {
	network  *mocks.MockNetwork
	dir      string
	cfgPath  string
	certPath string
	keyPath  string
	pkgPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	n, err := mocks.StartMockNetwork(testChannel)
	require.NoError(t, err)
	t.Cleanup(n.Stop)

	env := &testEnv{network: n, dir: t.TempDir()}

	raw, err := n.ConfigBytes()
	require.NoError(t, err)
	env.cfgPath = filepath.Join(env.dir, "network.yaml")
	require.NoError(t, os.WriteFile(env.cfgPath, raw, 0600))

	certPEM, keyPEM := generateCredentials(t)
	env.certPath = filepath.Join(env.dir, "cert.pem")
	env.keyPath = filepath.Join(env.dir, "priv_sk")
	require.NoError(t, os.WriteFile(env.certPath, certPEM, 0600))
	require.NoError(t, os.WriteFile(env.keyPath, keyPEM, 0600))

	env.pkgPath = filepath.Join(env.dir, "events_cc.tar.gz")
	require.NoError(t, os.WriteFile(env.pkgPath, testPackage, 0600))
	return env
}

func generateCredentials(t *testing.T) (certPEM, keyPEM []byte) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "User1@org1.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
}

// run executes the root command with the credentials of env
func (env *testEnv) run(args ...string) (string, error) {
	global := []string{
		"--config", env.cfgPath,
		"--cert", env.certPath,
		"--key", env.keyPath,
		"--mspid", testMSPID,
		"--timeout", "1m",
	}
	return execute(append(args, global...)...)
}

func execute(args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInstallInvokeQuery(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("install", "--name", "events", "--path", mocks.EventsCCPath, "--version", "v0", "--package", env.pkgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "installed on "+mocks.Org1Peer)
	assert.Contains(t, out, "installed on "+mocks.Org2Peer)
	assert.Contains(t, out, "VALID")

	for name, peer := range env.network.Peers {
		installed, ok := peer.Endorser.InstalledPackage("events", "v0")
		require.True(t, ok, name)
		assert.Equal(t, testPackage, installed, name)
	}

	out, err = env.run("invoke", "--name", "events", "--fcn", "invoke", "--args", "SEVERE")
	require.NoError(t, err, out)
	assert.Contains(t, out, "VALID")

	out, err = env.run("invoke", "--name", "events", "--fcn", "invoke", "--args", "SEVERE", "--retries", "2")
	require.NoError(t, err, out)

	out, err = env.run("query", "--name", "events", "--fcn", "query")
	require.NoError(t, err, out)
	assert.Equal(t, "2", strings.TrimSpace(out))
}

func TestInvokeUnknownChaincode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("invoke", "--name", "unknown", "--fcn", "invoke")
	assert.Error(t, err)
}

func TestMissingParams(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("install", "--name", "events")
	assert.EqualError(t, err, "the required parameters 'name', 'path', 'version' and 'package' must be set")

	_, err = env.run("install", "--name", "events", "--path", mocks.EventsCCPath, "--version", "v0")
	assert.EqualError(t, err, "the required parameters 'name', 'path', 'version' and 'package' must be set")

	_, err = env.run("invoke", "--name", "events")
	assert.EqualError(t, err, "the required parameters 'name' and 'fcn' must be set")

	_, err = env.run("listen", "--name", "events")
	assert.EqualError(t, err, "the required parameters 'name' and 'pattern' must be set")

	_, err = execute("query", "--name", "events", "--fcn", "query")
	assert.EqualError(t, err, "the required parameter 'config' is empty. Rerun the command with --config")

	_, err = execute("query", "--name", "events", "--fcn", "query", "--config", env.cfgPath, "--cert", env.certPath, "--key", env.keyPath)
	assert.EqualError(t, err, "the required parameter 'mspid' is empty. Rerun the command with --mspid")

	_, err = execute("query", "--name", "events", "--fcn", "query", "--config", env.cfgPath, "--mspid", testMSPID)
	assert.Error(t, err)
}

func TestBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.keyPath = filepath.Join(env.dir, "missing_sk")

	_, err := env.run("query", "--name", "events", "--fcn", "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load client identity")
}

func TestInstallBadPackage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("install", "--name", "events", "--path", mocks.EventsCCPath, "--version", "v0",
		"--package", filepath.Join(env.dir, "missing.tar.gz"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read chaincode package")

	empty := filepath.Join(env.dir, "empty.tar.gz")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	_, err = env.run("install", "--name", "events", "--path", mocks.EventsCCPath, "--version", "v0", "--package", empty)
	assert.EqualError(t, err, "chaincode package "+empty+" is empty")

	for _, peer := range env.network.Peers {
		assert.False(t, peer.Endorser.IsInstalled("events", "v0"))
	}
}

func TestListenTimesOut(t *testing.T) {
	env := newTestEnv(t)

	start := time.Now()
	_, err := env.run("listen", "--name", "events", "--pattern", "^never$", "--wait", "500ms")
	require.Error(t, err)
	assert.True(t, time.Since(start) >= 500*time.Millisecond)
}

func TestListenReceivesEvent(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("install", "--name", "events", "--path", mocks.EventsCCPath, "--version", "v0", "--package", env.pkgPath)
	require.NoError(t, err, out)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := env.run("listen", "--name", "events", "--pattern", "^evtsender*", "--wait", "20s")
		done <- result{out, err}
	}()

	// keep invoking until the listener, which registers asynchronously, sees an event
	deadline := time.After(20 * time.Second)
	for {
		select {
		case r := <-done:
			require.NoError(t, r.err, r.out)
			assert.Contains(t, r.out, mocks.EventSenderEventName)
			assert.Contains(t, r.out, ",SEVERE")
			return
		case <-deadline:
			t.Fatal("listener did not receive an event")
		case <-time.After(500 * time.Millisecond):
			out, err := env.run("invoke", "--name", "events", "--fcn", "invoke", "--args", "SEVERE")
			require.NoError(t, err, out)
		}
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "network.yaml")

	out, err := execute("config", "init",
		"--output", output,
		"--channel", "mychannel",
		"--org", "Org1",
		"--mspid", "Org1MSP",
		"--peer", "peer0.org1.example.com=grpcs://localhost:7051",
		"--peer", "peer1.org1.example.com=grpcs://localhost:8051",
		"--orderer", "grpcs://localhost:7050",
		"--min-responses", "2",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, output)

	cfg, err := config.Load(config.FromFile(output))
	require.NoError(t, err)
	assert.Equal(t, "mychannel", cfg.Channel.Name)
	assert.Equal(t, []string{"peer0.org1.example.com", "peer1.org1.example.com"}, cfg.Channel.Peers)
	assert.Equal(t, 2, cfg.Channel.Endorsement.MinResponses)
	assert.Equal(t, "peer0.org1.example.com", cfg.EventService.Peer)
	assert.Equal(t, config.SeekNewest, cfg.EventService.Seek)
	assert.Equal(t, []string{"Org1MSP"}, cfg.MSPIDs())
	assert.Equal(t, "grpcs://localhost:7050", cfg.Orderer.URL)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeouts.Endorsement)
}

func TestConfigInitStdout(t *testing.T) {
	out, err := execute("config", "init",
		"--channel", "mychannel",
		"--peer", "peer0=grpc://localhost:7051",
		"--orderer", "grpc://localhost:7050",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "name: mychannel")
	assert.Contains(t, out, "url: grpc://localhost:7051")
}

func TestConfigInitErrors(t *testing.T) {
	_, err := execute("config", "init", "--peer", "p=grpc://localhost:7051", "--orderer", "grpc://localhost:7050")
	assert.EqualError(t, err, "the required parameter 'channel' is empty. Rerun the command with --channel")

	_, err = execute("config", "init", "--channel", "ch", "--peer", "p=grpc://localhost:7051")
	assert.EqualError(t, err, "the required parameter 'orderer' is empty. Rerun the command with --orderer")

	_, err = execute("config", "init", "--channel", "ch", "--orderer", "grpc://localhost:7050")
	assert.EqualError(t, err, "at least one --peer name=url is required")

	_, err = execute("config", "init", "--channel", "ch", "--orderer", "grpc://localhost:7050", "--peer", "nourl")
	assert.EqualError(t, err, "invalid peer [nourl]: expecting name=url")

	_, err = execute("config", "init", "--channel", "ch", "--orderer", "grpc://localhost:7050",
		"--peer", "p=grpc://localhost:7051", "--peer", "p=grpc://localhost:8051")
	assert.EqualError(t, err, "peer p is listed more than once")

	_, err = execute("config", "init", "--channel", "ch", "--orderer", "grpc://localhost:7050",
		"--peer", "p=grpc://localhost:7051", "--min-responses", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the number of channel peers")
}
