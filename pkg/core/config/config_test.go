/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
)

const configTestFile = "testdata/network.yaml"

func TestFromFile(t *testing.T) {
	cfg, err := Load(FromFile(configTestFile))
	require.NoError(t, err)

	assert.Equal(t, "mychannel", cfg.Channel.Name)
	assert.Equal(t, "org1", cfg.Client.Organization)
	assert.Equal(t, "Org1MSP", cfg.ClientMSPID())
	assert.Equal(t, 2, cfg.Channel.Endorsement.MinResponses)
	assert.Equal(t, "Org1MSP >= 1 && Org2MSP >= 1", cfg.Channel.Endorsement.Policy)
	assert.Equal(t, []string{"Org1MSP", "Org2MSP"}, cfg.MSPIDs())

	assert.Equal(t, 3*time.Second, cfg.Client.Timeouts.Connect)
	assert.Equal(t, 20*time.Second, cfg.Client.Timeouts.Endorsement)
	assert.Equal(t, 50*time.Second, cfg.Client.Timeouts.Commit)
	assert.Equal(t, defaultOrderingTimeout, cfg.Client.Timeouts.Ordering)
	assert.Equal(t, defaultQueryTimeout, cfg.Client.Timeouts.Query)
	assert.Equal(t, MetricsPrometheus, cfg.Client.Metrics.Provider)

	peers := cfg.ChannelPeers()
	require.Len(t, peers, 2)
	assert.Equal(t, "peer0.org1.example.com", peers[0].Name)
	assert.Equal(t, "Org1MSP", peers[0].MSPID)
	assert.Equal(t, "grpc://localhost:7051", peers[0].URL)
	assert.Equal(t, true, peers[0].GRPCOptions["allow-insecure"])
	assert.Equal(t, "Org2MSP", peers[1].MSPID)
	assert.Equal(t, "${TXNFLOW_CRYPTO}/org2/tlsca.pem", peers[1].TLSCACerts.Path)

	ep := cfg.EventPeer()
	assert.Equal(t, "peer0.org1.example.com", ep.Name)
	assert.Equal(t, DeliverType, cfg.EventService.Type)
	assert.Equal(t, SeekNewest, cfg.EventService.Seek)
	assert.Equal(t, 20*time.Second, cfg.EventService.RegistrationTimeout)
	assert.Equal(t, defaultEventBufferSize, cfg.EventService.BufferSize)

	assert.Equal(t, "grpc://localhost:7050", cfg.Orderer.URL)
	assert.Equal(t, logging.DEBUG, logging.GetLevel("txnflow/fab/events"))
	assert.Equal(t, logging.INFO, logging.GetLevel("txnflow/fab"))
}

func TestFromFileMissing(t *testing.T) {
	_, err := Load(FromFile(""))
	assert.Error(t, err)

	_, err = Load(FromFile("testdata/missing.yaml"))
	assert.Error(t, err)
}

func TestFromRawErrors(t *testing.T) {
	_, err := FromRaw([]byte("channel: {}"), "")()
	assert.EqualError(t, err, "empty config type")

	_, err = FromRaw([]byte("client:\n  logging:\n    level: loud\n"), "yaml")()
	assert.Error(t, err)

	_, err = FromRaw([]byte("client:\n  logging:\n    format: xml\n"), "yaml")()
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("TXNFLOW_ORDERER_URL", "grpc://orderer.example.com:7050"))
	defer os.Unsetenv("TXNFLOW_ORDERER_URL")

	backends, err := FromFile(configTestFile)()
	require.NoError(t, err)
	v, ok := backends[0].Lookup("orderer.url")
	require.True(t, ok)
	assert.Equal(t, "grpc://orderer.example.com:7050", v)
}

func TestDefaults(t *testing.T) {
	raw := `
channel:
  name: ch
  peers: [p0]
organizations:
  org1:
    mspid: Org1MSP
    peers: [p0]
peers:
  p0:
    url: localhost:7051
orderer:
  url: localhost:7050
`
	cfg, err := Load(FromRaw([]byte(raw), "yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Channel.Endorsement.MinResponses)
	assert.Equal(t, "p0", cfg.EventService.Peer)
	assert.Equal(t, DeliverType, cfg.EventService.Type)
	assert.Equal(t, defaultRegistrationTimeout, cfg.EventService.RegistrationTimeout)
	assert.Equal(t, defaultConnectTimeout, cfg.Client.Timeouts.Connect)
	assert.Equal(t, defaultCommitTimeout, cfg.Client.Timeouts.Commit)
	assert.Equal(t, MetricsDisabled, cfg.Client.Metrics.Provider)
}

func TestValidate(t *testing.T) {
	base := func() *NetworkConfig {
		cfg := &NetworkConfig{
			Channel: ChannelConfig{Name: "ch", Peers: []string{"p0"}},
			Organizations: map[string]OrganizationConfig{
				"org1": {MSPID: "Org1MSP", Peers: []string{"p0"}},
			},
			Peers:   map[string]PeerConfig{"p0": {URL: "localhost:7051"}},
			Orderer: OrdererConfig{URL: "localhost:7050"},
		}
		cfg.normalize()
		return cfg
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *NetworkConfig)
		errMsg string
	}{
		{"no channel", func(c *NetworkConfig) { c.Channel.Name = "" }, "channel.name"},
		{"no peers", func(c *NetworkConfig) { c.Channel.Peers = nil }, "channel.peers"},
		{"undefined peer", func(c *NetworkConfig) { c.Channel.Peers = []string{"p9"} }, "not defined"},
		{"peer without url", func(c *NetworkConfig) { c.Peers["p0"] = PeerConfig{} }, "no url"},
		{"orphan peer", func(c *NetworkConfig) { c.Organizations = nil }, "organization"},
		{"quorum too large", func(c *NetworkConfig) { c.Channel.Endorsement.MinResponses = 2 }, "minResponses"},
		{"no orderer", func(c *NetworkConfig) { c.Orderer.URL = "" }, "orderer.url"},
		{"bad event type", func(c *NetworkConfig) { c.EventService.Type = "eventhub" }, "event service type"},
		{"bad seek", func(c *NetworkConfig) { c.EventService.Seek = "from:x" }, "seek"},
		{"bad metrics", func(c *NetworkConfig) { c.Client.Metrics.Provider = "statsd" }, "metrics provider"},
		{"unknown client org", func(c *NetworkConfig) { c.Client.Organization = "org7" }, "client organization"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestParseSeek(t *testing.T) {
	typ, n, err := ParseSeek("from:42")
	require.NoError(t, err)
	assert.Equal(t, SeekFrom, typ)
	assert.Equal(t, uint64(42), n)

	typ, _, err = ParseSeek(SeekOldest)
	require.NoError(t, err)
	assert.Equal(t, SeekOldest, typ)

	_, _, err = ParseSeek("latest")
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg, err := Load(FromFile(configTestFile))
	require.NoError(t, err)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "commit: 50s"))

	reloaded, err := Load(FromRaw(out, "yaml"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Client.Timeouts, reloaded.Client.Timeouts)
	assert.Equal(t, cfg.EventService, reloaded.EventService)
	assert.Equal(t, cfg.Channel, reloaded.Channel)
}
