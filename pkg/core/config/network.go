/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/core"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config/lookup"
)

// Event service delivery types
const (
	DeliverType         = "deliver"
	DeliverFilteredType = "deliverfiltered"
)

// Seek types accepted by eventService.seek
const (
	SeekNewest = "newest"
	SeekOldest = "oldest"
	SeekFrom   = "from"
)

// Metrics providers accepted by client.metrics.provider
const (
	MetricsDisabled   = "disabled"
	MetricsPrometheus = "prometheus"
)

// Defaults applied to a decoded network config.
const (
	defaultConnectTimeout      = 5 * time.Second
	defaultEndorsementTimeout  = 30 * time.Second
	defaultOrderingTimeout     = 30 * time.Second
	defaultCommitTimeout       = 60 * time.Second
	defaultQueryTimeout        = 30 * time.Second
	defaultRegistrationTimeout = 30 * time.Second
	defaultEventBufferSize     = 100
)

// NetworkConfig is the decoded, immutable view of the network a client talks to.
type NetworkConfig struct {
	Client        ClientConfig                  `yaml:"client"`
	Channel       ChannelConfig                 `yaml:"channel"`
	Organizations map[string]OrganizationConfig `yaml:"organizations"`
	Peers         map[string]PeerConfig         `yaml:"peers"`
	Orderer       OrdererConfig                 `yaml:"orderer"`
	EventService  EventServiceConfig            `yaml:"eventService"`
}

// ClientConfig holds the settings of the local client
type ClientConfig struct {
	Organization string         `yaml:"organization"`
	Logging      LoggingConfig  `yaml:"logging"`
	Timeouts     TimeoutsConfig `yaml:"timeouts"`
	Metrics      MetricsConfig  `yaml:"metrics"`
}

// LoggingConfig is applied to the module loggers when the config is loaded
type LoggingConfig struct {
	Level   string            `yaml:"level,omitempty"`
	Format  string            `yaml:"format,omitempty"`
	Modules map[string]string `yaml:"modules,omitempty"`
}

// TimeoutsConfig bounds each network round trip
type TimeoutsConfig struct {
	Connect     time.Duration
	Endorsement time.Duration
	Ordering    time.Duration
	Commit      time.Duration
	Query       time.Duration
}

// MarshalYAML renders durations in their string form
func (t TimeoutsConfig) MarshalYAML() (interface{}, error) {
	return map[string]string{
		"connect":     t.Connect.String(),
		"endorsement": t.Endorsement.String(),
		"ordering":    t.Ordering.String(),
		"commit":      t.Commit.String(),
		"query":       t.Query.String(),
	}, nil
}

// MetricsConfig selects the metrics provider
type MetricsConfig struct {
	Provider string `yaml:"provider,omitempty"`
}

// ChannelConfig describes the channel and the peers that endorse on it
type ChannelConfig struct {
	Name        string            `yaml:"name"`
	Peers       []string          `yaml:"peers"`
	Endorsement EndorsementConfig `yaml:"endorsement"`
}

// EndorsementConfig holds the acceptance rules of the endorsement collector.
// Policy is an optional boolean expression over MSP IDs and "total".
type EndorsementConfig struct {
	MinResponses int    `yaml:"minResponses"`
	Policy       string `yaml:"policy,omitempty"`
}

// OrganizationConfig maps an organization to its MSP and peers
type OrganizationConfig struct {
	MSPID string   `yaml:"mspid"`
	Peers []string `yaml:"peers"`
}

// PeerConfig is a peer endpoint
type PeerConfig struct {
	URL         string                 `yaml:"url"`
	GRPCOptions map[string]interface{} `yaml:"grpcOptions,omitempty"`
	TLSCACerts  TLSConfig              `yaml:"tlsCACerts,omitempty"`
}

// OrdererConfig is an orderer endpoint
type OrdererConfig struct {
	URL         string                 `yaml:"url"`
	GRPCOptions map[string]interface{} `yaml:"grpcOptions,omitempty"`
	TLSCACerts  TLSConfig              `yaml:"tlsCACerts,omitempty"`
}

// TLSConfig points at a PEM bundle of root certificates
type TLSConfig struct {
	Path string `yaml:"path,omitempty"`
}

// EventServiceConfig configures the deliver connection of the event hub
type EventServiceConfig struct {
	Peer                string
	Type                string
	Seek                string
	BufferSize          int
	RegistrationTimeout time.Duration
}

// MarshalYAML renders the registration timeout in its string form
func (e EventServiceConfig) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"peer":                e.Peer,
		"type":                e.Type,
		"seek":                e.Seek,
		"bufferSize":          e.BufferSize,
		"registrationTimeout": e.RegistrationTimeout.String(),
	}, nil
}

// NamedPeer pairs a peer config with its name
type NamedPeer struct {
	Name  string
	MSPID string
	PeerConfig
}

// Load decodes, defaults and validates the network config held by the given provider
func Load(provider core.ConfigProvider) (*NetworkConfig, error) {
	if provider == nil {
		return nil, errors.New("config provider is nil")
	}
	backends, err := provider()
	if err != nil {
		return nil, errors.WithMessage(err, "unable to load config backends")
	}
	return FromBackend(backends...)
}

// FromBackend decodes the network config from already loaded backends
func FromBackend(backends ...core.ConfigBackend) (*NetworkConfig, error) {
	l := lookup.New(backends...)

	cfg := &NetworkConfig{}
	sections := []struct {
		key string
		val interface{}
	}{
		{"client", &cfg.Client},
		{"channel", &cfg.Channel},
		{"organizations", &cfg.Organizations},
		{"peers", &cfg.Peers},
		{"orderer", &cfg.Orderer},
		{"eventService", &cfg.EventService},
	}
	for _, s := range sections {
		if err := l.UnmarshalKey(s.key, s.val); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s section", s.key)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize lower cases names, since the viper backend lower cases map keys,
// and fills in defaults.
func (c *NetworkConfig) normalize() {
	c.Client.Organization = strings.ToLower(c.Client.Organization)
	c.Channel.Peers = lowerAll(c.Channel.Peers)
	c.EventService.Peer = strings.ToLower(c.EventService.Peer)
	c.EventService.Type = strings.ToLower(c.EventService.Type)
	c.EventService.Seek = strings.ToLower(strings.TrimSpace(c.EventService.Seek))
	c.Client.Metrics.Provider = strings.ToLower(c.Client.Metrics.Provider)

	orgs := make(map[string]OrganizationConfig, len(c.Organizations))
	for name, org := range c.Organizations {
		org.Peers = lowerAll(org.Peers)
		orgs[strings.ToLower(name)] = org
	}
	c.Organizations = orgs

	peers := make(map[string]PeerConfig, len(c.Peers))
	for name, p := range c.Peers {
		peers[strings.ToLower(name)] = p
	}
	c.Peers = peers

	t := &c.Client.Timeouts
	t.Connect = durationOrDefault(t.Connect, defaultConnectTimeout)
	t.Endorsement = durationOrDefault(t.Endorsement, defaultEndorsementTimeout)
	t.Ordering = durationOrDefault(t.Ordering, defaultOrderingTimeout)
	t.Commit = durationOrDefault(t.Commit, defaultCommitTimeout)
	t.Query = durationOrDefault(t.Query, defaultQueryTimeout)

	if c.Channel.Endorsement.MinResponses <= 0 {
		c.Channel.Endorsement.MinResponses = 1
	}

	es := &c.EventService
	if es.Peer == "" && len(c.Channel.Peers) > 0 {
		es.Peer = c.Channel.Peers[0]
	}
	if es.Type == "" {
		es.Type = DeliverType
	}
	if es.Seek == "" {
		es.Seek = SeekNewest
	}
	if es.BufferSize <= 0 {
		es.BufferSize = defaultEventBufferSize
	}
	es.RegistrationTimeout = durationOrDefault(es.RegistrationTimeout, defaultRegistrationTimeout)

	if c.Client.Metrics.Provider == "" {
		c.Client.Metrics.Provider = MetricsDisabled
	}
}

// Validate checks that every reference in the config resolves
func (c *NetworkConfig) Validate() error {
	if c.Channel.Name == "" {
		return errors.New("channel.name is required")
	}
	if len(c.Channel.Peers) == 0 {
		return errors.New("channel.peers must list at least one peer")
	}
	for _, name := range c.Channel.Peers {
		p, ok := c.Peers[name]
		if !ok {
			return errors.Errorf("channel peer %s is not defined in peers", name)
		}
		if p.URL == "" {
			return errors.Errorf("peer %s has no url", name)
		}
		if c.PeerMSPID(name) == "" {
			return errors.Errorf("peer %s does not belong to any organization", name)
		}
	}
	if c.Channel.Endorsement.MinResponses > len(c.Channel.Peers) {
		return errors.Errorf("channel.endorsement.minResponses [%d] exceeds the number of channel peers [%d]",
			c.Channel.Endorsement.MinResponses, len(c.Channel.Peers))
	}
	for name, org := range c.Organizations {
		if org.MSPID == "" {
			return errors.Errorf("organization %s has no mspid", name)
		}
	}
	if c.Client.Organization != "" {
		if _, ok := c.Organizations[c.Client.Organization]; !ok {
			return errors.Errorf("client organization %s is not defined", c.Client.Organization)
		}
	}
	if c.Orderer.URL == "" {
		return errors.New("orderer.url is required")
	}
	if _, ok := c.Peers[c.EventService.Peer]; !ok {
		return errors.Errorf("event service peer %s is not defined in peers", c.EventService.Peer)
	}
	switch c.EventService.Type {
	case DeliverType, DeliverFilteredType:
	default:
		return errors.Errorf("unsupported event service type [%s]", c.EventService.Type)
	}
	if _, _, err := ParseSeek(c.EventService.Seek); err != nil {
		return err
	}
	switch c.Client.Metrics.Provider {
	case MetricsDisabled, MetricsPrometheus:
	default:
		return errors.Errorf("unsupported metrics provider [%s]", c.Client.Metrics.Provider)
	}
	return nil
}

// ParseSeek splits an eventService.seek value into its type and starting block.
// Accepted forms are "newest", "oldest" and "from:<block>".
func ParseSeek(seek string) (string, uint64, error) {
	switch seek {
	case SeekNewest, SeekOldest:
		return seek, 0, nil
	}
	if strings.HasPrefix(seek, SeekFrom+":") {
		n, err := strconv.ParseUint(strings.TrimPrefix(seek, SeekFrom+":"), 10, 64)
		if err != nil {
			return "", 0, errors.Wrapf(err, "invalid block number in seek [%s]", seek)
		}
		return SeekFrom, n, nil
	}
	return "", 0, errors.Errorf("unsupported seek [%s]", seek)
}

// ChannelPeers returns the endorsing peers of the channel in configured order
func (c *NetworkConfig) ChannelPeers() []NamedPeer {
	peers := make([]NamedPeer, 0, len(c.Channel.Peers))
	for _, name := range c.Channel.Peers {
		peers = append(peers, NamedPeer{Name: name, MSPID: c.PeerMSPID(name), PeerConfig: c.Peers[name]})
	}
	return peers
}

// EventPeer returns the peer the event hub connects to
func (c *NetworkConfig) EventPeer() NamedPeer {
	name := c.EventService.Peer
	return NamedPeer{Name: name, MSPID: c.PeerMSPID(name), PeerConfig: c.Peers[name]}
}

// PeerMSPID returns the MSP ID of the organization owning the named peer
func (c *NetworkConfig) PeerMSPID(name string) string {
	name = strings.ToLower(name)
	for _, org := range c.Organizations {
		for _, p := range org.Peers {
			if p == name {
				return org.MSPID
			}
		}
	}
	return ""
}

// ClientMSPID returns the MSP ID of the client organization
func (c *NetworkConfig) ClientMSPID() string {
	return c.Organizations[c.Client.Organization].MSPID
}

// MSPIDs returns the sorted MSP IDs of every configured organization
func (c *NetworkConfig) MSPIDs() []string {
	ids := make([]string, 0, len(c.Organizations))
	for _, org := range c.Organizations {
		ids = append(ids, org.MSPID)
	}
	sort.Strings(ids)
	return ids
}

func lowerAll(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = strings.ToLower(v)
	}
	return out
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
