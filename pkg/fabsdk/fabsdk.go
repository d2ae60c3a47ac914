/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fabsdk wires the clients of a Hyperledger Fabric channel from a
// network config and a signing identity.
package fabsdk

import (
	reqContext "context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/client/channel"
	"github.com/hyperledger/fabric-txnflow/pkg/client/channel/invoke"
	"github.com/hyperledger/fabric-txnflow/pkg/client/resmgmt"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics/disabled"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics/prometheus"
	commonopts "github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/core"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/chconfig"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/comm"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/endorsement"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/api"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/client"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/deliverclient/seek"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/events/service/dispatcher"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/orderer"
	"github.com/hyperledger/fabric-txnflow/pkg/fab/peer"
	sdkmetrics "github.com/hyperledger/fabric-txnflow/pkg/fabsdk/metrics"
)

var logger = logging.NewLogger("txnflow/fabsdk")

// FabricSDK provides access to the clients of one channel. The clients share the
// peer and orderer connections and the event hub.
type FabricSDK struct {
	config          *config.NetworkConfig
	identity        msp.SigningIdentity
	metricsProvider metrics.Provider

	peers          []*peer.Peer
	orderer        *orderer.Orderer
	collector      *endorsement.Collector
	eventClient    *deliverclient.Client
	channelClient  *channel.Client
	resourceClient *resmgmt.Client

	closeOnce sync.Once
}

type options struct {
	metricsProvider metrics.Provider
	eventOpts       []commonopts.Opt
}

// Option configures the SDK.
type Option func(opts *options) error

// WithMetricsProvider overrides the metrics provider selected by client.metrics.provider
func WithMetricsProvider(p metrics.Provider) Option {
	return func(opts *options) error {
		if p == nil {
			return errors.New("metrics provider is nil")
		}
		opts.metricsProvider = p
		return nil
	}
}

// WithEventServiceOpts adds options to the deliver event client, for example
// client.WithConnectionEvent to observe connection changes
func WithEventServiceOpts(opts ...commonopts.Opt) Option {
	return func(o *options) error {
		o.eventOpts = append(o.eventOpts, opts...)
		return nil
	}
}

// New initializes the SDK from the network config held by configProvider. The event
// hub is created disconnected; call Connect before invoking transactions.
func New(configProvider core.ConfigProvider, identity msp.SigningIdentity, opts ...Option) (*FabricSDK, error) {
	if identity == nil {
		return nil, errors.New("signing identity is required")
	}

	o := options{}
	for _, option := range opts {
		if err := option(&o); err != nil {
			return nil, errors.WithMessage(err, "Error in option passed to New")
		}
	}

	cfg, err := config.Load(configProvider)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to initialize configuration")
	}

	sdk := &FabricSDK{
		config:          cfg,
		identity:        identity,
		metricsProvider: o.metricsProvider,
	}
	if sdk.metricsProvider == nil {
		sdk.metricsProvider = newMetricsProvider(cfg.Client.Metrics.Provider)
	}

	if err := sdk.init(o); err != nil {
		sdk.Close()
		return nil, err
	}

	logger.Infof("SDK initialized for channel %s with %d peers", cfg.Channel.Name, len(sdk.peers))
	return sdk, nil
}

func newMetricsProvider(name string) metrics.Provider {
	if name == config.MetricsPrometheus {
		return &prometheus.Provider{}
	}
	return &disabled.Provider{}
}

func (sdk *FabricSDK) init(o options) error {
	cfg := sdk.config
	connectTimeout := comm.WithConnectTimeout(cfg.Client.Timeouts.Connect)

	for _, p := range cfg.ChannelPeers() {
		endorser, err := peer.New(peer.FromPeerConfig(p), peer.WithConnOpts(connectTimeout))
		if err != nil {
			return errors.WithMessagef(err, "failed to create peer %s", p.Name)
		}
		sdk.peers = append(sdk.peers, endorser)
	}

	ord, err := orderer.New(orderer.FromOrdererConfig(cfg.Orderer), orderer.WithConnOpts(connectTimeout))
	if err != nil {
		return errors.WithMessage(err, "failed to create orderer")
	}
	sdk.orderer = ord

	sdk.collector, err = endorsement.New(sdk.identity,
		endorsement.WithMinResponses(cfg.Channel.Endorsement.MinResponses),
		endorsement.WithPolicy(cfg.Channel.Endorsement.Policy),
		endorsement.WithTimeout(cfg.Client.Timeouts.Endorsement),
		endorsement.WithMetricsProvider(sdk.metricsProvider),
	)
	if err != nil {
		return errors.WithMessage(err, "failed to create endorsement collector")
	}

	sdk.eventClient, err = sdk.newEventClient(o.eventOpts)
	if err != nil {
		return errors.WithMessage(err, "failed to create event client")
	}

	clientContext := invoke.ClientContext{
		Channel:       chconfig.FromNetworkConfig(cfg),
		Signer:        sdk.identity,
		Endorser:      sdk.collector,
		Targets:       sdk.targets(),
		Orderer:       sdk.orderer,
		EventService:  sdk.eventClient,
		CommitTimeout: cfg.Client.Timeouts.Commit,
	}

	timeouts := cfg.Client.Timeouts
	sdk.channelClient, err = channel.New(clientContext,
		channel.WithQueryTimeout(timeouts.Query),
		channel.WithExecuteTimeout(timeouts.Endorsement+timeouts.Ordering+timeouts.Commit),
		channel.WithMetrics(sdkmetrics.NewClientMetrics(sdk.metricsProvider)),
	)
	if err != nil {
		return errors.WithMessage(err, "failed to create channel client")
	}

	sdk.resourceClient, err = resmgmt.New(resmgmt.Context{ClientContext: clientContext, MSPIDs: cfg.MSPIDs()})
	if err != nil {
		return errors.WithMessage(err, "failed to create resource management client")
	}

	return nil
}

func (sdk *FabricSDK) newEventClient(extra []commonopts.Opt) (*deliverclient.Client, error) {
	cfg := sdk.config.EventService

	seekType, fromBlock, err := config.ParseSeek(cfg.Seek)
	if err != nil {
		return nil, err
	}

	opts := []commonopts.Opt{
		deliverclient.WithSeekType(seek.Type(seekType)),
		dispatcher.WithEventConsumerBufferSize(uint(cfg.BufferSize)),
		dispatcher.WithRegistrationTimeout(cfg.RegistrationTimeout),
		dispatcher.WithMetricsProvider(sdk.metricsProvider),
		client.WithResponseTimeout(sdk.config.Client.Timeouts.Connect),
	}
	if seekType == config.SeekFrom {
		opts = append(opts, deliverclient.WithBlockNum(fromBlock))
	}
	if cfg.Type == config.DeliverFilteredType {
		opts = append(opts, deliverclient.WithFilteredBlocks())
	}
	opts = append(opts, extra...)

	eventPeer := sdk.config.EventPeer()
	endpoint := api.Endpoint{
		URL:  eventPeer.URL,
		Opts: append(comm.OptsFromPeerConfig(eventPeer.PeerConfig), comm.WithConnectTimeout(sdk.config.Client.Timeouts.Connect)),
	}

	return deliverclient.New(sdk.identity, sdk.config.Channel.Name, endpoint, opts...)
}

func (sdk *FabricSDK) targets() []fab.ProposalProcessor {
	targets := make([]fab.ProposalProcessor, len(sdk.peers))
	for i, p := range sdk.peers {
		targets[i] = p
	}
	return targets
}

// Connect connects the event hub to the configured event peer
func (sdk *FabricSDK) Connect() error {
	if err := sdk.eventClient.Connect(); err != nil {
		return errors.WithMessage(err, "failed to connect event hub")
	}
	return nil
}

// Config returns the network config the SDK was created from
func (sdk *FabricSDK) Config() *config.NetworkConfig {
	return sdk.config
}

// ChannelClient returns the client of the configured channel
func (sdk *FabricSDK) ChannelClient() *channel.Client {
	return sdk.channelClient
}

// ResourceClient returns the chaincode management client
func (sdk *FabricSDK) ResourceClient() *resmgmt.Client {
	return sdk.resourceClient
}

// EventService returns the event hub
func (sdk *FabricSDK) EventService() fab.EventService {
	return sdk.eventClient
}

// ConnectionState returns the state of the event hub connection
func (sdk *FabricSDK) ConnectionState() client.ConnectionState {
	return sdk.eventClient.ConnectionState()
}

// EndorsementStats returns the counters of the endorsement collector
func (sdk *FabricSDK) EndorsementStats() endorsement.Stats {
	return sdk.collector.Stats()
}

// Close disconnects the event hub and frees network resources. Pending
// registrations are resolved with Disconnected. Close may be called more than once.
func (sdk *FabricSDK) Close() {
	sdk.closeOnce.Do(func() {
		logger.Debug("Closing SDK")
		if sdk.eventClient != nil {
			sdk.eventClient.Close()
		}
		for _, p := range sdk.peers {
			p.Close()
		}
		if sdk.orderer != nil {
			sdk.orderer.Close()
		}
	})
}

// Run creates the SDK, connects the event hub and calls fn. The SDK is closed when
// fn returns, panics, or ctx is done. The error of fn is returned.
func Run(ctx reqContext.Context, configProvider core.ConfigProvider, identity msp.SigningIdentity, fn func(ctx reqContext.Context, sdk *FabricSDK) error, opts ...Option) error {
	sdk, err := New(configProvider, identity, opts...)
	if err != nil {
		return err
	}
	defer sdk.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sdk.Connect(); err != nil {
		return err
	}

	runCtx, cancel := reqContext.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				logger.Debugf("Run context done: %s", ctx.Err())
				sdk.Close()
			}
		case <-done:
		}
	}()
	defer close(done)

	return fn(runCtx, sdk)
}
