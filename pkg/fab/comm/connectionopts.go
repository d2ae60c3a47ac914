/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"time"

	"github.com/spf13/cast"
	"google.golang.org/grpc/keepalive"

	"github.com/hyperledger/fabric-txnflow/pkg/common/options"
	"github.com/hyperledger/fabric-txnflow/pkg/core/config"
)

type params struct {
	hostOverride    string
	tlsCACertPath   string
	keepAliveParams keepalive.ClientParameters
	failFast        bool
	insecure        bool
	connectTimeout  time.Duration
}

func defaultParams() *params {
	return &params{
		failFast:       true,
		connectTimeout: 3 * time.Second,
	}
}

// WithHostOverride sets the host name that will be used to resolve the TLS certificate
func WithHostOverride(value string) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(hostOverrideSetter); ok {
			setter.SetHostOverride(value)
		}
	}
}

// WithTLSCACertPath sets the PEM file holding the TLS root certificates
func WithTLSCACertPath(value string) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(tlsCACertPathSetter); ok {
			setter.SetTLSCACertPath(value)
		}
	}
}

// WithKeepAliveParams sets the GRPC keep-alive parameters
func WithKeepAliveParams(value keepalive.ClientParameters) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(keepAliveParamsSetter); ok {
			setter.SetKeepAliveParams(value)
		}
	}
}

// WithFailFast sets the GRPC fail-fast parameter
func WithFailFast(value bool) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(failFastSetter); ok {
			setter.SetFailFast(value)
		}
	}
}

// WithConnectTimeout sets the GRPC connection timeout
func WithConnectTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectTimeoutSetter); ok {
			setter.SetConnectTimeout(value)
		}
	}
}

// WithInsecure indicates to fall back to an insecure connection if the
// connection URL does not specify a protocol
func WithInsecure() options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(insecureSetter); ok {
			setter.SetInsecure(true)
		}
	}
}

func (p *params) SetHostOverride(value string) {
	logger.Debugf("HostOverride: %s", value)
	p.hostOverride = value
}

func (p *params) SetTLSCACertPath(value string) {
	logger.Debugf("TLSCACertPath: %s", value)
	p.tlsCACertPath = value
}

func (p *params) SetKeepAliveParams(value keepalive.ClientParameters) {
	logger.Debugf("KeepAliveParams: %#v", value)
	p.keepAliveParams = value
}

func (p *params) SetFailFast(value bool) {
	logger.Debugf("FailFast: %t", value)
	p.failFast = value
}

func (p *params) SetConnectTimeout(value time.Duration) {
	logger.Debugf("ConnectTimeout: %s", value)
	p.connectTimeout = value
}

func (p *params) SetInsecure(value bool) {
	logger.Debugf("Insecure: %t", value)
	p.insecure = value
}

type hostOverrideSetter interface {
	SetHostOverride(value string)
}

type tlsCACertPathSetter interface {
	SetTLSCACertPath(value string)
}

type keepAliveParamsSetter interface {
	SetKeepAliveParams(value keepalive.ClientParameters)
}

type failFastSetter interface {
	SetFailFast(value bool)
}

type insecureSetter interface {
	SetInsecure(value bool)
}

type connectTimeoutSetter interface {
	SetConnectTimeout(value time.Duration)
}

// OptsFromPeerConfig returns a set of connection options from the given peer config
func OptsFromPeerConfig(peerCfg config.PeerConfig) []options.Opt {
	return optsFromGRPCOptions(peerCfg.GRPCOptions, peerCfg.TLSCACerts.Path)
}

// OptsFromOrdererConfig returns a set of connection options from the given orderer config
func OptsFromOrdererConfig(ordererCfg config.OrdererConfig) []options.Opt {
	return optsFromGRPCOptions(ordererCfg.GRPCOptions, ordererCfg.TLSCACerts.Path)
}

func optsFromGRPCOptions(grpcOptions map[string]interface{}, tlsCACertPath string) []options.Opt {
	opts := []options.Opt{
		WithHostOverride(cast.ToString(grpcOptions["ssl-target-name-override"])),
		WithFailFast(getFailFast(grpcOptions)),
		WithKeepAliveParams(getKeepAliveOptions(grpcOptions)),
		WithTLSCACertPath(tlsCACertPath),
	}
	if cast.ToBool(grpcOptions["allow-insecure"]) {
		opts = append(opts, WithInsecure())
	}
	return opts
}

func getFailFast(grpcOptions map[string]interface{}) bool {
	if ff, ok := grpcOptions["fail-fast"]; ok {
		return cast.ToBool(ff)
	}
	return true
}

func getKeepAliveOptions(grpcOptions map[string]interface{}) keepalive.ClientParameters {
	var kap keepalive.ClientParameters
	if kaTime, ok := grpcOptions["keep-alive-time"]; ok {
		kap.Time = cast.ToDuration(kaTime)
	}
	if kaTimeout, ok := grpcOptions["keep-alive-timeout"]; ok {
		kap.Timeout = cast.ToDuration(kaTimeout)
	}
	if kaPermit, ok := grpcOptions["keep-alive-permit"]; ok {
		kap.PermitWithoutStream = cast.ToBool(kaPermit)
	}
	return kap
}
