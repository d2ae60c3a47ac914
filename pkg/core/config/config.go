/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/core"
	"github.com/hyperledger/fabric-txnflow/pkg/core/logging/modlog"
)

// rootLogModule covers every module logger through prefix lookup
const rootLogModule = "txnflow"

type options struct {
	envPrefix    string
	templatePath string
}

const (
	cmdRoot = "TXNFLOW"
)

// Option configures the package.
type Option func(opts *options) error

// FromReader loads configuration from in.
// configType can be "json" or "yaml".
func FromReader(in io.Reader, configType string, opts ...Option) core.ConfigProvider {
	return func() ([]core.ConfigBackend, error) {
		return initFromReader(in, configType, opts...)
	}
}

// FromFile reads from named config file
func FromFile(name string, opts ...Option) core.ConfigProvider {
	return func() ([]core.ConfigBackend, error) {
		backend, err := newBackend(opts...)
		if err != nil {
			return nil, err
		}

		if name == "" {
			return nil, errors.New("filename is required")
		}

		backend.configViper.SetConfigFile(name)

		err = backend.configViper.MergeInConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "loading config file failed: %s", name)
		}

		if err := setLogLevel(backend); err != nil {
			return nil, err
		}

		return []core.ConfigBackend{backend}, nil
	}
}

// FromRaw will initialize the configs from a byte array
func FromRaw(configBytes []byte, configType string, opts ...Option) core.ConfigProvider {
	return func() ([]core.ConfigBackend, error) {
		buf := bytes.NewBuffer(configBytes)
		return initFromReader(buf, configType, opts...)
	}
}

func initFromReader(in io.Reader, configType string, opts ...Option) ([]core.ConfigBackend, error) {
	backend, err := newBackend(opts...)
	if err != nil {
		return nil, err
	}

	if configType == "" {
		return nil, errors.New("empty config type")
	}

	// viper needs the type to parse a raw reader
	backend.configViper.SetConfigType(configType)
	err = backend.configViper.MergeConfig(in)
	if err != nil {
		return nil, errors.Wrap(err, "reading config failed")
	}

	if err := setLogLevel(backend); err != nil {
		return nil, err
	}

	return []core.ConfigBackend{backend}, nil
}

// WithEnvPrefix defines the prefix for environment variable overrides.
// See viper SetEnvPrefix for more information.
func WithEnvPrefix(prefix string) Option {
	return func(opts *options) error {
		opts.envPrefix = prefix
		return nil
	}
}

// WithTemplatePath loads a base config from the given directory before the
// supplied config is merged on top of it.
func WithTemplatePath(path string) Option {
	return func(opts *options) error {
		if path == "" {
			return errors.New("template path is empty")
		}
		opts.templatePath = path
		return nil
	}
}

func newBackend(opts ...Option) (*defConfigBackend, error) {
	o := options{
		envPrefix: cmdRoot,
	}

	for _, option := range opts {
		err := option(&o)
		if err != nil {
			return nil, errors.WithMessage(err, "Error in options passed to create new config backend")
		}
	}

	backend := &defConfigBackend{
		configViper: newViper(o.envPrefix),
		opts:        o,
	}

	err := backend.loadTemplateConfig()
	if err != nil {
		return nil, err
	}

	return backend, nil
}

func newViper(cmdRootPrefix string) *viper.Viper {
	myViper := viper.New()
	myViper.SetEnvPrefix(cmdRootPrefix)
	myViper.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	myViper.SetEnvKeyReplacer(replacer)
	return myViper
}

// setLogLevel applies client.logging to the module loggers
func setLogLevel(backend core.ConfigBackend) error {
	logLevel := logging.INFO
	if v, ok := backend.Lookup("client.logging.level"); ok {
		var err error
		logLevel, err = logging.LogLevel(cast.ToString(v))
		if err != nil {
			return errors.WithMessage(err, "invalid client.logging.level")
		}
	}
	logging.SetLevel(rootLogModule, logLevel)

	if v, ok := backend.Lookup("client.logging.modules"); ok {
		for module, level := range cast.ToStringMapString(v) {
			l, err := logging.LogLevel(level)
			if err != nil {
				return errors.WithMessagef(err, "invalid log level for module %s", module)
			}
			logging.SetLevel(module, l)
		}
	}

	if v, ok := backend.Lookup("client.logging.format"); ok {
		if err := modlog.SetEncoding(cast.ToString(v)); err != nil {
			return errors.WithMessage(err, "invalid client.logging.format")
		}
	}

	return nil
}
