/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package modlog is the default logging provider. Module loggers are backed by
// zap and share one sink whose encoding and writer may be changed at runtime.
package modlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hyperledger/fabric-txnflow/pkg/core/logging/api"
	"github.com/hyperledger/fabric-txnflow/pkg/core/logging/metadata"
)

// Encoding selects how log entries are rendered
type Encoding string

const (
	// LOGFMT renders key=value pairs
	LOGFMT Encoding = "logfmt"
	// JSON renders one JSON object per entry
	JSON Encoding = "json"
	// CONSOLE renders tab separated human readable entries
	CONSOLE Encoding = "console"
)

var moduleLevels = &metadata.ModuleLevels{}

var defaultProvider = newProvider()

// Provider is the default logger implementation
type Provider struct {
	mutex    sync.RWMutex
	encoding Encoding
	encoders map[Encoding]zapcore.Encoder
	writer   zapcore.WriteSyncer
}

func newProvider() *Provider {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return &Provider{
		encoding: LOGFMT,
		encoders: map[Encoding]zapcore.Encoder{
			LOGFMT:  zaplogfmt.NewEncoder(encoderConfig),
			JSON:    zapcore.NewJSONEncoder(encoderConfig),
			CONSOLE: zapcore.NewConsoleEncoder(encoderConfig),
		},
		writer: zapcore.Lock(os.Stderr),
	}
}

// LoggerProvider returns the default logging provider
func LoggerProvider() api.LoggerProvider {
	return defaultProvider
}

// GetLogger returns a logger for the given module
func (p *Provider) GetLogger(module string) api.Logger {
	core := &moduleCore{module: module, provider: p}
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Named(module)
	return &Log{s: zl.Sugar()}
}

// SetEncoding changes how entries are encoded for all loggers of the default provider
func SetEncoding(encoding string) error {
	return defaultProvider.setEncoding(Encoding(strings.ToLower(encoding)))
}

// SetOutput redirects all loggers of the default provider to w
func SetOutput(w io.Writer) {
	defaultProvider.setWriter(w)
}

func (p *Provider) setEncoding(encoding Encoding) error {
	if encoding == "" {
		encoding = LOGFMT
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.encoders[encoding]; !ok {
		return errors.Errorf("unknown log encoding [%s]", encoding)
	}
	p.encoding = encoding
	return nil
}

func (p *Provider) setWriter(w io.Writer) {
	var ws zapcore.WriteSyncer
	switch t := w.(type) {
	case *os.File:
		ws = zapcore.Lock(t)
	case zapcore.WriteSyncer:
		ws = t
	default:
		ws = zapcore.AddSync(w)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.writer = ws
}

func (p *Provider) sink() (zapcore.Encoder, zapcore.WriteSyncer) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.encoders[p.encoding], p.writer
}

// SetLevel - setting log level for given module
func SetLevel(module string, level api.Level) {
	moduleLevels.SetLevel(module, level)
}

// GetLevel - getting log level for given module
func GetLevel(module string) api.Level {
	return moduleLevels.GetLevel(module)
}

// IsEnabledFor - Check if given log level is enabled for given module
func IsEnabledFor(module string, level api.Level) bool {
	return moduleLevels.IsEnabledFor(module, level)
}

func toZapLevel(level api.Level) zapcore.Level {
	switch level {
	case api.DEBUG:
		return zapcore.DebugLevel
	case api.INFO:
		return zapcore.InfoLevel
	case api.WARNING:
		return zapcore.WarnLevel
	case api.ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// moduleCore checks the module level on every entry so that level changes
// apply to loggers that were already created.
type moduleCore struct {
	module   string
	provider *Provider
	fields   []zapcore.Field
}

func (c *moduleCore) Enabled(level zapcore.Level) bool {
	return level >= toZapLevel(moduleLevels.GetLevel(c.module))
}

func (c *moduleCore) With(fields []zapcore.Field) zapcore.Core {
	clone := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone = append(clone, c.fields...)
	return &moduleCore{module: c.module, provider: c.provider, fields: append(clone, fields...)}
}

func (c *moduleCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *moduleCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	encoder, writer := c.provider.sink()

	all := fields
	if len(c.fields) > 0 {
		all = append(append([]zapcore.Field{}, c.fields...), fields...)
	}

	buf, err := encoder.EncodeEntry(e, all)
	if err != nil {
		return err
	}
	defer buf.Free()

	if _, err := writer.Write(buf.Bytes()); err != nil {
		return err
	}
	if e.Level > zapcore.ErrorLevel {
		return writer.Sync()
	}
	return nil
}

func (c *moduleCore) Sync() error {
	_, writer := c.provider.sink()
	return writer.Sync()
}

// Log adapts a zap.SugaredLogger to api.Logger. Methods without a format
// suffix separate their arguments with spaces.
type Log struct {
	s *zap.SugaredLogger
}

// Fatal logs and exits
func (l *Log) Fatal(args ...interface{}) { l.s.Fatal(formatArgs(args)) }

// Fatalf logs and exits
func (l *Log) Fatalf(format string, args ...interface{}) { l.s.Fatalf(format, args...) }

// Panic logs and panics
func (l *Log) Panic(args ...interface{}) { l.s.Panic(formatArgs(args)) }

// Panicf logs and panics
func (l *Log) Panicf(format string, args ...interface{}) { l.s.Panicf(format, args...) }

// Debug logs at debug level
func (l *Log) Debug(args ...interface{}) { l.s.Debug(formatArgs(args)) }

// Debugf logs at debug level
func (l *Log) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }

// Info logs at info level
func (l *Log) Info(args ...interface{}) { l.s.Info(formatArgs(args)) }

// Infof logs at info level
func (l *Log) Infof(format string, args ...interface{}) { l.s.Infof(format, args...) }

// Warn logs at warning level
func (l *Log) Warn(args ...interface{}) { l.s.Warn(formatArgs(args)) }

// Warnf logs at warning level
func (l *Log) Warnf(format string, args ...interface{}) { l.s.Warnf(format, args...) }

// Error logs at error level
func (l *Log) Error(args ...interface{}) { l.s.Error(formatArgs(args)) }

// Errorf logs at error level
func (l *Log) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func formatArgs(args []interface{}) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
