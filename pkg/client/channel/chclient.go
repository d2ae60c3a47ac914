/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package channel enables access to a channel on a Fabric network.
package channel

import (
	reqContext "context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/client/channel/invoke"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/retry"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
	"github.com/hyperledger/fabric-txnflow/pkg/common/metrics/disabled"
	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-txnflow/pkg/fabsdk/metrics"
)

var logger = logging.NewLogger("txnflow/client/channel")

const (
	defaultQueryTimeout   = 30 * time.Second
	defaultExecuteTimeout = 180 * time.Second
)

// Client enables access to a channel on a Fabric network.
//
// A channel client instance provides a handler to interact with peers on specified channel.
// Requests may be issued concurrently. Each request runs its own handler chain, and
// requests only share the event service and the immutable endorser and orderer clients.
type Client struct {
	context        invoke.ClientContext
	queryTimeout   time.Duration
	executeTimeout time.Duration
	metrics        *metrics.ClientMetrics
}

// ClientOption describes a functional parameter for the New constructor
type ClientOption func(*Client) error

// WithQueryTimeout sets the default timeout of queries
func WithQueryTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) error {
		if timeout > 0 {
			client.queryTimeout = timeout
		}
		return nil
	}
}

// WithExecuteTimeout sets the default timeout of executions, from proposal to commit
func WithExecuteTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) error {
		if timeout > 0 {
			client.executeTimeout = timeout
		}
		return nil
	}
}

// WithMetrics sets the meters updated by the client
func WithMetrics(m *metrics.ClientMetrics) ClientOption {
	return func(client *Client) error {
		client.metrics = m
		return nil
	}
}

// New returns a Client instance.
func New(clientContext invoke.ClientContext, opts ...ClientOption) (*Client, error) {
	if clientContext.Channel == nil || clientContext.Channel.ID() == "" {
		return nil, errors.New("channel is required")
	}
	if clientContext.Signer == nil {
		return nil, errors.New("signing identity is required")
	}
	if clientContext.Endorser == nil {
		return nil, errors.New("endorser is required")
	}
	if clientContext.Orderer == nil {
		return nil, errors.New("orderer is required")
	}
	if clientContext.EventService == nil {
		return nil, errors.New("event service is required")
	}

	channelClient := &Client{
		context:        clientContext,
		queryTimeout:   defaultQueryTimeout,
		executeTimeout: defaultExecuteTimeout,
	}
	for _, param := range opts {
		if err := param(channelClient); err != nil {
			return nil, errors.WithMessage(err, "option failed")
		}
	}
	if channelClient.metrics == nil {
		channelClient.metrics = metrics.NewClientMetrics(&disabled.Provider{})
	}

	return channelClient, nil
}

// Query chaincode using request and optional options provided. The proposal is
// endorsed and never sent to the orderer.
func (cc *Client) Query(ctx reqContext.Context, request Request, options ...RequestOption) (Response, error) {
	meterLabels := []string{
		"chaincode", request.ChaincodeID,
		"Fcn", request.Fcn,
	}
	cc.metrics.QueriesReceived.With(meterLabels...).Add(1)
	startTime := time.Now()

	r, err := cc.InvokeHandler(ctx, invoke.NewQueryHandler(), request, cc.addDefaultTimeout(cc.queryTimeout, options...)...)
	if err != nil {
		if r.State == invoke.TimedOut {
			cc.metrics.QueryTimeouts.With(meterLabels...).Add(1)
			return r, err
		}
		cc.metrics.QueriesFailed.With(append(meterLabels, "fail", failLabel(err))...).Add(1)
		return r, err
	}
	cc.metrics.QueryDuration.With(meterLabels...).Observe(time.Since(startTime).Seconds())
	return r, nil
}

// Invoke prepares and executes a transaction using the request and optional options
// provided. It returns once the commit event of the transaction arrives.
//
// An error is returned for every outcome other than a VALID commit. The state of
// the returned response tells whether the transaction was Invalidated by the
// committing peers, TimedOut with an unknown fate, or Failed before submission.
func (cc *Client) Invoke(ctx reqContext.Context, request Request, options ...RequestOption) (Response, error) {
	meterLabels := []string{
		"chaincode", request.ChaincodeID,
		"Fcn", request.Fcn,
	}
	cc.metrics.ExecutionsReceived.With(meterLabels...).Add(1)
	startTime := time.Now()

	r, err := cc.invokeWithRetry(ctx, request, cc.addDefaultTimeout(cc.executeTimeout, options...)...)
	if err != nil {
		if r.State == invoke.TimedOut {
			cc.metrics.ExecutionTimeouts.With(meterLabels...).Add(1)
			return r, err
		}
		cc.metrics.ExecutionsFailed.With(append(meterLabels, "fail", failLabel(err))...).Add(1)
		return r, err
	}

	cc.metrics.ExecutionDuration.With(meterLabels...).Observe(time.Since(startTime).Seconds())
	return r, nil
}

// invokeWithRetry runs the execute handler chain once, or again for every retry
// granted by the retry options of the request
func (cc *Client) invokeWithRetry(ctx reqContext.Context, request Request, options ...RequestOption) (Response, error) {
	txnOpts, err := cc.prepareOptsFromOptions(options...)
	if err != nil {
		return Response{State: invoke.Failed}, err
	}

	attemptOnce := func(int) (interface{}, error) {
		r, err := cc.InvokeHandler(ctx, invoke.NewExecuteHandler(), request, options...)
		cc.metrics.TxOutcomes.With("state", r.State.String()).Add(1)
		return r, err
	}
	if txnOpts.Retry.Attempts == 0 {
		r, err := attemptOnce(1)
		return r.(Response), err
	}

	invoker := retry.NewInvoker(retry.New(txnOpts.Retry), retry.WithBeforeRetry(func(err error) {
		cc.metrics.ExecutionRetries.With("chaincode", request.ChaincodeID, "Fcn", request.Fcn).Add(1)
	}))
	r, err := invoker.Invoke(ctx, attemptOnce)
	return r.(Response), err
}

// InvokeHandler invokes handler using request and options provided
func (cc *Client) InvokeHandler(ctx reqContext.Context, handler invoke.Handler, request Request, options ...RequestOption) (Response, error) {
	//Read execute tx options
	txnOpts, err := cc.prepareOptsFromOptions(options...)
	if err != nil {
		return Response{}, err
	}

	if request.ChaincodeID == "" || request.Fcn == "" {
		return Response{State: invoke.Failed}, status.NewClient(status.InvalidArgument, "ChaincodeID and Fcn are required")
	}

	if txnOpts.Timeout <= 0 {
		txnOpts.Timeout = cc.executeTimeout
	}

	clientContext := cc.context
	if len(txnOpts.Targets) > 0 {
		clientContext.Targets = txnOpts.Targets
	}

	reqCtx, cancel := reqContext.WithTimeout(ctx, txnOpts.Timeout)
	defer cancel()

	requestContext := invoke.NewRequestContext(reqCtx, invoke.Request(request))
	handler.Handle(requestContext, &clientContext)

	if requestContext.Error != nil {
		logger.Debugf("Transaction %s ended in state %s: %s", requestContext.Response.TransactionID, requestContext.State(), requestContext.Error)
	}
	return Response(requestContext.Response), requestContext.Error
}

// prepareOptsFromOptions reads request options
func (cc *Client) prepareOptsFromOptions(options ...RequestOption) (requestOptions, error) {
	txnOpts := requestOptions{}
	for _, option := range options {
		err := option(&txnOpts)
		if err != nil {
			return txnOpts, errors.WithMessage(err, "Failed to read opts")
		}
	}
	return txnOpts, nil
}

// addDefaultTimeout adds given default timeout if it is missing in options
func (cc *Client) addDefaultTimeout(timeout time.Duration, options ...RequestOption) []RequestOption {
	txnOpts := requestOptions{}
	for _, option := range options {
		_ = option(&txnOpts)
	}

	if txnOpts.Timeout == 0 {
		return append(options, WithTimeout(timeout))
	}
	return options
}

// RegisterChaincodeEvent registers for the first chaincode event whose name matches
// pattern. The event is delivered on the returned channel, which is closed afterwards.
// The registration should be released with UnregisterChaincodeEvent.
func (cc *Client) RegisterChaincodeEvent(ccID, pattern string, timeout time.Duration) (fab.Registration, <-chan fab.CCEventResult, error) {
	return cc.context.EventService.RegisterChaincodeEvent(ccID, pattern, timeout)
}

// UnregisterChaincodeEvent removes chain code event registration
func (cc *Client) UnregisterChaincodeEvent(registration fab.Registration) {
	cc.context.EventService.Unregister(registration)
}

// AwaitChaincodeEvent registers for the first chaincode event whose name matches
// pattern and waits for it.
func (cc *Client) AwaitChaincodeEvent(ctx reqContext.Context, ccID, pattern string, timeout time.Duration) (*fab.CCEvent, error) {
	reg, eventch, err := cc.RegisterChaincodeEvent(ccID, pattern, timeout)
	if err != nil {
		return nil, errors.WithMessage(err, "registering for chaincode event failed")
	}
	defer cc.UnregisterChaincodeEvent(reg)

	return AwaitEvent(ctx, eventch)
}

// AwaitEvent waits for the result of a chaincode event registration
func AwaitEvent(ctx reqContext.Context, eventch <-chan fab.CCEventResult) (*fab.CCEvent, error) {
	select {
	case result, ok := <-eventch:
		if !ok {
			return nil, status.NewClient(status.RegistrationCancelled, "chaincode event registration was already resolved")
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Event, nil
	case <-ctx.Done():
		return nil, status.NewClient(status.Timeout, "timed out waiting for chaincode event", ctx.Err())
	}
}

func failLabel(err error) string {
	if s, ok := status.FromError(err); ok {
		return fmt.Sprintf("Error - Group:%s - Code:%d", s.Group.String(), s.Code)
	}
	return fmt.Sprintf("Error - Generic: %s", err)
}
