/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	reqContext "context"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/multi"
	"github.com/hyperledger/fabric-txnflow/pkg/common/logging"
)

var logger = logging.NewLogger("txnflow/common/retry")

// Invocation is the function to be invoked. attempt starts at 1.
type Invocation func(attempt int) (interface{}, error)

// BeforeRetryHandler is called with the error of the failed attempt before the next one
type BeforeRetryHandler func(error)

// RetryableInvoker calls an invocation again while the handler deems its error transient
type RetryableInvoker struct {
	handler     Handler
	beforeRetry BeforeRetryHandler
}

// InvokerOpt is an invoker option
type InvokerOpt func(invoker *RetryableInvoker)

// WithBeforeRetry specifies a function to call before a retry attempt
func WithBeforeRetry(beforeRetry BeforeRetryHandler) InvokerOpt {
	return func(invoker *RetryableInvoker) {
		invoker.beforeRetry = beforeRetry
	}
}

// NewInvoker creates a new RetryableInvoker
func NewInvoker(handler Handler, opts ...InvokerOpt) *RetryableInvoker {
	invoker := &RetryableInvoker{
		handler: handler,
	}
	for _, opt := range opts {
		opt(invoker)
	}
	return invoker
}

// Invoke calls invocation until it succeeds, its error is not transient, the
// attempts are spent or ctx is done. The value and error of the last attempt are
// returned.
func (ri *RetryableInvoker) Invoke(ctx reqContext.Context, invocation Invocation) (interface{}, error) {
	for attempt := 1; ; attempt++ {
		retval, err := invocation(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Debugf("Success on attempt #%d", attempt)
			}
			return retval, nil
		}

		logger.Debugf("Failed with err [%s] on attempt #%d", err, attempt)
		if !ri.resolveRetry(ctx, err) {
			return retval, err
		}
	}
}

func (ri *RetryableInvoker) resolveRetry(ctx reqContext.Context, err error) bool {
	errs, ok := err.(multi.Errors)
	if !ok {
		errs = multi.Errors{err}
	}
	for _, e := range errs {
		if ri.handler.Required(ctx, e) {
			logger.Debugf("Retrying on error %s", e)
			if ri.beforeRetry != nil {
				ri.beforeRetry(err)
			}
			return true
		}
	}
	return false
}
