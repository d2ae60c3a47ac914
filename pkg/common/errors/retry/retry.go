/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package retry resubmits requests that ended with a transient status.
//
// Nothing in the SDK retries on its own. A caller opts in per request, for example
// with channel.WithRetry, and every attempt is a new transaction with a new TxID.
package retry

import (
	reqContext "context"
	"time"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
)

// Opts defines the retry parameters
type Opts struct {
	// Attempts is the number of retries after the first attempt
	Attempts int
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the wait before any retry
	MaxBackoff time.Duration
	// BackoffFactor multiplies the backoff after each retry.
	// A factor of 2.5 waits InitialBackoff * 2.5 * 2.5 before the third attempt.
	BackoffFactor float64
	// RetryableCodes are the status codes, by group, that warrant a retry.
	// DefaultRetryableCodes is used when empty.
	RetryableCodes map[status.Group][]status.Code
}

// Handler decides whether a retry is required for the given error
type Handler interface {
	// Required waits out the backoff and returns true when err warrants another
	// attempt. It returns false once the attempts are spent or ctx is done.
	Required(ctx reqContext.Context, err error) bool
}

type impl struct {
	opts    Opts
	retries int
}

// New retry Handler with the given opts
func New(opts Opts) Handler {
	if len(opts.RetryableCodes) == 0 {
		opts.RetryableCodes = DefaultRetryableCodes
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 1
	}
	return &impl{opts: opts}
}

// WithDefaults new retry Handler with default opts
func WithDefaults() Handler {
	return New(DefaultOpts)
}

// WithAttempts new retry Handler with given attempts. Other opts are set to default.
func WithAttempts(attempts int) Handler {
	opts := DefaultOpts
	opts.Attempts = attempts
	return New(opts)
}

func (i *impl) Required(ctx reqContext.Context, err error) bool {
	if i.retries >= i.opts.Attempts {
		return false
	}

	s, ok := status.FromError(err)
	if !ok || !i.isRetryable(s.Group, s.Code) {
		return false
	}

	timer := time.NewTimer(i.backoffPeriod())
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return false
	}

	i.retries++
	return true
}

func (i *impl) backoffPeriod() time.Duration {
	backoff, max := float64(i.opts.InitialBackoff), float64(i.opts.MaxBackoff)
	for j := 0; j < i.retries && backoff < max; j++ {
		backoff *= i.opts.BackoffFactor
	}
	if max > 0 && backoff > max {
		backoff = max
	}
	return time.Duration(backoff)
}

func (i *impl) isRetryable(g status.Group, c int32) bool {
	for _, code := range i.opts.RetryableCodes[g] {
		if status.Code(c) == code {
			return true
		}
	}
	return false
}
