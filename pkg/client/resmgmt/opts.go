/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resmgmt

import (
	"time"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
)

// requestOptions contains options for operations performed by the client
type requestOptions struct {
	Targets         []fab.ProposalProcessor
	InstallTimeout  time.Duration
	InstantiateTimeout time.Duration
}

// RequestOption func for each Opts argument
type RequestOption func(opts *requestOptions) error

// WithTargets allows overriding of the target peers for the request.
func WithTargets(targets ...fab.ProposalProcessor) RequestOption {
	return func(opts *requestOptions) error {
		for _, t := range targets {
			if t == nil {
				return errors.New("target is nil")
			}
		}
		opts.Targets = targets
		return nil
	}
}

// WithInstallTimeout bounds the install proposal round trip
func WithInstallTimeout(timeout time.Duration) RequestOption {
	return func(opts *requestOptions) error {
		opts.InstallTimeout = timeout
		return nil
	}
}

// WithInstantiateTimeout bounds an instantiate or upgrade, from proposal to commit
func WithInstantiateTimeout(timeout time.Duration) RequestOption {
	return func(opts *requestOptions) error {
		opts.InstantiateTimeout = timeout
		return nil
	}
}
