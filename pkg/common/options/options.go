/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package options holds the functional option plumbing shared by the event
// hub, the gRPC clients and the channel client.
package options

// Params represents a construct that holds
// a set of parameters
type Params interface{}

// Opt is an option that is applied to Params. An option type-asserts
// Params against the setter interface it needs and ignores Params that
// do not implement it.
type Opt func(opts Params)

// Apply applies the given options to the given Params in order. Nil options are skipped.
func Apply(params Params, opts []Opt) {
	for _, opt := range opts {
		if opt != nil {
			opt(params)
		}
	}
}
