/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package seek builds the SeekInfo requests sent to the Deliver service.
package seek

import (
	"math"

	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/pkg/errors"
)

// Type is where delivery starts
type Type string

// Seek types, named as in eventService.seek
const (
	Oldest    Type = "oldest"
	Newest    Type = "newest"
	FromBlock Type = "from"
)

// Info returns an open-ended SeekInfo starting at the position of the given type.
// fromBlock is only read for FromBlock. Delivery blocks until each next block is ready.
func Info(t Type, fromBlock uint64) (*ab.SeekInfo, error) {
	var start *ab.SeekPosition
	switch t {
	case Oldest:
		start = &ab.SeekPosition{Type: &ab.SeekPosition_Oldest{Oldest: &ab.SeekOldest{}}}
	case Newest:
		start = &ab.SeekPosition{Type: &ab.SeekPosition_Newest{Newest: &ab.SeekNewest{}}}
	case FromBlock:
		start = specified(fromBlock)
	default:
		return nil, errors.Errorf("unsupported seek type:[%s]", t)
	}

	return &ab.SeekInfo{
		Start:    start,
		Stop:     specified(math.MaxUint64),
		Behavior: ab.SeekInfo_BLOCK_UNTIL_READY,
	}, nil
}

func specified(number uint64) *ab.SeekPosition {
	return &ab.SeekPosition{Type: &ab.SeekPosition_Specified{Specified: &ab.SeekSpecified{Number: number}}}
}
