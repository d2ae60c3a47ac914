/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package invoke

import (
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
)

// TxState is the position of a transaction in its lifecycle
type TxState int32

const (
	// Initial is the state of a request whose proposal has not been built
	Initial TxState = iota
	// Built means the proposal exists and has a transaction ID
	Built
	// Endorsing means the proposal has been sent to the endorsers
	Endorsing
	// Endorsed means the endorsements were accepted
	Endorsed
	// Submitting means the transaction is being broadcast to the orderer
	Submitting
	// AwaitingNotification means the orderer accepted the transaction and the
	// commit event has not arrived yet
	AwaitingNotification
	// Committed means the transaction was committed as VALID
	Committed
	// Invalidated means the transaction was committed with a validation code other than VALID
	Invalidated
	// TimedOut means no outcome arrived before the deadline. The transaction may
	// still be committed.
	TimedOut
	// Failed means the transaction was rejected before it could be committed
	Failed
)

var stateNames = map[TxState]string{
	Initial:              "Initial",
	Built:                "Built",
	Endorsing:            "Endorsing",
	Endorsed:             "Endorsed",
	Submitting:           "Submitting",
	AwaitingNotification: "AwaitingNotification",
	Committed:            "Committed",
	Invalidated:          "Invalidated",
	TimedOut:             "TimedOut",
	Failed:               "Failed",
}

// transitions lists the states reachable from each state. Failed is reachable
// from every state that is not terminal.
var transitions = map[TxState][]TxState{
	Initial:              {Built},
	Built:                {Endorsing},
	Endorsing:            {Endorsed, TimedOut},
	Endorsed:             {Submitting},
	Submitting:           {AwaitingNotification, TimedOut},
	AwaitingNotification: {Committed, Invalidated, TimedOut},
}

func (s TxState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsTerminal returns true if no further transition is possible from the state
func (s TxState) IsTerminal() bool {
	switch s {
	case Committed, Invalidated, TimedOut, Failed:
		return true
	default:
		return false
	}
}

// CanTransition returns true if the state may move to the given state
func (s TxState) CanTransition(to TxState) bool {
	if s.IsTerminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func illegalTransition(from, to TxState) error {
	return status.New(status.ClientStatus, status.Unknown.ToInt32(),
		"illegal transaction state transition from "+from.String()+" to "+to.String(), nil)
}
