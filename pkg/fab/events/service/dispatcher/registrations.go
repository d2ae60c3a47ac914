/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"regexp"
	"time"

	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/fab"
)

// ChaincodeReg contains the data for a chaincode registration. It is resolved by the
// first matching event of a valid transaction.
type ChaincodeReg struct {
	ChaincodeID string
	EventFilter string
	EventRegExp *regexp.Regexp
	Timeout     time.Duration
	Eventch     chan fab.CCEventResult
	timer       *time.Timer
}

// NewChaincodeReg returns a chaincode registration with a single-slot result channel
func NewChaincodeReg(ccID string, eventRegExp *regexp.Regexp, timeout time.Duration) *ChaincodeReg {
	return &ChaincodeReg{
		ChaincodeID: ccID,
		EventFilter: eventRegExp.String(),
		EventRegExp: eventRegExp,
		Timeout:     timeout,
		Eventch:     make(chan fab.CCEventResult, 1),
	}
}

// TxStatusReg contains the data for a transaction status registration
type TxStatusReg struct {
	TxID    string
	Timeout time.Duration
	Eventch chan fab.TxStatusResult
	timer   *time.Timer
}

// NewTxStatusReg returns a transaction status registration with a single-slot result channel
func NewTxStatusReg(txID string, timeout time.Duration) *TxStatusReg {
	return &TxStatusReg{
		TxID:    txID,
		Timeout: timeout,
		Eventch: make(chan fab.TxStatusResult, 1),
	}
}

func (r *ChaincodeReg) resolve(result fab.CCEventResult) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.Eventch <- result
	close(r.Eventch)
}

func (r *TxStatusReg) resolve(result fab.TxStatusResult) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.Eventch <- result
	close(r.Eventch)
}
