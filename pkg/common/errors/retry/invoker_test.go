/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	reqContext "context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/multi"
	"github.com/hyperledger/fabric-txnflow/pkg/common/errors/status"
)

func TestInvokeSuccess(t *testing.T) {
	var attempts []int
	invoker := NewInvoker(New(testOpts(3)))
	resp, err := invoker.Invoke(reqContext.Background(), func(attempt int) (interface{}, error) {
		attempts = append(attempts, attempt)
		if attempt == 1 {
			return nil, conflictErr
		}
		return "committed", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "committed", resp)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestInvokeReturnsLastAttempt(t *testing.T) {
	attempt := 0
	expectedErr := status.New(status.ChaincodeStatus, int32(500), "chaincode error", nil)
	invoker := NewInvoker(New(testOpts(3)))
	resp, err := invoker.Invoke(reqContext.Background(), func(int) (interface{}, error) {
		attempt++
		if attempt == 1 {
			return "invalidated", conflictErr
		}
		return "failed", expectedErr
	})

	assert.EqualError(t, err, expectedErr.Error())
	assert.Equal(t, "failed", resp)
	assert.Equal(t, 2, attempt)
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	attempt := 0
	invoker := NewInvoker(New(testOpts(2)))
	_, err := invoker.Invoke(reqContext.Background(), func(int) (interface{}, error) {
		attempt++
		return nil, conflictErr
	})

	assert.Equal(t, conflictErr, err)
	assert.Equal(t, 3, attempt)
}

func TestInvokeWithBeforeRetry(t *testing.T) {
	var seen []error
	invoker := NewInvoker(New(testOpts(3)), WithBeforeRetry(func(err error) {
		seen = append(seen, err)
	}))

	perPeer := multi.Errors{timeoutErr, conflictErr}
	resp, err := invoker.Invoke(reqContext.Background(), func(attempt int) (interface{}, error) {
		if attempt == 1 {
			return nil, perPeer
		}
		return "committed", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "committed", resp)
	assert.Equal(t, []error{perPeer}, seen)
}
