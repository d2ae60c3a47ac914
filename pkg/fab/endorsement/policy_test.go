/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package endorsement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	tests := []struct {
		expr   string
		counts map[string]int
		want   bool
	}{
		{"Org1MSP >= 1", map[string]int{"Org1MSP": 1}, true},
		{"Org1MSP >= 1", map[string]int{"Org2MSP": 3}, false},
		{"Org1MSP >= 1 && Org2MSP >= 1", map[string]int{"Org1MSP": 1, "Org2MSP": 1}, true},
		{"Org1MSP >= 1 || Org2MSP >= 1", map[string]int{"Org2MSP": 1}, true},
		{"total >= 2", map[string]int{"Org1MSP": 1, "Org2MSP": 1}, true},
		{"total >= 3", map[string]int{"Org1MSP": 1, "Org2MSP": 1}, false},
		{"outof(2, Org1MSP, Org2MSP, Org3MSP)", map[string]int{"Org1MSP": 1, "Org3MSP": 2}, true},
		{"outof(2, Org1MSP, Org2MSP, Org3MSP)", map[string]int{"Org3MSP": 2}, false},
		{"[org1.example.com] > 0", map[string]int{"org1.example.com": 1}, true},
	}

	for _, tc := range tests {
		p, err := NewPolicy(tc.expr)
		require.NoError(t, err, tc.expr)
		got, err := p.Satisfied(tc.counts)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
		assert.Equal(t, tc.expr, p.String())
	}
}

func TestPolicyErrors(t *testing.T) {
	_, err := NewPolicy("Org1MSP >=")
	assert.Error(t, err)

	p, err := NewPolicy("total + 1")
	require.NoError(t, err)
	_, err = p.Satisfied(nil)
	assert.Error(t, err)

	p, err = NewPolicy("outof(1)")
	require.NoError(t, err)
	_, err = p.Satisfied(nil)
	assert.Error(t, err)
}
