/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package endorsement

import (
	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"
)

// TotalParam is the policy parameter holding the number of successful endorsements
const TotalParam = "total"

// Policy is a boolean expression over the number of successful endorsements per MSP ID.
// Each MSP ID is a parameter ([Org1.MSP] for IDs that are not plain identifiers) and
// "total" counts every endorsement. outof(n, A, B, ...) is true when at least n of the
// given counts are positive.
//
//	Org1MSP >= 1 && Org2MSP >= 1
//	outof(2, Org1MSP, Org2MSP, Org3MSP)
type Policy struct {
	text string
	expr *govaluate.EvaluableExpression
}

var policyFunctions = map[string]govaluate.ExpressionFunction{
	"outof": outOf,
}

// NewPolicy parses the policy expression
func NewPolicy(text string) (*Policy, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(text, policyFunctions)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endorsement policy [%s]", text)
	}
	return &Policy{text: text, expr: expr}, nil
}

// String returns the policy expression
func (p *Policy) String() string {
	return p.text
}

// Satisfied evaluates the policy against the per-MSP endorsement counts
func (p *Policy) Satisfied(counts map[string]int) (bool, error) {
	params := make(countParams, len(counts)+1)
	total := 0
	for mspID, n := range counts {
		params[mspID] = float64(n)
		total += n
	}
	params[TotalParam] = float64(total)

	result, err := p.expr.Eval(params)
	if err != nil {
		return false, errors.Wrapf(err, "evaluation of endorsement policy [%s] failed", p.text)
	}
	satisfied, ok := result.(bool)
	if !ok {
		return false, errors.Errorf("endorsement policy [%s] did not evaluate to a boolean", p.text)
	}
	return satisfied, nil
}

func outOf(args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, errors.Errorf("expected at least two arguments to outof, got %d", len(args))
	}
	n, ok := args[0].(float64)
	if !ok {
		return nil, errors.Errorf("unexpected type %T for outof threshold", args[0])
	}
	positive := 0
	for _, arg := range args[1:] {
		v, ok := arg.(float64)
		if !ok {
			return nil, errors.Errorf("unexpected type %T in outof", arg)
		}
		if v > 0 {
			positive++
		}
	}
	return float64(positive) >= n, nil
}

// countParams resolves MSP IDs without endorsements to zero
type countParams map[string]float64

func (c countParams) Get(name string) (interface{}, error) {
	return c[name], nil
}
