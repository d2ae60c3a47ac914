/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package multi holds the errors of an operation that fans out to several
// nodes, such as a proposal sent to every configured peer.
package multi

import (
	"strings"
)

// Errors is used to represent multiple errors
type Errors []error

// New returns the non-nil errors as a single error. It returns nil
// when there are none and the error itself when there is exactly one.
func New(errs ...error) error {
	var m Errors
	for _, err := range errs {
		m = m.add(err)
	}
	return m.ToError()
}

// Append adds err to errs, flattening any Errors on either side
func Append(errs error, err error) error {
	var m Errors
	m = m.add(errs)
	m = m.add(err)
	return m.ToError()
}

func (errs Errors) add(err error) Errors {
	if err == nil {
		return errs
	}
	if m, ok := err.(Errors); ok {
		return append(errs, m...)
	}
	return append(errs, err)
}

// ToError converts Errors to the error interface
// returns nil if no errors are present, a single error object if only one is present
func (errs Errors) ToError() error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errs
	}
}

// Error implements the error interface to return a string representation of Errors
func (errs Errors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}

	var b strings.Builder
	b.WriteString("Multiple errors occurred:")
	for _, err := range errs {
		b.WriteString(" - ")
		b.WriteString(err.Error())
	}
	return b.String()
}
