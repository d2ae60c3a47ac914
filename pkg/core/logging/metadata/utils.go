/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metadata

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/core/logging/api"
)

// Log level names in string
var levelNames = []string{
	"CRITICAL",
	"ERROR",
	"WARNING",
	"INFO",
	"DEBUG",
}

// ParseLevel returns the log level from a string representation.
// "warn" is accepted as an alias of WARNING.
func ParseLevel(level string) (api.Level, error) {
	if strings.EqualFold(level, "warn") {
		return api.WARNING, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(name, level) {
			return api.Level(i), nil
		}
	}
	return api.ERROR, errors.Errorf("logger: invalid log level [%s]", level)
}

// ParseString returns String representation of given log level
func ParseString(level api.Level) string {
	if level < api.CRITICAL || level > api.DEBUG {
		return "UNKNOWN"
	}
	return levelNames[level]
}
