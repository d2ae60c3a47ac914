/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metadata

import (
	"strings"
	"sync"

	"github.com/hyperledger/fabric-txnflow/pkg/core/logging/api"
)

// ModuleLevels maintains log levels based on module. A level set for a module
// also applies to its sub-modules ("txnflow/fab" covers "txnflow/fab/peer")
// unless the sub-module has its own level.
type ModuleLevels struct {
	mutex  sync.RWMutex
	levels map[string]api.Level
}

// GetLevel returns the log level for the given module.
func (l *ModuleLevels) GetLevel(module string) api.Level {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for m := module; ; {
		if level, ok := l.levels[m]; ok {
			return level
		}
		i := strings.LastIndex(m, "/")
		if i < 0 {
			break
		}
		m = m[:i]
	}

	if level, ok := l.levels[""]; ok {
		return level
	}
	return api.INFO
}

// SetLevel sets the log level for the given module. The empty module sets the default.
func (l *ModuleLevels) SetLevel(module string, level api.Level) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.levels == nil {
		l.levels = make(map[string]api.Level)
	}
	l.levels[module] = level
}

// IsEnabledFor will return true if logging is enabled for the given module.
func (l *ModuleLevels) IsEnabledFor(module string, level api.Level) bool {
	return level <= l.GetLevel(module)
}
