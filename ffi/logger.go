// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var pkgLogger atomic.Pointer[zap.Logger]

// SetLogger configures the logger used for library loading and the life
// cycle of exported objects. The default discards everything.
func SetLogger(l *zap.Logger) {
	pkgLogger.Store(l)
}

// Logger returns the package's logger.
func Logger() *zap.Logger {
	return logger()
}

func logger() *zap.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}
