// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookietest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type config struct {
	clock      func() time.Time
	log        *zap.Logger
	schemes    []string
	registerer prometheus.Registerer
	readOnly   bool
}

func defaultConfig() config {
	return config{
		clock: time.Now,
		log:   zap.NewNop(),
	}
}

// Option configures a [Store].
type Option func(*config)

// WithClock sets the time source used for creation, last access and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.clock = now }
}

// WithLogger sets the logger for storage and close errors. The default
// discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithSchemes adds schemes to the always supported http and https.
func WithSchemes(schemes ...string) Option {
	return func(c *config) { c.schemes = append(c.schemes, schemes...) }
}

// WithRegisterer registers the store's metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// WithReadOnly loads the database named by SetStoragePath without ever
// writing it: a missing storage directory is not created, and flushing and
// closing leave the database as it was. Cookies still change in memory.
func WithReadOnly() Option {
	return func(c *config) { c.readOnly = true }
}
