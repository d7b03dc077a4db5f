// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ava-labs/cefcookie/cookie"
	"github.com/ava-labs/cefcookie/cookietest"
	"github.com/ava-labs/cefcookie/ffi"
	"github.com/ava-labs/cefcookie/replay"
)

var errNoManager = errors.New("engine returned no cookie manager")

func newApplyCmd(a *app) *cobra.Command {
	var (
		logPath        string
		storeDir       string
		persistSession bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Re-execute a replay log against a cookie database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(filepath.Clean(logPath))
			if err != nil {
				return err
			}
			defer f.Close()
			logs, err := replay.Decode(f)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", logPath, err)
			}

			return a.withManager(cmd.Context(), storeDir, persistSession, func(ctx context.Context, m cookie.Manager) error {
				sum, err := replay.Apply(ctx, m, logs, a.log)
				if err != nil {
					return err
				}
				if err := cookie.FlushStoreSync(ctx, m); err != nil {
					return fmt.Errorf("flushing store: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d operations from %d segments, %d mismatched, %d deleted by visits\n",
					sum.Operations, len(logs), sum.Mismatched, sum.Deleted)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "replay log to apply")
	cmd.Flags().StringVar(&storeDir, "store", "", "directory of the cookie database; empty keeps cookies in memory")
	cmd.Flags().BoolVar(&persistSession, "persist-session", false, "write session cookies to the database")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}

// withManager runs fn against a cookie manager created through the engine
// entry points of an emulated library, storing cookies in dir. opts are
// applied to the store after the logger and registerer.
func (a *app) withManager(ctx context.Context, dir string, persistSession bool, fn func(context.Context, cookie.Manager) error, opts ...cookietest.Option) error {
	lib, err := ffi.Emulate(nil, func() cookie.Manager {
		return cookietest.New(append([]cookietest.Option{
			cookietest.WithLogger(a.log.Named("store")),
			cookietest.WithRegisterer(a.registry),
		}, opts...)...)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := lib.Close(); err != nil {
			a.log.Warn("closing library", zap.Error(err))
		}
	}()

	ready := make(chan struct{})
	m := lib.CreateManager(dir, persistSession, cookie.CompletionFunc(func() { close(ready) }))
	if m.IsNull() {
		return fmt.Errorf("%w for %q", errNoManager, dir)
	}
	// the final release closes the store and, unless it is read-only, writes
	// its database
	defer m.Release()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn(ctx, m)
}
