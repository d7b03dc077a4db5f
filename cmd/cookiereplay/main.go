// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

// cookiereplay re-executes recorded cookie manager requests against an
// emulated engine and inspects the resulting cookie database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ava-labs/cefcookie/ffi"
)

type globalFlags struct {
	verbose bool
	metrics bool
}

// app holds what the subcommands share.
type app struct {
	flags    globalFlags
	log      *zap.Logger
	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{registry: prometheus.NewRegistry()}
	cmd := &cobra.Command{
		Use:           "cookiereplay",
		Short:         "Replay cookie manager logs through the engine ABI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			defer func() { _ = a.log.Sync() }()
			if !a.flags.metrics {
				return nil
			}
			return a.writeMetrics(cmd.ErrOrStderr())
		},
	}
	cmd.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "log at debug level")
	cmd.PersistentFlags().BoolVar(&a.flags.metrics, "metrics", false, "print metrics to stderr when done")

	cmd.AddCommand(newApplyCmd(a), newDumpCmd(a))
	return cmd
}

func (a *app) setup() error {
	if !a.flags.verbose {
		a.log = zap.NewNop()
		return nil
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.log = l
	ffi.SetLogger(l.Named("ffi"))
	return nil
}

// writeMetrics prints the ffi and store metrics in the text exposition format.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := prometheus.Gatherers{ffi.Gatherer{}, a.registry}.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
