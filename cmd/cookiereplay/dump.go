// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/ava-labs/cefcookie/cookie"
	"github.com/ava-labs/cefcookie/cookietest"
)

var (
	errNoStore     = errors.New("--store is required")
	errNotStoreDir = errors.New("--store is not a directory")
)

func newDumpCmd(a *app) *cobra.Command {
	var (
		storeDir string
		netscape bool
		filter   string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the cookies of a cookie database in visit order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if storeDir == "" {
				return errNoStore
			}
			fi, err := os.Stat(storeDir)
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return fmt.Errorf("%w: %s", errNotStoreDir, storeDir)
			}
			var re *regexp.Regexp
			if filter != "" {
				if re, err = regexp.Compile(filter); err != nil {
					return fmt.Errorf("compiling filter: %w", err)
				}
			}

			return a.withManager(cmd.Context(), storeDir, true, func(ctx context.Context, m cookie.Manager) error {
				cookies, err := cookie.Collect(ctx, m)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if netscape {
					if _, err := fmt.Fprintln(w, "# Netscape HTTP Cookie File"); err != nil {
						return err
					}
				}
				for _, c := range cookies {
					if re != nil && !re.MatchString(c.Domain) {
						continue
					}
					if err := printCookie(w, c, netscape); err != nil {
						return err
					}
				}
				return nil
			}, cookietest.WithReadOnly())
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "", "directory of the cookie database")
	cmd.Flags().BoolVar(&netscape, "netscape", false, "use the Netscape cookie file format")
	cmd.Flags().StringVar(&filter, "filter", "", "only print cookies whose domain matches this regexp")
	return cmd
}

func printCookie(w io.Writer, c cookie.Cookie, netscape bool) error {
	if netscape {
		var expires int64
		if c.HasExpires() {
			expires = c.Expires.Unix()
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain,
			boolField(c.Domain != "" && c.Domain[0] == '.'),
			c.Path,
			boolField(c.Secure),
			expires,
			c.Name,
			c.Value,
		)
		return err
	}

	expires := "session"
	if c.HasExpires() {
		expires = c.Expires.UTC().Format("2006-01-02 15:04:05")
	}
	line := fmt.Sprintf("%s %s %s %s=%s", expires, c.Domain, c.Path, c.Name, c.Value)
	if c.Secure {
		line += " Secure"
	}
	if c.HTTPOnly {
		line += " HttpOnly"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
