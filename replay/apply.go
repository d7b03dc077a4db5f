// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ava-labs/cefcookie/cookie"
)

var errEmptyOperation = errors.New("unknown or empty operation")

// Summary describes the outcome of [Apply].
type Summary struct {
	// Operations is the number of operations executed.
	Operations int
	// Mismatched counts operations whose acceptance differed from the log.
	Mismatched int
	// Deleted counts cookies deleted by replayed visits.
	Deleted int
}

// Apply executes the operations of logs against m in order, waiting for each
// to complete before starting the next. Operations the log records as
// rejected are still attempted. A nil log is replaced by a no-op logger.
func Apply(ctx context.Context, m cookie.Manager, logs []Log, log *zap.Logger) (Summary, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var sum Summary
	for i, segment := range logs {
		for j, op := range segment.Operations {
			replayed, recorded, err := apply(ctx, m, op, &sum)
			if err != nil {
				return sum, fmt.Errorf("segment %d operation %d: %w", i, j, err)
			}
			sum.Operations++
			if replayed != recorded {
				sum.Mismatched++
				log.Warn("replayed operation acceptance differs from log",
					zap.Int("segment", i),
					zap.Int("operation", j),
					zap.Bool("recorded", recorded),
					zap.Bool("replayed", replayed),
				)
			}
		}
	}
	log.Info("replay applied",
		zap.Int("segments", len(logs)),
		zap.Int("operations", sum.Operations),
		zap.Int("mismatched", sum.Mismatched),
	)
	return sum, nil
}

// accepted converts the error of a synchronous helper into the manager's
// acceptance.
func accepted(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cookie.ErrRejected):
		return false, nil
	default:
		return false, err
	}
}

func apply(ctx context.Context, m cookie.Manager, op Operation, sum *Summary) (bool, bool, error) {
	switch {
	case op.SetSupportedSchemes != nil:
		err := cookie.SetSupportedSchemesSync(ctx, m, op.SetSupportedSchemes.Schemes)
		return true, true, err

	case op.VisitAllCookies != nil:
		v := newDeleter(op.VisitAllCookies.Deleted)
		ok, err := v.run(ctx, m.VisitAllCookies(v), sum)
		return ok, op.VisitAllCookies.Accepted, err

	case op.VisitURLCookies != nil:
		rec := op.VisitURLCookies
		v := newDeleter(rec.Deleted)
		ok, err := v.run(ctx, m.VisitURLCookies(rec.URL, rec.IncludeHTTPOnly, v), sum)
		return ok, rec.Accepted, err

	case op.SetCookie != nil:
		_, err := cookie.SetCookieSync(ctx, m, op.SetCookie.URL, op.SetCookie.Cookie.Cookie())
		ok, err := accepted(err)
		return ok, op.SetCookie.Accepted, err

	case op.DeleteCookies != nil:
		_, err := cookie.DeleteCookiesSync(ctx, m, op.DeleteCookies.URL, op.DeleteCookies.Name)
		ok, err := accepted(err)
		return ok, op.DeleteCookies.Accepted, err

	case op.SetStoragePath != nil:
		rec := op.SetStoragePath
		ok, err := accepted(cookie.SetStoragePathSync(ctx, m, rec.Path, rec.PersistSessionCookies))
		return ok, rec.Accepted, err

	case op.FlushStore != nil:
		ok, err := accepted(cookie.FlushStoreSync(ctx, m))
		return ok, op.FlushStore.Accepted, err

	default:
		return false, false, fmt.Errorf("%w: %+v", errEmptyOperation, op)
	}
}

// deleter is a visitor that deletes the cookies a recorded visit deleted.
type deleter struct {
	targets map[[3]string]struct{}
	deleted int

	done chan struct{}
	once sync.Once
}

func newDeleter(targets []Cookie) *deleter {
	d := &deleter{
		targets: make(map[[3]string]struct{}, len(targets)),
		done:    make(chan struct{}),
	}
	for _, c := range targets {
		d.targets[c.key()] = struct{}{}
	}
	return d
}

func (d *deleter) Visit(c cookie.Cookie, _, _ int) (bool, bool) {
	k := fromCookie(c).key()
	if _, ok := d.targets[k]; !ok {
		return true, false
	}
	delete(d.targets, k)
	d.deleted++
	return len(d.targets) > 0, true
}

func (d *deleter) Release() {
	d.once.Do(func() { close(d.done) })
}

// run waits until the manager has released d and adds its deletions to sum.
// Visit is called from one goroutine at a time and the release happens after
// the last call, so no lock guards the counter.
func (d *deleter) run(ctx context.Context, ok bool, sum *Summary) (bool, error) {
	if !ok {
		return false, nil
	}
	select {
	case <-d.done:
		sum.Deleted += d.deleted
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}
