// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookie

import (
	"context"
	"sync"
)

// waiter turns one asynchronous completion into a blocking wait. The manager
// releasing the callback without completing it unblocks the wait as well.
type waiter[T any] struct {
	result  chan T
	dropped chan struct{}
	once    sync.Once
}

func newWaiter[T any]() *waiter[T] {
	return &waiter[T]{
		result:  make(chan T, 1),
		dropped: make(chan struct{}),
	}
}

func (w *waiter[T]) deliver(v T) {
	select {
	case w.result <- v:
	default:
		// only the first completion counts
	}
}

// Release implements [Releasable].
func (w *waiter[T]) Release() {
	w.once.Do(func() { close(w.dropped) })
}

func (w *waiter[T]) wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-w.result:
		return v, nil
	case <-w.dropped:
		select {
		case v := <-w.result:
			return v, nil
		default:
			return zero, ErrDropped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type setCookieWaiter struct{ *waiter[bool] }

func (w setCookieWaiter) OnComplete(success bool) { w.deliver(success) }

type deleteCookiesWaiter struct{ *waiter[int] }

func (w deleteCookiesWaiter) OnComplete(numDeleted int) { w.deliver(numDeleted) }

type completionWaiter struct{ *waiter[struct{}] }

func (w completionWaiter) OnComplete() { w.deliver(struct{}{}) }

// SetCookieSync sets c and waits for the manager to report the outcome.
func SetCookieSync(ctx context.Context, m Manager, url string, c Cookie) (bool, error) {
	w := setCookieWaiter{newWaiter[bool]()}
	if !m.SetCookie(url, c, w) {
		return false, ErrRejected
	}
	return w.wait(ctx)
}

// DeleteCookiesSync deletes matching cookies and waits for the count, which
// may be [NumDeletedUnknown].
func DeleteCookiesSync(ctx context.Context, m Manager, url, name string) (int, error) {
	w := deleteCookiesWaiter{newWaiter[int]()}
	if !m.DeleteCookies(url, name, w) {
		return 0, ErrRejected
	}
	return w.wait(ctx)
}

// SetSupportedSchemesSync replaces the supported schemes and waits until the
// change has been applied.
func SetSupportedSchemesSync(ctx context.Context, m Manager, schemes []string) error {
	w := completionWaiter{newWaiter[struct{}]()}
	m.SetSupportedSchemes(schemes, w)
	_, err := w.wait(ctx)
	return err
}

// SetStoragePathSync moves storage to path and waits until it is initialized.
func SetStoragePathSync(ctx context.Context, m Manager, path string, persistSessionCookies bool) error {
	w := completionWaiter{newWaiter[struct{}]()}
	if !m.SetStoragePath(path, persistSessionCookies, w) {
		return ErrRejected
	}
	_, err := w.wait(ctx)
	return err
}

// FlushStoreSync flushes the backing store and waits for it to finish.
func FlushStoreSync(ctx context.Context, m Manager) error {
	w := completionWaiter{newWaiter[struct{}]()}
	if !m.FlushStore(w) {
		return ErrRejected
	}
	_, err := w.wait(ctx)
	return err
}

// collector gathers visited cookies until the manager releases it.
type collector struct {
	mu      sync.Mutex
	cookies []Cookie
	done    chan struct{}
	once    sync.Once
}

func (c *collector) Visit(ck Cookie, _, total int) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookies == nil {
		c.cookies = make([]Cookie, 0, total)
	}
	c.cookies = append(c.cookies, ck)
	return true, false
}

func (c *collector) Release() {
	c.once.Do(func() { close(c.done) })
}

func (c *collector) wait(ctx context.Context) ([]Cookie, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.cookies, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Collect returns every cookie known to m in visit order.
func Collect(ctx context.Context, m Manager) ([]Cookie, error) {
	c := &collector{done: make(chan struct{})}
	if !m.VisitAllCookies(c) {
		return nil, ErrRejected
	}
	return c.wait(ctx)
}

// CollectURL returns the cookies m would send to url, in visit order.
func CollectURL(ctx context.Context, m Manager, url string, includeHTTPOnly bool) ([]Cookie, error) {
	c := &collector{done: make(chan struct{})}
	if !m.VisitURLCookies(url, includeHTTPOnly, c) {
		return nil, ErrRejected
	}
	return c.wait(ctx)
}
