// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

// Package cookie defines the Go-side view of a browser engine's cookie
// manager: the cookie record, the manager capability interface and the
// callback interfaces through which asynchronous results are delivered.
//
// Nothing in this package talks to a foreign library. The ffi package
// implements these interfaces by forwarding to the C API, and the cookietest
// package implements them in memory.
package cookie

import (
	"errors"
	"time"
)

// NumDeletedUnknown is the count reported to a [DeleteCookiesCallback] when
// the engine cannot tell how many cookies were removed.
const NumDeletedUnknown = -1

var (
	// ErrRejected is returned by the synchronous helpers when the manager
	// refuses a request, either for an invalid argument or because cookies
	// cannot be accessed.
	ErrRejected = errors.New("cookie request rejected")
	// ErrDropped is returned by the synchronous helpers when the manager
	// released a callback without invoking it.
	ErrDropped = errors.New("cookie callback dropped without completion")
)

// Cookie is a single cookie as exchanged with the engine.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string

	Secure   bool
	HTTPOnly bool

	Creation   time.Time
	LastAccess time.Time
	// Expires is the zero time for session cookies.
	Expires time.Time
}

// HasExpires reports whether the cookie carries an expiry date.
func (c Cookie) HasExpires() bool {
	return !c.Expires.IsZero()
}

// Manager is the capability set of an engine cookie manager.
//
// Methods returning bool report whether the request was accepted; false means
// an invalid argument or that cookies cannot be accessed. Completion of an
// accepted request is reported later through the callback, possibly on
// another goroutine or OS thread.
//
// A Manager takes ownership of every visitor and callback passed to it and
// calls [Release] on each exactly once when it has finished with it, including
// when the request is rejected. Callbacks may be nil.
type Manager interface {
	// SetSupportedSchemes replaces the set of schemes cookies may be set for.
	SetSupportedSchemes(schemes []string, callback CompletionCallback)
	// VisitAllCookies visits every cookie, longest path first, then earliest
	// creation first.
	VisitAllCookies(visitor Visitor) bool
	// VisitURLCookies visits the cookies that would be sent to url, in the
	// same order as VisitAllCookies.
	VisitURLCookies(url string, includeHTTPOnly bool, visitor Visitor) bool
	// SetCookie sets c on behalf of url.
	SetCookie(url string, c Cookie, callback SetCookieCallback) bool
	// DeleteCookies deletes the cookies matching url and name. Either may be
	// empty to leave that filter unspecified.
	DeleteCookies(url, name string, callback DeleteCookiesCallback) bool
	// SetStoragePath moves cookie storage to path, or to memory if path is
	// empty.
	SetStoragePath(path string, persistSessionCookies bool, callback CompletionCallback) bool
	// FlushStore writes the backing store, if any, to disk.
	FlushStore(callback CompletionCallback) bool
}

// Visitor receives cookies one at a time during a visit.
//
// Visit is never called if no cookie matches. count is the zero-based index
// of c and total the number of cookies being visited. Returning keepGoing
// false stops the visit; deleteCookie true deletes c.
type Visitor interface {
	Visit(c Cookie, count, total int) (keepGoing, deleteCookie bool)
}

// SetCookieCallback is notified when a [Manager.SetCookie] request completes.
type SetCookieCallback interface {
	OnComplete(success bool)
}

// DeleteCookiesCallback is notified when a [Manager.DeleteCookies] request
// completes. numDeleted may be [NumDeletedUnknown].
type DeleteCookiesCallback interface {
	OnComplete(numDeleted int)
}

// CompletionCallback is notified when a request without a result completes.
type CompletionCallback interface {
	OnComplete()
}

// Releasable is implemented by values that must be told when their holder is
// done with them.
type Releasable interface {
	Release()
}

// Release calls v.Release if v implements [Releasable]. It is a no-op for nil
// and for values that do not.
func Release(v any) {
	if r, ok := v.(Releasable); ok && r != nil {
		r.Release()
	}
}

// VisitorFunc adapts a function to a [Visitor].
type VisitorFunc func(c Cookie, count, total int) (keepGoing, deleteCookie bool)

// Visit calls f.
func (f VisitorFunc) Visit(c Cookie, count, total int) (bool, bool) {
	return f(c, count, total)
}

// SetCookieFunc adapts a function to a [SetCookieCallback].
type SetCookieFunc func(success bool)

// OnComplete calls f.
func (f SetCookieFunc) OnComplete(success bool) { f(success) }

// DeleteCookiesFunc adapts a function to a [DeleteCookiesCallback].
type DeleteCookiesFunc func(numDeleted int)

// OnComplete calls f.
func (f DeleteCookiesFunc) OnComplete(numDeleted int) { f(numDeleted) }

// CompletionFunc adapts a function to a [CompletionCallback].
type CompletionFunc func()

// OnComplete calls f.
func (f CompletionFunc) OnComplete() { f() }
