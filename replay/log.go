// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

// Package replay records the requests made to a cookie manager and
// re-executes them against another one.
//
// A log file is a sequence of segments. Each segment is a little-endian
// uint64 length followed by that many bytes holding one MessagePack encoded
// [Log].
package replay

import (
	"time"

	"github.com/ava-labs/cefcookie/cookie"
)

// Log is one segment of a replay log.
type Log struct {
	Operations []Operation `msgpack:"operations"`
}

// Operation is one manager request. Exactly one of the pointer fields is set;
// each is encoded as a map with a single key naming the request.
type Operation struct {
	SetSupportedSchemes *SetSupportedSchemes `msgpack:"SetSupportedSchemes,omitempty"`
	VisitAllCookies     *Visit               `msgpack:"VisitAllCookies,omitempty"`
	VisitURLCookies     *Visit               `msgpack:"VisitURLCookies,omitempty"`
	SetCookie           *SetCookie           `msgpack:"SetCookie,omitempty"`
	DeleteCookies       *DeleteCookies       `msgpack:"DeleteCookies,omitempty"`
	SetStoragePath      *SetStoragePath      `msgpack:"SetStoragePath,omitempty"`
	FlushStore          *FlushStore          `msgpack:"FlushStore,omitempty"`
}

// SetSupportedSchemes records a change of the custom schemes a manager
// accepts cookies for.
type SetSupportedSchemes struct {
	Schemes []string `msgpack:"schemes"`
}

// Visit records the cookies a visitor asked to delete. Visits that deleted
// nothing have no effect on replay.
type Visit struct {
	URL             string   `msgpack:"url,omitempty"`
	IncludeHTTPOnly bool     `msgpack:"include_http_only,omitempty"`
	Accepted        bool     `msgpack:"accepted"`
	Deleted         []Cookie `msgpack:"deleted"`
}

// SetCookie records a cookie write. Accepted is whether the manager took the
// request, not whether the cookie was stored.
type SetCookie struct {
	URL      string `msgpack:"url"`
	Cookie   Cookie `msgpack:"cookie"`
	Accepted bool   `msgpack:"accepted"`
}

// DeleteCookies records a deletion. An empty URL or Name leaves that filter
// unspecified.
type DeleteCookies struct {
	URL      string `msgpack:"url,omitempty"`
	Name     string `msgpack:"name,omitempty"`
	Accepted bool   `msgpack:"accepted"`
}

// SetStoragePath records a switch of the backing database. An empty Path
// keeps cookies in memory.
type SetStoragePath struct {
	Path                  string `msgpack:"path,omitempty"`
	PersistSessionCookies bool   `msgpack:"persist_session_cookies"`
	Accepted              bool   `msgpack:"accepted"`
}

// FlushStore records a request to write the backing database.
type FlushStore struct {
	Accepted bool `msgpack:"accepted"`
}

// Cookie is the logged form of a [cookie.Cookie]. Times are milliseconds
// since the Unix epoch, zero for an unset time.
type Cookie struct {
	Name       string `msgpack:"name"`
	Value      string `msgpack:"value"`
	Domain     string `msgpack:"domain,omitempty"`
	Path       string `msgpack:"path,omitempty"`
	Secure     bool   `msgpack:"secure,omitempty"`
	HTTPOnly   bool   `msgpack:"httponly,omitempty"`
	Creation   int64  `msgpack:"creation,omitempty"`
	LastAccess int64  `msgpack:"last_access,omitempty"`
	Expires    int64  `msgpack:"expires,omitempty"`
}

func fromCookie(c cookie.Cookie) Cookie {
	return Cookie{
		Name:       c.Name,
		Value:      c.Value,
		Domain:     c.Domain,
		Path:       c.Path,
		Secure:     c.Secure,
		HTTPOnly:   c.HTTPOnly,
		Creation:   toMillis(c.Creation),
		LastAccess: toMillis(c.LastAccess),
		Expires:    toMillis(c.Expires),
	}
}

// Cookie converts back to the manager's form.
func (c Cookie) Cookie() cookie.Cookie {
	return cookie.Cookie{
		Name:       c.Name,
		Value:      c.Value,
		Domain:     c.Domain,
		Path:       c.Path,
		Secure:     c.Secure,
		HTTPOnly:   c.HTTPOnly,
		Creation:   fromMillis(c.Creation),
		LastAccess: fromMillis(c.LastAccess),
		Expires:    fromMillis(c.Expires),
	}
}

// key identifies a cookie within a store.
func (c Cookie) key() [3]string {
	return [3]string{c.Name, c.Domain, c.Path}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
