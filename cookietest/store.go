// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

// Package cookietest provides an in-process implementation of
// [cookie.Manager] that behaves like the engine's cookie manager: requests are
// accepted or rejected synchronously and completed later, in order, on a
// dedicated IO goroutine.
//
// A [Store] keeps cookies in memory, optionally backed by a sqlite database
// selected with SetStoragePath. It can be presented to C callers with
// ffi.ExportManager or ffi.Emulate.
package cookietest

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ava-labs/cefcookie/cookie"
)

type entry struct {
	cookie.Cookie
	// seq orders cookies with equal path length and creation time.
	seq uint64
}

// Store is an emulated engine cookie manager.
type Store struct {
	cfg     config
	log     *zap.Logger
	loop    *ioLoop
	metrics *metrics

	schemesMu sync.RWMutex
	schemes   map[string]struct{}

	closeOnce sync.Once
	closeErr  error

	// Owned by the IO goroutine.
	entries        []*entry
	seq            uint64
	db             *sql.DB
	dbPath         string
	persistSession bool
	// counted is this store's share of the cookie gauge.
	counted int
}

var (
	_ cookie.Manager    = (*Store)(nil)
	_ cookie.Releasable = (*Store)(nil)
)

// New starts an empty in-memory store.
func New(opts ...Option) *Store {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Store{
		cfg:     cfg,
		log:     cfg.log,
		loop:    newIOLoop(),
		metrics: newMetrics(cfg.registerer),
	}
	s.replaceSchemes(cfg.schemes)
	return s
}

// Idle blocks until every request accepted before the call has completed. It
// must not be called from a visitor or callback.
func (s *Store) Idle() {
	s.loop.idle()
}

// Close completes the queued requests, writes the backing database and stops
// the IO goroutine. Later requests are rejected.
//
// Called from a visitor or callback, Close cannot wait for the requests
// queued behind the current one; it returns nil and the close runs once the
// callback returns, logging any error. Every other caller waits for it.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.loop.post(func() {
			s.closeErr = s.closeDatabase()
			s.metrics.cookies.Sub(float64(s.counted))
			s.counted = 0
			if s.closeErr != nil {
				s.log.Error("closing cookie store", zap.Error(s.closeErr))
			}
		})
		s.loop.stop()
	})
	if s.loop.onLoop() {
		return nil
	}
	s.loop.wait()
	return s.closeErr
}

// Release implements [cookie.Releasable] by closing the store, so that a
// store handed to C is closed once the last reference goes away. Close logs
// its own errors.
func (s *Store) Release() {
	_ = s.Close()
}

func (s *Store) replaceSchemes(schemes []string) {
	set := map[string]struct{}{"http": {}, "https": {}}
	for _, sc := range schemes {
		set[strings.ToLower(sc)] = struct{}{}
	}
	s.schemesMu.Lock()
	s.schemes = set
	s.schemesMu.Unlock()
}

func (s *Store) supports(scheme string) bool {
	s.schemesMu.RLock()
	defer s.schemesMu.RUnlock()
	_, ok := s.schemes[strings.ToLower(scheme)]
	return ok
}

// submit queues task, which takes over releasing callback. If the store is
// closed the callback is released here instead.
func (s *Store) submit(op string, callback any, task func()) bool {
	if !s.loop.post(task) {
		return s.reject(op, callback)
	}
	s.metrics.requests.WithLabelValues(op).Inc()
	return true
}

func (s *Store) reject(op string, callback any) bool {
	s.metrics.rejected.WithLabelValues(op).Inc()
	cookie.Release(callback)
	return false
}

// SetSupportedSchemes implements [cookie.Manager]. http and https remain
// supported whatever the list.
func (s *Store) SetSupportedSchemes(schemes []string, callback cookie.CompletionCallback) {
	schemes = slices.Clone(schemes)
	s.submit("set_supported_schemes", callback, func() {
		defer cookie.Release(callback)
		s.replaceSchemes(schemes)
		s.log.Debug("supported schemes changed", zap.Strings("schemes", schemes))
		if callback != nil {
			callback.OnComplete()
		}
	})
}

// VisitAllCookies implements [cookie.Manager].
func (s *Store) VisitAllCookies(visitor cookie.Visitor) bool {
	if visitor == nil {
		return s.reject("visit_all_cookies", visitor)
	}
	return s.submit("visit_all_cookies", visitor, func() {
		s.visit(s.sorted(), visitor)
	})
}

// VisitURLCookies implements [cookie.Manager]. Secure cookies are only visited
// for secure schemes, HTTP-only cookies only if includeHTTPOnly is set.
func (s *Store) VisitURLCookies(rawURL string, includeHTTPOnly bool, visitor cookie.Visitor) bool {
	u, ok := parseURL(rawURL)
	if !ok || visitor == nil {
		return s.reject("visit_url_cookies", visitor)
	}
	return s.submit("visit_url_cookies", visitor, func() {
		h := host(u)
		secure := isSecureScheme(u.Scheme)
		now := s.cfg.clock()

		var matched []*entry
		for _, e := range s.sorted() {
			switch {
			case !cookieDomainMatch(h, e.Domain):
			case !pathMatch(u.EscapedPath(), e.Path):
			case e.Secure && !secure:
			case e.HTTPOnly && !includeHTTPOnly:
			default:
				e.LastAccess = now
				matched = append(matched, e)
			}
		}
		s.visit(matched, visitor)
	})
}

func (s *Store) visit(list []*entry, visitor cookie.Visitor) {
	defer cookie.Release(visitor)
	for i, e := range list {
		keepGoing, del := visitor.Visit(e.Cookie, i, len(list))
		if del {
			s.remove(e)
		}
		if !keepGoing {
			return
		}
	}
}

// sorted drops expired cookies and returns the rest longest path first, then
// oldest first.
func (s *Store) sorted() []*entry {
	now := s.cfg.clock()
	s.entries = slices.DeleteFunc(s.entries, func(e *entry) bool {
		return e.HasExpires() && !e.Expires.After(now)
	})
	s.countCookies()

	list := slices.Clone(s.entries)
	slices.SortFunc(list, compareEntries)
	return list
}

func compareEntries(a, b *entry) int {
	if d := cmp.Compare(len(b.Path), len(a.Path)); d != 0 {
		return d
	}
	if d := a.Creation.Compare(b.Creation); d != 0 {
		return d
	}
	return cmp.Compare(a.seq, b.seq)
}

func (s *Store) remove(target *entry) {
	s.entries = slices.DeleteFunc(s.entries, func(e *entry) bool { return e == target })
	s.countCookies()
}

// countCookies moves the cookie gauge by the change since the last call.
func (s *Store) countCookies() {
	n := len(s.entries)
	s.metrics.cookies.Add(float64(n - s.counted))
	s.counted = n
}

func (s *Store) find(name, domain, path string) *entry {
	for _, e := range s.entries {
		if e.Name == name && e.Domain == domain && e.Path == path {
			return e
		}
	}
	return nil
}

// SetCookie implements [cookie.Manager]. The request is rejected for an
// invalid URL or unsupported scheme; a cookie that cannot be stored for url
// completes with false.
func (s *Store) SetCookie(rawURL string, c cookie.Cookie, callback cookie.SetCookieCallback) bool {
	u, ok := parseURL(rawURL)
	if !ok || !s.supports(u.Scheme) {
		return s.reject("set_cookie", callback)
	}
	return s.submit("set_cookie", callback, func() {
		defer cookie.Release(callback)
		success := s.setCookie(u, c)
		if !success {
			s.log.Debug("cookie refused", zap.String("name", c.Name), zap.String("host", host(u)))
		}
		if callback != nil {
			callback.OnComplete(success)
		}
	})
}

func (s *Store) setCookie(u *url.URL, c cookie.Cookie) bool {
	switch {
	case c.Name == "" && c.Value == "":
		return false
	case !validToken(c.Name, ";="), !validToken(c.Value, ";"),
		!validToken(c.Domain, "; "), !validToken(c.Path, ";"):
		return false
	case c.Secure && !isSecureScheme(u.Scheme):
		return false
	}

	h := host(u)
	c.Domain = strings.ToLower(c.Domain)
	if c.Domain == "" {
		c.Domain = h
	} else {
		d := strings.TrimPrefix(c.Domain, ".")
		if d == "" || !domainMatch(h, d) {
			return false
		}
		c.Domain = "." + d
	}
	if c.Path == "" || c.Path[0] != '/' {
		c.Path = defaultPath(u)
	}

	now := s.cfg.clock()
	existing := s.find(c.Name, c.Domain, c.Path)
	if c.HasExpires() && !c.Expires.After(now) {
		// Setting an expired cookie deletes the stored one.
		if existing != nil {
			s.remove(existing)
		}
		return true
	}
	if c.LastAccess.IsZero() {
		c.LastAccess = now
	}
	if existing != nil {
		c.Creation = existing.Creation
		existing.Cookie = c
		return true
	}
	if c.Creation.IsZero() {
		c.Creation = now
	}
	s.add(c)
	s.log.Debug("cookie stored", zap.String("name", c.Name), zap.String("domain", c.Domain))
	return true
}

func (s *Store) add(c cookie.Cookie) {
	s.seq++
	s.entries = append(s.entries, &entry{Cookie: c, seq: s.seq})
	s.countCookies()
}

// DeleteCookies implements [cookie.Manager].
//
// Without a URL every cookie, or every cookie named name, is deleted. With a
// URL and no name the host cookies of the URL's host are deleted whatever
// their path. With both, host and domain cookies sent to the host and named
// name are deleted.
func (s *Store) DeleteCookies(rawURL, name string, callback cookie.DeleteCookiesCallback) bool {
	var u *url.URL
	if rawURL != "" {
		var ok bool
		if u, ok = parseURL(rawURL); !ok {
			return s.reject("delete_cookies", callback)
		}
	}
	return s.submit("delete_cookies", callback, func() {
		defer cookie.Release(callback)
		n := s.deleteMatching(u, name)
		if callback != nil {
			callback.OnComplete(n)
		}
	})
}

func (s *Store) deleteMatching(u *url.URL, name string) int {
	match := func(e *entry) bool {
		if name != "" && e.Name != name {
			return false
		}
		switch {
		case u == nil:
			return true
		case name == "":
			return isHostOnly(e.Domain) && e.Domain == host(u)
		default:
			return cookieDomainMatch(host(u), e.Domain)
		}
	}
	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, match)
	s.countCookies()
	return before - len(s.entries)
}

// SetStoragePath implements [cookie.Manager]. The cookies of the current
// store are written to its database, if any, and replaced by those loaded
// from path. An empty path keeps cookies in memory only.
func (s *Store) SetStoragePath(path string, persistSessionCookies bool, callback cookie.CompletionCallback) bool {
	if path != "" {
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return s.reject("set_storage_path", callback)
		}
	}
	return s.submit("set_storage_path", callback, func() {
		defer cookie.Release(callback)
		if err := s.switchStorage(path, persistSessionCookies); err != nil {
			s.log.Error("cookie storage unavailable, keeping cookies in memory",
				zap.String("path", path), zap.Error(err))
		}
		if callback != nil {
			callback.OnComplete()
		}
	})
}

func (s *Store) switchStorage(path string, persistSessionCookies bool) error {
	if err := s.closeDatabase(); err != nil {
		s.log.Warn("writing previous cookie database", zap.Error(err))
	}
	s.entries = nil
	s.countCookies()
	s.persistSession = persistSessionCookies
	if path == "" {
		return nil
	}

	ctx := context.Background()
	open := openDatabase
	if s.cfg.readOnly {
		open = openDatabaseReadOnly
	}
	db, err := open(ctx, path)
	if err != nil {
		return err
	}
	if db == nil {
		s.log.Info("no cookie database to read", zap.String("path", path))
		return nil
	}
	loaded, err := loadCookies(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	for _, c := range loaded {
		s.add(c)
	}
	s.db = db
	s.dbPath = path
	s.log.Info("cookie storage opened", zap.String("path", path), zap.Int("cookies", len(loaded)))
	return nil
}

// FlushStore implements [cookie.Manager].
func (s *Store) FlushStore(callback cookie.CompletionCallback) bool {
	return s.submit("flush_store", callback, func() {
		defer cookie.Release(callback)
		if err := s.flush(); err != nil {
			s.log.Error("flushing cookie store", zap.String("path", s.dbPath), zap.Error(err))
		}
		if callback != nil {
			callback.OnComplete()
		}
	})
}

func (s *Store) flush() error {
	if s.db == nil || s.cfg.readOnly {
		return nil
	}
	now := s.cfg.clock()
	var keep []cookie.Cookie
	for _, e := range s.sortedBySeq() {
		if !e.HasExpires() && !s.persistSession {
			continue
		}
		if e.HasExpires() && !e.Expires.After(now) {
			continue
		}
		keep = append(keep, e.Cookie)
	}
	s.metrics.flushes.Inc()
	return saveCookies(context.Background(), s.db, keep)
}

// sortedBySeq orders cookies so that reloading them restores the tie-break.
func (s *Store) sortedBySeq() []*entry {
	list := slices.Clone(s.entries)
	slices.SortFunc(list, func(a, b *entry) int {
		if d := a.Creation.Compare(b.Creation); d != 0 {
			return d
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return list
}

func (s *Store) closeDatabase() error {
	if s.db == nil {
		return nil
	}
	err := s.flush()
	err = errors.Join(err, s.db.Close())
	s.db = nil
	s.dbPath = ""
	return err
}
