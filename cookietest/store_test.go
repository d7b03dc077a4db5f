// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookietest

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/cefcookie/cookie"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: epoch}
	s := New(append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s, clock
}

func set(t *testing.T, m cookie.Manager, url string, c cookie.Cookie) {
	t.Helper()
	ok, err := cookie.SetCookieSync(t.Context(), m, url, c)
	require.NoError(t, err)
	require.True(t, ok, "cookie %q not stored", c.Name)
}

func names(cookies []cookie.Cookie) []string {
	out := make([]string, len(cookies))
	for i, c := range cookies {
		out[i] = c.Name
	}
	return out
}

func collect(t *testing.T, m cookie.Manager) []cookie.Cookie {
	t.Helper()
	got, err := cookie.Collect(t.Context(), m)
	require.NoError(t, err)
	return got
}

// trackedVisitor counts how often it is released.
type trackedVisitor struct {
	cookie.VisitorFunc
	released atomic.Int32
}

func (v *trackedVisitor) Release() { v.released.Add(1) }

func TestVisitOrder(t *testing.T) {
	r := require.New(t)
	s, clock := newStore(t)

	set(t, s, "https://example.com/a", cookie.Cookie{Name: "short", Path: "/a"})
	clock.Advance(time.Second)
	set(t, s, "https://example.com/a/bb", cookie.Cookie{Name: "long", Path: "/a/bb"})
	set(t, s, "https://example.com/", cookie.Cookie{Name: "root-1", Path: "/"})
	set(t, s, "https://example.com/", cookie.Cookie{Name: "root-2", Path: "/"})
	clock.Advance(-time.Minute)
	set(t, s, "https://example.com/", cookie.Cookie{Name: "root-old", Path: "/"})

	// longest path, then earliest creation, then insertion order
	r.Equal([]string{"long", "short", "root-old", "root-1", "root-2"}, names(collect(t, s)))
}

func TestVisitOrderLongerPathFirst(t *testing.T) {
	tests := []struct {
		name string
		// set adds "long" at /a/bb and "short" at /a in some order
		set func(t *testing.T, s *Store, clock *fakeClock)
	}{
		{
			name: "longer path created and inserted first",
			set: func(t *testing.T, s *Store, clock *fakeClock) {
				set(t, s, "https://example.com/a/bb", cookie.Cookie{Name: "long", Path: "/a/bb"})
				clock.Advance(time.Second)
				set(t, s, "https://example.com/a", cookie.Cookie{Name: "short", Path: "/a"})
			},
		},
		{
			name: "longer path created first and inserted last",
			set: func(t *testing.T, s *Store, clock *fakeClock) {
				clock.Advance(time.Second)
				set(t, s, "https://example.com/a", cookie.Cookie{Name: "short", Path: "/a"})
				clock.Advance(-time.Second)
				set(t, s, "https://example.com/a/bb", cookie.Cookie{Name: "long", Path: "/a/bb"})
			},
		},
		{
			name: "longer path created and inserted last",
			set: func(t *testing.T, s *Store, clock *fakeClock) {
				set(t, s, "https://example.com/a", cookie.Cookie{Name: "short", Path: "/a"})
				clock.Advance(time.Second)
				set(t, s, "https://example.com/a/bb", cookie.Cookie{Name: "long", Path: "/a/bb"})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newStore(t)
			tt.set(t, s, clock)
			require.Equal(t, []string{"long", "short"}, names(collect(t, s)))
		})
	}
}

func TestReleaseFromCallback(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	s := New()
	r.NoError(cookie.SetStoragePathSync(t.Context(), s, dir, true))

	returned := make(chan bool, 1)
	r.True(s.SetCookie("https://example.com/", cookie.Cookie{Name: "a", Value: "1"}, cookie.SetCookieFunc(func(ok bool) {
		s.Release()
		returned <- ok
	})))
	select {
	case ok := <-returned:
		r.True(ok)
	case <-time.After(10 * time.Second):
		r.FailNow("release inside a callback did not return")
	}

	// waits for the close the callback queued
	r.NoError(s.Close())
	r.False(s.FlushStore(nil))

	reopened, _ := newStore(t)
	r.NoError(cookie.SetStoragePathSync(t.Context(), reopened, dir, true))
	r.Equal([]string{"a"}, names(collect(t, reopened)))
}

func TestCloseFromVisitor(t *testing.T) {
	r := require.New(t)
	s := New()
	set(t, s, "https://example.com/", cookie.Cookie{Name: "a"})
	set(t, s, "https://example.com/", cookie.Cookie{Name: "b"})

	var visited atomic.Int32
	v := &trackedVisitor{VisitorFunc: func(cookie.Cookie, int, int) (bool, bool) {
		visited.Add(1)
		r.NoError(s.Close())
		return true, false
	}}
	r.True(s.VisitAllCookies(v))
	r.NoError(s.Close())

	// the visit in progress finishes; nothing queued after the close runs
	r.Equal(int32(2), visited.Load())
	r.Equal(int32(1), v.released.Load())
}

func TestVisitCountAndTotal(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)
	for _, n := range []string{"a", "b", "c"} {
		set(t, s, "https://example.com/", cookie.Cookie{Name: n})
	}

	var counts, totals []int
	v := &trackedVisitor{VisitorFunc: func(_ cookie.Cookie, count, total int) (bool, bool) {
		counts = append(counts, count)
		totals = append(totals, total)
		return true, false
	}}
	r.True(s.VisitAllCookies(v))
	s.Idle()

	r.Equal([]int{0, 1, 2}, counts)
	r.Equal([]int{3, 3, 3}, totals)
	r.Equal(int32(1), v.released.Load())
}

func TestVisitNoCookies(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)

	v := &trackedVisitor{VisitorFunc: func(cookie.Cookie, int, int) (bool, bool) {
		t.Error("visitor called without cookies")
		return true, false
	}}
	r.True(s.VisitAllCookies(v))
	s.Idle()
	r.Equal(int32(1), v.released.Load())

	v = &trackedVisitor{VisitorFunc: v.VisitorFunc}
	r.True(s.VisitURLCookies("https://nothing.example/", true, v))
	s.Idle()
	r.Equal(int32(1), v.released.Load())
}

func TestVisitorDeleteAndStop(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)
	for _, n := range []string{"a", "b", "c", "d"} {
		set(t, s, "https://example.com/", cookie.Cookie{Name: n})
	}

	visited := 0
	r.True(s.VisitAllCookies(cookie.VisitorFunc(func(c cookie.Cookie, count, _ int) (bool, bool) {
		visited++
		return count < 1, c.Name == "a" || c.Name == "b"
	})))
	s.Idle()

	r.Equal(2, visited)
	r.Equal([]string{"c", "d"}, names(collect(t, s)))
}

func TestSetCookieRejected(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)

	cb := &trackedCompletion{}
	r.False(s.SetCookie("not a url", cookie.Cookie{Name: "a"}, cb))
	r.Equal(int32(1), cb.released.Load())

	r.False(s.SetCookie("ftp://files.example.com/", cookie.Cookie{Name: "a"}, nil))
	r.NoError(cookie.SetSupportedSchemesSync(t.Context(), s, []string{"ftp"}))
	set(t, s, "ftp://files.example.com/", cookie.Cookie{Name: "a"})

	// http and https survive any scheme list
	set(t, s, "http://example.com/", cookie.Cookie{Name: "b"})
}

func TestSetCookieRefused(t *testing.T) {
	tests := []struct {
		name string
		url  string
		c    cookie.Cookie
	}{
		{"empty", "https://example.com/", cookie.Cookie{}},
		{"semicolon in name", "https://example.com/", cookie.Cookie{Name: "a;b"}},
		{"equals in name", "https://example.com/", cookie.Cookie{Name: "a=b"}},
		{"control in value", "https://example.com/", cookie.Cookie{Name: "a", Value: "x\ny"}},
		{"secure over http", "http://example.com/", cookie.Cookie{Name: "a", Secure: true}},
		{"foreign domain", "https://example.com/", cookie.Cookie{Name: "a", Domain: "other.com"}},
		{"sibling domain", "https://a.example.com/", cookie.Cookie{Name: "a", Domain: "b.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			s, _ := newStore(t)

			ok, err := cookie.SetCookieSync(t.Context(), s, tt.url, tt.c)
			r.NoError(err)
			r.False(ok)
			r.Empty(collect(t, s))
		})
	}
}

func TestSetCookieDefaults(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)

	set(t, s, "https://www.example.com/docs/page.html", cookie.Cookie{Name: "host"})
	set(t, s, "https://www.example.com/", cookie.Cookie{Name: "domain", Domain: "Example.com", Path: "/"})

	got := collect(t, s)
	r.Len(got, 2)
	r.Equal("host", got[0].Name)
	r.Equal("www.example.com", got[0].Domain)
	r.Equal("/docs", got[0].Path)
	r.Equal(epoch, got[0].Creation)
	r.Equal(epoch, got[0].LastAccess)
	r.Equal(".example.com", got[1].Domain)
}

func TestReplaceKeepsCreation(t *testing.T) {
	r := require.New(t)
	s, clock := newStore(t)

	set(t, s, "https://example.com/", cookie.Cookie{Name: "a", Value: "1", Path: "/"})
	clock.Advance(time.Second)
	set(t, s, "https://example.com/", cookie.Cookie{Name: "b", Path: "/"})
	clock.Advance(time.Second)
	set(t, s, "https://example.com/", cookie.Cookie{Name: "a", Value: "2", Path: "/"})

	got := collect(t, s)
	r.Equal([]string{"a", "b"}, names(got))
	r.Equal("2", got[0].Value)
	r.Equal(epoch, got[0].Creation)
}

func TestExpiry(t *testing.T) {
	r := require.New(t)
	s, clock := newStore(t)

	set(t, s, "https://example.com/", cookie.Cookie{Name: "a", Expires: epoch.Add(time.Hour)})
	set(t, s, "https://example.com/", cookie.Cookie{Name: "session"})
	r.Len(collect(t, s), 2)

	clock.Advance(2 * time.Hour)
	r.Equal([]string{"session"}, names(collect(t, s)))

	// setting an already expired cookie deletes the stored one
	set(t, s, "https://example.com/", cookie.Cookie{Name: "session", Expires: epoch})
	r.Empty(collect(t, s))
}

func TestVisitURLCookies(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)

	set(t, s, "https://www.example.com/", cookie.Cookie{Name: "host", Path: "/"})
	set(t, s, "https://www.example.com/", cookie.Cookie{Name: "domain", Domain: ".example.com", Path: "/"})
	set(t, s, "https://www.example.com/", cookie.Cookie{Name: "secure", Path: "/", Secure: true})
	set(t, s, "https://www.example.com/", cookie.Cookie{Name: "httponly", Path: "/", HTTPOnly: true})
	set(t, s, "https://www.example.com/app", cookie.Cookie{Name: "app", Path: "/app"})
	set(t, s, "https://other.com/", cookie.Cookie{Name: "other", Path: "/"})

	visit := func(url string, includeHTTPOnly bool) []string {
		got, err := cookie.CollectURL(t.Context(), s, url, includeHTTPOnly)
		r.NoError(err)
		return names(got)
	}

	r.Equal([]string{"app", "host", "domain", "secure", "httponly"}, visit("https://www.example.com/app/x", true))
	r.Equal([]string{"host", "domain", "secure"}, visit("https://www.example.com/apple", false))
	r.Equal([]string{"host", "domain"}, visit("http://www.example.com/", false))
	r.Equal([]string{"domain"}, visit("https://api.example.com/", true))
	r.Empty(visit("https://example.org/", true))

	r.False(s.VisitURLCookies("::bad", true, cookie.VisitorFunc(func(cookie.Cookie, int, int) (bool, bool) {
		return true, false
	})))
}

func TestDeleteCookies(t *testing.T) {
	populate := func(t *testing.T) *Store {
		s, _ := newStore(t)
		set(t, s, "https://www.example.com/", cookie.Cookie{Name: "a", Path: "/"})
		set(t, s, "https://www.example.com/x", cookie.Cookie{Name: "a", Path: "/x"})
		set(t, s, "https://www.example.com/", cookie.Cookie{Name: "b", Path: "/"})
		set(t, s, "https://www.example.com/", cookie.Cookie{Name: "a", Domain: ".example.com", Path: "/"})
		set(t, s, "https://other.com/", cookie.Cookie{Name: "a", Path: "/"})
		return s
	}

	tests := []struct {
		name    string
		url     string
		cookie  string
		deleted int
		left    int
	}{
		{"everything", "", "", 5, 0},
		{"by name", "", "a", 4, 1},
		{"host cookies", "https://www.example.com/", "", 3, 2},
		{"host and domain by name", "https://www.example.com/", "a", 3, 2},
		{"domain only host", "https://api.example.com/", "a", 1, 4},
		{"no match", "https://none.example/", "", 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			s := populate(t)

			n, err := cookie.DeleteCookiesSync(t.Context(), s, tt.url, tt.cookie)
			r.NoError(err)
			r.Equal(tt.deleted, n)
			r.Len(collect(t, s), tt.left)
		})
	}

	_, err := cookie.DeleteCookiesSync(t.Context(), populate(t), "::bad", "")
	require.ErrorIs(t, err, cookie.ErrRejected)
}

func TestPersistence(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	ctx := t.Context()

	s, _ := newStore(t)
	r.NoError(cookie.SetStoragePathSync(ctx, s, dir, false))
	set(t, s, "https://example.com/", cookie.Cookie{Name: "kept", Value: "v", Path: "/", Expires: epoch.Add(time.Hour), HTTPOnly: true})
	set(t, s, "https://example.com/", cookie.Cookie{Name: "session", Path: "/"})
	r.NoError(cookie.FlushStoreSync(ctx, s))
	r.NoError(s.Close())

	s2, _ := newStore(t)
	r.NoError(cookie.SetStoragePathSync(ctx, s2, dir, true))
	got := collect(t, s2)
	r.Len(got, 1)
	r.Equal("kept", got[0].Name)
	r.Equal("v", got[0].Value)
	r.Equal("example.com", got[0].Domain)
	r.True(got[0].HTTPOnly)
	r.Equal(epoch, got[0].Creation)
	r.Equal(epoch.Add(time.Hour), got[0].Expires)

	// with persistSessionCookies, Close writes session cookies too
	set(t, s2, "https://example.com/", cookie.Cookie{Name: "session", Path: "/"})
	r.NoError(s2.Close())

	s3, _ := newStore(t)
	r.NoError(cookie.SetStoragePathSync(ctx, s3, dir, false))
	r.Equal([]string{"kept", "session"}, names(collect(t, s3)))

	// moving back to memory leaves no cookies behind
	r.NoError(cookie.SetStoragePathSync(ctx, s3, "", false))
	r.Empty(collect(t, s3))
}

func TestStoragePathIsFile(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)

	file := filepath.Join(t.TempDir(), "plain")
	r.NoError(os.WriteFile(file, nil, 0o600))
	r.ErrorIs(cookie.SetStoragePathSync(t.Context(), s, file, false), cookie.ErrRejected)
}

// trackedCompletion counts releases for any callback interface.
type trackedCompletion struct {
	released atomic.Int32
}

func (c *trackedCompletion) OnComplete(bool) {}

func (c *trackedCompletion) Release() { c.released.Add(1) }

func TestClosedStoreRejects(t *testing.T) {
	r := require.New(t)
	s, _ := newStore(t)
	r.NoError(s.Close())
	r.NoError(s.Close())

	cb := &trackedCompletion{}
	r.False(s.SetCookie("https://example.com/", cookie.Cookie{Name: "a"}, cb))
	r.Equal(int32(1), cb.released.Load())
	r.False(s.FlushStore(nil))
	r.False(s.VisitAllCookies(cookie.VisitorFunc(func(cookie.Cookie, int, int) (bool, bool) { return true, false })))
}

func TestMetrics(t *testing.T) {
	r := require.New(t)
	reg := prometheus.NewRegistry()
	s, _ := newStore(t, WithRegisterer(reg))

	set(t, s, "https://example.com/", cookie.Cookie{Name: "a"})
	set(t, s, "https://example.com/", cookie.Cookie{Name: "b"})
	r.False(s.SetCookie("bad", cookie.Cookie{}, nil))

	r.InDelta(2, testutil.ToFloat64(s.metrics.requests.WithLabelValues("set_cookie")), 0)
	r.InDelta(1, testutil.ToFloat64(s.metrics.rejected.WithLabelValues("set_cookie")), 0)
	r.InDelta(2, testutil.ToFloat64(s.metrics.cookies), 0)

	n, err := testutil.GatherAndCount(reg, "cefcookie_store_requests_total")
	r.NoError(err)
	r.Equal(1, n)
}

func TestMetricsSharedRegisterer(t *testing.T) {
	r := require.New(t)
	reg := prometheus.NewRegistry()
	a, _ := newStore(t, WithRegisterer(reg))
	b, _ := newStore(t, WithRegisterer(reg))
	r.Same(a.metrics.requests, b.metrics.requests)

	set(t, a, "https://example.com/", cookie.Cookie{Name: "x"})
	set(t, b, "https://example.com/", cookie.Cookie{Name: "y"})
	set(t, b, "https://example.com/", cookie.Cookie{Name: "z"})

	r.InDelta(3, testutil.ToFloat64(a.metrics.requests.WithLabelValues("set_cookie")), 0)
	r.InDelta(3, testutil.ToFloat64(a.metrics.cookies), 0)

	// a closed store takes its cookies out of the gauge
	r.NoError(b.Close())
	r.InDelta(1, testutil.ToFloat64(a.metrics.cookies), 0)

	n, err := testutil.GatherAndCount(reg, "cefcookie_store_cookies")
	r.NoError(err)
	r.Equal(1, n)
}
