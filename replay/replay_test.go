// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package replay

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"

	"github.com/ava-labs/cefcookie/cookie"
	"github.com/ava-labs/cefcookie/cookietest"
)

func newStore(t *testing.T) *cookietest.Store {
	t.Helper()
	s := cookietest.New(cookietest.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func set(t *testing.T, m cookie.Manager, url string, c cookie.Cookie) {
	t.Helper()
	ok, err := cookie.SetCookieSync(t.Context(), m, url, c)
	require.NoError(t, err)
	require.True(t, ok, "cookie %q not stored", c.Name)
}

// summarize reduces cookies to name=value pairs in visit order.
func summarize(t *testing.T, m cookie.Manager) []string {
	t.Helper()
	cookies, err := cookie.Collect(t.Context(), m)
	require.NoError(t, err)
	out := make([]string, len(cookies))
	for i, c := range cookies {
		out[i] = c.Name + "=" + c.Value
	}
	return out
}

func TestRecordAndApply(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()

	source := newStore(t)
	var buf bytes.Buffer
	rec := NewRecorder(source, &buf)

	r.NoError(cookie.SetSupportedSchemesSync(ctx, rec, []string{"ws"}))
	set(t, rec, "https://example.com/", cookie.Cookie{Name: "a", Value: "1"})
	set(t, rec, "https://example.com/docs/", cookie.Cookie{Name: "b", Value: "2", Path: "/docs"})
	set(t, rec, "https://example.com/", cookie.Cookie{Name: "c", Value: "3", Expires: time.Now().Add(time.Hour)})
	set(t, rec, "https://other.org/", cookie.Cookie{Name: "d", Value: "4"})

	r.True(rec.VisitAllCookies(cookie.VisitorFunc(func(c cookie.Cookie, _, _ int) (bool, bool) {
		return true, c.Name == "b"
	})))
	source.Idle()

	n, err := cookie.DeleteCookiesSync(ctx, rec, "https://other.org/", "")
	r.NoError(err)
	r.Equal(1, n)
	r.False(rec.SetCookie("not a url", cookie.Cookie{Name: "x"}, nil))

	r.Equal(8, rec.Pending())
	r.NoError(rec.Flush())
	r.Zero(rec.Pending())

	// a second segment
	set(t, rec, "https://example.com/", cookie.Cookie{Name: "a", Value: "5"})
	r.NoError(rec.Close())

	logs, err := Decode(&buf)
	r.NoError(err)
	r.Len(logs, 2)
	r.Len(logs[0].Operations, 8)
	r.Len(logs[1].Operations, 1)

	visit := logs[0].Operations[5].VisitAllCookies
	r.NotNil(visit)
	r.True(visit.Accepted)
	r.Len(visit.Deleted, 1)
	r.Equal("b", visit.Deleted[0].Name)
	r.False(logs[0].Operations[7].SetCookie.Accepted)

	target := newStore(t)
	sum, err := Apply(ctx, target, logs, zaptest.NewLogger(t))
	r.NoError(err)
	r.Equal(Summary{Operations: 9, Deleted: 1}, sum)
	r.Equal(summarize(t, source), summarize(t, target))
	r.Equal([]string{"a=5", "c=3"}, summarize(t, target))
}

func TestRecorderForwardsRelease(t *testing.T) {
	r := require.New(t)
	s := cookietest.New()
	rec := NewRecorder(s, &bytes.Buffer{})
	rec.Release()
	r.False(rec.FlushStore(nil))
}

func TestRecorderClosed(t *testing.T) {
	r := require.New(t)
	s := newStore(t)
	var buf bytes.Buffer
	rec := NewRecorder(s, &buf)
	r.NoError(rec.Close())

	// still forwarded, no longer recorded
	set(t, rec, "https://example.com/", cookie.Cookie{Name: "a"})
	r.Zero(rec.Pending())
	r.ErrorIs(rec.Flush(), errRecorderClosed)
	r.Zero(buf.Len())
	r.Equal([]string{"a="}, summarize(t, s))
}

func TestCookieTimes(t *testing.T) {
	r := require.New(t)
	at := time.Date(2025, 6, 1, 8, 30, 0, 250*int(time.Millisecond), time.UTC)
	in := cookie.Cookie{Name: "n", Creation: at, Expires: at.Add(time.Hour)}

	out := fromCookie(in).Cookie()
	r.Equal(in, out)
	r.False(fromCookie(cookie.Cookie{}).Cookie().HasExpires())
}

func segment(t *testing.T, log Log) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(&log)
	require.NoError(t, err)
	return append(binary.LittleEndian.AppendUint64(nil, uint64(len(payload))), payload...)
}

func TestDecode(t *testing.T) {
	flush := Log{Operations: []Operation{{FlushStore: &FlushStore{Accepted: true}}}}
	valid := segment(t, flush)

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr bool
	}{
		{name: "empty", want: 0},
		{name: "one segment", data: valid, want: 1},
		{name: "empty segments skipped", data: append(make([]byte, 8), valid...), want: 1},
		{name: "truncated length", data: valid[:3], wantErr: true},
		{name: "truncated payload", data: valid[:len(valid)-1], wantErr: true},
		{name: "oversized", data: binary.LittleEndian.AppendUint64(nil, MaxSegmentSize+1), wantErr: true},
		{name: "garbage payload", data: append(binary.LittleEndian.AppendUint64(nil, 1), 0xc1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			logs, err := Decode(bytes.NewReader(tt.data))
			if tt.wantErr {
				r.Error(err)
				return
			}
			r.NoError(err)
			r.Len(logs, tt.want)
		})
	}
}

func TestApplyMismatch(t *testing.T) {
	r := require.New(t)
	s := newStore(t)
	logs := []Log{{Operations: []Operation{
		// recorded as rejected but accepted now
		{SetCookie: &SetCookie{URL: "https://example.com/", Cookie: Cookie{Name: "a"}}},
		{FlushStore: &FlushStore{Accepted: true}},
	}}}

	sum, err := Apply(t.Context(), s, logs, nil)
	r.NoError(err)
	r.Equal(Summary{Operations: 2, Mismatched: 1}, sum)
}

func TestApplyEmptyOperation(t *testing.T) {
	r := require.New(t)
	s := newStore(t)
	sum, err := Apply(t.Context(), s, []Log{{Operations: []Operation{{}}}}, nil)
	r.ErrorIs(err, errEmptyOperation)
	r.Zero(sum.Operations)
}
