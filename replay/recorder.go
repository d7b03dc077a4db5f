// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ava-labs/cefcookie/cookie"
)

var errRecorderClosed = errors.New("recorder closed")

// Recorder is a [cookie.Manager] that forwards every request to another
// manager and buffers a record of it. [Recorder.Flush] writes the buffered
// records as one segment.
//
// Deletions requested by a visitor are added to the visit's record as they
// happen; flush after visits have finished to capture all of them.
type Recorder struct {
	m cookie.Manager

	mu      sync.Mutex
	w       io.Writer
	pending []Operation
}

var _ cookie.Manager = (*Recorder)(nil)

// NewRecorder returns a recorder forwarding to m and writing segments to w.
func NewRecorder(m cookie.Manager, w io.Writer) *Recorder {
	return &Recorder{m: m, w: w}
}

func (r *Recorder) record(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, op)
}

// Pending returns the number of buffered operations.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes the buffered operations as one segment. Nothing is written if
// no operation is buffered.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return errRecorderClosed
	}
	if len(r.pending) == 0 {
		return nil
	}

	payload, err := msgpack.Marshal(&Log{Operations: r.pending})
	if err != nil {
		return fmt.Errorf("encoding replay segment: %w", err)
	}
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return fmt.Errorf("writing segment length: %w", err)
	}
	if _, err := r.w.Write(payload); err != nil {
		return fmt.Errorf("writing segment payload: %w", err)
	}
	r.pending = nil
	return nil
}

// Close flushes the buffered operations and stops writing. Requests are
// still forwarded afterwards but no longer recorded.
func (r *Recorder) Close() error {
	err := r.Flush()
	r.mu.Lock()
	r.w = nil
	r.pending = nil
	r.mu.Unlock()
	return err
}

// Release implements [cookie.Releasable] by releasing the wrapped manager.
func (r *Recorder) Release() {
	cookie.Release(r.m)
}

func (r *Recorder) recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w != nil
}

// SetSupportedSchemes implements [cookie.Manager].
func (r *Recorder) SetSupportedSchemes(schemes []string, callback cookie.CompletionCallback) {
	if r.recording() {
		r.record(Operation{SetSupportedSchemes: &SetSupportedSchemes{Schemes: slices.Clone(schemes)}})
	}
	r.m.SetSupportedSchemes(schemes, callback)
}

// VisitAllCookies implements [cookie.Manager].
func (r *Recorder) VisitAllCookies(visitor cookie.Visitor) bool {
	if !r.recording() {
		return r.m.VisitAllCookies(visitor)
	}
	v := &Visit{}
	ok := r.m.VisitAllCookies(r.trackDeletions(v, visitor))
	v.Accepted = ok
	r.record(Operation{VisitAllCookies: v})
	return ok
}

// VisitURLCookies implements [cookie.Manager].
func (r *Recorder) VisitURLCookies(url string, includeHTTPOnly bool, visitor cookie.Visitor) bool {
	if !r.recording() {
		return r.m.VisitURLCookies(url, includeHTTPOnly, visitor)
	}
	v := &Visit{URL: url, IncludeHTTPOnly: includeHTTPOnly}
	ok := r.m.VisitURLCookies(url, includeHTTPOnly, r.trackDeletions(v, visitor))
	v.Accepted = ok
	r.record(Operation{VisitURLCookies: v})
	return ok
}

// SetCookie implements [cookie.Manager].
func (r *Recorder) SetCookie(url string, c cookie.Cookie, callback cookie.SetCookieCallback) bool {
	ok := r.m.SetCookie(url, c, callback)
	if r.recording() {
		r.record(Operation{SetCookie: &SetCookie{URL: url, Cookie: fromCookie(c), Accepted: ok}})
	}
	return ok
}

// DeleteCookies implements [cookie.Manager].
func (r *Recorder) DeleteCookies(url, name string, callback cookie.DeleteCookiesCallback) bool {
	ok := r.m.DeleteCookies(url, name, callback)
	if r.recording() {
		r.record(Operation{DeleteCookies: &DeleteCookies{URL: url, Name: name, Accepted: ok}})
	}
	return ok
}

// SetStoragePath implements [cookie.Manager].
func (r *Recorder) SetStoragePath(path string, persistSessionCookies bool, callback cookie.CompletionCallback) bool {
	ok := r.m.SetStoragePath(path, persistSessionCookies, callback)
	if r.recording() {
		r.record(Operation{SetStoragePath: &SetStoragePath{
			Path:                  path,
			PersistSessionCookies: persistSessionCookies,
			Accepted:              ok,
		}})
	}
	return ok
}

// FlushStore implements [cookie.Manager].
func (r *Recorder) FlushStore(callback cookie.CompletionCallback) bool {
	ok := r.m.FlushStore(callback)
	if r.recording() {
		r.record(Operation{FlushStore: &FlushStore{Accepted: ok}})
	}
	return ok
}

func (r *Recorder) trackDeletions(v *Visit, visitor cookie.Visitor) *trackingVisitor {
	return &trackingVisitor{r: r, v: v, inner: visitor}
}

// trackingVisitor appends the cookies its inner visitor deletes to a visit
// record.
type trackingVisitor struct {
	r     *Recorder
	v     *Visit
	inner cookie.Visitor
}

func (t *trackingVisitor) Visit(c cookie.Cookie, count, total int) (bool, bool) {
	keepGoing, del := t.inner.Visit(c, count, total)
	if del {
		t.r.mu.Lock()
		t.v.Deleted = append(t.v.Deleted, fromCookie(c))
		t.r.mu.Unlock()
	}
	return keepGoing, del
}

func (t *trackingVisitor) Release() {
	cookie.Release(t.inner)
}
