// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

// #include "cefgo.h"
import "C"

import (
	"runtime"
	"sync"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/ava-labs/cefcookie/cookie"
)

// Go memory handed to C for the duration of a call is pinned, so that the
// structures passed by pointer may themselves point at Go buffers.
var pinners = sync.Pool{
	New: func() any { return new(runtime.Pinner) },
}

func getPinner() *runtime.Pinner {
	return pinners.Get().(*runtime.Pinner)
}

// releasePinner must only be called once the C call using the pinned memory
// has returned.
func releasePinner(p *runtime.Pinner) {
	p.Unpin()
	pinners.Put(p)
}

// newCString encodes s as UTF-16 into a pinned Go buffer. The result borrows
// the buffer and has no destructor.
func newCString(s string, pinner *runtime.Pinner) C.cef_string_t {
	if s == "" {
		return C.cef_string_t{}
	}
	buf := utf16.Encode([]rune(s))
	pinner.Pin(unsafe.SliceData(buf))
	return C.cef_string_t{
		str:    (*C.char16)(unsafe.Pointer(unsafe.SliceData(buf))),
		length: C.size_t(len(buf)),
	}
}

// newCStringPtr is like newCString but maps the empty string to NULL, which
// the engine reads as "unspecified".
func newCStringPtr(s string, pinner *runtime.Pinner) *C.cef_string_t {
	if s == "" {
		return nil
	}
	cs := newCString(s, pinner)
	return &cs
}

// goString copies a C string. NULL and empty strings both yield "".
func goString(s *C.cef_string_t) string {
	if s == nil || s.str == nil || s.length == 0 {
		return ""
	}
	units := unsafe.Slice((*uint16)(unsafe.Pointer(s.str)), int(s.length))
	return string(utf16.Decode(units))
}

func newCStringList(values []string, pinner *runtime.Pinner) *C.cef_string_list_t {
	if len(values) == 0 {
		return &C.cef_string_list_t{}
	}
	items := make([]C.cef_string_t, len(values))
	for i, v := range values {
		items[i] = newCString(v, pinner)
	}
	pinner.Pin(unsafe.SliceData(items))
	return &C.cef_string_list_t{
		size:   C.size_t(len(items)),
		values: unsafe.SliceData(items),
	}
}

func goStringList(l *C.cef_string_list_t) []string {
	if l == nil || l.size == 0 || l.values == nil {
		return nil
	}
	items := unsafe.Slice(l.values, int(l.size))
	out := make([]string, len(items))
	for i := range items {
		out[i] = goString(&items[i])
	}
	return out
}

// newCTime converts t to UTC fields. The zero time maps to all-zero fields.
func newCTime(t time.Time) C.cef_time_t {
	if t.IsZero() {
		return C.cef_time_t{}
	}
	u := t.UTC()
	return C.cef_time_t{
		year:         C.int(u.Year()),
		month:        C.int(u.Month()),
		day_of_week:  C.int(u.Weekday()),
		day_of_month: C.int(u.Day()),
		hour:         C.int(u.Hour()),
		minute:       C.int(u.Minute()),
		second:       C.int(u.Second()),
		millisecond:  C.int(u.Nanosecond() / int(time.Millisecond)),
	}
}

func goTime(t *C.cef_time_t) time.Time {
	if t.year == 0 && t.month == 0 && t.day_of_month == 0 {
		return time.Time{}
	}
	return time.Date(
		int(t.year), time.Month(t.month), int(t.day_of_month),
		int(t.hour), int(t.minute), int(t.second),
		int(t.millisecond)*int(time.Millisecond),
		time.UTC,
	)
}

func newCCookie(c cookie.Cookie, pinner *runtime.Pinner) *C.cef_cookie_t {
	cc := &C.cef_cookie_t{
		name:        newCString(c.Name, pinner),
		value:       newCString(c.Value, pinner),
		domain:      newCString(c.Domain, pinner),
		path:        newCString(c.Path, pinner),
		secure:      cBool(c.Secure),
		httponly:    cBool(c.HTTPOnly),
		creation:    newCTime(c.Creation),
		last_access: newCTime(c.LastAccess),
	}
	if c.HasExpires() {
		cc.has_expires = 1
		cc.expires = newCTime(c.Expires)
	}
	return cc
}

func goCookie(cc *C.cef_cookie_t) cookie.Cookie {
	if cc == nil {
		return cookie.Cookie{}
	}
	c := cookie.Cookie{
		Name:       goString(&cc.name),
		Value:      goString(&cc.value),
		Domain:     goString(&cc.domain),
		Path:       goString(&cc.path),
		Secure:     cc.secure != 0,
		HTTPOnly:   cc.httponly != 0,
		Creation:   goTime(&cc.creation),
		LastAccess: goTime(&cc.last_access),
	}
	if cc.has_expires != 0 {
		c.Expires = goTime(&cc.expires)
	}
	return c
}

// roundTripCookie pushes c through the C representation and back. It exists
// for tests, which cannot use cgo.
func roundTripCookie(c cookie.Cookie) cookie.Cookie {
	pinner := getPinner()
	defer releasePinner(pinner)
	return goCookie(newCCookie(c, pinner))
}

func roundTripStrings(values []string) []string {
	pinner := getPinner()
	defer releasePinner(pinner)
	return goStringList(newCStringList(values, pinner))
}
