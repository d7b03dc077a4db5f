// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

// #include "cefgo.h"
import "C"

import (
	"unsafe"

	"github.com/ava-labs/cefcookie/cookie"
)

// Visitor is a handle to a cef_cookie_visitor_t.
type Visitor struct {
	object[C.cef_cookie_visitor_t]
}

// SetCookieCallback is a handle to a cef_set_cookie_callback_t.
type SetCookieCallback struct {
	object[C.cef_set_cookie_callback_t]
}

// DeleteCookiesCallback is a handle to a cef_delete_cookies_callback_t.
type DeleteCookiesCallback struct {
	object[C.cef_delete_cookies_callback_t]
}

// CompletionCallback is a handle to a cef_completion_callback_t.
type CompletionCallback struct {
	object[C.cef_completion_callback_t]
}

var (
	_ cookie.Visitor               = (*Visitor)(nil)
	_ cookie.SetCookieCallback     = (*SetCookieCallback)(nil)
	_ cookie.DeleteCookiesCallback = (*DeleteCookiesCallback)(nil)
	_ cookie.CompletionCallback    = (*CompletionCallback)(nil)
	_ cookie.Releasable            = (*CompletionCallback)(nil)
)

// AdoptVisitor takes over the reference the caller holds on p. A nil p
// yields a null handle.
func AdoptVisitor(p unsafe.Pointer) *Visitor {
	return &Visitor{adopt((*C.cef_cookie_visitor_t)(p))}
}

// RetainVisitor acquires a new reference on p.
func RetainVisitor(p unsafe.Pointer) *Visitor {
	return &Visitor{retain((*C.cef_cookie_visitor_t)(p))}
}

// Clone returns an independent handle to the same visitor.
func (v *Visitor) Clone() *Visitor {
	return &Visitor{v.clone()}
}

// Visit implements [cookie.Visitor].
func (v *Visitor) Visit(c cookie.Cookie, count, total int) (keepGoing, deleteCookie bool) {
	self := v.self()
	mustHave(self.visit != nil, "cookie_visitor", "visit")
	observeCall("visit")

	pinner := getPinner()
	defer releasePinner(pinner)
	var del C.int
	keep := C.cefgo_visitor_visit(self, newCCookie(c, pinner), C.int(count), C.int(total), &del)
	return keep != 0, del != 0
}

// ExportVisitor exposes impl to the engine as a cef_cookie_visitor_t.
func ExportVisitor(impl cookie.Visitor) *Visitor {
	p := export(impl, func(p *C.cef_cookie_visitor_t) { C.cefgo_init_visitor(p) })
	return &Visitor{adopt(p)}
}

// AdoptSetCookieCallback takes over the reference the caller holds on p. A nil p
// yields a null handle.
func AdoptSetCookieCallback(p unsafe.Pointer) *SetCookieCallback {
	return &SetCookieCallback{adopt((*C.cef_set_cookie_callback_t)(p))}
}

// RetainSetCookieCallback acquires a new reference on p.
func RetainSetCookieCallback(p unsafe.Pointer) *SetCookieCallback {
	return &SetCookieCallback{retain((*C.cef_set_cookie_callback_t)(p))}
}

// Clone returns an independent handle to the same callback.
func (cb *SetCookieCallback) Clone() *SetCookieCallback {
	return &SetCookieCallback{cb.clone()}
}

// OnComplete implements [cookie.SetCookieCallback].
func (cb *SetCookieCallback) OnComplete(success bool) {
	self := cb.self()
	mustHave(self.on_complete != nil, "set_cookie_callback", "on_complete")
	observeCall("set_cookie_on_complete")
	C.cefgo_set_cookie_callback_on_complete(self, cBool(success))
}

// ExportSetCookieCallback exposes impl to the engine as a
// cef_set_cookie_callback_t.
func ExportSetCookieCallback(impl cookie.SetCookieCallback) *SetCookieCallback {
	p := export(impl, func(p *C.cef_set_cookie_callback_t) { C.cefgo_init_set_cookie_callback(p) })
	return &SetCookieCallback{adopt(p)}
}

// AdoptDeleteCookiesCallback takes over the reference the caller holds on p. A nil p
// yields a null handle.
func AdoptDeleteCookiesCallback(p unsafe.Pointer) *DeleteCookiesCallback {
	return &DeleteCookiesCallback{adopt((*C.cef_delete_cookies_callback_t)(p))}
}

// RetainDeleteCookiesCallback acquires a new reference on p.
func RetainDeleteCookiesCallback(p unsafe.Pointer) *DeleteCookiesCallback {
	return &DeleteCookiesCallback{retain((*C.cef_delete_cookies_callback_t)(p))}
}

// Clone returns an independent handle to the same callback.
func (cb *DeleteCookiesCallback) Clone() *DeleteCookiesCallback {
	return &DeleteCookiesCallback{cb.clone()}
}

// OnComplete implements [cookie.DeleteCookiesCallback]. numDeleted is relayed
// unchanged, including [cookie.NumDeletedUnknown].
func (cb *DeleteCookiesCallback) OnComplete(numDeleted int) {
	self := cb.self()
	mustHave(self.on_complete != nil, "delete_cookies_callback", "on_complete")
	observeCall("delete_cookies_on_complete")
	C.cefgo_delete_cookies_callback_on_complete(self, C.int(numDeleted))
}

// ExportDeleteCookiesCallback exposes impl to the engine as a
// cef_delete_cookies_callback_t.
func ExportDeleteCookiesCallback(impl cookie.DeleteCookiesCallback) *DeleteCookiesCallback {
	p := export(impl, func(p *C.cef_delete_cookies_callback_t) { C.cefgo_init_delete_cookies_callback(p) })
	return &DeleteCookiesCallback{adopt(p)}
}

// AdoptCompletionCallback takes over the reference the caller holds on p. A nil p
// yields a null handle.
func AdoptCompletionCallback(p unsafe.Pointer) *CompletionCallback {
	return &CompletionCallback{adopt((*C.cef_completion_callback_t)(p))}
}

// RetainCompletionCallback acquires a new reference on p.
func RetainCompletionCallback(p unsafe.Pointer) *CompletionCallback {
	return &CompletionCallback{retain((*C.cef_completion_callback_t)(p))}
}

// Clone returns an independent handle to the same callback.
func (cb *CompletionCallback) Clone() *CompletionCallback {
	return &CompletionCallback{cb.clone()}
}

// OnComplete implements [cookie.CompletionCallback].
func (cb *CompletionCallback) OnComplete() {
	self := cb.self()
	mustHave(self.on_complete != nil, "completion_callback", "on_complete")
	observeCall("completion_on_complete")
	C.cefgo_completion_callback_on_complete(self)
}

// ExportCompletionCallback exposes impl to the engine as a
// cef_completion_callback_t.
func ExportCompletionCallback(impl cookie.CompletionCallback) *CompletionCallback {
	p := export(impl, func(p *C.cef_completion_callback_t) { C.cefgo_init_completion_callback(p) })
	return &CompletionCallback{adopt(p)}
}

// The toC helpers produce the pointer argument for a call into the engine,
// carrying the one reference the callee adopts. A handle passed in is consumed;
// any other value is exported. nil maps to NULL.

func visitorToC(v cookie.Visitor) *C.cef_cookie_visitor_t {
	switch v := v.(type) {
	case nil:
		return nil
	case *Visitor:
		if v == nil {
			return nil
		}
		return v.disown()
	default:
		return ExportVisitor(v).disown()
	}
}

func setCookieToC(cb cookie.SetCookieCallback) *C.cef_set_cookie_callback_t {
	switch cb := cb.(type) {
	case nil:
		return nil
	case *SetCookieCallback:
		if cb == nil {
			return nil
		}
		return cb.disown()
	default:
		return ExportSetCookieCallback(cb).disown()
	}
}

func deleteCookiesToC(cb cookie.DeleteCookiesCallback) *C.cef_delete_cookies_callback_t {
	switch cb := cb.(type) {
	case nil:
		return nil
	case *DeleteCookiesCallback:
		if cb == nil {
			return nil
		}
		return cb.disown()
	default:
		return ExportDeleteCookiesCallback(cb).disown()
	}
}

func completionToC(cb cookie.CompletionCallback) *C.cef_completion_callback_t {
	switch cb := cb.(type) {
	case nil:
		return nil
	case *CompletionCallback:
		if cb == nil {
			return nil
		}
		return cb.disown()
	default:
		return ExportCompletionCallback(cb).disown()
	}
}

// The fromC helpers adopt a pointer received from the engine. NULL maps to a
// nil interface rather than a null handle so implementations can test for it.

func visitorFromC(p *C.cef_cookie_visitor_t) cookie.Visitor {
	if p == nil {
		return nil
	}
	return &Visitor{adopt(p)}
}

func setCookieFromC(p *C.cef_set_cookie_callback_t) cookie.SetCookieCallback {
	if p == nil {
		return nil
	}
	return &SetCookieCallback{adopt(p)}
}

func deleteCookiesFromC(p *C.cef_delete_cookies_callback_t) cookie.DeleteCookiesCallback {
	if p == nil {
		return nil
	}
	return &DeleteCookiesCallback{adopt(p)}
}

func completionFromC(p *C.cef_completion_callback_t) cookie.CompletionCallback {
	if p == nil {
		return nil
	}
	return &CompletionCallback{adopt(p)}
}
