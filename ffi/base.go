// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

// Package ffi binds the cookie manager of the Chromium Embedded Framework C
// API to Go.
//
// Objects owned by the engine are wrapped in handles ([Manager], [Visitor],
// [SetCookieCallback], [DeleteCookiesCallback], [CompletionCallback]) that
// hold one strong reference each. Go values implementing the interfaces of
// the cookie package can be handed to the engine; they are exposed as
// reference counted C objects whose vtables call back into Go.
//
// References follow the engine's convention: a pointer passed as an argument
// carries one reference which the callee adopts, a returned pointer carries
// one reference which the caller adopts, and the object a method is invoked
// on is only borrowed for the duration of the call.
package ffi

// #cgo linux LDFLAGS: -ldl
// #include <stdlib.h>
// #include "cefgo.h"
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ava-labs/cefcookie/ref"
)

// ErrNoFunction is the panic value when a vtable slot needed by a call is
// NULL.
var ErrNoFunction = errors.New("function pointer is null")

// cStruct is the set of reference counted C structures. Each starts with a
// cef_base_ref_counted_t.
type cStruct interface {
	C.cef_cookie_manager_t |
		C.cef_cookie_visitor_t |
		C.cef_set_cookie_callback_t |
		C.cef_delete_cookies_callback_t |
		C.cef_completion_callback_t
}

func baseOf[T cStruct](p *T) *C.cef_base_ref_counted_t {
	return (*C.cef_base_ref_counted_t)(unsafe.Pointer(p))
}

func typeName[T cStruct]() string {
	switch any((*T)(nil)).(type) {
	case *C.cef_cookie_manager_t:
		return "cookie_manager"
	case *C.cef_cookie_visitor_t:
		return "cookie_visitor"
	case *C.cef_set_cookie_callback_t:
		return "set_cookie_callback"
	case *C.cef_delete_cookies_callback_t:
		return "delete_cookies_callback"
	default:
		return "completion_callback"
	}
}

// baseOps counts references through the base structure's function table.
type baseOps[T cStruct] struct{}

var _ ref.Ops[*C.cef_cookie_manager_t] = baseOps[C.cef_cookie_manager_t]{}

func (baseOps[T]) AddRef(p *T) {
	b := baseOf(p)
	mustHave(b.add_ref != nil, typeName[T](), "add_ref")
	refOps.WithLabelValues(typeName[T](), "add_ref").Inc()
	C.cefgo_add_ref(b)
}

func (baseOps[T]) Release(p *T) {
	b := baseOf(p)
	mustHave(b.release != nil, typeName[T](), "release")
	refOps.WithLabelValues(typeName[T](), "release").Inc()
	C.cefgo_release(b)
}

func (baseOps[T]) HasOneRef(p *T) bool {
	return C.cefgo_has_one_ref(baseOf(p)) != 0
}

func mustHave(ok bool, typ, fn string) {
	if !ok {
		panic(fmt.Errorf("%w: %s.%s", ErrNoFunction, typ, fn))
	}
}

// object is the part shared by every handle type.
type object[T cStruct] struct {
	h ref.Handle[*T, baseOps[T]]
}

func adopt[T cStruct](p *T) object[T] {
	return object[T]{h: ref.Adopt[*T, baseOps[T]](p)}
}

func retain[T cStruct](p *T) object[T] {
	return object[T]{h: ref.Retain[*T, baseOps[T]](p)}
}

func borrow[T cStruct](p *T) object[T] {
	return object[T]{h: ref.Borrow[*T, baseOps[T]](p)}
}

// self returns the wrapped pointer, panicking if the handle is not live.
func (o *object[T]) self() *T {
	return o.h.Get()
}

func (o *object[T]) clone() object[T] {
	return object[T]{h: o.h.Clone()}
}

// Release drops the reference held by the handle. Releasing a null or already
// released handle does nothing.
func (o *object[T]) Release() {
	o.h.Release()
}

// IsNull reports whether the handle no longer refers to an object.
func (o *object[T]) IsNull() bool {
	return o.h.IsNull()
}

// HasOneRef reports whether the handle holds the only reference to the object.
func (o *object[T]) HasOneRef() bool {
	return o.h.HasOneRef()
}

// Pointer returns the raw C pointer without touching the reference count, or
// nil for a null handle.
func (o *object[T]) Pointer() unsafe.Pointer {
	if !o.h.Live() {
		return nil
	}
	return unsafe.Pointer(o.h.Raw())
}

// disown transfers the handle's reference to the caller, who must pass it on
// to a callee that adopts it.
func (o *object[T]) disown() *T {
	if !o.h.Live() {
		return nil
	}
	return o.h.Disown()
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
