// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

// #include <stdlib.h>
// #include "cefgo.h"
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/ava-labs/cefcookie/cookie"
)

// ErrUnknownObject is the panic value when the engine calls a vtable entry
// with a pointer that was never exported, or was already freed.
var ErrUnknownObject = errors.New("not a live exported object")

// exportedObject is the Go half of a C structure whose vtable calls into Go.
// The C half lives in C memory so the engine may keep it beyond any call.
type exportedObject struct {
	ptr  unsafe.Pointer
	impl any
	kind string
	refs atomic.Int32
}

// exports maps the address of each live C half to its Go half.
var exports sync.Map

// export allocates the C half for impl with a reference count of one. init
// fills the type-specific vtable entries.
func export[T cStruct](impl any, init func(*T)) *T {
	size := unsafe.Sizeof(*new(T))
	p := C.calloc(1, C.size_t(size))
	if p == nil {
		panic("ffi: cannot allocate exported object")
	}
	C.cefgo_init_base((*C.cef_base_ref_counted_t)(p), C.size_t(size))
	init((*T)(p))

	obj := &exportedObject{ptr: p, impl: impl, kind: typeName[T]()}
	obj.refs.Store(1)
	exports.Store(uintptr(p), obj)
	exportedObjects.Inc()
	logger().Debug("exported object", zap.String("type", obj.kind), zap.Uintptr("ptr", uintptr(p)))
	return (*T)(p)
}

func lookupExport(p unsafe.Pointer) *exportedObject {
	v, ok := exports.Load(uintptr(p))
	if !ok {
		panic(fmt.Errorf("%w: %#x", ErrUnknownObject, uintptr(p)))
	}
	return v.(*exportedObject)
}

// implOf returns the Go value behind an exported object.
func implOf[I any, T cStruct](p *T) I {
	return lookupExport(unsafe.Pointer(p)).impl.(I)
}

func (o *exportedObject) addRef() {
	o.refs.Add(1)
}

// release drops one reference and frees the object when it was the last one.
func (o *exportedObject) release() bool {
	n := o.refs.Add(-1)
	if n > 0 {
		return false
	}
	if n < 0 {
		panic(fmt.Errorf("%w: %s %#x released too often", ErrUnknownObject, o.kind, uintptr(o.ptr)))
	}

	exports.Delete(uintptr(o.ptr))
	C.free(o.ptr)
	exportedObjects.Dec()
	logger().Debug("freed exported object", zap.String("type", o.kind), zap.Uintptr("ptr", uintptr(o.ptr)))
	cookie.Release(o.impl)
	return true
}

// exportedRefs reports the reference count of an exported object.
func exportedRefs(p unsafe.Pointer) (int32, bool) {
	v, ok := exports.Load(uintptr(p))
	if !ok {
		return 0, false
	}
	return v.(*exportedObject).refs.Load(), true
}

//export cefgoAddRef
func cefgoAddRef(self *C.cef_base_ref_counted_t) {
	lookupExport(unsafe.Pointer(self)).addRef()
}

//export cefgoRelease
func cefgoRelease(self *C.cef_base_ref_counted_t) C.int {
	return cBool(lookupExport(unsafe.Pointer(self)).release())
}

//export cefgoHasOneRef
func cefgoHasOneRef(self *C.cef_base_ref_counted_t) C.int {
	return cBool(lookupExport(unsafe.Pointer(self)).refs.Load() == 1)
}

//export cefgoHasAtLeastOneRef
func cefgoHasAtLeastOneRef(self *C.cef_base_ref_counted_t) C.int {
	return cBool(lookupExport(unsafe.Pointer(self)).refs.Load() >= 1)
}

//export cefgoManagerSetSupportedSchemes
func cefgoManagerSetSupportedSchemes(self *C.cef_cookie_manager_t, schemes *C.cef_string_list_t, callback *C.cef_completion_callback_t) {
	m := implOf[cookie.Manager](self)
	m.SetSupportedSchemes(goStringList(schemes), completionFromC(callback))
}

//export cefgoManagerVisitAllCookies
func cefgoManagerVisitAllCookies(self *C.cef_cookie_manager_t, visitor *C.cef_cookie_visitor_t) C.int {
	m := implOf[cookie.Manager](self)
	return cBool(m.VisitAllCookies(visitorFromC(visitor)))
}

//export cefgoManagerVisitURLCookies
func cefgoManagerVisitURLCookies(self *C.cef_cookie_manager_t, url *C.cef_string_t, includeHTTPOnly C.int, visitor *C.cef_cookie_visitor_t) C.int {
	m := implOf[cookie.Manager](self)
	return cBool(m.VisitURLCookies(goString(url), includeHTTPOnly != 0, visitorFromC(visitor)))
}

//export cefgoManagerSetCookie
func cefgoManagerSetCookie(self *C.cef_cookie_manager_t, url *C.cef_string_t, c *C.cef_cookie_t, callback *C.cef_set_cookie_callback_t) C.int {
	m := implOf[cookie.Manager](self)
	return cBool(m.SetCookie(goString(url), goCookie(c), setCookieFromC(callback)))
}

//export cefgoManagerDeleteCookies
func cefgoManagerDeleteCookies(self *C.cef_cookie_manager_t, url, name *C.cef_string_t, callback *C.cef_delete_cookies_callback_t) C.int {
	m := implOf[cookie.Manager](self)
	return cBool(m.DeleteCookies(goString(url), goString(name), deleteCookiesFromC(callback)))
}

//export cefgoManagerSetStoragePath
func cefgoManagerSetStoragePath(self *C.cef_cookie_manager_t, path *C.cef_string_t, persistSessionCookies C.int, callback *C.cef_completion_callback_t) C.int {
	m := implOf[cookie.Manager](self)
	return cBool(m.SetStoragePath(goString(path), persistSessionCookies != 0, completionFromC(callback)))
}

//export cefgoManagerFlushStore
func cefgoManagerFlushStore(self *C.cef_cookie_manager_t, callback *C.cef_completion_callback_t) C.int {
	m := implOf[cookie.Manager](self)
	return cBool(m.FlushStore(completionFromC(callback)))
}

//export cefgoVisitorVisit
func cefgoVisitorVisit(self *C.cef_cookie_visitor_t, c *C.cef_cookie_t, count, total C.int, deleteCookie *C.int) C.int {
	v := implOf[cookie.Visitor](self)
	keepGoing, del := v.Visit(goCookie(c), int(count), int(total))
	if deleteCookie != nil {
		*deleteCookie = cBool(del)
	}
	return cBool(keepGoing)
}

//export cefgoSetCookieOnComplete
func cefgoSetCookieOnComplete(self *C.cef_set_cookie_callback_t, success C.int) {
	implOf[cookie.SetCookieCallback](self).OnComplete(success != 0)
}

//export cefgoDeleteCookiesOnComplete
func cefgoDeleteCookiesOnComplete(self *C.cef_delete_cookies_callback_t, numDeleted C.int) {
	implOf[cookie.DeleteCookiesCallback](self).OnComplete(int(numDeleted))
}

//export cefgoCompletionOnComplete
func cefgoCompletionOnComplete(self *C.cef_completion_callback_t) {
	implOf[cookie.CompletionCallback](self).OnComplete()
}

//export cefgoEmulatedGetGlobalManager
func cefgoEmulatedGetGlobalManager(callback *C.cef_completion_callback_t) *C.cef_cookie_manager_t {
	return emulatedGlobalManager(completionFromC(callback))
}

//export cefgoEmulatedCreateManager
func cefgoEmulatedCreateManager(path *C.cef_string_t, persistSessionCookies C.int, callback *C.cef_completion_callback_t) *C.cef_cookie_manager_t {
	return emulatedCreateManager(goString(path), persistSessionCookies != 0, completionFromC(callback))
}
