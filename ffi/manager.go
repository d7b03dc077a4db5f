// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

// #include "cefgo.h"
import "C"

import (
	"unsafe"

	"github.com/ava-labs/cefcookie/cookie"
)

// Manager is a handle to a cef_cookie_manager_t.
//
// Every method except Release, IsNull and Pointer panics if the handle is null
// or the engine left the corresponding function pointer NULL.
type Manager struct {
	object[C.cef_cookie_manager_t]
}

var _ cookie.Manager = (*Manager)(nil)

// AdoptManager takes over the reference the caller holds on p. A nil p yields
// a null handle.
func AdoptManager(p unsafe.Pointer) *Manager {
	return &Manager{adopt((*C.cef_cookie_manager_t)(p))}
}

// RetainManager acquires a new reference on p.
func RetainManager(p unsafe.Pointer) *Manager {
	return &Manager{retain((*C.cef_cookie_manager_t)(p))}
}

// Clone returns an independent handle to the same manager.
func (m *Manager) Clone() *Manager {
	return &Manager{m.clone()}
}

// SetSupportedSchemes implements [cookie.Manager].
func (m *Manager) SetSupportedSchemes(schemes []string, callback cookie.CompletionCallback) {
	self := m.self()
	mustHave(self.set_supported_schemes != nil, "cookie_manager", "set_supported_schemes")
	observeCall("set_supported_schemes")

	pinner := getPinner()
	defer releasePinner(pinner)
	C.cefgo_manager_set_supported_schemes(self, newCStringList(schemes, pinner), completionToC(callback))
}

// VisitAllCookies implements [cookie.Manager].
func (m *Manager) VisitAllCookies(visitor cookie.Visitor) bool {
	self := m.self()
	mustHave(self.visit_all_cookies != nil, "cookie_manager", "visit_all_cookies")
	observeCall("visit_all_cookies")

	return C.cefgo_manager_visit_all_cookies(self, visitorToC(visitor)) != 0
}

// VisitURLCookies implements [cookie.Manager].
func (m *Manager) VisitURLCookies(url string, includeHTTPOnly bool, visitor cookie.Visitor) bool {
	self := m.self()
	mustHave(self.visit_url_cookies != nil, "cookie_manager", "visit_url_cookies")
	observeCall("visit_url_cookies")

	pinner := getPinner()
	defer releasePinner(pinner)
	return C.cefgo_manager_visit_url_cookies(
		self,
		newCStringPtr(url, pinner),
		cBool(includeHTTPOnly),
		visitorToC(visitor),
	) != 0
}

// SetCookie implements [cookie.Manager].
func (m *Manager) SetCookie(url string, c cookie.Cookie, callback cookie.SetCookieCallback) bool {
	self := m.self()
	mustHave(self.set_cookie != nil, "cookie_manager", "set_cookie")
	observeCall("set_cookie")

	pinner := getPinner()
	defer releasePinner(pinner)
	return C.cefgo_manager_set_cookie(
		self,
		newCStringPtr(url, pinner),
		newCCookie(c, pinner),
		setCookieToC(callback),
	) != 0
}

// DeleteCookies implements [cookie.Manager].
func (m *Manager) DeleteCookies(url, name string, callback cookie.DeleteCookiesCallback) bool {
	self := m.self()
	mustHave(self.delete_cookies != nil, "cookie_manager", "delete_cookies")
	observeCall("delete_cookies")

	pinner := getPinner()
	defer releasePinner(pinner)
	return C.cefgo_manager_delete_cookies(
		self,
		newCStringPtr(url, pinner),
		newCStringPtr(name, pinner),
		deleteCookiesToC(callback),
	) != 0
}

// SetStoragePath implements [cookie.Manager].
func (m *Manager) SetStoragePath(path string, persistSessionCookies bool, callback cookie.CompletionCallback) bool {
	self := m.self()
	mustHave(self.set_storage_path != nil, "cookie_manager", "set_storage_path")
	observeCall("set_storage_path")

	pinner := getPinner()
	defer releasePinner(pinner)
	return C.cefgo_manager_set_storage_path(
		self,
		newCStringPtr(path, pinner),
		cBool(persistSessionCookies),
		completionToC(callback),
	) != 0
}

// FlushStore implements [cookie.Manager].
func (m *Manager) FlushStore(callback cookie.CompletionCallback) bool {
	self := m.self()
	mustHave(self.flush_store != nil, "cookie_manager", "flush_store")
	observeCall("flush_store")

	return C.cefgo_manager_flush_store(self, completionToC(callback)) != 0
}

// ExportManager exposes impl to the engine as a cef_cookie_manager_t. The
// returned handle holds the first reference; once the last reference is
// released impl is passed to [cookie.Release].
func ExportManager(impl cookie.Manager) *Manager {
	p := export(impl, func(p *C.cef_cookie_manager_t) { C.cefgo_init_manager(p) })
	return &Manager{adopt(p)}
}
