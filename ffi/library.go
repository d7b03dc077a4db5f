// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package ffi

// #include <stdlib.h>
// #include "cefgo.h"
import "C"

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/ava-labs/cefcookie/cookie"
)

const (
	// EnvLibraryPath overrides [DefaultLibraryPath].
	EnvLibraryPath = "CEFCOOKIE_LIBCEF"

	symGetGlobalManager = "cef_cookie_manager_get_global_manager"
	symCreateManager    = "cef_cookie_manager_create_manager"
)

var (
	// ErrLibraryClosed is the panic value of calls on a closed [Library].
	ErrLibraryClosed = errors.New("library closed")
	// ErrEmulationActive is returned by [Emulate] while another emulated
	// library is open.
	ErrEmulationActive = errors.New("an emulated library is already open")
	errOpenLibrary     = errors.New("cannot open library")
	errMissingSymbol   = errors.New("missing symbol")
)

// DefaultLibraryPath returns the engine library to load when none is given.
func DefaultLibraryPath() string {
	if p := os.Getenv(EnvLibraryPath); p != "" {
		return p
	}
	if runtime.GOOS == "darwin" {
		return "Chromium Embedded Framework.framework/Chromium Embedded Framework"
	}
	return "libcef.so"
}

// Library provides the global entry points of the cookie API, either from a
// dynamically loaded engine or from an emulation backed by Go managers.
type Library struct {
	mu        sync.Mutex
	dl        unsafe.Pointer
	getGlobal unsafe.Pointer
	create    unsafe.Pointer
	emulated  bool
	closed    bool
}

// Open loads the engine library at path and resolves the cookie entry points.
func Open(path string) (*Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	dl := C.cefgo_dlopen(cpath)
	if dl == nil {
		return nil, fmt.Errorf("%w %q: %s", errOpenLibrary, path, C.GoString(C.cefgo_dlerror()))
	}

	l := &Library{dl: dl}
	var err error
	if l.getGlobal, err = lookupSymbol(dl, symGetGlobalManager); err == nil {
		l.create, err = lookupSymbol(dl, symCreateManager)
	}
	if err != nil {
		C.cefgo_dlclose(dl)
		return nil, err
	}
	logger().Info("loaded engine library", zap.String("path", path))
	return l, nil
}

func lookupSymbol(dl unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var cerr *C.char
	sym := C.cefgo_dlsym(dl, cname, &cerr)
	if cerr != nil {
		return nil, fmt.Errorf("%w %s: %s", errMissingSymbol, name, C.GoString(cerr))
	}
	if sym == nil {
		return nil, fmt.Errorf("%w %s", errMissingSymbol, name)
	}
	return sym, nil
}

func (l *Library) entry(fn unsafe.Pointer) unsafe.Pointer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic(ErrLibraryClosed)
	}
	return fn
}

// GlobalManager returns the global cookie manager, or a null handle if the
// engine has none. callback, if not nil, is notified once the manager's
// storage has been initialized.
func (l *Library) GlobalManager(callback cookie.CompletionCallback) *Manager {
	fn := l.entry(l.getGlobal)
	observeCall("get_global_manager")
	return &Manager{adopt(C.cefgo_call_get_global_manager(fn, completionToC(callback)))}
}

// CreateManager returns a new cookie manager storing cookies at path, or in
// memory if path is empty. It returns a null handle on failure.
func (l *Library) CreateManager(path string, persistSessionCookies bool, callback cookie.CompletionCallback) *Manager {
	fn := l.entry(l.create)
	observeCall("create_manager")

	pinner := getPinner()
	defer releasePinner(pinner)
	p := C.cefgo_call_create_manager(fn, newCStringPtr(path, pinner), cBool(persistSessionCookies), completionToC(callback))
	return &Manager{adopt(p)}
}

// Close unloads the engine library, or ends the emulation. Managers obtained
// from a loaded library must be released before.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if l.emulated {
		emulation.stop()
		return nil
	}
	if C.cefgo_dlclose(l.dl) != 0 {
		return fmt.Errorf("closing library: %s", C.GoString(C.cefgo_dlerror()))
	}
	return nil
}

// emulation is the state behind the emulated entry points. The C entry
// points carry no user data, so at most one emulation is active at a time.
var emulation emulator

type emulator struct {
	mu         sync.Mutex
	active     bool
	global     *Manager
	newManager func() cookie.Manager
}

// Emulate returns a [Library] whose entry points are C functions backed by
// Go. GlobalManager always returns global, which may be nil. Each
// CreateManager call obtains a fresh manager from newManager and moves its
// storage to the requested path.
func Emulate(global cookie.Manager, newManager func() cookie.Manager) (*Library, error) {
	emulation.mu.Lock()
	defer emulation.mu.Unlock()
	if emulation.active {
		return nil, ErrEmulationActive
	}
	emulation.active = true
	emulation.newManager = newManager
	if global != nil {
		emulation.global = ExportManager(global)
	}
	return &Library{
		getGlobal: C.cefgo_emulated_get_global_manager(),
		create:    C.cefgo_emulated_create_manager(),
		emulated:  true,
	}, nil
}

func (e *emulator) stop() {
	e.mu.Lock()
	global := e.global
	e.active = false
	e.global = nil
	e.newManager = nil
	e.mu.Unlock()

	// outside the lock: the final release may run arbitrary Go code
	if global != nil {
		global.Release()
	}
}

func emulatedGlobalManager(callback cookie.CompletionCallback) *C.cef_cookie_manager_t {
	emulation.mu.Lock()
	var p *C.cef_cookie_manager_t
	if emulation.global != nil {
		p = emulation.global.h.Share()
	}
	emulation.mu.Unlock()

	if p == nil {
		cookie.Release(callback)
		return nil
	}
	if callback != nil {
		go func() {
			defer cookie.Release(callback)
			callback.OnComplete()
		}()
	}
	return p
}

func emulatedCreateManager(path string, persistSessionCookies bool, callback cookie.CompletionCallback) *C.cef_cookie_manager_t {
	emulation.mu.Lock()
	newManager := emulation.newManager
	emulation.mu.Unlock()

	if newManager == nil {
		cookie.Release(callback)
		return nil
	}
	impl := newManager()
	if !impl.SetStoragePath(path, persistSessionCookies, callback) {
		logger().Warn("emulated manager rejected storage path", zap.String("path", path))
		cookie.Release(impl)
		return nil
	}
	return ExportManager(impl).disown()
}
