// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

// Package ref provides an owning handle for objects whose reference count is
// maintained on the other side of a foreign function boundary.
//
// A [Handle] never touches the count itself. Every increment and decrement
// goes through the [Ops] the handle is parameterized over, which is normally a
// zero-sized type forwarding to the add_ref and release function pointers of
// the foreign structure.
package ref

import (
	"errors"
	"fmt"
)

// ErrNullObject is wrapped by the panic raised when a method is invoked
// through a handle that holds no live object. Such a call is a bug in the
// caller and is never reported as an ordinary error.
var ErrNullObject = errors.New("method called on a null object")

// Ops is the reference-counting half of a foreign function-pointer table.
//
// Implementations must be usable as their zero value. They are only ever
// invoked with a non-nil pointer.
type Ops[P comparable] interface {
	AddRef(P)
	Release(P)
	HasOneRef(P) bool
}

// State describes what a [Handle] currently holds.
type State uint8

const (
	// Absent means the handle was built from a nil pointer.
	Absent State = iota
	// Owned means the handle holds one reference it must release.
	Owned
	// Borrowed means the handle points at a live object it does not own,
	// such as the self argument of a callback.
	Borrowed
	// Released means the handle was dropped and must not be used again.
	Released
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Owned:
		return "owned"
	case Borrowed:
		return "borrowed"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Handle is a value that owns at most one reference to a foreign object.
//
// The zero value is an [Absent] handle. A Handle is not safe for concurrent
// use; use [Handle.Clone] to obtain an independent handle for another
// goroutine.
type Handle[P comparable, O Ops[P]] struct {
	ptr   P
	state State
}

// Adopt wraps p without changing its reference count. The caller transfers
// the reference it already holds to the returned handle.
func Adopt[P comparable, O Ops[P]](p P) Handle[P, O] {
	var zero P
	if p == zero {
		return Handle[P, O]{}
	}
	return Handle[P, O]{ptr: p, state: Owned}
}

// Retain wraps p and acquires a new reference to it.
func Retain[P comparable, O Ops[P]](p P) Handle[P, O] {
	var zero P
	if p == zero {
		return Handle[P, O]{}
	}
	var ops O
	ops.AddRef(p)
	return Handle[P, O]{ptr: p, state: Owned}
}

// Borrow wraps p without acquiring a reference. The handle is valid only for
// as long as the lender keeps p alive.
func Borrow[P comparable, O Ops[P]](p P) Handle[P, O] {
	var zero P
	if p == zero {
		return Handle[P, O]{}
	}
	return Handle[P, O]{ptr: p, state: Borrowed}
}

// State reports what the handle currently holds.
func (h Handle[P, O]) State() State {
	return h.state
}

// Live reports whether the handle points at an object that may be used.
func (h Handle[P, O]) Live() bool {
	return h.state == Owned || h.state == Borrowed
}

// IsNull is the negation of [Handle.Live].
func (h Handle[P, O]) IsNull() bool {
	return !h.Live()
}

// Raw returns the wrapped pointer, or the zero value if the handle is not
// live. It never panics and does not transfer ownership.
func (h Handle[P, O]) Raw() P {
	if !h.Live() {
		var zero P
		return zero
	}
	return h.ptr
}

// Get returns the wrapped pointer for a method call. It panics with an error
// wrapping [ErrNullObject] if the handle is not live.
func (h Handle[P, O]) Get() P {
	if !h.Live() {
		panic(fmt.Errorf("%w: %T handle is %s", ErrNullObject, h.ptr, h.state))
	}
	return h.ptr
}

// Clone returns an independent owning handle to the same object. Cloning a
// handle that is not live returns an [Absent] handle and does not touch the
// pointer.
func (h Handle[P, O]) Clone() Handle[P, O] {
	if !h.Live() {
		return Handle[P, O]{}
	}
	var ops O
	ops.AddRef(h.ptr)
	return Handle[P, O]{ptr: h.ptr, state: Owned}
}

// Share returns the pointer with one extra reference acquired on behalf of a
// callee that adopts it. It returns the zero value if the handle is not live.
func (h Handle[P, O]) Share() P {
	if !h.Live() {
		var zero P
		return zero
	}
	var ops O
	ops.AddRef(h.ptr)
	return h.ptr
}

// HasOneRef reports whether the caller holds the only reference. It panics if
// the handle is not live.
func (h Handle[P, O]) HasOneRef() bool {
	var ops O
	return ops.HasOneRef(h.Get())
}

// Disown transfers the handle's reference to the caller and leaves the handle
// [Released]. A borrowed handle acquires a reference first so that the result
// always carries one. It returns the zero value if the handle is not live.
func (h *Handle[P, O]) Disown() P {
	var zero P
	switch h.state {
	case Owned:
	case Borrowed:
		var ops O
		ops.AddRef(h.ptr)
	default:
		return zero
	}
	p := h.ptr
	h.ptr = zero
	h.state = Released
	return p
}

// Release drops the handle's reference, if it owns one, and marks it
// [Released]. It is safe to call Release more than once; only the first call
// on an owning handle reaches the foreign release function.
func (h *Handle[P, O]) Release() {
	var zero P
	switch h.state {
	case Owned:
		var ops O
		// Prevent a double release even if ops.Release panics.
		p := h.ptr
		h.ptr = zero
		h.state = Released
		ops.Release(p)
	case Borrowed:
		h.ptr = zero
		h.state = Released
	}
}
