// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookietest

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ioLoop runs tasks one at a time, in the order they were posted, on a single
// goroutine. The queue is unbounded so that tasks may post further tasks.
type ioLoop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	// gid is the id of the loop goroutine, zero until it has started.
	gid atomic.Uint64
}

func newIOLoop() *ioLoop {
	l := &ioLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queues fn. It returns false once the loop has been stopped.
func (l *ioLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *ioLoop) run() {
	defer close(l.done)
	l.gid.Store(goroutineID())
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}
		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

// idle blocks until every task posted before the call has run. It must not
// be called from the loop itself.
func (l *ioLoop) idle() {
	ch := make(chan struct{})
	if l.post(func() { close(ch) }) {
		<-ch
	}
}

// stop refuses new tasks and lets the loop run the ones already queued
// before it exits. It is safe to call more than once.
func (l *ioLoop) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// wait blocks until the loop has exited after [ioLoop.stop]. Called from a
// task it returns at once: the remaining tasks run after the current one.
func (l *ioLoop) wait() {
	if l.onLoop() {
		return
	}
	<-l.done
}

// onLoop reports whether the caller is running on the loop goroutine.
func (l *ioLoop) onLoop() bool {
	return goroutineID() == l.gid.Load()
}

// goroutineID parses the id from the "goroutine N [...]" header of the
// caller's stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
