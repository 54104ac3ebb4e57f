// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package netlock provides the single engine-wide lock spec §4.1
// requires: exactly one thread mutates a Core's transport state
// (tcp.Engine, udp.Engine, timer.Wheel) at any instant. Every socket
// entry point, the core thread's own timer sweep, and the IP
// Dispatcher's ingress path all serialize on the same *Lock.
//
// The lock is reentrant per goroutine because link.Loopback (and any
// link whose Submit delivers synchronously) chains straight into the
// peer's RX handler on the calling goroutine: a Connect on Core A can
// transmit a SYN that Core B answers synchronously, and Core B's reply
// can land back on Core A's RX handler before Core A's own Connect
// call has returned, all on the same goroutine stack. A plain
// sync.Mutex would deadlock on that self-reentry; Lock instead tracks
// the owning goroutine and only blocks a genuinely different one.
package netlock

import (
	"runtime"
	"strconv"
	"sync"
)

// Lock is a reentrant mutual-exclusion lock: Lock/Unlock calls from
// the same goroutine nest; a different goroutine blocks until the
// owner's outermost Unlock drops the hold count to zero.
type Lock struct {
	cond  *sync.Cond
	owner int64
	held  bool
	depth int
}

// New returns a ready-to-use Lock.
func New() *Lock {
	return &Lock{cond: sync.NewCond(&sync.Mutex{})}
}

// Lock acquires the lock, blocking only if another goroutine currently
// holds it.
func (l *Lock) Lock() {
	id := goroutineID()
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	for l.held && l.owner != id {
		l.cond.Wait()
	}
	l.owner = id
	l.held = true
	l.depth++
}

// Unlock releases one level of nesting, waking a waiting goroutine
// once the hold count reaches zero. Unlock panics if called by a
// goroutine that does not currently hold the lock, the same misuse
// sync.Mutex.Unlock reports.
func (l *Lock) Unlock() {
	id := goroutineID()
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	if !l.held || l.owner != id {
		panic("netlock: Unlock of unlocked or unowned Lock")
	}
	l.depth--
	if l.depth == 0 {
		l.held = false
		l.cond.Signal()
	}
}

// goroutineID recovers the calling goroutine's numeric ID from its
// stack trace header ("goroutine 123 [running]:"), the same technique
// Go's own race detector and deadlock-diagnosis tooling use when no
// API exposes the ID directly.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// b starts with "goroutine "
	const prefix = "goroutine "
	if len(b) > len(prefix) {
		b = b[len(prefix):]
	}
	i := 0
	for i < len(b) && b[i] != ' ' {
		i++
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
