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

// Package timer implements the coarse 100ms tick of spec §4.1 step 2
// and §2's Timer Wheel row: the core thread advances one Wheel each
// tick, and every TCB whose deadline has passed runs its registered
// action (retransmit, keepalive probe, TIME_WAIT expiry, idle close,
// connect timeout). The shape is a direct generalization of the
// teacher's own ticker-driven periodic work: server/main.go's
// scavenger goroutine sweeps expired sessions on a time.Ticker, and
// std/snmp.go's SnmpLogger flushes on one; this module sweeps expired
// deadlines instead, still driven by a single consumer-owned tick.
package timer

import "time"

// Tick is the fixed timer wheel resolution spec §2 specifies.
const Tick = 100 * time.Millisecond

// Deadline is one scheduled timer action. ID lets the owner (usually a
// TCB) cancel or reschedule without the wheel needing to know what
// kind of deadline it is.
type Deadline struct {
	ID     uint64
	At     time.Time
	Action func()
}

// Wheel is a flat collection of armed deadlines, swept once per Tick
// by the core thread. It carries no internal lock: callers serialize
// Arm/Cancel/Advance externally (core.Core and the packages it hands
// the wheel to share one netlock.Lock for this), matching the single
// cooperative-thread concurrency model of spec §9.
type Wheel struct {
	now       time.Time
	deadlines map[uint64]*Deadline
	nextID    uint64
}

// New returns an empty Wheel with its clock initialized to start.
func New(start time.Time) *Wheel {
	return &Wheel{now: start, deadlines: make(map[uint64]*Deadline)}
}

// Now returns the wheel's current notion of time, advanced only by
// Advance — never by wall-clock reads — so tests can drive it
// deterministically.
func (w *Wheel) Now() time.Time { return w.now }

// Arm schedules action to run at "at", returning an ID usable with
// Cancel or Reschedule. A zero or past "at" fires on the very next
// Advance.
func (w *Wheel) Arm(at time.Time, action func()) uint64 {
	w.nextID++
	id := w.nextID
	w.deadlines[id] = &Deadline{ID: id, At: at, Action: action}
	return id
}

// Reschedule moves an already-armed deadline to a new time. A no-op if
// id is unknown or already fired/cancelled.
func (w *Wheel) Reschedule(id uint64, at time.Time) {
	if d, ok := w.deadlines[id]; ok {
		d.At = at
	}
}

// Cancel disarms a deadline before it fires. A no-op if id is unknown.
func (w *Wheel) Cancel(id uint64) {
	delete(w.deadlines, id)
}

// Advance moves the wheel's clock to now and runs the action of every
// deadline whose At has passed, in ascending deadline order so earlier
// timeouts (e.g. retransmit) never starve behind later ones registered
// first. Fired deadlines are removed; the owner re-Arms for the next
// occurrence (e.g. exponential backoff doubling rto) inside its action.
func (w *Wheel) Advance(now time.Time) {
	w.now = now
	if len(w.deadlines) == 0 {
		return
	}

	due := make([]*Deadline, 0, len(w.deadlines))
	for _, d := range w.deadlines {
		if !d.At.After(now) {
			due = append(due, d)
		}
	}
	sortByDeadline(due)

	for _, d := range due {
		delete(w.deadlines, d.ID)
		d.Action()
	}
}

// Len reports the number of currently armed deadlines, mainly useful
// for tests and diagnostics.
func (w *Wheel) Len() int { return len(w.deadlines) }

func sortByDeadline(due []*Deadline) {
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].At.Before(due[j-1].At); j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
}
