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

package tcp

import (
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/wire"
)

// Close performs a graceful user close, per spec §4.4.1's
// Established→FinWait1 and the Close_Wait-folding decision: if the
// peer's FIN was already observed in Established, this TCB skips
// straight to LastAck (the passive closer never enters TimeWait).
func (e *Engine) Close(h Handle) error {
	t, err := e.Lookup(h)
	if err != nil {
		return err
	}
	switch t.state {
	case Listen, SynSent:
		e.release(h)
		return nil
	case Established:
		if t.peerClosed {
			t.state = LastAck
		} else {
			t.state = FinWait1
		}
		e.sendFIN(t)
		return nil
	case FinWait1, FinWait2, Closing, LastAck, TimeWait, Closed:
		return nil
	default:
		return errno.ENOTCONN
	}
}

// sendFIN transmits a FIN for the bytes currently queued, consuming
// the final sequence number per RFC 9293 §3.4.
func (e *Engine) sendFIN(t *TCB) {
	e.flushSend(t)
	seg := &wire.TCPSegment{
		SrcPort: t.Local.Port,
		DstPort: t.Peer.Port,
		Seq:     uint32(t.sndNXT),
		Ack:     uint32(t.rcvNXT),
		Flags:   wire.TCPFlags{ACK: true, FIN: true},
		Window:  uint16(t.rcvWND),
	}
	t.unacked = append(t.unacked, unackedSegment{seq: t.sndNXT, fin: true, sentAt: e.wheel.Now()})
	t.sndNXT = t.sndNXT.Add(1)
	e.transmit(t, seg)
	e.armRetransmitIfNeeded(t)
}

// Abort tears a connection down immediately with RST, per spec
// §4.4.8, bypassing TimeWait.
func (e *Engine) Abort(h Handle) error {
	t, err := e.Lookup(h)
	if err != nil {
		return err
	}
	if t.state.synchronized() || t.state == SynReceived {
		seg := &wire.TCPSegment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     uint32(t.sndNXT),
			Flags:   wire.TCPFlags{RST: true},
		}
		e.transmit(t, seg)
	}
	t.lastError = errno.ECONNABORTED
	e.cancelTimers(t)
	e.release(h)
	return nil
}

// abortWithError aborts t and records err for LastError/EventError
// before releasing the CB, used by the retransmit-exhaustion and
// RST-received paths.
func (e *Engine) abortWithError(t *TCB, err error) {
	t.lastError = err
	if t.Callback != nil {
		t.Callback(EventError)
	}
	e.cancelTimers(t)
	h := e.handleOf(t)
	e.release(h)
}

// cancelTimers disarms every wheel deadline still owned by t.
func (e *Engine) cancelTimers(t *TCB) {
	if t.retransmitID != 0 {
		e.wheel.Cancel(t.retransmitID)
		t.retransmitID = 0
	}
	if t.keepaliveID != 0 {
		e.wheel.Cancel(t.keepaliveID)
		t.keepaliveID = 0
	}
	if t.idleID != 0 {
		e.wheel.Cancel(t.idleID)
		t.idleID = 0
	}
	if t.delayedACKID != 0 {
		e.wheel.Cancel(t.delayedACKID)
		t.delayedACKID = 0
	}
	if t.timeWaitID != 0 {
		e.wheel.Cancel(t.timeWaitID)
		t.timeWaitID = 0
	}
}

// enterTimeWait transitions an actively-closed connection into
// TimeWait and schedules its final release after 2*MSL, per spec
// §4.4.1's "TimeWait →(2MSL timeout)→ Closed".
func (e *Engine) enterTimeWait(t *TCB) {
	t.state = TimeWait
	e.cancelTimers(t)
	t.timeWaitID = e.wheel.Arm(e.wheel.Now().Add(e.cfg.TimeWaitDuration), func() {
		t.state = Closed
		h := e.handleOf(t)
		e.release(h)
	})
}

// finishClose releases a TCB the moment both sides' FINs have been
// fully acknowledged without requiring TimeWait (the passive-close
// LastAck→Closed edge and any LastAck reached via Close_Wait-folding).
func (e *Engine) finishClose(t *TCB) {
	e.cancelTimers(t)
	if t.Callback != nil {
		t.Callback(EventClosed)
	}
	h := e.handleOf(t)
	e.release(h)
}
