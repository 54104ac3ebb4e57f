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

const maxKeepaliveProbes = 9

// armIdleTimer (re)schedules the KeepIdle timer that, once a
// connection has gone quiet in Established, starts the keepalive
// probe sequence of spec §4.4.6.
func (e *Engine) armIdleTimer(t *TCB) {
	if !t.KeepaliveEnabled || e.cfg.KeepIdle <= 0 {
		return
	}
	if t.idleID != 0 {
		e.wheel.Cancel(t.idleID)
	}
	t.idleID = e.wheel.Arm(e.wheel.Now().Add(e.cfg.KeepIdle), func() { e.startKeepalive(t) })
}

// startKeepalive sends the first zero-length keepalive probe with
// seq = snd_nxt-1, a duplicate-able byte the peer's stack is required
// to ACK even with an empty payload.
func (e *Engine) startKeepalive(t *TCB) {
	t.idleID = 0
	if t.state != Established {
		return
	}
	t.consecutiveRexmit = 0
	e.sendKeepaliveProbe(t, 1)
}

func (e *Engine) sendKeepaliveProbe(t *TCB, attempt int) {
	seg := &wire.TCPSegment{
		SrcPort: t.Local.Port,
		DstPort: t.Peer.Port,
		Seq:     uint32(t.sndNXT) - 1,
		Ack:     uint32(t.rcvNXT),
		Flags:   wire.TCPFlags{ACK: true},
		Window:  uint16(t.rcvWND),
	}
	e.transmit(t, seg)

	interval := e.cfg.DelayedACKDelay * 10
	if interval <= 0 {
		interval = t.rto.RTO()
	}
	t.keepaliveID = e.wheel.Arm(e.wheel.Now().Add(interval), func() {
		if attempt >= maxKeepaliveProbes {
			e.abortWithError(t, errno.ECONNABORTED)
			return
		}
		e.sendKeepaliveProbe(t, attempt+1)
	})
}

// onKeepaliveACK cancels an in-flight probe sequence once any segment
// arrives from the peer, re-arming the idle timer for the next period
// of silence.
func (e *Engine) onKeepaliveACK(t *TCB) {
	if t.keepaliveID != 0 {
		e.wheel.Cancel(t.keepaliveID)
		t.keepaliveID = 0
	}
	e.armIdleTimer(t)
}
