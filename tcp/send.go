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
	"github.com/xtaci/embnet/timer"
	"github.com/xtaci/embnet/wire"
)

// Send queues payload for transmission on a synchronized connection,
// per spec §4.4.3. Data accumulates in the Nagle buffer until it fills
// an MSS or there are no unacked bytes outstanding (or Nagle is
// disabled), matching the teacher's
// small-write coalescing in client/client.go.
func (e *Engine) Send(h Handle, payload []byte) (int, error) {
	t, err := e.Lookup(h)
	if err != nil {
		return 0, err
	}
	if !t.state.synchronized() || t.state == TimeWait {
		return 0, errno.ENOTCONN
	}
	if t.state == FinWait1 || t.state == FinWait2 || t.state == Closing || t.state == LastAck {
		return 0, errno.ESHUTDOWN
	}
	if t.state == Established && t.peerClosed {
		return 0, errno.ESHUTDOWN
	}

	t.pendingSend = append(t.pendingSend, payload...)
	e.flushSend(t)
	return len(payload), nil
}

// flushSend transmits as much of t.pendingSend as Nagle's algorithm
// permits: full MSS chunks always go out immediately; a final partial
// chunk is held back while unacked data is still in flight and
// NagleEnabled, per spec §4.4.3.
func (e *Engine) flushSend(t *TCB) {
	mss := int(t.mssLocal)
	if mss <= 0 {
		mss = 536
	}
	for len(t.pendingSend) >= mss {
		e.sendChunk(t, t.pendingSend[:mss])
		t.pendingSend = t.pendingSend[mss:]
	}
	if len(t.pendingSend) == 0 {
		return
	}
	holdBack := e.cfg.NagleEnabled && len(t.unacked) > 0
	if holdBack {
		return
	}
	e.sendChunk(t, t.pendingSend)
	t.pendingSend = nil
}

func (e *Engine) sendChunk(t *TCB, chunk []byte) {
	buf := append([]byte(nil), chunk...)
	seg := &wire.TCPSegment{
		SrcPort: t.Local.Port,
		DstPort: t.Peer.Port,
		Seq:     uint32(t.sndNXT),
		Ack:     uint32(t.rcvNXT),
		Flags:   wire.TCPFlags{ACK: true, PSH: true},
		Window:  uint16(t.rcvWND),
		Payload: buf,
	}
	t.unacked = append(t.unacked, unackedSegment{seq: t.sndNXT, payload: buf, sentAt: e.wheel.Now()})
	t.sndNXT = t.sndNXT.Add(uint32(len(buf)))
	e.transmit(t, seg)
	e.armRetransmitIfNeeded(t)
}

// Recv drains up to len(buf) bytes of in-order received data, per spec
// §5's ordering guarantee that bytes emerge from recv in the order the
// peer sent them. Returns 0, EWOULDBLOCK when nothing is queued yet (the
// non-blocking/blocking signal point for the socket layer) unless the
// peer has already closed, in which case it returns the single 0,nil
// EOF reading and latches eofConsumed so every later call instead
// returns ENOTCONN per spec §4.4.9.
func (e *Engine) Recv(h Handle, buf []byte) (int, error) {
	t, err := e.Lookup(h)
	if err != nil {
		return 0, err
	}
	if len(t.recvBuffer) == 0 {
		if t.peerClosed {
			if t.eofConsumed {
				return 0, errno.ENOTCONN
			}
			t.eofConsumed = true
			return 0, nil
		}
		return 0, errno.EWOULDBLOCK
	}
	n := copy(buf, t.recvBuffer)
	t.recvBuffer = t.recvBuffer[n:]
	return n, nil
}

// Readable reports whether h has data queued for Recv or has seen the
// peer's FIN (an EOF read also satisfies select's readable predicate).
func (e *Engine) Readable(h Handle) bool {
	t, err := e.Lookup(h)
	if err != nil {
		return false
	}
	return len(t.recvBuffer) > 0 || t.peerClosed || t.lastError != nil
}

// transmit hands a built segment to the egress collaborator, stamping
// the TCB's current TOS/TTL/egress interface marking.
func (e *Engine) transmit(t *TCB, seg *wire.TCPSegment) error {
	return e.egress.SendTCP(t.Local, t.Peer, seg, t.tos, t.ttl, t.egressIface)
}

// armRetransmitIfNeeded arms the retransmit timer for the oldest
// unacked segment if it isn't already running.
func (e *Engine) armRetransmitIfNeeded(t *TCB) {
	if t.retransmitID != 0 || len(t.unacked) == 0 {
		return
	}
	if t.rtoMillis == 0 {
		t.rtoMillis = t.rto.RTO()
	}
	t.retransmitID = e.wheel.Arm(e.wheel.Now().Add(t.rtoMillis), func() { e.onRetransmitTimeout(t) })
}

// onRetransmitTimeout fires when the oldest unacked segment (or SYN)
// has gone unacknowledged for the current RTO. Retransmits it, doubles
// the backoff per spec §4.4.4, and aborts the connection once
// MaxRexmits is exceeded: with ETIMEDOUT in SynSent, with ECONNABORTED
// in every other state.
func (e *Engine) onRetransmitTimeout(t *TCB) {
	t.retransmitID = 0
	if t.state == Unused || t.state == Closed {
		return
	}
	t.consecutiveRexmit++
	if t.consecutiveRexmit > e.cfg.MaxRexmits {
		if t.state == SynSent {
			e.abortWithError(t, errno.ETIMEDOUT)
		} else {
			e.abortWithError(t, errno.ECONNABORTED)
		}
		return
	}
	t.rtoMillis = timer.Backoff(t.rtoMillis)

	switch {
	case t.state == SynSent:
		seg := &wire.TCPSegment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     uint32(t.iss),
			Flags:   wire.TCPFlags{SYN: true},
			Window:  uint16(t.rcvWND),
			Options: EncodeSynOptions(t.mssLocal, e.cfg.WindowScale, true, e.cfg.SACKPermitted),
		}
		e.transmit(t, seg)
	case t.state == SynReceived:
		e.transmit(t, synAckSegment(t, EncodeSynOptions(t.mssLocal, e.cfg.WindowScale, true, e.cfg.SACKPermitted)))
	case len(t.unacked) > 0:
		oldest := t.unacked[0]
		oldest.rexmits++
		t.unacked[0] = oldest
		seg := &wire.TCPSegment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     uint32(oldest.seq),
			Ack:     uint32(t.rcvNXT),
			Flags:   wire.TCPFlags{ACK: true, PSH: !oldest.fin, FIN: oldest.fin},
			Window:  uint16(t.rcvWND),
			Payload: oldest.payload,
		}
		e.transmit(t, seg)
	default:
		return
	}
	t.retransmitID = e.wheel.Arm(e.wheel.Now().Add(t.rtoMillis), func() { e.onRetransmitTimeout(t) })
}
