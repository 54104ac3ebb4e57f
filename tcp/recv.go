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
	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/wire"
)

// HandleSegment is the TCP Engine's single receive entry point, the
// per-state dispatcher of spec §4.4.1-§4.4.2. local/peer come from the
// IP Dispatcher's decoded four-tuple.
func (e *Engine) HandleSegment(local, peer addr.Endpoint, seg *wire.TCPSegment) error {
	if h, ok := e.conns[fourTuple{local, peer}]; ok {
		return e.dispatch(e.pool[h], seg)
	}
	if h, ok := e.listeners[listenKey{local.Family, local.Port}]; ok {
		return e.handleListen(e.pool[h], local, peer, seg)
	}
	return e.handleUnknownPort(local, peer, seg)
}

// handleUnknownPort implements the connect-refused scenario of spec
// §8: a SYN to a port with no listener and no connection draws an
// immediate RST, as does any other unsolicited segment; only an
// incoming RST is ignored.
func (e *Engine) handleUnknownPort(local, peer addr.Endpoint, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		return nil
	}
	rst := &wire.TCPSegment{
		SrcPort: local.Port,
		DstPort: peer.Port,
	}
	if seg.Flags.ACK {
		rst.Flags = wire.TCPFlags{RST: true}
		rst.Seq = seg.Ack
	} else {
		rst.Flags = wire.TCPFlags{RST: true, ACK: true}
		rst.Ack = seg.Seq + uint32(len(seg.Payload))
		if seg.Flags.SYN || seg.Flags.FIN {
			rst.Ack++
		}
	}
	return e.egress.SendTCP(local, peer, rst, 0, 64, 0)
}

func (e *Engine) dispatch(t *TCB, seg *wire.TCPSegment) error {
	switch t.state {
	case SynSent:
		return e.recvSynSent(t, seg)
	case SynReceived:
		return e.recvSynReceived(t, seg)
	case Established:
		return e.recvEstablished(t, seg)
	case FinWait1:
		return e.recvFinWait1(t, seg)
	case FinWait2:
		return e.recvFinWait2(t, seg)
	case Closing:
		return e.recvClosing(t, seg)
	case LastAck:
		return e.recvLastAck(t, seg)
	case TimeWait:
		return e.recvTimeWait(t, seg)
	default:
		return nil
	}
}

// handleListen implements spec §4.4.7: a SYN to a listening port
// spawns a new child TCB in SynReceived; if the backlog is full the SYN
// is silently dropped.
func (e *Engine) handleListen(parent *TCB, local, peer addr.Endpoint, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		return nil
	}
	if seg.Flags.ACK {
		return e.handleUnknownPort(local, peer, seg)
	}
	if !seg.Flags.SYN {
		return nil
	}
	if len(parent.backlog) >= parent.listenBacklogCap {
		return nil // silently drop; peer's SYN retransmit will retry
	}

	h, child, err := e.alloc()
	if err != nil {
		return err
	}
	child.Local = local
	child.Peer = peer
	child.parent = parent
	child.irs = Seq(seg.Seq)
	child.rcvNXT = Seq(seg.Seq).Add(1)
	child.rcvWND = e.cfg.DefaultWindow
	child.iss = e.nextISS()
	child.sndUNA = child.iss
	child.sndNXT = child.iss.Add(1)
	child.mssLocal = e.cfg.DefaultMSS
	child.state = SynReceived
	child.DelayedACKEnabled = true

	if opts, ok := ParseSynOptions(seg.Options); ok {
		child.mssPeer = opts.MSS
		if opts.HasWindowScale {
			child.peerWS = true
			child.windowScale = opts.WindowScale
		}
	}
	child.sndWND = uint32(seg.Window)

	e.conns[fourTuple{local, peer}] = h
	parent.backlog = append(parent.backlog, child)

	e.transmit(child, synAckSegment(child, EncodeSynOptions(child.mssLocal, e.cfg.WindowScale, child.peerWS, e.cfg.SACKPermitted)))
	e.armConnectTimeout(child)
	return nil
}

func (e *Engine) recvSynSent(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.ACK {
		ackAcceptable := t.iss.LessThan(Seq(seg.Ack)) && Seq(seg.Ack).LessEqual(t.sndNXT)
		if !ackAcceptable {
			if !seg.Flags.RST {
				e.egress.SendTCP(t.Local, t.Peer, &wire.TCPSegment{
					SrcPort: t.Local.Port, DstPort: t.Peer.Port,
					Seq: seg.Ack, Flags: wire.TCPFlags{RST: true},
				}, t.tos, t.ttl, t.egressIface)
			}
			return nil
		}
	}
	if seg.Flags.RST {
		if seg.Flags.ACK {
			e.abortWithError(t, errno.ECONNREFUSED)
		}
		return nil
	}
	if !seg.Flags.SYN {
		return nil
	}

	t.irs = Seq(seg.Seq)
	t.rcvNXT = Seq(seg.Seq).Add(1)
	t.sndWND = uint32(seg.Window)
	if opts, ok := ParseSynOptions(seg.Options); ok {
		t.mssPeer = opts.MSS
		if opts.HasWindowScale {
			t.peerWS = true
			t.windowScale = opts.WindowScale
		}
	}

	if seg.Flags.ACK {
		t.sndUNA = Seq(seg.Ack)
		e.cancelRetransmitIfAcked(t)
		t.state = Established
		e.ackNow(t)
		e.armIdleTimer(t)
		if t.Callback != nil {
			t.Callback(EventWritable)
		}
		return nil
	}
	// simultaneous open: SYN with no ACK.
	t.state = SynReceived
	e.transmit(t, synAckSegment(t, EncodeSynOptions(t.mssLocal, e.cfg.WindowScale, true, e.cfg.SACKPermitted)))
	return nil
}

func (e *Engine) recvSynReceived(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		e.discardChildSilently(t)
		return nil
	}
	if seg.Flags.SYN && !seg.Flags.ACK {
		return nil // retransmitted SYN, SYN+ACK already in flight
	}
	if !seg.Flags.ACK || Seq(seg.Ack) != t.sndNXT {
		return nil
	}
	t.sndUNA = Seq(seg.Ack)
	e.cancelRetransmitIfAcked(t)
	t.state = Established
	e.armIdleTimer(t)
	if t.parent != nil {
		removeChild(&t.parent.backlog, t)
		t.parent.readyQueue = append(t.parent.readyQueue, t)
		if t.parent.Callback != nil {
			t.parent.Callback(EventAccept)
		}
	}
	return e.recvEstablished(t, seg)
}

func (e *Engine) discardChildSilently(t *TCB) {
	if t.parent != nil {
		removeChild(&t.parent.backlog, t)
	}
	e.cancelTimers(t)
	h := e.handleOf(t)
	e.release(h)
}

func removeChild(list *[]*TCB, child *TCB) {
	for i, c := range *list {
		if c == child {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func (e *Engine) recvEstablished(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		e.abortWithError(t, errno.ECONNRESET)
		return nil
	}
	if seg.Flags.SYN {
		e.challengeAck(t)
		return nil
	}
	if seg.Flags.ACK {
		e.processAck(t, seg)
	}
	if len(seg.Payload) > 0 {
		e.acceptPayload(t, seg)
	}
	if seg.Flags.FIN {
		t.rcvNXT = t.rcvNXT.Add(uint32(len(seg.Payload)) + 1)
		t.peerClosed = true
		e.ackNow(t)
		if t.Callback != nil {
			t.Callback(EventReadable)
		}
	}
	return nil
}

// processAck advances sndUNA by every fully-acknowledged unacked
// segment, feeds the sample into the RTO estimator, and rearms the
// retransmit timer for whatever remains outstanding.
func (e *Engine) processAck(t *TCB, seg *wire.TCPSegment) {
	ack := Seq(seg.Ack)
	if Seq(seg.Seq) == t.rcvNXT || len(seg.Payload) == 0 {
		e.onKeepaliveACK(t)
	}
	if ack.Sub(t.sndUNA) <= 0 {
		return // duplicate/old ACK
	}

	advanced := false
	for len(t.unacked) > 0 {
		seg0 := t.unacked[0]
		end := seg0.seq.Add(uint32(len(seg0.payload)))
		if seg0.fin {
			end = end.Add(1)
		}
		if !end.LessEqual(ack) {
			break
		}
		if seg0.rexmits == 0 {
			sample := e.wheel.Now().Sub(seg0.sentAt)
			t.rtoMillis = t.rto.Update(sample)
		}
		t.unacked = t.unacked[1:]
		advanced = true
	}
	t.sndUNA = ack
	t.sndWND = uint32(seg.Window)

	if advanced {
		if t.retransmitID != 0 {
			e.wheel.Cancel(t.retransmitID)
			t.retransmitID = 0
		}
		t.consecutiveRexmit = 0
		e.armRetransmitIfNeeded(t)
		if t.Callback != nil {
			t.Callback(EventWritable)
		}
	}
	if len(t.pendingSend) > 0 {
		e.flushSend(t)
	}
}

func (e *Engine) cancelRetransmitIfAcked(t *TCB) {
	if t.retransmitID != 0 {
		e.wheel.Cancel(t.retransmitID)
		t.retransmitID = 0
	}
	t.consecutiveRexmit = 0
}

// acceptPayload implements in-order delivery against rcvNXT; segments
// that don't begin exactly at rcvNXT are dropped (no reassembly
// queue), the simplification spec §4.4's Non-goals accept for this
// engine's scope.
func (e *Engine) acceptPayload(t *TCB, seg *wire.TCPSegment) {
	if Seq(seg.Seq) != t.rcvNXT {
		e.challengeAck(t)
		return
	}
	t.rcvNXT = t.rcvNXT.Add(uint32(len(seg.Payload)))
	t.recvBuffer = append(t.recvBuffer, seg.Payload...)
	t.unackedInOrder++
	if t.Callback != nil {
		t.Callback(EventReadable)
	}
	e.scheduleDelayedACK(t)
}

// scheduleDelayedACK implements spec §4.4.5: ACK immediately every
// second segment, otherwise wait up to DelayedACKDelay.
func (e *Engine) scheduleDelayedACK(t *TCB) {
	if !t.DelayedACKEnabled {
		e.ackNow(t)
		return
	}
	if t.unackedInOrder >= 2 {
		e.ackNow(t)
		return
	}
	if t.ackOwed {
		return
	}
	t.ackOwed = true
	t.delayedACKID = e.wheel.Arm(e.wheel.Now().Add(e.cfg.DelayedACKDelay), func() {
		t.delayedACKID = 0
		e.ackNow(t)
	})
}

func (e *Engine) ackNow(t *TCB) {
	if t.delayedACKID != 0 {
		e.wheel.Cancel(t.delayedACKID)
		t.delayedACKID = 0
	}
	t.ackOwed = false
	t.unackedInOrder = 0
	e.transmit(t, &wire.TCPSegment{
		SrcPort: t.Local.Port,
		DstPort: t.Peer.Port,
		Seq:     uint32(t.sndNXT),
		Ack:     uint32(t.rcvNXT),
		Flags:   wire.TCPFlags{ACK: true},
		Window:  uint16(t.rcvWND),
	})
}

// challengeAck answers an out-of-window or unexpected segment with an
// immediate ACK carrying the current state rather than accepting it,
// RFC 5961's mitigation against blind in-window spoofing.
func (e *Engine) challengeAck(t *TCB) {
	e.ackNow(t)
}

func (e *Engine) recvFinWait1(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		e.abortWithError(t, errno.ECONNRESET)
		return nil
	}
	if seg.Flags.ACK {
		e.processAck(t, seg)
	}
	if len(seg.Payload) > 0 {
		e.acceptPayload(t, seg)
	}
	ourFinAcked := len(t.unacked) == 0
	if seg.Flags.FIN {
		t.rcvNXT = t.rcvNXT.Add(uint32(len(seg.Payload)) + 1)
		e.ackNow(t)
		if ourFinAcked {
			e.enterTimeWait(t)
		} else {
			t.state = Closing
		}
		return nil
	}
	if ourFinAcked {
		t.state = FinWait2
	}
	return nil
}

func (e *Engine) recvFinWait2(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		e.abortWithError(t, errno.ECONNRESET)
		return nil
	}
	if seg.Flags.ACK {
		e.processAck(t, seg)
	}
	if len(seg.Payload) > 0 {
		e.acceptPayload(t, seg)
	}
	if seg.Flags.FIN {
		t.rcvNXT = t.rcvNXT.Add(uint32(len(seg.Payload)) + 1)
		e.ackNow(t)
		e.enterTimeWait(t)
	}
	return nil
}

func (e *Engine) recvClosing(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		e.abortWithError(t, errno.ECONNRESET)
		return nil
	}
	if seg.Flags.ACK {
		e.processAck(t, seg)
		if len(t.unacked) == 0 {
			e.enterTimeWait(t)
		}
	}
	return nil
}

func (e *Engine) recvLastAck(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.RST {
		e.finishClose(t)
		return nil
	}
	if seg.Flags.ACK {
		e.processAck(t, seg)
		if len(t.unacked) == 0 {
			e.finishClose(t)
		}
	}
	return nil
}

func (e *Engine) recvTimeWait(t *TCB, seg *wire.TCPSegment) error {
	if seg.Flags.FIN {
		e.ackNow(t)
		if t.timeWaitID != 0 {
			e.wheel.Cancel(t.timeWaitID)
		}
		t.timeWaitID = e.wheel.Arm(e.wheel.Now().Add(e.cfg.TimeWaitDuration), func() {
			t.state = Closed
			h := e.handleOf(t)
			e.release(h)
		})
	}
	return nil
}
