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

// Connect performs an active open to peer from local, per spec
// §4.4.1's "Closed →(active open: send SYN)→ SYN_Sent" transition.
// Fails EDESTADDRREQ if peer is the zero endpoint.
func (e *Engine) Connect(local, peer addr.Endpoint) (Handle, error) {
	if peer == (addr.Endpoint{}) {
		return 0, errno.EDESTADDRREQ
	}
	if _, taken := e.conns[fourTuple{local, peer}]; taken {
		return 0, errno.EISCONN
	}
	h, t, err := e.alloc()
	if err != nil {
		return 0, err
	}

	t.Local = local
	t.Peer = peer
	t.iss = e.nextISS()
	t.sndUNA = t.iss
	t.sndNXT = t.iss.Add(1)
	t.rcvWND = e.cfg.DefaultWindow
	t.mssLocal = e.cfg.DefaultMSS
	t.state = SynSent
	t.DelayedACKEnabled = true

	e.conns[fourTuple{local, peer}] = h

	seg := &wire.TCPSegment{
		SrcPort: local.Port,
		DstPort: peer.Port,
		Seq:     uint32(t.iss),
		Flags:   wire.TCPFlags{SYN: true},
		Window:  uint16(t.rcvWND),
		Options: EncodeSynOptions(t.mssLocal, e.cfg.WindowScale, true, e.cfg.SACKPermitted),
	}
	e.armConnectTimeout(t)
	if err := e.transmit(t, seg); err != nil {
		e.release(h)
		return 0, err
	}
	return h, nil
}

// armConnectTimeout schedules the first retransmit deadline for a
// just-sent SYN, using the default RTO (no samples yet).
func (e *Engine) armConnectTimeout(t *TCB) {
	t.rtoMillis = t.rto.RTO()
	t.retransmitID = e.wheel.Arm(e.wheel.Now().Add(t.rtoMillis), func() { e.onRetransmitTimeout(t) })
}

// synAckSegment builds the SYN+ACK a listener's freshly allocated
// child sends in response to an inbound SYN.
func synAckSegment(t *TCB, opts []wire.TCPOption) *wire.TCPSegment {
	return &wire.TCPSegment{
		SrcPort: t.Local.Port,
		DstPort: t.Peer.Port,
		Seq:     uint32(t.iss),
		Ack:     uint32(t.rcvNXT),
		Flags:   wire.TCPFlags{SYN: true, ACK: true},
		Window:  uint16(t.rcvWND),
		Options: opts,
	}
}
