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
	"time"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/timer"
)

// unackedSegment is one outstanding entry of spec §3's
// unacked_segments: a transmitted segment kept around for
// retransmission until its bytes are acknowledged.
type unackedSegment struct {
	seq     Seq
	payload []byte
	fin     bool
	sentAt  time.Time
	rexmits int
}

// TCB is the TCP Socket Control Block of spec §3.
type TCB struct {
	// Identity
	Local    addr.Endpoint
	Peer     addr.Endpoint
	Callback func(event Event)

	state State

	// Sequencing (send side)
	sndUNA Seq
	sndNXT Seq
	sndWND uint32
	iss    Seq

	// Receiving
	rcvNXT Seq
	rcvWND uint32
	irs    Seq

	// Peer capability
	mssPeer     uint16
	mssLocal    uint16
	windowScale uint8
	peerWS      bool

	// Timers
	retransmitID uint64
	keepaliveID  uint64
	idleID       uint64
	timeWaitID   uint64
	rto          timer.Estimator
	rtoMillis    time.Duration

	// Queues
	unacked       []unackedSegment
	pendingSend   []byte // Nagle accumulator
	recvBuffer    []byte // in-order bytes not yet drained by Recv
	sendWhenReady bool

	// Options
	KeepaliveEnabled  bool
	DelayedACKEnabled bool
	FlowControlCap    uint32
	IdleCloseTimeout  time.Duration

	// delayed ack bookkeeping
	delayedACKID  uint64
	ackOwed       bool
	unackedInOrder int

	// listen/accept
	backlog    []*TCB // half-open + established children
	readyQueue []*TCB // fully handshaken, waiting for accept
	listenBacklogCap int
	parent     *TCB

	egressIface iface.ID
	tos, ttl    uint8

	consecutiveRexmit int
	lastError         error

	// peerClosed records that the peer's FIN has already been seen in
	// Established, so the subsequent user Close folds straight into
	// LastAck instead of FinWait1 (Close_Wait collapses into the
	// passive-close path; only an active closer enters TimeWait).
	peerClosed bool

	// eofConsumed latches once Recv has handed back the single 0,nil
	// EOF reading for a clean peer close; every Recv after that
	// returns ENOTCONN instead of repeating the EOF.
	eofConsumed bool
}

// Event is the set of state-change notifications a TCB's Callback
// receives, invoked from the core thread per spec §5's ordering
// guarantee.
type Event uint8

const (
	EventReadable Event = iota
	EventWritable
	EventClosed
	EventError
	EventAccept
)

// State returns the TCB's current state.
func (t *TCB) State() State { return t.state }

// SndUNA, SndNXT, RcvNXT expose the sequencing fields read-only for
// tests and diagnostics.
func (t *TCB) SndUNA() Seq { return t.sndUNA }
func (t *TCB) SndNXT() Seq { return t.sndNXT }
func (t *TCB) RcvNXT() Seq { return t.rcvNXT }

// LastError returns the most recently set protocol-level error code
// for this connection, per spec §4.4.9.
func (t *TCB) LastError() error { return t.lastError }

// AcceptReady reports whether a listening TCB has a fully handshaken
// child waiting in its ready queue, the select() readable predicate
// for listening sockets.
func (t *TCB) AcceptReady() bool { return len(t.readyQueue) > 0 }

// reset returns the TCB to its pristine Unused state.
func (t *TCB) reset() {
	*t = TCB{state: Unused}
}
