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

// Package udp implements the UDP Engine of spec §4.3: a fixed-size pool
// of socket control blocks (UCBs), bind/connect association, checksum
// policy, bounded per-socket receive queues and an optional
// forward-error-correction send path.
package udp

import (
	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/iface"
)

// State is one of the four UCB lifecycle states of spec §3.
type State uint8

const (
	Free State = iota
	Closed
	Open
	ConnectedBound
)

// ChecksumPolicy controls UDP checksum computation on send and
// verification on receive, spec §3's checksum_policy field.
type ChecksumPolicy struct {
	SendEnabled     bool // NET_UDP_CHECKSUM_SEND, default on
	VerifyOnReceive bool
}

// DefaultChecksumPolicy matches NET_UDP_CHECKSUM_SEND's documented
// default of "on".
var DefaultChecksumPolicy = ChecksumPolicy{SendEnabled: true, VerifyOnReceive: true}

// pendingDatagram is one entry of a UCB's receive_queue: spec §3's
// {peer_endpoint, payload} pair.
type pendingDatagram struct {
	peer    addr.Endpoint
	payload []byte
}

// UCB is the UDP Socket Control Block of spec §3.
type UCB struct {
	state State

	Local addr.Endpoint
	Peer  addr.Endpoint // zero means "accept from any"

	Callback func(peer addr.Endpoint, payload []byte)

	TOS, TTL        uint8
	EgressInterface iface.ID
	Checksum        ChecksumPolicy
	RecvDstAddr     bool

	fec *FECPolicy

	queue    []pendingDatagram
	queueCap int
}

// recvQueueCap is the bounded receive queue depth from spec §4.3
// ("bounded; oldest dropped on overflow").
const recvQueueCap = 64

func newUCB() *UCB {
	return &UCB{state: Closed, Checksum: DefaultChecksumPolicy, queueCap: recvQueueCap}
}

// reset returns the UCB to its pristine Free state for reuse by the pool.
func (u *UCB) reset() {
	u.state = Free
	u.Local = addr.Endpoint{}
	u.Peer = addr.Endpoint{}
	u.Callback = nil
	u.TOS, u.TTL = 0, 0
	u.EgressInterface = 0
	u.Checksum = DefaultChecksumPolicy
	u.RecvDstAddr = false
	u.fec = nil
	u.queue = nil
}

// enqueue appends a datagram to the receive queue, dropping the oldest
// entry on overflow per spec §4.3.
func (u *UCB) enqueue(peer addr.Endpoint, payload []byte) {
	if len(u.queue) >= u.queueCap {
		u.queue = u.queue[1:]
	}
	u.queue = append(u.queue, pendingDatagram{peer: peer, payload: payload})
}

// Dequeue pops the oldest queued datagram. ok is false if the queue is
// empty, the signal a blocked recv/recvfrom or select-readable check
// uses.
func (u *UCB) Dequeue() (peer addr.Endpoint, payload []byte, ok bool) {
	if len(u.queue) == 0 {
		return addr.Endpoint{}, nil, false
	}
	d := u.queue[0]
	u.queue = u.queue[1:]
	return d.peer, d.payload, true
}

// Readable reports whether a recv/recvfrom/select call on this socket
// would return data immediately.
func (u *UCB) Readable() bool {
	return len(u.queue) > 0
}

// State reports the UCB's current lifecycle state.
func (u *UCB) State() State { return u.state }
