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

// Package socket implements the BSD sockets surface of spec §4.5: FD
// lifecycle, blocking/non-blocking semantics with per-FD waiters,
// select, socket options and recvmsg/sendmsg ancillary data, fronting
// the tcp.Engine and udp.Engine transports. The per-FD waiter shape is
// generalized from the channel-based waiter.Queue/EventRegister
// pattern the Fuchsia netstack's socket_server.go uses, translated to
// a plain sync.Cond broadcast per FD since this module has no
// zx-signal equivalent to multiplex.
package socket

import (
	"sync"
	"time"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/netlock"
	"github.com/xtaci/embnet/tcp"
	"github.com/xtaci/embnet/udp"
)

// Type is the socket type requested to Socket, spec §4.5.1.
type Type uint8

const (
	Stream Type = iota + 1
	Dgram
)

// FD identifies one entry of the fixed-size Table.
type FD int32

// connectState tracks the async connect() sequence of spec §4.5.2.
type connectState uint8

const (
	connectIdle connectState = iota
	connectInProgress
	connectDone
	connectFailed
)

// socketImpl is one FD's full state.
type socketImpl struct {
	mu sync.Mutex

	family addr.Family
	typ    Type

	tcpHandle tcp.Handle
	udpHandle udp.Handle
	hasTCP    bool
	hasUDP    bool
	ephemeralTCPPort uint16 // nonzero if allocEphemeralTCPPort assigned this socket's local port

	nonBlocking bool
	rcvTimeout  time.Duration
	sndTimeout  time.Duration
	recvDstAddr bool
	v6Only      bool
	bindDevice  iface.ID

	connect connectState
	connErr error

	terminalErr error

	cond  *sync.Cond // broadcast whenever this FD's predicates may have changed
	table *Table     // owning Table, so notify() can also wake Select
}

func newSocketImpl() *socketImpl {
	s := &socketImpl{v6Only: true}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// notify wakes every waiter blocked on this socket (read, write,
// accept or connect) as well as any Select spanning multiple FDs,
// called from the core thread whenever the TCB's Callback or a UDP
// Deliver fires.
func (s *socketImpl) notify() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.table != nil {
		s.table.epochMu.Lock()
		s.table.epoch.Broadcast()
		s.table.epochMu.Unlock()
	}
}

// Table is the fixed-capacity FD table of spec §4.5.1, analogous to
// tcp.Engine/udp.Engine's fixed TCB/UCB pools.
type Table struct {
	mu    sync.Mutex
	slots []*socketImpl
	free  []FD

	tcpEngine *tcp.Engine
	udpEngine *udp.Engine

	// netMu is the single lock serializing every mutation of
	// tcpEngine/udpEngine/wheel state against the core thread's own
	// timer sweep, per spec §4.1's "only this thread mutates transport
	// state". It is owned and constructed by core.Core and shared with
	// ipdispatch.Dispatcher, so socket entry points, inbound packet
	// processing and timer firings all serialize on the same lock. It
	// must never be held across a blocking wait (socketImpl.wait,
	// Table.waitEpoch): those waits are woken from code paths that
	// also need to acquire netMu.
	netMu *netlock.Lock

	nextEphemeral uint16
	usedTCPPorts  map[addr.Family]map[uint16]bool

	// epoch is broadcast every time any FD's predicates may have
	// changed, letting Select wake on whichever FD among many became
	// ready without registering on each one individually.
	epochMu sync.Mutex
	epoch   *sync.Cond
}

// NewTable builds a Table with room for capacity usable sockets,
// fronting the given transport engines. Slot 0 is permanently
// reserved and never handed out by Socket: spec §4.5.1 requires FD 0
// to never be a valid socket, so the backing slots array carries one
// extra, unused entry at index 0. netMu is the shared core-thread lock
// (see the Table.netMu doc comment) and must be the same instance
// passed to ipdispatch.New for the attached link(s).
func NewTable(capacity int, tcpEngine *tcp.Engine, udpEngine *udp.Engine, netMu *netlock.Lock) *Table {
	t := &Table{
		slots:         make([]*socketImpl, capacity+1),
		free:          make([]FD, 0, capacity),
		tcpEngine:     tcpEngine,
		udpEngine:     udpEngine,
		netMu:         netMu,
		nextEphemeral: 49152,
		usedTCPPorts:  map[addr.Family]map[uint16]bool{addr.IPv4: {}, addr.IPv6: {}},
	}
	t.epoch = sync.NewCond(&t.epochMu)
	for i := capacity; i >= 1; i-- {
		t.free = append(t.free, FD(i))
	}
	return t
}

// Socket implements socket(family, type, protocol): validates the
// triple and allocates an FD, per spec §4.5.1.
func (t *Table) Socket(family addr.Family, typ Type) (FD, error) {
	if family != addr.IPv4 && family != addr.IPv6 {
		return -1, errno.EINVAL
	}
	if typ != Stream && typ != Dgram {
		return -1, errno.EINVAL
	}

	t.mu.Lock()
	if len(t.free) == 0 {
		t.mu.Unlock()
		return -1, errno.ENOMEM
	}
	fd := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	s := newSocketImpl()
	s.family = family
	s.typ = typ
	s.table = t
	t.slots[fd] = s
	t.mu.Unlock()
	return fd, nil
}

func (t *Table) lookup(fd FD) (*socketImpl, error) {
	if fd < 0 || int(fd) >= len(t.slots) {
		return nil, errno.ESOCK
	}
	t.mu.Lock()
	s := t.slots[fd]
	t.mu.Unlock()
	if s == nil {
		return nil, errno.ESOCK
	}
	return s, nil
}

// allocEphemeralTCPPort picks an unused local port for an active open
// that didn't Bind first, mirroring the udp.Engine's ensureBound.
func (t *Table) allocEphemeralTCPPort(family addr.Family) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	used := t.usedTCPPorts[family]
	for tries := 0; tries < 1<<16; tries++ {
		port := t.nextEphemeral
		t.nextEphemeral++
		if t.nextEphemeral == 0 {
			t.nextEphemeral = 49152
		}
		if !used[port] {
			used[port] = true
			return port, nil
		}
	}
	return 0, errno.EADDRINUSE
}

func (t *Table) release(fd FD) {
	t.mu.Lock()
	t.slots[fd] = nil
	t.free = append(t.free, fd)
	t.mu.Unlock()
}

// CloseSocket implements closesocket: graceful TCP close for a
// connected stream socket, immediate release otherwise.
func (t *Table) CloseSocket(fd FD) error {
	s, err := t.lookup(fd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	hasTCP, h := s.hasTCP, s.tcpHandle
	hasUDP, uh := s.hasUDP, s.udpHandle
	s.mu.Unlock()

	if hasTCP {
		t.netMu.Lock()
		t.tcpEngine.Close(h)
		t.netMu.Unlock()
		s.mu.Lock()
		port, family := s.ephemeralTCPPort, s.family
		s.mu.Unlock()
		if port != 0 {
			t.mu.Lock()
			delete(t.usedTCPPorts[family], port)
			t.mu.Unlock()
		}
	}
	if hasUDP {
		t.netMu.Lock()
		t.udpEngine.Close(uh)
		t.netMu.Unlock()
	}
	t.release(fd)
	s.notify()
	return nil
}
