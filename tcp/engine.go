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
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/timer"
	"github.com/xtaci/embnet/wire"
)

// Handle identifies one TCB pool slot.
type Handle uint32

// Egress is the IP Dispatcher collaborator the engine hands outbound
// segments to, mirroring udp.Egress.
type Egress interface {
	SendTCP(local, peer addr.Endpoint, seg *wire.TCPSegment, tos, ttl uint8, ifaceID iface.ID) error
}

// Config holds the build-time constants spec §6 restricts the TCP
// Engine to.
type Config struct {
	PoolSize         int
	DefaultMSS       uint16
	DefaultWindow    uint32
	ListenBacklog    int
	MaxRexmits       int
	TimeWaitDuration time.Duration // 120s (2*MSL) by default; set 60s for 1*MSL
	DelayedACKDelay  time.Duration
	KeepIdle         time.Duration
	NagleEnabled     bool
	SACKPermitted    bool
	WindowScale      uint8
}

// DefaultConfig matches spec §4.4's documented defaults: 2*MSL
// TIME_WAIT (MSL=60s), 200ms delayed ACK, Nagle on.
func DefaultConfig() Config {
	return Config{
		PoolSize:         64,
		DefaultMSS:       1460,
		DefaultWindow:    65535,
		ListenBacklog:    16,
		MaxRexmits:       8,
		TimeWaitDuration: 120 * time.Second,
		DelayedACKDelay:  200 * time.Millisecond,
		KeepIdle:         2 * time.Hour,
		NagleEnabled:     true,
		SACKPermitted:    true,
		WindowScale:      0,
	}
}

type fourTuple struct {
	local, peer addr.Endpoint
}

type listenKey struct {
	family addr.Family
	port   uint16
}

// Engine is the TCP Engine of spec §4.4: a fixed-size TCB pool, a
// connection table keyed by four-tuple, a listener table keyed by
// (family, port), and the single timer.Wheel the core thread drives.
type Engine struct {
	cfg    Config
	wheel  *timer.Wheel
	egress Egress

	pool []*TCB
	free []Handle

	conns     map[fourTuple]Handle
	listeners map[listenKey]Handle

	isn uint32
}

// NewEngine builds an Engine with a fixed TCB pool, sharing wheel with
// whatever else the core drives (UDP has none; TCP is the wheel's only
// consumer per spec §2's Timer Wheel row).
func NewEngine(cfg Config, wheel *timer.Wheel, egress Egress) *Engine {
	e := &Engine{
		cfg:       cfg,
		wheel:     wheel,
		egress:    egress,
		pool:      make([]*TCB, cfg.PoolSize),
		free:      make([]Handle, 0, cfg.PoolSize),
		conns:     make(map[fourTuple]Handle),
		listeners: make(map[listenKey]Handle),
		isn:       1,
	}
	for i := cfg.PoolSize - 1; i >= 0; i-- {
		e.pool[i] = &TCB{state: Unused}
		e.free = append(e.free, Handle(i))
	}
	return e
}

func (e *Engine) alloc() (Handle, *TCB, error) {
	if len(e.free) == 0 {
		return 0, nil, errno.ENOMEM
	}
	h := e.free[len(e.free)-1]
	e.free = e.free[:len(e.free)-1]
	return h, e.pool[h], nil
}

func (e *Engine) release(h Handle) {
	t := e.pool[h]
	if t.Local.Port != 0 && t.Peer != (addr.Endpoint{}) {
		delete(e.conns, fourTuple{t.Local, t.Peer})
	}
	t.reset()
	e.free = append(e.free, h)
}

// Lookup returns the TCB for h.
func (e *Engine) Lookup(h Handle) (*TCB, error) {
	if int(h) < 0 || int(h) >= len(e.pool) {
		return nil, errno.ESOCK
	}
	t := e.pool[h]
	if t.state == Unused {
		return nil, errno.ESOCK
	}
	return t, nil
}

func (e *Engine) handleOf(t *TCB) Handle {
	for i, p := range e.pool {
		if p == t {
			return Handle(i)
		}
	}
	return 0
}

// nextISS generates the next initial send sequence number. Real stacks
// derive this from a clock-driven counter (RFC 9293 §3.4.1); this
// engine uses a simple monotonic counter seeded at construction, which
// is sufficient since this module's threat model excludes sequence
// prediction defenses (delegated to the TLS/crypto collaborator at the
// socket boundary per spec §1's Non-goals).
func (e *Engine) nextISS() Seq {
	e.isn += 64000
	return Seq(e.isn)
}

// Listen creates a listening TCB bound to local, per spec §4.4.7.
func (e *Engine) Listen(local addr.Endpoint, backlog int) (Handle, error) {
	key := listenKey{local.Family, local.Port}
	if _, taken := e.listeners[key]; taken {
		return 0, errno.EADDRINUSE
	}
	h, t, err := e.alloc()
	if err != nil {
		return 0, err
	}
	if backlog <= 0 {
		backlog = e.cfg.ListenBacklog
	}
	t.Local = local
	t.state = Listen
	t.listenBacklogCap = backlog
	t.rcvWND = e.cfg.DefaultWindow
	t.DelayedACKEnabled = true
	e.listeners[key] = h
	return h, nil
}

// Accept pops a fully-handshaken child from a listening TCB's ready
// queue. ok is false if none are ready yet, the EWOULDBLOCK/blocking
// signal the socket layer acts on.
func (e *Engine) Accept(listenH Handle) (Handle, bool, error) {
	parent, err := e.Lookup(listenH)
	if err != nil {
		return 0, false, err
	}
	if parent.state != Listen {
		return 0, false, errno.EINVAL
	}
	if len(parent.readyQueue) == 0 {
		return 0, false, nil
	}
	child := parent.readyQueue[0]
	parent.readyQueue = parent.readyQueue[1:]
	return e.handleOf(child), true, nil
}
