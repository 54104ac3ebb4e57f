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

// Package core assembles the IP Dispatcher, TCP/UDP engines and BSD
// socket table into the single cooperative network core thread of
// spec §4.1: one Core value, owned by the caller and passed by
// reference, with no package-level state. Initialize/Uninitialize
// become New and Close; the worker loop itself is Run.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/ipdispatch"
	"github.com/xtaci/embnet/link"
	"github.com/xtaci/embnet/netlock"
	"github.com/xtaci/embnet/socket"
	"github.com/xtaci/embnet/tcp"
	"github.com/xtaci/embnet/timer"
	"github.com/xtaci/embnet/udp"
	"github.com/xtaci/embnet/wire"
)

// Interface describes one link driver to attach, bound to the local
// addresses the IP Dispatcher should answer for on it.
type Interface struct {
	ID        iface.ID
	Link      link.Link
	Addresses []addr.Endpoint
}

// Config is the build-time assembly this module restricts itself to:
// fixed-size TCB/UCB pools and a fixed-size FD table, no dynamic
// growth once New returns.
type Config struct {
	TCP            tcp.Config
	UDPPoolSize    int
	SocketCapacity int
	Interfaces     []Interface
}

// DefaultConfig returns sensible pool sizes for the cmd/ demo
// binaries; real deployments size these to their expected load.
func DefaultConfig() Config {
	return Config{
		TCP:            tcp.DefaultConfig(),
		UDPPoolSize:    64,
		SocketCapacity: 256,
	}
}

// Core is the process-wide state of spec §9's Global state note,
// modeled as a single value instead of package globals: the CB pools,
// the FD table and the interface table all hang off of it.
type Core struct {
	cfg Config

	Interfaces *iface.Table
	TCP        *tcp.Engine
	UDP        *udp.Engine
	Sockets    *socket.Table

	dispatcher *ipdispatch.Dispatcher
	wheel      *timer.Wheel

	// netLock is the single engine-wide lock spec §4.1 requires: it
	// serializes every mutation of tcpEngine/udpEngine/wheel state,
	// whether triggered by a socket-table call, by ingress delivery
	// through the dispatcher, or by this Core's own timer sweep below.
	netLock *netlock.Lock

	closeOnce sync.Once
	closed    chan struct{}
}

// dispatchEgress breaks the construction cycle between the transport
// engines (which need an Egress at NewEngine time) and the
// dispatcher (which needs the engines as sinks at ipdispatch.New
// time): engines are built against this proxy first, and d is filled
// in once the dispatcher itself exists.
type dispatchEgress struct {
	d *ipdispatch.Dispatcher
}

func (e *dispatchEgress) SendTCP(local, peer addr.Endpoint, seg *wire.TCPSegment, tos, ttl uint8, ifaceID iface.ID) error {
	return e.d.SendTCP(local, peer, seg, tos, ttl, ifaceID)
}

func (e *dispatchEgress) SendUDP(local, peer addr.Endpoint, payload []byte, tos, ttl uint8, ifaceID iface.ID, computeChecksum bool) error {
	return e.d.SendUDP(local, peer, payload, tos, ttl, ifaceID, computeChecksum)
}

// New assembles a Core from cfg: it builds the interface table, the
// transport engines, the IP Dispatcher wiring them together, and the
// BSD socket table, then attaches every configured link as an ingress
// source. It does not start the worker loop; call Run for that.
func New(cfg Config) *Core {
	ifaces := iface.NewTable()
	wheel := timer.New(time.Now())
	egress := &dispatchEgress{}
	netLock := netlock.New()

	tcpEngine := tcp.NewEngine(cfg.TCP, wheel, egress)
	udpEngine := udp.NewEngine(cfg.UDPPoolSize, egress)
	dispatcher := ipdispatch.New(ifaces, tcpEngine, udpEngine, netLock)
	egress.d = dispatcher

	c := &Core{
		cfg:        cfg,
		Interfaces: ifaces,
		TCP:        tcpEngine,
		UDP:        udpEngine,
		Sockets:    socket.NewTable(cfg.SocketCapacity, tcpEngine, udpEngine, netLock),
		dispatcher: dispatcher,
		wheel:      wheel,
		netLock:    netLock,
		closed:     make(chan struct{}),
	}

	for _, i := range cfg.Interfaces {
		c.attach(i)
	}
	return c
}

// attach registers one interface and wires its link as an ingress
// source, tagged with the interface's first configured address (the
// address the dispatcher filters ingress frames against; SourceFor
// still sees every address in the binding for egress selection).
func (c *Core) attach(i Interface) {
	c.Interfaces.Register(&iface.Binding{ID: i.ID, Link: i.Link, Addresses: i.Addresses})
	if len(i.Addresses) == 0 {
		return
	}
	c.dispatcher.AttachLink(i.Link, i.Addresses[0])
}

// Run is the event loop of spec §4.1: link ingress and user-API TX
// execute synchronously off the calling goroutine's stack (an RX
// handler invoked directly from Submit, Send/Recv invoked directly
// from the socket table), each holding netLock for its duration, so
// the one thing left for this loop to drive is step 2, advancing the
// TCP timer wheel on every tick so retransmit, keepalive, TIME_WAIT
// and connect-timeout deadlines fire. Advance is run under the same
// netLock, making it the single lock that also serializes socket
// calls and ingress delivery against this sweep. Run blocks until ctx
// is cancelled or Close is called, whichever comes first.
func (c *Core) Run(ctx context.Context) error {
	ticker := time.NewTicker(timer.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case now := <-ticker.C:
			c.netLock.Lock()
			c.wheel.Advance(now)
			c.netLock.Unlock()
		}
	}
}

// Close is Uninitialize: it stops a running Run loop and closes every
// attached link. Safe to call more than once.
func (c *Core) Close() error {
	var firstErr error
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, i := range c.cfg.Interfaces {
			if err := i.Link.Close(); err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, "core: closing link")
			}
		}
	})
	return firstErr
}
