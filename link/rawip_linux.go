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

//go:build linux

package link

import (
	"net"
	"strconv"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// RawIP is a real raw-IP-socket Link, built on golang.org/x/net/ipv4's
// RawConn. It uses the same technique xtaci/tcpraw (a direct teacher
// dependency, wired in via the --tcp flag in client/main.go and
// server/main.go) relies on to let a userspace engine answer for a TCP
// four-tuple instead of the host kernel: an iptables rule dropping
// kernel-generated RSTs on the bound port, installed by NewRawIP and removed
// on Close.
type RawIP struct {
	port int
	mtu  int

	pc   net.PacketConn
	raw  *ipv4.RawConn
	ipt  *iptables.IPTables
	rule []string

	mu     sync.Mutex
	rx     func(frame []byte)
	closed bool
	stopCh chan struct{}
}

// NewRawIP opens a raw IPv4 socket for protocol proto (e.g. "tcp") and
// installs the RST-suppression rule for localPort.
func NewRawIP(proto string, localPort int, mtu int) (*RawIP, error) {
	pc, err := net.ListenPacket("ip4:"+proto, "0.0.0.0")
	if err != nil {
		return nil, errors.Wrap(err, "link: open raw IPv4 socket")
	}
	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "link: wrap raw IPv4 socket")
	}

	r := &RawIP{
		port:   localPort,
		mtu:    mtu,
		pc:     pc,
		raw:    raw,
		stopCh: make(chan struct{}),
	}

	if ipt, err := iptables.New(); err == nil {
		rule := []string{"-p", proto, "--dport", strconv.Itoa(localPort), "--tcp-flags", "RST", "RST", "-j", "DROP"}
		if err := ipt.AppendUnique("filter", "OUTPUT", rule...); err == nil {
			r.ipt = ipt
			r.rule = rule
		}
		// Failure to install the rule is non-fatal: the kernel may answer a
		// handful of extra RSTs, but the core's own TCP engine still owns
		// the four-tuple once this socket has it bound.
	}

	go r.readLoop()
	return r, nil
}

func (r *RawIP) readLoop() {
	buf := make([]byte, r.mtu)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		_, payload, _, err := r.raw.ReadFrom(buf)
		if err != nil {
			continue
		}
		r.mu.Lock()
		handler := r.rx
		r.mu.Unlock()
		if handler != nil && len(payload) > 0 {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			handler(cp)
		}
	}
}

// Submit accepts a fully-built IPv4 datagram (header+payload, as produced by
// wire.EncodeIPv4) and writes it to the raw socket, splitting the parsed
// header back out since ipv4.RawConn.WriteTo wants header and payload
// separately.
func (r *RawIP) Submit(frame []byte) error {
	h, err := ipv4.ParseHeader(frame)
	if err != nil {
		return errors.Wrap(err, "link: parse outgoing IPv4 header")
	}
	payload := frame[h.Len:]
	return r.raw.WriteTo(h, payload, nil)
}

func (r *RawIP) SetRXHandler(h func(frame []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx = h
}

func (r *RawIP) Up() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

func (r *RawIP) MTU() int { return r.mtu }

func (r *RawIP) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopCh)
	if r.ipt != nil && r.rule != nil {
		_ = r.ipt.Delete("filter", "OUTPUT", r.rule...)
	}
	return r.pc.Close()
}
