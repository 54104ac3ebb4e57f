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

package socket

import (
	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/udp"
)

// Cmsghdr is one ancillary-data entry of spec §4.5.5, modeled on the
// BSD cmsghdr triple (level, type, data) rather than its raw on-wire
// layout since this module has no syscall ABI to match.
type Cmsghdr struct {
	Level Level
	Type  Name
	Data  []byte
}

// MsgFlags mirrors msg_flags from recvmsg(): MsgTrunc is set whenever
// the caller's buffer was too small for the datagram actually received.
type MsgFlags uint8

const (
	MsgTrunc MsgFlags = 1 << iota
)

// IOVec is one scatter/gather buffer of an iovec array.
type IOVec []byte

// RecvMsg implements recvmsg(): gathers into iov in order, and for UDP
// sockets with IP_RECVDSTADDR/IPV6_RECVDSTADDR enabled appends a
// Cmsghdr carrying the socket's local address as set by Bind. The
// per-datagram destination is not recorded: a socket that was never
// bound, or was bound to the any-address, reports an all-zero address.
// Stream
// sockets are not required to support this call and return ENOTSUP,
// per spec §4.5.5.
func (t *Table) RecvMsg(fd FD, iov []IOVec) (n int, peer addr.Endpoint, cmsgs []Cmsghdr, flags MsgFlags, err error) {
	s, lerr := t.lookup(fd)
	if lerr != nil {
		return 0, addr.Endpoint{}, nil, 0, lerr
	}
	s.mu.Lock()
	typ := s.typ
	s.mu.Unlock()
	if typ != Dgram {
		return 0, addr.Endpoint{}, nil, 0, errno.ENOTSUP
	}

	// Read into a buffer sized for the largest possible datagram so
	// truncation against the caller's (possibly smaller) iovec total
	// can be detected after the fact, rather than silently discarding
	// the tail inside Recv itself.
	full := make([]byte, udp.MaxPayload)
	read, peer, rerr := t.Recv(fd, full)
	if rerr != nil {
		return 0, addr.Endpoint{}, nil, 0, rerr
	}

	n, truncated := scatter(full[:read], iov)
	if truncated {
		flags |= MsgTrunc
	}

	s.mu.Lock()
	recvDstAddr, hasUDP, uh, local := s.recvDstAddr, s.hasUDP, s.udpHandle, addr.Endpoint{}
	s.mu.Unlock()
	if recvDstAddr && hasUDP {
		t.netMu.Lock()
		ucb, lookupErr := t.udpEngine.Lookup(uh)
		if lookupErr == nil {
			local = ucb.Local
		}
		t.netMu.Unlock()
		level := IPProtoIP
		name := IPRecvDstAddr
		if local.Family == addr.IPv6 {
			level, name = IPProtoIPv6, IPv6RecvDstAddr
		}
		addrBytes := make([]byte, 16)
		copy(addrBytes, local.IP[:])
		cmsgs = append(cmsgs, Cmsghdr{Level: level, Type: name, Data: addrBytes})
	}
	return n, peer, cmsgs, flags, nil
}

// SendMsg implements sendmsg(): flattens iov into one contiguous
// buffer and sends it to peer. It takes no ancillary data, since this
// module defines no settable ancillary data on the send path. Stream
// sockets return ENOTSUP, per spec §4.5.5.
func (t *Table) SendMsg(fd FD, peer addr.Endpoint, iov []IOVec) (int, error) {
	s, err := t.lookup(fd)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	typ := s.typ
	s.mu.Unlock()
	if typ != Dgram {
		return 0, errno.ENOTSUP
	}

	total := 0
	for _, v := range iov {
		total += len(v)
	}
	buf := make([]byte, 0, total)
	for _, v := range iov {
		buf = append(buf, v...)
	}
	return t.Send(fd, peer, buf)
}

// scatter copies src into iov's buffers in order, reporting whether
// src didn't fully fit (the MSG_TRUNC condition).
func scatter(src []byte, iov []IOVec) (int, bool) {
	written := 0
	for _, v := range iov {
		if len(src) == 0 {
			break
		}
		n := copy(v, src)
		written += n
		src = src[n:]
	}
	return written, len(src) > 0
}
