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
	"encoding/binary"
	"time"

	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/tcp"
	"github.com/xtaci/embnet/udp"
)

// Level is the getsockopt/setsockopt level (SOL_SOCKET, IPPROTO_IP, ...).
type Level uint8

const (
	SOLSocket Level = iota
	IPProtoIP
	IPProtoIPv6
	IPProtoTCP
)

// Name is the option name within a Level, the full table of spec §4.5.4.
type Name uint8

const (
	SOKeepalive Name = iota
	SORcvTimeo
	SOSndTimeo
	SOType
	SOBindToDevice
	IPTOS
	IPTTL
	IPRecvDstAddr
	IPv6TClass
	IPv6MulticastHops
	IPv6RecvDstAddr
	IPv6Only
	TCPQuickACK
	TCPFlowCtrl
	TCPKeepIdle
)

// validPairs enumerates the (level, name) combinations spec §4.5.4
// actually defines; anything else fails EINVAL, matching the table's
// "invalid (level, name) pairs fail EINVAL" rule.
var validPairs = map[Level]map[Name]bool{
	SOLSocket: {
		SOKeepalive:    true,
		SORcvTimeo:     true,
		SOSndTimeo:     true,
		SOType:         true,
		SOBindToDevice: true,
	},
	IPProtoIP: {
		IPTOS:         true,
		IPTTL:         true,
		IPRecvDstAddr: true,
	},
	IPProtoIPv6: {
		IPv6TClass:        true,
		IPv6MulticastHops: true,
		IPv6RecvDstAddr:   true,
		IPv6Only:          true,
	},
	IPProtoTCP: {
		TCPQuickACK: true,
		TCPFlowCtrl: true,
		TCPKeepIdle: true,
	},
}

// SetSockOpt implements setsockopt() for the (level, name) pairs of
// spec §4.5.4. value is interpreted per-option: a millisecond count
// for the two timeouts, a boolean (nonzero) for the flag options, a
// raw byte/word value otherwise. SOType is read-only and always fails
// EINVAL here.
func (t *Table) SetSockOpt(fd FD, level Level, name Name, value int) error {
	if !validPairs[level][name] {
		return errno.EINVAL
	}
	s, err := t.lookup(fd)
	if err != nil {
		return err
	}

	switch {
	case level == SOLSocket && name == SOType:
		return errno.EINVAL
	case level == SOLSocket && name == SOKeepalive:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return errno.ENOTCONN
		}
		t.netMu.Lock()
		defer t.netMu.Unlock()
		return t.tcpEngine.SetSockOpt(h, tcp.OptKeepalive, value)
	case level == SOLSocket && name == SORcvTimeo:
		s.mu.Lock()
		s.rcvTimeout = time.Duration(value) * time.Millisecond
		s.mu.Unlock()
		return nil
	case level == SOLSocket && name == SOSndTimeo:
		s.mu.Lock()
		s.sndTimeout = time.Duration(value) * time.Millisecond
		s.mu.Unlock()
		return nil
	case level == SOLSocket && name == SOBindToDevice:
		s.mu.Lock()
		s.bindDevice = iface.ID(value)
		hasTCP, th := s.hasTCP, s.tcpHandle
		hasUDP, uh := s.hasUDP, s.udpHandle
		s.mu.Unlock()
		t.netMu.Lock()
		defer t.netMu.Unlock()
		if hasTCP {
			return t.tcpEngine.SetSockOpt(th, tcp.OptBindToDevice, value)
		}
		if hasUDP {
			return t.udpEngine.SetOption(uh, udp.OptBindToDevice, value)
		}
		return nil
	case level == IPProtoIP && name == IPTOS:
		return t.applyMarking(s, tcp.OptTOS, udp.OptTOS, value)
	case level == IPProtoIP && name == IPTTL:
		return t.applyMarking(s, tcp.OptTTL, udp.OptTTL, value)
	case level == IPProtoIP && name == IPRecvDstAddr:
		s.mu.Lock()
		s.recvDstAddr = value != 0
		hasUDP, uh := s.hasUDP, s.udpHandle
		s.mu.Unlock()
		if hasUDP {
			t.netMu.Lock()
			defer t.netMu.Unlock()
			return t.udpEngine.SetOption(uh, udp.OptRecvDstAddr, value)
		}
		return nil
	case level == IPProtoIPv6 && name == IPv6TClass:
		return t.applyMarking(s, tcp.OptTClass, udp.OptTClass, value)
	case level == IPProtoIPv6 && name == IPv6MulticastHops:
		s.mu.Lock()
		hasUDP, uh := s.hasUDP, s.udpHandle
		s.mu.Unlock()
		if hasUDP {
			t.netMu.Lock()
			defer t.netMu.Unlock()
			return t.udpEngine.SetOption(uh, udp.OptMulticastHops, value)
		}
		return nil
	case level == IPProtoIPv6 && name == IPv6RecvDstAddr:
		s.mu.Lock()
		s.recvDstAddr = value != 0
		hasUDP, uh := s.hasUDP, s.udpHandle
		s.mu.Unlock()
		if hasUDP {
			t.netMu.Lock()
			defer t.netMu.Unlock()
			return t.udpEngine.SetOption(uh, udp.OptRecvDstAddr, value)
		}
		return nil
	case level == IPProtoIPv6 && name == IPv6Only:
		s.mu.Lock()
		s.v6Only = value != 0
		s.mu.Unlock()
		return nil
	case level == IPProtoTCP && name == TCPQuickACK:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return errno.ENOTCONN
		}
		t.netMu.Lock()
		defer t.netMu.Unlock()
		return t.tcpEngine.SetSockOpt(h, tcp.OptQuickACK, value)
	case level == IPProtoTCP && name == TCPFlowCtrl:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return errno.ENOTCONN
		}
		t.netMu.Lock()
		defer t.netMu.Unlock()
		return t.tcpEngine.SetSockOpt(h, tcp.OptFlowControl, value)
	case level == IPProtoTCP && name == TCPKeepIdle:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return errno.ENOTCONN
		}
		t.netMu.Lock()
		defer t.netMu.Unlock()
		return t.tcpEngine.SetSockOpt(h, tcp.OptKeepIdle, value)
	}
	return errno.EINVAL
}

// applyMarking fans a TOS/TTL/TClass-shaped option out to whichever
// transport handle this socket currently owns.
func (t *Table) applyMarking(s *socketImpl, tcpOpt tcp.SockOpt, udpOpt udp.Option, value int) error {
	s.mu.Lock()
	hasTCP, th := s.hasTCP, s.tcpHandle
	hasUDP, uh := s.hasUDP, s.udpHandle
	s.mu.Unlock()
	t.netMu.Lock()
	defer t.netMu.Unlock()
	if hasTCP {
		if err := t.tcpEngine.SetSockOpt(th, tcpOpt, value); err != nil {
			return err
		}
	}
	if hasUDP {
		if err := t.udpEngine.SetOption(uh, udpOpt, value); err != nil {
			return err
		}
	}
	return nil
}

// GetSockOpt implements getsockopt(), writing the option's value into
// buf (big-endian, matching the wire.TCPOption/EncodeIPv4 convention
// elsewhere in this module) and returning the number of bytes written.
// Fails EINVAL if buf is empty; a nonzero but undersized buffer is
// truncated rather than failed, per spec §4.5.4, since every option
// here fits in 4 bytes.
func (t *Table) GetSockOpt(fd FD, level Level, name Name, buf []byte) (int, error) {
	if !validPairs[level][name] {
		return 0, errno.EINVAL
	}
	if len(buf) == 0 {
		return 0, errno.EINVAL
	}
	s, err := t.lookup(fd)
	if err != nil {
		return 0, err
	}

	var value int
	switch {
	case level == SOLSocket && name == SOType:
		s.mu.Lock()
		value = int(s.typ)
		s.mu.Unlock()
	case level == SOLSocket && name == SOKeepalive:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return 0, errno.ENOTCONN
		}
		t.netMu.Lock()
		value, err = t.tcpEngine.SockOpt(h, tcp.OptKeepalive)
		t.netMu.Unlock()
	case level == SOLSocket && name == SORcvTimeo:
		s.mu.Lock()
		value = int(s.rcvTimeout / time.Millisecond)
		s.mu.Unlock()
	case level == SOLSocket && name == SOSndTimeo:
		s.mu.Lock()
		value = int(s.sndTimeout / time.Millisecond)
		s.mu.Unlock()
	case level == SOLSocket && name == SOBindToDevice:
		s.mu.Lock()
		value = int(s.bindDevice)
		s.mu.Unlock()
	case level == IPProtoIPv6 && name == IPv6Only:
		s.mu.Lock()
		value = boolToInt(s.v6Only)
		s.mu.Unlock()
	case (level == IPProtoIP && name == IPRecvDstAddr) || (level == IPProtoIPv6 && name == IPv6RecvDstAddr):
		s.mu.Lock()
		value = boolToInt(s.recvDstAddr)
		s.mu.Unlock()
	case level == IPProtoIP && name == IPTOS:
		value, err = t.readMarking(s, tcp.OptTOS, udp.OptTOS)
	case level == IPProtoIP && name == IPTTL:
		value, err = t.readMarking(s, tcp.OptTTL, udp.OptTTL)
	case level == IPProtoIPv6 && name == IPv6TClass:
		value, err = t.readMarking(s, tcp.OptTClass, udp.OptTClass)
	case level == IPProtoIPv6 && name == IPv6MulticastHops:
		s.mu.Lock()
		hasUDP, uh := s.hasUDP, s.udpHandle
		s.mu.Unlock()
		if hasUDP {
			t.netMu.Lock()
			value, err = t.udpEngine.SockOpt(uh, udp.OptMulticastHops)
			t.netMu.Unlock()
		}
	case level == IPProtoTCP && name == TCPQuickACK:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return 0, errno.ENOTCONN
		}
		t.netMu.Lock()
		value, err = t.tcpEngine.SockOpt(h, tcp.OptQuickACK)
		t.netMu.Unlock()
	case level == IPProtoTCP && name == TCPFlowCtrl:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return 0, errno.ENOTCONN
		}
		t.netMu.Lock()
		value, err = t.tcpEngine.SockOpt(h, tcp.OptFlowControl)
		t.netMu.Unlock()
	case level == IPProtoTCP && name == TCPKeepIdle:
		s.mu.Lock()
		hasTCP, h := s.hasTCP, s.tcpHandle
		s.mu.Unlock()
		if !hasTCP {
			return 0, errno.ENOTCONN
		}
		t.netMu.Lock()
		value, err = t.tcpEngine.SockOpt(h, tcp.OptKeepIdle)
		t.netMu.Unlock()
	default:
		return 0, errno.EINVAL
	}
	if err != nil {
		return 0, err
	}

	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(value))
	n := copy(buf, word[:])
	return n, nil
}

func (t *Table) readMarking(s *socketImpl, tcpOpt tcp.SockOpt, udpOpt udp.Option) (int, error) {
	s.mu.Lock()
	hasTCP, th := s.hasTCP, s.tcpHandle
	hasUDP, uh := s.hasUDP, s.udpHandle
	s.mu.Unlock()
	t.netMu.Lock()
	defer t.netMu.Unlock()
	if hasTCP {
		return t.tcpEngine.SockOpt(th, tcpOpt)
	}
	if hasUDP {
		return t.udpEngine.SockOpt(uh, udpOpt)
	}
	return 0, nil
}
