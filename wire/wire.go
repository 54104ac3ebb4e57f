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

// Package wire implements the IP Dispatcher's header codec of spec §4.2:
// thin decode/encode helpers over gopacket and gopacket/layers so the
// ipdispatch, tcp and udp engines never hand-roll checksum arithmetic,
// the same division of labor xtaci/tcpraw uses between its flow tracking
// and the layers.TCP/layers.IPv4 header structs it serializes through.
package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Marking carries the egress IP marking fields of spec §4.2: TTL/TOS for
// IPv4, hop-limit/traffic-class for IPv6, filled in from socket options
// before the dispatcher hands a transport-layer payload down to wire.
type Marking struct {
	TTL      uint8 // IPv4 IP_TTL, or IPv6 IPV6_MULTICAST_HOPS
	TOS      uint8 // IPv4 IP_TOS, or IPv6 IPV6_TCLASS
	Identity uint16
}

// IPv4Datagram is a decoded ingress IPv4 packet: the parsed header plus
// the transport-protocol payload beyond it (extension headers, if any,
// already skipped for IPv6 by DecodeIPv6).
type IPv4Datagram struct {
	SrcIP    net.IP
	DstIP    net.IP
	Protocol layers.IPProtocol
	TTL      uint8
	TOS      uint8
	Payload  []byte
}

// IPv6Datagram is the IPv6 counterpart of IPv4Datagram.
type IPv6Datagram struct {
	SrcIP      net.IP
	DstIP      net.IP
	NextHeader layers.IPProtocol
	HopLimit   uint8
	TClass     uint8
	Payload    []byte
}

var decodeOpts = gopacket.DecodeOptions{NoCopy: true, Lazy: true}

// DecodeIPv4 parses a full IPv4 datagram (header+payload) as received
// from a Link, validating the checksum the way spec §4.2 ingress
// validation requires. Returns an error if the version/checksum is
// wrong; callers drop the datagram on error rather than propagating it
// further up the stack.
func DecodeIPv4(frame []byte) (*IPv4Datagram, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeIPv4, decodeOpts)
	layer := packet.Layer(layers.LayerTypeIPv4)
	if layer == nil {
		return nil, errors.New("wire: not an IPv4 datagram")
	}
	ip, ok := layer.(*layers.IPv4)
	if !ok {
		return nil, errors.New("wire: IPv4 layer decode failed")
	}
	if !verifyIPv4Checksum(frame, ip) {
		return nil, errors.New("wire: IPv4 header checksum mismatch")
	}
	return &IPv4Datagram{
		SrcIP:    ip.SrcIP,
		DstIP:    ip.DstIP,
		Protocol: ip.Protocol,
		TTL:      ip.TTL,
		TOS:      ip.TOS,
		Payload:  ip.Payload,
	}, nil
}

// DecodeIPv6 parses a full IPv6 datagram, skipping hop-by-hop and
// fragment extension headers up to the transport protocol number as
// spec §4.2 requires. IPv6 has no header checksum; length consistency
// is all gopacket's decoder checks.
func DecodeIPv6(frame []byte) (*IPv6Datagram, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeIPv6, decodeOpts)
	layer := packet.Layer(layers.LayerTypeIPv6)
	if layer == nil {
		return nil, errors.New("wire: not an IPv6 datagram")
	}
	ip, ok := layer.(*layers.IPv6)
	if !ok {
		return nil, errors.New("wire: IPv6 layer decode failed")
	}

	nextHeader := ip.NextHeader
	payload := ip.Payload
	for _, l := range packet.Layers() {
		switch hop := l.(type) {
		case *layers.IPv6HopByHop:
			nextHeader = hop.NextHeader
			payload = hop.Payload
		case *layers.IPv6Fragment:
			nextHeader = hop.NextHeader
			payload = hop.Payload
		}
	}

	return &IPv6Datagram{
		SrcIP:      ip.SrcIP,
		DstIP:      ip.DstIP,
		NextHeader: nextHeader,
		HopLimit:   ip.HopLimit,
		TClass:     ip.TrafficClass,
		Payload:    payload,
	}, nil
}

// EncodeIPv4 serializes an IPv4 header over an already-built transport
// payload (a TCP segment or UDP datagram produced by TCPSegment.Encode
// or UDPDatagram.Encode), filling TTL/TOS from mark and computing the
// header checksum via gopacket's SerializeOptions.
func EncodeIPv4(src, dst net.IP, proto layers.IPProtocol, mark Marking, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TOS:      mark.TOS,
		Id:       mark.Identity,
		TTL:      mark.TTL,
		Protocol: proto,
		SrcIP:    src.To4(),
		DstIP:    dst.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(payload)); err != nil {
		return nil, errors.Wrap(err, "wire: serialize IPv4 datagram")
	}
	return buf.Bytes(), nil
}

// EncodeIPv6 is the IPv6 counterpart of EncodeIPv4. IPv6 carries no
// extension headers on egress; the dispatcher never originates
// fragmented datagrams (spec §4.2 fragmentation policy).
func EncodeIPv6(src, dst net.IP, nextHeader layers.IPProtocol, mark Marking, payload []byte) ([]byte, error) {
	ip := &layers.IPv6{
		Version:      6,
		TrafficClass: mark.TOS,
		HopLimit:     mark.TTL,
		NextHeader:   nextHeader,
		SrcIP:        src.To16(),
		DstIP:        dst.To16(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(payload)); err != nil {
		return nil, errors.Wrap(err, "wire: serialize IPv6 datagram")
	}
	return buf.Bytes(), nil
}

// verifyIPv4Checksum recomputes the IPv4 header checksum the same way
// the kernel would and compares it against the one on the wire.
func verifyIPv4Checksum(frame []byte, ip *layers.IPv4) bool {
	ihl := int(ip.IHL) * 4
	if ihl < 20 || ihl > len(frame) {
		return false
	}
	header := make([]byte, ihl)
	copy(header, frame[:ihl])
	header[10], header[11] = 0, 0 // zero the checksum field before summing
	sum := checksum16(header)
	return sum == ip.Checksum
}

// checksum16 computes the Internet checksum (RFC 1071) of b.
func checksum16(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
