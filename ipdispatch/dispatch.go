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

// Package ipdispatch implements the IP Dispatcher of spec §4.2: ingress
// header validation and transport demultiplexing, and egress source
// selection, marking and checksumming before handoff to a link.Link.
package ipdispatch

import (
	"net"

	"github.com/google/gopacket/layers"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/link"
	"github.com/xtaci/embnet/netlock"
	"github.com/xtaci/embnet/wire"
)

// TCPSink and UDPSink are the transports the dispatcher hands decoded
// segments/datagrams to. *tcp.Engine and *udp.Engine satisfy these
// directly; tests substitute fakes.
type TCPSink interface {
	HandleSegment(local, peer addr.Endpoint, seg *wire.TCPSegment) error
}

type UDPSink interface {
	Deliver(local, peer addr.Endpoint, payload []byte, checksumValid bool)
}

// Dispatcher wires one or more links' ingress frames to the TCP/UDP
// engines and serves as those engines' Egress collaborator, mirroring
// how xtaci/tcpraw's single flow table sits between a raw socket and
// its TCP state.
type Dispatcher struct {
	ifaces *iface.Table
	tcp    TCPSink
	udp    UDPSink

	// netMu is the shared core-thread lock of spec §4.1: ingress
	// processing mutates the same tcp.Engine/udp.Engine state a
	// socket-layer call or the core's timer sweep can be touching
	// concurrently, so AttachLink's RX handler holds it for the whole
	// synchronous decode-and-deliver chain. Reentrant, since a link
	// like link.Loopback can deliver synchronously back into the same
	// goroutine that is already holding netMu further up the stack
	// (e.g. a Connect's SYN answered inline by the peer).
	netMu *netlock.Lock
}

// New builds a Dispatcher over the given interface table and
// transport sinks. netMu must be the same lock instance passed to
// socket.NewTable for the Core these sinks belong to.
func New(ifaces *iface.Table, tcpSink TCPSink, udpSink UDPSink, netMu *netlock.Lock) *Dispatcher {
	return &Dispatcher{ifaces: ifaces, tcp: tcpSink, udp: udpSink, netMu: netMu}
}

// AttachLink registers the dispatcher as l's RX handler, tagging every
// frame it decodes as having arrived on local address localAddr
// (family implied by localAddr.Family).
func (d *Dispatcher) AttachLink(l link.Link, localAddr addr.Endpoint) {
	l.SetRXHandler(func(frame []byte) {
		d.netMu.Lock()
		defer d.netMu.Unlock()
		if localAddr.Family == addr.IPv6 {
			d.handleIngressIPv6(frame, localAddr)
		} else {
			d.handleIngressIPv4(frame, localAddr)
		}
	})
}

// handleIngressIPv4 implements spec §4.2 ingress validation for IPv4:
// version/checksum via wire.DecodeIPv4, local-address filtering, then
// transport dispatch.
func (d *Dispatcher) handleIngressIPv4(frame []byte, local addr.Endpoint) {
	dg, err := wire.DecodeIPv4(frame)
	if err != nil {
		return // malformed or checksum mismatch: silently dropped
	}
	if !addressMatches(dg.DstIP, local) && !isIPv4Broadcast(dg.DstIP) {
		return
	}
	srcEP := endpointFromIP(dg.SrcIP, addr.IPv4, 0)
	dstEP := endpointFromIP(dg.DstIP, addr.IPv4, 0)
	d.dispatchTransport(dg.Protocol, dg.Payload, srcEP, dstEP, dg.SrcIP, dg.DstIP, false)
}

// handleIngressIPv6 is the IPv6 counterpart; DecodeIPv6 has already
// skipped extension headers up to the real next-header.
func (d *Dispatcher) handleIngressIPv6(frame []byte, local addr.Endpoint) {
	dg, err := wire.DecodeIPv6(frame)
	if err != nil {
		return
	}
	if !addressMatches(dg.DstIP, local) && !dg.DstIP.IsMulticast() {
		return
	}
	srcEP := endpointFromIP(dg.SrcIP, addr.IPv6, 0)
	dstEP := endpointFromIP(dg.DstIP, addr.IPv6, 0)
	d.dispatchTransport(dg.NextHeader, dg.Payload, srcEP, dstEP, dg.SrcIP, dg.DstIP, true)
}

func (d *Dispatcher) dispatchTransport(proto layers.IPProtocol, payload []byte, srcEP, dstEP addr.Endpoint, srcIP, dstIP net.IP, v6 bool) {
	switch proto {
	case layers.IPProtocolTCP:
		seg, err := wire.DecodeTCP(payload, srcIP, dstIP, v6)
		if err != nil || d.tcp == nil {
			return
		}
		local := dstEP
		local.Port = seg.DstPort
		peer := srcEP
		peer.Port = seg.SrcPort
		d.tcp.HandleSegment(local, peer, seg)
	case layers.IPProtocolUDP:
		dg, err := wire.DecodeUDP(payload, srcIP, dstIP, v6)
		checksumValid := err == nil
		if err != nil || d.udp == nil {
			return
		}
		local := dstEP
		local.Port = dg.DstPort
		peer := srcEP
		peer.Port = dg.SrcPort
		d.udp.Deliver(local, peer, dg.Payload, checksumValid)
	default:
		// unsupported transport protocol: out of this module's scope,
		// delegated to whatever upper-layer collaborator handles ICMP etc.
	}
}

func addressMatches(ip net.IP, local addr.Endpoint) bool {
	want := endpointFromIP(ip, local.Family, 0)
	return want.Equal(addr.Endpoint{Family: local.Family, IP: local.IP})
}

func isIPv4Broadcast(ip net.IP) bool {
	return ip.Equal(net.IPv4bcast)
}

func endpointFromIP(ip net.IP, family addr.Family, port uint16) addr.Endpoint {
	if family == addr.IPv4 {
		v4 := ip.To4()
		if v4 == nil {
			return addr.Endpoint{}
		}
		return addr.NewIPv4(v4[0], v4[1], v4[2], v4[3], port)
	}
	v6 := ip.To16()
	var raw [16]byte
	copy(raw[:], v6)
	return addr.NewIPv6(raw, port)
}
