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

package ipdispatch

import (
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/tcp"
	"github.com/xtaci/embnet/udp"
	"github.com/xtaci/embnet/wire"
)

var (
	_ tcp.Egress = (*Dispatcher)(nil)
	_ udp.Egress = (*Dispatcher)(nil)
)

// SendTCP implements tcp.Egress: source-selects via the interface
// table, marks TTL/TOS, encodes and submits to the chosen link.
func (d *Dispatcher) SendTCP(local, peer addr.Endpoint, seg *wire.TCPSegment, tos, ttl uint8, ifaceID iface.ID) error {
	binding, srcEP, ok := d.ifaces.SourceFor(peer, ifaceID)
	if !ok {
		return errors.New("ipdispatch: no route to peer")
	}
	if !local.IsAnyAddress() {
		srcEP = local
	}

	v6 := peer.Family == addr.IPv6
	srcIP, dstIP := epToIP(srcEP), epToIP(peer)

	segBytes, err := seg.Encode(srcIP, dstIP, v6)
	if err != nil {
		return errors.Wrap(err, "ipdispatch: encode TCP segment")
	}
	if ttl == 0 {
		ttl = 64
	}
	if err := checkMTU(binding, len(segBytes)); err != nil {
		return err
	}

	mark := wire.Marking{TTL: ttl, TOS: tos}
	var frame []byte
	if v6 {
		frame, err = wire.EncodeIPv6(srcIP, dstIP, layers.IPProtocolTCP, mark, segBytes)
	} else {
		frame, err = wire.EncodeIPv4(srcIP, dstIP, layers.IPProtocolTCP, mark, segBytes)
	}
	if err != nil {
		return errors.Wrap(err, "ipdispatch: encode IP datagram")
	}
	return binding.Link.Submit(frame)
}

// SendUDP implements udp.Egress analogously, honoring the checksum
// opt-out NET_UDP_CHECKSUM_SEND gates for IPv4.
func (d *Dispatcher) SendUDP(local, peer addr.Endpoint, payload []byte, tos, ttl uint8, ifaceID iface.ID, computeChecksum bool) error {
	binding, srcEP, ok := d.ifaces.SourceFor(peer, ifaceID)
	if !ok {
		return errors.New("ipdispatch: no route to peer")
	}
	if !local.IsAnyAddress() {
		srcEP = local
	}

	v6 := peer.Family == addr.IPv6
	srcIP, dstIP := epToIP(srcEP), epToIP(peer)

	dg := &wire.UDPDatagram{SrcPort: local.Port, DstPort: peer.Port, Payload: payload}
	dgBytes, err := dg.Encode(srcIP, dstIP, v6, computeChecksum)
	if err != nil {
		return errors.Wrap(err, "ipdispatch: encode UDP datagram")
	}
	if ttl == 0 {
		ttl = 64
	}
	if err := checkMTU(binding, len(dgBytes)); err != nil {
		return err
	}

	mark := wire.Marking{TTL: ttl, TOS: tos}
	var frame []byte
	if v6 {
		frame, err = wire.EncodeIPv6(srcIP, dstIP, layers.IPProtocolUDP, mark, dgBytes)
	} else {
		frame, err = wire.EncodeIPv4(srcIP, dstIP, layers.IPProtocolUDP, mark, dgBytes)
	}
	if err != nil {
		return errors.Wrap(err, "ipdispatch: encode IP datagram")
	}
	return binding.Link.Submit(frame)
}

// checkMTU implements spec §4.2's fragmentation policy: the dispatcher
// never originates a fragmented IPv4 datagram, so a transport payload
// that would push the datagram above the egress link's MTU fails
// synchronously instead.
func checkMTU(binding *iface.Binding, transportLen int) error {
	const ipv4HeaderLen = 20
	if binding.Link.MTU() > 0 && transportLen+ipv4HeaderLen > binding.Link.MTU() {
		return errno.EMSGSIZE
	}
	return nil
}

func epToIP(ep addr.Endpoint) []byte {
	return ep.AddressBytes()
}
