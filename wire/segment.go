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

package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// TCPOption is the decoded form of a single TCP option, spec §6: MSS,
// Window-Scale, SACK-Permitted and Timestamp. Kind mirrors
// layers.TCPOptionKind so callers never need to import gopacket/layers
// themselves just to switch on option type.
type TCPOption struct {
	Kind layers.TCPOptionKind
	Data []byte
}

// TCPSegment wraps layers.TCP the way xtaci/tcpraw's tcpFlow.tcpHeader
// does: Encode rebuilds the embedded layers.TCP header from the exported
// fields on every call.
type TCPSegment struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            TCPFlags
	Window           uint16
	Options          []TCPOption
	Payload          []byte

	hdr layers.TCP
}

// TCPFlags mirrors the six RFC 793 control bits the engine inspects.
type TCPFlags struct {
	FIN, SYN, RST, PSH, ACK, URG bool
}

// DecodeTCP parses a TCP segment out of an IP payload. srcIP/dstIP are
// required to validate the pseudo-header checksum the way spec §7
// requires ("For all TCP segments transmitted: header checksum
// verifies").
func DecodeTCP(payload []byte, srcIP, dstIP net.IP, v6 bool) (*TCPSegment, error) {
	packet := gopacket.NewPacket(payload, layers.LayerTypeTCP, decodeOpts)
	layer := packet.Layer(layers.LayerTypeTCP)
	if layer == nil {
		return nil, errors.New("wire: not a TCP segment")
	}
	tcp, ok := layer.(*layers.TCP)
	if !ok {
		return nil, errors.New("wire: TCP layer decode failed")
	}

	if err := verifyTCPChecksum(tcp, srcIP, dstIP, v6); err != nil {
		return nil, err
	}

	opts := make([]TCPOption, 0, len(tcp.Options))
	for _, o := range tcp.Options {
		opts = append(opts, TCPOption{Kind: o.OptionType, Data: o.OptionData})
	}

	return &TCPSegment{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		Flags: TCPFlags{
			FIN: tcp.FIN, SYN: tcp.SYN, RST: tcp.RST,
			PSH: tcp.PSH, ACK: tcp.ACK, URG: tcp.URG,
		},
		Window:  tcp.Window,
		Options: opts,
		Payload: tcp.Payload,
	}, nil
}

// Encode serializes the segment with a checksum computed against the
// given pseudo-header addresses, the same division of labor
// tcpFlow.WriteTo uses: build the layers.TCP header, attach the network
// layer for checksum purposes via SetNetworkLayerForChecksum, then
// SerializeLayers.
func (s *TCPSegment) Encode(srcIP, dstIP net.IP, v6 bool) ([]byte, error) {
	s.hdr = layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		Ack:     s.Ack,
		FIN:     s.Flags.FIN, SYN: s.Flags.SYN, RST: s.Flags.RST,
		PSH: s.Flags.PSH, ACK: s.Flags.ACK, URG: s.Flags.URG,
		Window: s.Window,
	}
	for _, o := range s.Options {
		s.hdr.Options = append(s.hdr.Options, layers.TCPOption{OptionType: o.Kind, OptionData: o.Data, OptionLength: uint8(2 + len(o.Data))})
	}

	if v6 {
		s.hdr.SetNetworkLayerForChecksum(&layers.IPv6{SrcIP: srcIP.To16(), DstIP: dstIP.To16()})
	} else {
		s.hdr.SetNetworkLayerForChecksum(&layers.IPv4{SrcIP: srcIP.To4(), DstIP: dstIP.To4(), Protocol: layers.IPProtocolTCP})
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &s.hdr, gopacket.Payload(s.Payload)); err != nil {
		return nil, errors.Wrap(err, "wire: serialize TCP segment")
	}
	return buf.Bytes(), nil
}

func verifyTCPChecksum(tcp *layers.TCP, srcIP, dstIP net.IP, v6 bool) error {
	if v6 {
		tcp.SetNetworkLayerForChecksum(&layers.IPv6{SrcIP: srcIP.To16(), DstIP: dstIP.To16()})
	} else {
		tcp.SetNetworkLayerForChecksum(&layers.IPv4{SrcIP: srcIP.To4(), DstIP: dstIP.To4(), Protocol: layers.IPProtocolTCP})
	}
	buf := gopacket.NewSerializeBuffer()
	want := tcp.Checksum
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true}, tcp, gopacket.Payload(tcp.Payload)); err != nil {
		return errors.Wrap(err, "wire: recompute TCP checksum")
	}
	got := (uint16(buf.Bytes()[16]) << 8) | uint16(buf.Bytes()[17])
	if got != want {
		return errors.New("wire: TCP checksum mismatch")
	}
	return nil
}

// UDPDatagram wraps layers.UDP for the UDP engine's §4.3 send/receive
// path.
type UDPDatagram struct {
	SrcPort, DstPort uint16
	Payload          []byte

	hdr layers.UDP
}

// DecodeUDP parses a UDP datagram out of an IP payload. A zero checksum
// field, the "no checksum computed" form (valid for IPv4, spec §4.3
// checksum policy), is accepted without verification; any other value
// is verified against the pseudo-header.
func DecodeUDP(payload []byte, srcIP, dstIP net.IP, v6 bool) (*UDPDatagram, error) {
	packet := gopacket.NewPacket(payload, layers.LayerTypeUDP, decodeOpts)
	layer := packet.Layer(layers.LayerTypeUDP)
	if layer == nil {
		return nil, errors.New("wire: not a UDP datagram")
	}
	udp, ok := layer.(*layers.UDP)
	if !ok {
		return nil, errors.New("wire: UDP layer decode failed")
	}

	if udp.Checksum != 0 {
		if v6 {
			udp.SetNetworkLayerForChecksum(&layers.IPv6{SrcIP: srcIP.To16(), DstIP: dstIP.To16()})
		} else {
			udp.SetNetworkLayerForChecksum(&layers.IPv4{SrcIP: srcIP.To4(), DstIP: dstIP.To4(), Protocol: layers.IPProtocolUDP})
		}
		buf := gopacket.NewSerializeBuffer()
		want := udp.Checksum
		if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true}, udp, gopacket.Payload(udp.Payload)); err != nil {
			return nil, errors.Wrap(err, "wire: recompute UDP checksum")
		}
		got := (uint16(buf.Bytes()[6]) << 8) | uint16(buf.Bytes()[7])
		if got != want {
			return nil, errors.New("wire: UDP checksum mismatch")
		}
	}

	return &UDPDatagram{
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
		Payload: udp.Payload,
	}, nil
}

// Encode serializes the datagram. When computeChecksum is false the
// wire checksum field is left zero, the IPv4-only opt-out spec §4.3
// allows via NET_UDP_CHECKSUM_SEND.
func (d *UDPDatagram) Encode(srcIP, dstIP net.IP, v6, computeChecksum bool) ([]byte, error) {
	d.hdr = layers.UDP{SrcPort: layers.UDPPort(d.SrcPort), DstPort: layers.UDPPort(d.DstPort)}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: computeChecksum || v6}
	if opts.ComputeChecksums {
		if v6 {
			d.hdr.SetNetworkLayerForChecksum(&layers.IPv6{SrcIP: srcIP.To16(), DstIP: dstIP.To16()})
		} else {
			d.hdr.SetNetworkLayerForChecksum(&layers.IPv4{SrcIP: srcIP.To4(), DstIP: dstIP.To4(), Protocol: layers.IPProtocolUDP})
		}
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, &d.hdr, gopacket.Payload(d.Payload)); err != nil {
		return nil, errors.Wrap(err, "wire: serialize UDP datagram")
	}
	return buf.Bytes(), nil
}
