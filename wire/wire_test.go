package wire

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"
)

func TestIPv4EncodeDecodeRoundTrip(t *testing.T) {
	src := net.IPv4(192, 168, 1, 1)
	dst := net.IPv4(192, 168, 1, 2)
	mark := Marking{TTL: 64, TOS: 0, Identity: 1}
	payload := []byte("hello")

	frame, err := EncodeIPv4(src, dst, layers.IPProtocolUDP, mark, payload)
	if err != nil {
		t.Fatalf("EncodeIPv4: %v", err)
	}

	dg, err := DecodeIPv4(frame)
	if err != nil {
		t.Fatalf("DecodeIPv4: %v", err)
	}
	if !dg.SrcIP.Equal(src) || !dg.DstIP.Equal(dst) {
		t.Errorf("addresses mismatch: got src=%v dst=%v", dg.SrcIP, dg.DstIP)
	}
	if dg.TTL != 64 {
		t.Errorf("TTL = %d, want 64", dg.TTL)
	}
	if string(dg.Payload) != "hello" {
		t.Errorf("payload = %q, want %q", dg.Payload, "hello")
	}
}

func TestIPv4DecodeRejectsCorruptChecksum(t *testing.T) {
	src := net.IPv4(10, 0, 0, 1)
	dst := net.IPv4(10, 0, 0, 2)
	frame, err := EncodeIPv4(src, dst, layers.IPProtocolUDP, Marking{TTL: 64}, []byte("x"))
	if err != nil {
		t.Fatalf("EncodeIPv4: %v", err)
	}
	frame[10] ^= 0xff // flip a checksum byte
	if _, err := DecodeIPv4(frame); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestTCPSegmentEncodeDecodeRoundTrip(t *testing.T) {
	src := net.IPv4(127, 0, 0, 1)
	dst := net.IPv4(127, 0, 0, 1)

	seg := &TCPSegment{
		SrcPort: 12345,
		DstPort: 7,
		Seq:     1000,
		Ack:     2000,
		Flags:   TCPFlags{SYN: true, ACK: true},
		Window:  65535,
		Payload: []byte("payload"),
	}
	raw, err := seg.Encode(src, dst, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeTCP(raw, src, dst, false)
	if err != nil {
		t.Fatalf("DecodeTCP: %v", err)
	}
	if got.SrcPort != 12345 || got.DstPort != 7 {
		t.Errorf("ports = %d/%d, want 12345/7", got.SrcPort, got.DstPort)
	}
	if got.Seq != 1000 || got.Ack != 2000 {
		t.Errorf("seq/ack = %d/%d, want 1000/2000", got.Seq, got.Ack)
	}
	if !got.Flags.SYN || !got.Flags.ACK {
		t.Error("expected SYN+ACK flags")
	}
	if string(got.Payload) != "payload" {
		t.Errorf("payload = %q, want %q", got.Payload, "payload")
	}
}

func TestUDPDatagramEncodeDecodeRoundTrip(t *testing.T) {
	src := net.IPv4(127, 0, 0, 1)
	dst := net.IPv4(127, 0, 0, 1)

	d := &UDPDatagram{SrcPort: 5000, DstPort: 7, Payload: []byte("ping")}
	raw, err := d.Encode(src, dst, false, true)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeUDP(raw, src, dst, false)
	if err != nil {
		t.Fatalf("DecodeUDP: %v", err)
	}
	if got.SrcPort != 5000 || got.DstPort != 7 {
		t.Errorf("ports = %d/%d, want 5000/7", got.SrcPort, got.DstPort)
	}
	if string(got.Payload) != "ping" {
		t.Errorf("payload = %q, want %q", got.Payload, "ping")
	}
}

func TestUDPDatagramNoChecksumAcceptedOnIPv4(t *testing.T) {
	src := net.IPv4(127, 0, 0, 1)
	dst := net.IPv4(127, 0, 0, 1)

	d := &UDPDatagram{SrcPort: 5000, DstPort: 7, Payload: []byte("ping")}
	raw, err := d.Encode(src, dst, false, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeUDP(raw, src, dst, false); err != nil {
		t.Errorf("DecodeUDP with zero checksum should be accepted on IPv4: %v", err)
	}
}
