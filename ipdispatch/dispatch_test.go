package ipdispatch

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/netlock"
	"github.com/xtaci/embnet/wire"
)

// fakeLink is a minimal link.Link that records submitted frames
// in-process, without the two-ended wiring link.Loopback requires.
type fakeLink struct {
	mtu  int
	rx   func(frame []byte)
	sent [][]byte
}

func (f *fakeLink) Submit(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeLink) SetRXHandler(h func(frame []byte)) { f.rx = h }
func (f *fakeLink) Up() bool                          { return true }
func (f *fakeLink) MTU() int                          { return f.mtu }
func (f *fakeLink) Close() error                      { return nil }

type recordingTCPSink struct {
	local, peer addr.Endpoint
	seg         *wire.TCPSegment
	calls       int
}

func (r *recordingTCPSink) HandleSegment(local, peer addr.Endpoint, seg *wire.TCPSegment) error {
	r.local, r.peer, r.seg = local, peer, seg
	r.calls++
	return nil
}

type recordingUDPSink struct {
	local, peer addr.Endpoint
	payload     []byte
	valid       bool
	calls       int
}

func (r *recordingUDPSink) Deliver(local, peer addr.Endpoint, payload []byte, checksumValid bool) {
	r.local, r.peer, r.payload, r.valid = local, peer, payload, checksumValid
	r.calls++
}

func buildIfaceTable(t *testing.T, localIP [4]byte) (*iface.Table, *fakeLink) {
	t.Helper()
	lo := &fakeLink{mtu: 1500}
	tbl := iface.NewTable()
	tbl.Register(&iface.Binding{
		ID:   iface.NewID(iface.Ethernet, 0),
		Link: lo,
		Addresses: []addr.Endpoint{
			addr.NewIPv4(localIP[0], localIP[1], localIP[2], localIP[3], 0),
		},
	})
	return tbl, lo
}

func TestHandleIngressIPv4DispatchesTCP(t *testing.T) {
	tbl, _ := buildIfaceTable(t, [4]byte{10, 0, 0, 1})
	tcpSink := &recordingTCPSink{}
	d := New(tbl, tcpSink, nil, netlock.New())

	seg := &wire.TCPSegment{SrcPort: 4000, DstPort: 7, Seq: 100, Flags: wire.TCPFlags{SYN: true}, Window: 65535}
	segBytes, err := seg.Encode(net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 1), false)
	if err != nil {
		t.Fatalf("Encode TCP: %v", err)
	}
	frame, err := wire.EncodeIPv4(net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 1), layers.IPProtocolTCP, wire.Marking{TTL: 64}, segBytes)
	if err != nil {
		t.Fatalf("EncodeIPv4: %v", err)
	}

	d.handleIngressIPv4(frame, addr.NewIPv4(10, 0, 0, 1, 0))

	if tcpSink.calls != 1 {
		t.Fatalf("expected 1 TCP dispatch, got %d", tcpSink.calls)
	}
	if tcpSink.seg.SrcPort != 4000 || tcpSink.seg.DstPort != 7 {
		t.Errorf("ports = %d/%d, want 4000/7", tcpSink.seg.SrcPort, tcpSink.seg.DstPort)
	}
}

func TestHandleIngressIPv4DropsWrongDestination(t *testing.T) {
	tbl, _ := buildIfaceTable(t, [4]byte{10, 0, 0, 1})
	tcpSink := &recordingTCPSink{}
	d := New(tbl, tcpSink, nil, netlock.New())

	seg := &wire.TCPSegment{SrcPort: 4000, DstPort: 7, Seq: 100, Flags: wire.TCPFlags{SYN: true}}
	segBytes, _ := seg.Encode(net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 99), false)
	frame, _ := wire.EncodeIPv4(net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 99), layers.IPProtocolTCP, wire.Marking{TTL: 64}, segBytes)

	d.handleIngressIPv4(frame, addr.NewIPv4(10, 0, 0, 1, 0))

	if tcpSink.calls != 0 {
		t.Errorf("expected segment addressed elsewhere to be dropped, got %d dispatches", tcpSink.calls)
	}
}

func TestHandleIngressIPv4DispatchesUDP(t *testing.T) {
	tbl, _ := buildIfaceTable(t, [4]byte{10, 0, 0, 1})
	udpSink := &recordingUDPSink{}
	d := New(tbl, nil, udpSink, netlock.New())

	dg := &wire.UDPDatagram{SrcPort: 5000, DstPort: 7, Payload: []byte("ping")}
	dgBytes, err := dg.Encode(net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 1), false, true)
	if err != nil {
		t.Fatalf("Encode UDP: %v", err)
	}
	frame, err := wire.EncodeIPv4(net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 1), layers.IPProtocolUDP, wire.Marking{TTL: 64}, dgBytes)
	if err != nil {
		t.Fatalf("EncodeIPv4: %v", err)
	}

	d.handleIngressIPv4(frame, addr.NewIPv4(10, 0, 0, 1, 0))

	if udpSink.calls != 1 {
		t.Fatalf("expected 1 UDP dispatch, got %d", udpSink.calls)
	}
	if !udpSink.valid {
		t.Error("expected checksum to validate")
	}
	if string(udpSink.payload) != "ping" {
		t.Errorf("payload = %q, want %q", udpSink.payload, "ping")
	}
}

func TestSendTCPEncodesAndSubmitsToLink(t *testing.T) {
	tbl, lo := buildIfaceTable(t, [4]byte{10, 0, 0, 1})
	d := New(tbl, nil, nil, netlock.New())

	local := addr.NewIPv4(10, 0, 0, 1, 7)
	peer := addr.NewIPv4(10, 0, 0, 2, 4000)
	seg := &wire.TCPSegment{SrcPort: 7, DstPort: 4000, Seq: 1, Ack: 1, Flags: wire.TCPFlags{ACK: true}, Window: 65535}

	if err := d.SendTCP(local, peer, seg, 0, 64, 0); err != nil {
		t.Fatalf("SendTCP: %v", err)
	}
	if len(lo.sent) != 1 {
		t.Fatalf("expected 1 frame submitted to link, got %d", len(lo.sent))
	}
}

func TestSendUDPFailsOversizedPayloadWithMsgSize(t *testing.T) {
	tbl, _ := buildIfaceTable(t, [4]byte{10, 0, 0, 1})
	d := New(tbl, nil, nil, netlock.New())

	local := addr.NewIPv4(10, 0, 0, 1, 7)
	peer := addr.NewIPv4(10, 0, 0, 2, 4000)
	huge := make([]byte, 2000)

	if err := d.SendUDP(local, peer, huge, 0, 64, 0, true); err == nil {
		t.Error("expected message-too-large error for an oversized UDP payload")
	}
}
