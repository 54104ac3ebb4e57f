package socket

import (
	"testing"
	"time"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/netlock"
	"github.com/xtaci/embnet/tcp"
	"github.com/xtaci/embnet/timer"
	"github.com/xtaci/embnet/udp"
	"github.com/xtaci/embnet/wire"
)

type fakeTCPEgress struct {
	lastSeg *wire.TCPSegment
}

func (f *fakeTCPEgress) SendTCP(local, peer addr.Endpoint, seg *wire.TCPSegment, tos, ttl uint8, ifid iface.ID) error {
	f.lastSeg = seg
	return nil
}

type fakeUDPEgress struct {
	sent []struct {
		local, peer addr.Endpoint
		payload     []byte
	}
}

func (f *fakeUDPEgress) SendUDP(local, peer addr.Endpoint, payload []byte, tos, ttl uint8, ifid iface.ID, computeChecksum bool) error {
	cp := append([]byte(nil), payload...)
	f.sent = append(f.sent, struct {
		local, peer addr.Endpoint
		payload     []byte
	}{local, peer, cp})
	return nil
}

func newTestTable() (*Table, *fakeTCPEgress, *fakeUDPEgress) {
	wheel := timer.New(time.Unix(0, 0))
	tcpEg := &fakeTCPEgress{}
	udpEg := &fakeUDPEgress{}
	cfg := tcp.DefaultConfig()
	cfg.PoolSize = 8
	tcpEngine := tcp.NewEngine(cfg, wheel, tcpEg)
	udpEngine := udp.NewEngine(8, udpEg)
	return NewTable(16, tcpEngine, udpEngine, netlock.New()), tcpEg, udpEg
}

var serverEP = addr.NewIPv4(10, 0, 0, 2, 7)

func TestSocketAllocatesAndRejectsBadFamily(t *testing.T) {
	tbl, _, _ := newTestTable()
	if _, err := tbl.Socket(addr.Family(99), Stream); err != errno.EINVAL {
		t.Fatalf("expected EINVAL for bad family, got %v", err)
	}
	fd, err := tbl.Socket(addr.IPv4, Stream)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if fd < 0 {
		t.Fatalf("expected nonnegative fd, got %d", fd)
	}
}

func TestUDPSendThenRecvOnEmptyQueueWouldBlock(t *testing.T) {
	tbl, _, udpEg := newTestTable()
	fd, err := tbl.Socket(addr.IPv4, Dgram)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := tbl.Bind(fd, addr.NewIPv4(10, 0, 0, 1, 5000)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	peer := addr.NewIPv4(10, 0, 0, 2, 6000)
	if _, err := tbl.Send(fd, peer, []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(udpEg.sent) != 1 {
		t.Fatalf("expected 1 datagram sent, got %d", len(udpEg.sent))
	}

	if err := tbl.SetNonBlocking(fd, true); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	buf := make([]byte, 16)
	if _, _, err := tbl.Recv(fd, buf); err != errno.EWOULDBLOCK {
		t.Fatalf("expected EWOULDBLOCK on empty queue, got %v", err)
	}
}

func TestUDPSendRequiresDestinationForUnconnectedSocket(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Dgram)
	if _, err := tbl.Send(fd, addr.Endpoint{}, []byte("x")); err != errno.EDESTADDRREQ {
		t.Fatalf("expected EDESTADDRREQ, got %v", err)
	}
}

func TestTCPConnectAllocatesEphemeralPortAndReturnsInProgressNonBlocking(t *testing.T) {
	tbl, tcpEg, _ := newTestTable()
	fd, err := tbl.Socket(addr.IPv4, Stream)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := tbl.SetNonBlocking(fd, true); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	if err := tbl.Connect(fd, serverEP); err != errno.EINPROGRESS {
		t.Fatalf("expected EINPROGRESS, got %v", err)
	}
	if tcpEg.lastSeg == nil || !tcpEg.lastSeg.Flags.SYN {
		t.Fatalf("expected a SYN to have been sent, got %+v", tcpEg.lastSeg)
	}
	if err := tbl.Connect(fd, serverEP); err != errno.EALREADY {
		t.Fatalf("expected EALREADY on second non-blocking connect, got %v", err)
	}
}

func TestTCPListenAndAcceptNonBlockingEmptyBacklog(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Stream)
	if err := tbl.Listen(fd, serverEP, 4); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := tbl.SetNonBlocking(fd, true); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	if _, _, err := tbl.Accept(fd); err != errno.EWOULDBLOCK {
		t.Fatalf("expected EWOULDBLOCK on empty backlog, got %v", err)
	}
}

func TestTCPSendOnUnconnectedSocketFailsENOTCONN(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Stream)
	if _, err := tbl.Send(fd, addr.Endpoint{}, []byte("x")); err != errno.ENOTCONN {
		t.Fatalf("expected ENOTCONN, got %v", err)
	}
}

func TestCloseSocketReleasesEphemeralPortForReuse(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Stream)
	tbl.SetNonBlocking(fd, true)
	if err := tbl.Connect(fd, serverEP); err != errno.EINPROGRESS {
		t.Fatalf("Connect: %v", err)
	}
	s, _ := tbl.lookup(fd)
	port := s.ephemeralTCPPort
	if port == 0 || !tbl.usedTCPPorts[addr.IPv4][port] {
		t.Fatalf("expected Connect to reserve an ephemeral port, got %d", port)
	}
	if err := tbl.CloseSocket(fd); err != nil {
		t.Fatalf("CloseSocket: %v", err)
	}
	if _, err := tbl.lookup(fd); err != errno.ESOCK {
		t.Fatalf("expected fd released, lookup err = %v", err)
	}
	if tbl.usedTCPPorts[addr.IPv4][port] {
		t.Errorf("ephemeral port %d still reserved after CloseSocket", port)
	}
}
