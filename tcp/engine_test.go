package tcp

import (
	"testing"
	"time"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/timer"
	"github.com/xtaci/embnet/wire"
)

type sentSeg struct {
	local, peer addr.Endpoint
	seg         *wire.TCPSegment
}

type fakeEgress struct {
	sent []sentSeg
}

func (f *fakeEgress) SendTCP(local, peer addr.Endpoint, seg *wire.TCPSegment, tos, ttl uint8, ifid iface.ID) error {
	f.sent = append(f.sent, sentSeg{local: local, peer: peer, seg: seg})
	return nil
}

func (f *fakeEgress) last() *wire.TCPSegment {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1].seg
}

func newTestEngine() (*Engine, *fakeEgress, *timer.Wheel) {
	wheel := timer.New(time.Unix(0, 0))
	eg := &fakeEgress{}
	cfg := DefaultConfig()
	cfg.PoolSize = 8
	e := NewEngine(cfg, wheel, eg)
	return e, eg, wheel
}

var (
	clientEP = addr.Endpoint{Family: addr.IPv4, Port: 40000}
	serverEP = addr.Endpoint{Family: addr.IPv4, Port: 7}
)

// driveHandshake performs a full three-way handshake between a client
// Connect and a server Listen/Accept pair within the same engine,
// emulating a loopback exchange.
func driveHandshake(t *testing.T, e *Engine, eg *fakeEgress) (client, server Handle) {
	t.Helper()
	lh, err := e.Listen(serverEP, 4)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ch, err := e.Connect(clientEP, serverEP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	syn := eg.last()
	if !syn.Flags.SYN || syn.Flags.ACK {
		t.Fatalf("expected bare SYN, got %+v", syn.Flags)
	}

	if err := e.HandleSegment(serverEP, clientEP, syn); err != nil {
		t.Fatalf("HandleSegment(SYN): %v", err)
	}
	synAck := eg.last()
	if !synAck.Flags.SYN || !synAck.Flags.ACK {
		t.Fatalf("expected SYN+ACK, got %+v", synAck.Flags)
	}

	if err := e.HandleSegment(clientEP, serverEP, synAck); err != nil {
		t.Fatalf("HandleSegment(SYN+ACK): %v", err)
	}
	clientTCB, _ := e.Lookup(ch)
	if clientTCB.State() != Established {
		t.Fatalf("client state = %v, want Established", clientTCB.State())
	}
	ack := eg.last()
	if !ack.Flags.ACK || ack.Flags.SYN {
		t.Fatalf("expected bare ACK completing handshake, got %+v", ack.Flags)
	}

	if err := e.HandleSegment(serverEP, clientEP, ack); err != nil {
		t.Fatalf("HandleSegment(ACK): %v", err)
	}
	sh, ok, err := e.Accept(lh)
	if err != nil || !ok {
		t.Fatalf("Accept: ok=%v err=%v", ok, err)
	}
	serverTCB, _ := e.Lookup(sh)
	if serverTCB.State() != Established {
		t.Fatalf("server state = %v, want Established", serverTCB.State())
	}
	return ch, sh
}

func TestThreeWayHandshake(t *testing.T) {
	e, eg, _ := newTestEngine()
	driveHandshake(t, e, eg)
}

func TestAcceptReturnsFalseWhenQueueEmpty(t *testing.T) {
	e, _, _ := newTestEngine()
	lh, err := e.Listen(serverEP, 4)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, ok, err := e.Accept(lh); err != nil || ok {
		t.Fatalf("Accept on empty backlog: ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestConnectToClosedPortDrawsRST(t *testing.T) {
	e, eg, _ := newTestEngine()
	_, err := e.Connect(clientEP, serverEP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	syn := eg.last()

	// No listener registered: simulate the refusing host replying
	// directly via HandleSegment against an engine with no listener.
	e2, eg2, _ := newTestEngine()
	if err := e2.HandleSegment(serverEP, clientEP, syn); err != nil {
		t.Fatalf("HandleSegment: %v", err)
	}
	rst := eg2.last()
	if !rst.Flags.RST {
		t.Fatalf("expected RST from closed port, got %+v", rst.Flags)
	}
}

func TestDataTransferAdvancesSequenceAndDeliversReadable(t *testing.T) {
	e, eg, _ := newTestEngine()
	ch, sh := driveHandshake(t, e, eg)

	var readable bool
	server, _ := e.Lookup(sh)
	server.Callback = func(ev Event) {
		if ev == EventReadable {
			readable = true
		}
	}

	client, _ := e.Lookup(ch)
	payload := []byte("hello")
	if _, err := e.Send(ch, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	dataSeg := eg.last()
	if len(dataSeg.Payload) != len(payload) {
		t.Fatalf("payload len = %d, want %d", len(dataSeg.Payload), len(payload))
	}

	if err := e.HandleSegment(serverEP, clientEP, dataSeg); err != nil {
		t.Fatalf("HandleSegment(data): %v", err)
	}
	if !readable {
		t.Error("expected EventReadable callback on server")
	}
	if server.RcvNXT() != client.SndNXT() {
		t.Errorf("server rcvNXT = %v, want %v", server.RcvNXT(), client.SndNXT())
	}

	out := make([]byte, 16)
	n, err := e.Recv(sh, out)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(out[:n]) != "hello" {
		t.Errorf("Recv = %q, want %q", out[:n], "hello")
	}
	if e.Readable(sh) {
		t.Error("expected Readable false after draining the buffer")
	}
}

func TestGracefulCloseReachesTimeWaitOnActiveCloser(t *testing.T) {
	e, eg, _ := newTestEngine()
	ch, sh := driveHandshake(t, e, eg)

	if err := e.Close(ch); err != nil {
		t.Fatalf("Close: %v", err)
	}
	client, _ := e.Lookup(ch)
	if client.State() != FinWait1 {
		t.Fatalf("client state = %v, want FinWait1", client.State())
	}
	fin := eg.last()
	if !fin.Flags.FIN {
		t.Fatalf("expected FIN, got %+v", fin.Flags)
	}

	if err := e.HandleSegment(serverEP, clientEP, fin); err != nil {
		t.Fatalf("HandleSegment(FIN): %v", err)
	}
	server, _ := e.Lookup(sh)
	if !server.peerClosed {
		t.Error("expected server.peerClosed after receiving FIN")
	}
	finAck := eg.last()
	if !finAck.Flags.ACK {
		t.Fatalf("expected ACK of FIN, got %+v", finAck.Flags)
	}

	if err := e.HandleSegment(clientEP, serverEP, finAck); err != nil {
		t.Fatalf("HandleSegment(ACK of FIN): %v", err)
	}
	if client.State() != FinWait2 {
		t.Fatalf("client state = %v, want FinWait2", client.State())
	}

	if err := e.Close(sh); err != nil {
		t.Fatalf("server Close: %v", err)
	}
	if server.State() != LastAck {
		t.Fatalf("server state = %v, want LastAck (Close_Wait folded)", server.State())
	}
	serverFin := eg.last()

	if err := e.HandleSegment(clientEP, serverEP, serverFin); err != nil {
		t.Fatalf("HandleSegment(server FIN): %v", err)
	}
	if client.State() != TimeWait {
		t.Fatalf("client state = %v, want TimeWait", client.State())
	}
	lastAck := eg.last()

	if err := e.HandleSegment(serverEP, clientEP, lastAck); err != nil {
		t.Fatalf("HandleSegment(last ACK): %v", err)
	}
	if _, err := e.Lookup(sh); err == nil {
		t.Error("expected server TCB released after LastAck completes")
	}
}

func TestRetransmitTimeoutResendsSegmentAndBacksOff(t *testing.T) {
	e, eg, wheel := newTestEngine()
	ch, err := e.Connect(clientEP, serverEP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t0 := eg.last()
	sentBefore := len(eg.sent)

	client, _ := e.Lookup(ch)
	rtoBefore := client.rtoMillis
	wheel.Advance(wheel.Now().Add(client.rtoMillis + time.Millisecond))

	if len(eg.sent) <= sentBefore {
		t.Fatal("expected a retransmit after RTO elapsed")
	}
	retx := eg.last()
	if retx.Seq != t0.Seq || !retx.Flags.SYN {
		t.Fatalf("expected retransmitted SYN with same seq, got %+v", retx)
	}
	if client.consecutiveRexmit != 1 {
		t.Errorf("consecutiveRexmit = %d, want 1", client.consecutiveRexmit)
	}
	if client.rtoMillis != 2*rtoBefore {
		t.Errorf("rtoMillis = %v after one timeout, want doubled %v", client.rtoMillis, 2*rtoBefore)
	}
}

func TestRetransmitExhaustionAbortsWithTimeout(t *testing.T) {
	e, _, wheel := newTestEngine()
	cfg := DefaultConfig()
	cfg.PoolSize = 4
	cfg.MaxRexmits = 2
	e = NewEngine(cfg, wheel, &fakeEgress{})

	ch, err := e.Connect(clientEP, serverEP)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client, _ := e.Lookup(ch)
	var lastErr error
	client.Callback = func(ev Event) {
		if ev == EventError {
			lastErr = client.LastError()
		}
	}

	for i := 0; i < cfg.MaxRexmits+1; i++ {
		next := wheel.Now().Add(time.Hour)
		wheel.Advance(next)
	}
	if lastErr != errno.ETIMEDOUT {
		t.Fatalf("lastErr = %v, want ETIMEDOUT", lastErr)
	}
	if _, err := e.Lookup(ch); err == nil {
		t.Error("expected TCB released after abort")
	}
}
