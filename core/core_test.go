package core

import (
	"context"
	"testing"
	"time"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/link"
	"github.com/xtaci/embnet/socket"
)

// pairedCores wires two Core instances over an in-memory Loopback
// pair, one standing in for the local host and one for the peer, the
// way cmd/echosrv and cmd/echoclient are wired against a real link in
// production.
func pairedCores(t *testing.T, localEP, peerEP addr.Endpoint) (*Core, *Core) {
	t.Helper()
	la, lb := link.NewLoopbackPair(1500)

	cfgA := DefaultConfig()
	cfgA.Interfaces = []Interface{{ID: iface.NewID(iface.Ethernet, 0), Link: la, Addresses: []addr.Endpoint{localEP}}}
	cfgB := DefaultConfig()
	cfgB.Interfaces = []Interface{{ID: iface.NewID(iface.Ethernet, 0), Link: lb, Addresses: []addr.Endpoint{peerEP}}}

	a := New(cfgA)
	b := New(cfgB)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestNewWiresEnginesSoASegmentCrossesTheLoopback(t *testing.T) {
	localEP := addr.NewIPv4(10, 0, 0, 1, 0)
	peerEP := addr.NewIPv4(10, 0, 0, 2, 0)
	a, b := pairedCores(t, localEP, peerEP)

	listenAddr := addr.NewIPv4(10, 0, 0, 2, 9000)
	serverFD, err := b.Sockets.Socket(addr.IPv4, socket.Stream)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := b.Sockets.Listen(serverFD, listenAddr, 4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientFD, err := a.Sockets.Socket(addr.IPv4, socket.Stream)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	connDone := make(chan error, 1)
	go func() {
		connDone <- a.Sockets.Connect(clientFD, listenAddr)
	}()

	var acceptedFD socket.FD
	var accepted bool
	for i := 0; i < 200; i++ {
		fd, _, aerr := b.Sockets.Accept(serverFD)
		if aerr == nil {
			acceptedFD, accepted = fd, true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !accepted {
		t.Fatal("Accept never produced a child socket")
	}

	select {
	case cerr := <-connDone:
		if cerr != nil {
			t.Fatalf("Connect: %v", cerr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect never completed")
	}

	payload := []byte("hello over the wire")
	if _, err := a.Sockets.Send(clientFD, addr.Endpoint{}, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, len(payload))
	n, _, err := b.Sockets.Recv(acceptedFD, buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("Recv = %q, want %q", buf[:n], payload)
	}
}

func TestRunAdvancesWheelUntilContextCancelled(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Run returned %v, want context.DeadlineExceeded", err)
	}
}

func TestCloseIsIdempotentAndStopsRun(t *testing.T) {
	c := New(DefaultConfig())
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after Close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
