package socket

import (
	"testing"
	"time"

	"github.com/xtaci/embnet/addr"
)

func TestSelectReturnsImmediatelyWhenAlreadyReadable(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Dgram)
	if err := tbl.Bind(fd, addr.NewIPv4(10, 0, 0, 1, 5001)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	tbl.udpEngine.Deliver(addr.NewIPv4(10, 0, 0, 1, 5001), addr.NewIPv4(10, 0, 0, 2, 9000), []byte("hi"), true)

	zero := time.Duration(0)
	r, _, _, err := tbl.Select([]FD{fd}, nil, nil, &zero)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(r) != 1 || r[0] != fd {
		t.Fatalf("expected fd %d readable, got %v", fd, r)
	}
}

func TestSelectPollReturnsEmptyWhenNothingReady(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Dgram)
	tbl.Bind(fd, addr.NewIPv4(10, 0, 0, 1, 5002))

	zero := time.Duration(0)
	r, w, e, err := tbl.Select([]FD{fd}, nil, nil, &zero)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(r) != 0 || len(w) != 0 || len(e) != 0 {
		t.Fatalf("expected nothing ready, got r=%v w=%v e=%v", r, w, e)
	}
}

func TestSelectTimesOutWhenNothingBecomesReady(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Dgram)
	tbl.Bind(fd, addr.NewIPv4(10, 0, 0, 1, 5003))

	d := 50 * time.Millisecond
	start := time.Now()
	_, _, _, err := tbl.Select([]FD{fd}, nil, nil, &d)
	if err == nil {
		t.Fatal("expected ETIMEDOUT, got nil")
	}
	if elapsed := time.Since(start); elapsed < d {
		t.Fatalf("Select returned early after %v, want >= %v", elapsed, d)
	}
}

func TestSelectNotWritableBeforeTCPConnectCompletes(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Stream)
	zero := time.Duration(0)
	_, w, _, err := tbl.Select(nil, []FD{fd}, nil, &zero)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(w) != 0 {
		t.Fatalf("expected unconnected stream socket not yet writable, got %v", w)
	}
}
