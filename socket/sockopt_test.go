package socket

import (
	"testing"
)

func TestSetSockOptRejectsUnknownPair(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(4, Stream)
	if err := tbl.SetSockOpt(fd, IPProtoTCP, Name(200), 1); err == nil {
		t.Fatal("expected EINVAL for unknown (level, name) pair")
	}
}

func TestSetSockOptRejectsSettingSOType(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(4, Stream)
	if err := tbl.SetSockOpt(fd, SOLSocket, SOType, int(Dgram)); err == nil {
		t.Fatal("expected EINVAL attempting to set SO_TYPE")
	}
}

func TestGetSockOptRejectsZeroLengthBuffer(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(4, Stream)
	if _, err := tbl.GetSockOpt(fd, SOLSocket, SOType, nil); err == nil {
		t.Fatal("expected EINVAL for zero-length buffer")
	}
}

func TestGetSockOptSOTypeRoundTrips(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(4, Dgram)
	buf := make([]byte, 4)
	n, err := tbl.GetSockOpt(fd, SOLSocket, SOType, buf)
	if err != nil {
		t.Fatalf("GetSockOpt: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 bytes written, got %d", n)
	}
	if buf[3] != byte(Dgram) {
		t.Fatalf("expected SO_TYPE = Dgram, got %d", buf[3])
	}
}

func TestGetSockOptTruncatesUndersizedBufferWithoutFailing(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(4, Stream)
	buf := make([]byte, 1)
	n, err := tbl.GetSockOpt(fd, SOLSocket, SOType, buf)
	if err != nil {
		t.Fatalf("GetSockOpt: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected truncated write of 1 byte, got %d", n)
	}
}

func TestSetAndGetRcvTimeo(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(4, Stream)
	if err := tbl.SetSockOpt(fd, SOLSocket, SORcvTimeo, 1500); err != nil {
		t.Fatalf("SetSockOpt: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := tbl.GetSockOpt(fd, SOLSocket, SORcvTimeo, buf); err != nil {
		t.Fatalf("GetSockOpt: %v", err)
	}
	got := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if got != 1500 {
		t.Fatalf("SO_RCVTIMEO round-trip = %d, want 1500", got)
	}
}
