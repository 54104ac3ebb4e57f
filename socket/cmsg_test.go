package socket

import (
	"testing"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
)

func TestRecvMsgSurfacesDestinationAddressWhenEnabled(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Dgram)
	local := addr.NewIPv4(10, 0, 0, 1, 7)
	if err := tbl.Bind(fd, local); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := tbl.SetSockOpt(fd, IPProtoIP, IPRecvDstAddr, 1); err != nil {
		t.Fatalf("SetSockOpt: %v", err)
	}
	tbl.udpEngine.Deliver(local, addr.NewIPv4(10, 0, 0, 9, 4000), []byte("abcd1234"), true)

	iov := []IOVec{make([]byte, 8)}
	n, peer, cmsgs, flags, err := tbl.RecvMsg(fd, iov)
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}
	if peer.Port != 4000 {
		t.Fatalf("peer.Port = %d, want 4000", peer.Port)
	}
	if flags&MsgTrunc != 0 {
		t.Error("did not expect MSG_TRUNC")
	}
	if len(cmsgs) != 1 || cmsgs[0].Type != IPRecvDstAddr {
		t.Fatalf("expected one IP_RECVDSTADDR cmsg, got %+v", cmsgs)
	}
	if cmsgs[0].Data[0] != 10 || cmsgs[0].Data[1] != 0 {
		t.Errorf("cmsg data = %v, want local address prefix [10 0 ...]", cmsgs[0].Data)
	}
}

func TestRecvMsgSetsTruncFlagWhenBufferTooSmall(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Dgram)
	local := addr.NewIPv4(10, 0, 0, 1, 8)
	tbl.Bind(fd, local)
	tbl.udpEngine.Deliver(local, addr.NewIPv4(10, 0, 0, 9, 4000), []byte("abcdefgh"), true)

	iov := []IOVec{make([]byte, 4)}
	_, _, _, flags, err := tbl.RecvMsg(fd, iov)
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if flags&MsgTrunc == 0 {
		t.Error("expected MSG_TRUNC when the iovec is smaller than the datagram")
	}
}

func TestRecvMsgOnStreamSocketFailsENOTSUP(t *testing.T) {
	tbl, _, _ := newTestTable()
	fd, _ := tbl.Socket(addr.IPv4, Stream)
	if _, _, _, _, err := tbl.RecvMsg(fd, nil); err != errno.ENOTSUP {
		t.Fatalf("expected ENOTSUP, got %v", err)
	}
}
