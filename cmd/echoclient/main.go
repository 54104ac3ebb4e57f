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

// Command echoclient drives the scenario harness against a running
// echosrv: TCP and UDP echo round trips, a connect-refused probe, a
// connect-timeout probe against a silently dropping port, a
// non-blocking accept that must not block, and a recv deadline that
// must actually fire. Each scenario prints PASS or FAIL and the run
// exits non-zero if any scenario failed.
//
//go:build linux

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/core"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/link"
	"github.com/xtaci/embnet/socket"
)

var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "echoclient"
	app.Usage = "embnet scenario harness client"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "server",
			Value: "127.0.0.1",
			Usage: "echosrv IPv4 address",
		},
		cli.StringFlag{
			Name:  "addr",
			Value: "127.0.0.1",
			Usage: "local IPv4 address the interfaces answer for",
		},
		cli.IntFlag{
			Name:  "mtu",
			Value: 1500,
			Usage: "link MTU in bytes",
		},
		cli.IntFlag{
			Name:  "echo-port",
			Value: 7,
			Usage: "TCP and UDP echo service port",
		},
		cli.IntFlag{
			Name:  "reject-port",
			Value: 5001,
			Usage: "port expected to answer with RST",
		},
		cli.IntFlag{
			Name:  "blackhole-port",
			Value: 5002,
			Usage: "port expected to silently drop SYNs",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		checkError(err)
	}
}

func run(c *cli.Context) error {
	tcpRaw, err := link.NewRawIP("tcp", 0, c.Int("mtu"))
	checkError(err)
	udpRaw, err := link.NewRawIP("udp", 0, c.Int("mtu"))
	checkError(err)

	local := mustEndpointFromString(c.String("addr"), 0)

	cfg := core.DefaultConfig()
	cfg.Interfaces = []core.Interface{
		{ID: iface.NewID(iface.Ethernet, 1), Link: tcpRaw, Addresses: []addr.Endpoint{local}},
		{ID: iface.NewID(iface.Ethernet, 2), Link: udpRaw, Addresses: []addr.Endpoint{local}},
	}
	cr := core.New(cfg)
	defer cr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cr.Run(ctx)

	server := mustEndpointFromString(c.String("server"), uint16(c.Int("echo-port")))
	rejectEP := server
	rejectEP.Port = uint16(c.Int("reject-port"))
	blackholeEP := server
	blackholeEP.Port = uint16(c.Int("blackhole-port"))

	results := []bool{
		scenarioTCPEcho(cr.Sockets, server),
		scenarioUDPEcho(cr.Sockets, server),
		scenarioConnectRefused(cr.Sockets, rejectEP),
		scenarioConnectTimeout(cr.Sockets, blackholeEP),
		scenarioNonBlockingAccept(cr.Sockets),
		scenarioRecvDeadline(cr.Sockets, server),
	}

	allPassed := true
	for _, ok := range results {
		if !ok {
			allPassed = false
		}
	}
	if !allPassed {
		os.Exit(1)
	}
	return nil
}

func report(name string, ok bool, detail string) bool {
	status := "PASS"
	if !ok {
		status = "FAIL"
	}
	fmt.Printf("[%s] %s: %s\n", status, name, detail)
	return ok
}

// scenarioTCPEcho dials the echo service over TCP and confirms the
// payload comes back byte-identical.
func scenarioTCPEcho(sockets *socket.Table, server addr.Endpoint) bool {
	const name = "tcp-echo"
	fd, err := sockets.Socket(server.Family, socket.Stream)
	if err != nil {
		return report(name, false, err.Error())
	}
	defer sockets.CloseSocket(fd)

	if err := sockets.Connect(fd, server); err != nil {
		return report(name, false, "connect: "+err.Error())
	}
	msg := []byte("embnet tcp echo scenario")
	if _, err := sockets.Send(fd, addr.Endpoint{}, msg); err != nil {
		return report(name, false, "send: "+err.Error())
	}
	buf := make([]byte, len(msg))
	if _, _, err := sockets.Recv(fd, buf); err != nil {
		return report(name, false, "recv: "+err.Error())
	}
	if !bytes.Equal(buf, msg) {
		return report(name, false, "echoed payload mismatch")
	}
	return report(name, true, "round trip matched")
}

// scenarioUDPEcho confirms a datagram round trip and that RecvMsg
// attaches an IP_RECVDSTADDR ancillary entry when the option is
// enabled.
func scenarioUDPEcho(sockets *socket.Table, server addr.Endpoint) bool {
	const name = "udp-echo"
	fd, err := sockets.Socket(server.Family, socket.Dgram)
	if err != nil {
		return report(name, false, err.Error())
	}
	defer sockets.CloseSocket(fd)

	if err := sockets.SetSockOpt(fd, socket.IPProtoIP, socket.IPRecvDstAddr, 1); err != nil {
		return report(name, false, "setsockopt: "+err.Error())
	}
	msg := []byte("embnet udp echo scenario")
	if _, err := sockets.Send(fd, server, msg); err != nil {
		return report(name, false, "send: "+err.Error())
	}
	buf := make([]byte, len(msg))
	n, _, cmsgs, _, err := sockets.RecvMsg(fd, []socket.IOVec{buf})
	if err != nil {
		return report(name, false, "recvmsg: "+err.Error())
	}
	if !bytes.Equal(buf[:n], msg) {
		return report(name, false, "echoed payload mismatch")
	}
	if len(cmsgs) == 0 || cmsgs[0].Type != socket.IPRecvDstAddr {
		return report(name, false, "missing IP_RECVDSTADDR ancillary data")
	}
	return report(name, true, "round trip matched, destaddr cmsg present")
}

// scenarioConnectRefused dials a port with no listener; the engine's
// own unknown-port handling answers with RST, so Connect must fail
// with ECONNREFUSED rather than hang or time out.
func scenarioConnectRefused(sockets *socket.Table, peer addr.Endpoint) bool {
	const name = "connect-refused"
	fd, err := sockets.Socket(peer.Family, socket.Stream)
	if err != nil {
		return report(name, false, err.Error())
	}
	defer sockets.CloseSocket(fd)

	if err := sockets.SetSockOpt(fd, socket.SOLSocket, socket.SOSndTimeo, 2000); err != nil {
		return report(name, false, "setsockopt: "+err.Error())
	}
	err = sockets.Connect(fd, peer)
	if code, ok := errno.FromError(err); !ok || code != errno.ECONNREFUSED {
		return report(name, false, fmt.Sprintf("got %v, want ECONNREFUSED", err))
	}
	return report(name, true, "got ECONNREFUSED")
}

// scenarioConnectTimeout dials a port whose SYNs are silently dropped;
// with SO_SNDTIMEO bounding the handshake, Connect must fail with
// ETIMEDOUT rather than block forever.
func scenarioConnectTimeout(sockets *socket.Table, peer addr.Endpoint) bool {
	const name = "connect-timeout"
	fd, err := sockets.Socket(peer.Family, socket.Stream)
	if err != nil {
		return report(name, false, err.Error())
	}
	defer sockets.CloseSocket(fd)

	if err := sockets.SetSockOpt(fd, socket.SOLSocket, socket.SOSndTimeo, 2000); err != nil {
		return report(name, false, "setsockopt: "+err.Error())
	}
	err = sockets.Connect(fd, peer)
	if code, ok := errno.FromError(err); !ok || code != errno.ETIMEDOUT {
		return report(name, false, fmt.Sprintf("got %v, want ETIMEDOUT", err))
	}
	return report(name, true, "got ETIMEDOUT")
}

// scenarioNonBlockingAccept confirms accept() on a listening socket
// with nothing pending returns EWOULDBLOCK immediately instead of
// blocking, since nothing ever dials this local-only listener.
func scenarioNonBlockingAccept(sockets *socket.Table) bool {
	const name = "nonblocking-accept"
	fd, err := sockets.Socket(addr.IPv4, socket.Stream)
	if err != nil {
		return report(name, false, err.Error())
	}
	defer sockets.CloseSocket(fd)

	local := addr.NewIPv4(127, 0, 0, 1, 9)
	if err := sockets.Listen(fd, local, 4); err != nil {
		return report(name, false, "listen: "+err.Error())
	}
	if err := sockets.SetNonBlocking(fd, true); err != nil {
		return report(name, false, "set nonblocking: "+err.Error())
	}
	_, _, err = sockets.Accept(fd)
	if code, ok := errno.FromError(err); !ok || code != errno.EWOULDBLOCK {
		return report(name, false, fmt.Sprintf("got %v, want EWOULDBLOCK", err))
	}
	return report(name, true, "accept returned EWOULDBLOCK without blocking")
}

// scenarioRecvDeadline confirms SO_RCVTIMEO actually bounds a
// blocking recv: with the echo server never sending unprompted, a
// recv on an otherwise idle connected socket must return ETIMEDOUT
// instead of hanging the scenario run.
func scenarioRecvDeadline(sockets *socket.Table, server addr.Endpoint) bool {
	const name = "recv-deadline"
	fd, err := sockets.Socket(server.Family, socket.Stream)
	if err != nil {
		return report(name, false, err.Error())
	}
	defer sockets.CloseSocket(fd)

	if err := sockets.Connect(fd, server); err != nil {
		return report(name, false, "connect: "+err.Error())
	}
	if err := sockets.SetSockOpt(fd, socket.SOLSocket, socket.SORcvTimeo, 500); err != nil {
		return report(name, false, "setsockopt: "+err.Error())
	}
	buf := make([]byte, 16)
	_, _, err = sockets.Recv(fd, buf)
	if code, ok := errno.FromError(err); !ok || code != errno.ETIMEDOUT {
		return report(name, false, fmt.Sprintf("got %v, want ETIMEDOUT", err))
	}
	return report(name, true, "recv honored SO_RCVTIMEO")
}

func mustEndpointFromString(s string, port uint16) addr.Endpoint {
	b, err := addr.ParseIPv4(s)
	checkError(err)
	var ip [16]byte
	copy(ip[:4], b[:])
	return addr.Endpoint{Family: addr.IPv4, IP: ip, Port: port}
}

func checkError(err error) {
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
