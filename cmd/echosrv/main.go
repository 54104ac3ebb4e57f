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

// Command echosrv is the server half of the end-to-end scenario
// harness: it boots a core.Core over a pair of raw IPv4 sockets (one
// per transport protocol, since a raw IP socket answers for exactly
// one next-header value) and runs the TCP/UDP echo services, the
// connect-refused port and the connect-timeout ("blackhole") port the
// client-side scenarios dial against.
//
//go:build linux

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/core"
	"github.com/xtaci/embnet/iface"
	"github.com/xtaci/embnet/link"
	"github.com/xtaci/embnet/socket"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

// Instance 0 is avoided: iface.ID's zero value doubles as "no override"
// in iface.Table.SourceFor, so a real binding always starts at 1.
var (
	tcpIfaceID = iface.NewID(iface.Ethernet, 1)
	udpIfaceID = iface.NewID(iface.Ethernet, 2)
)

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "echosrv"
	app.Usage = "embnet TCP/UDP echo demo server"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr",
			Value: "127.0.0.1",
			Usage: "local IPv4 address to bind the echo services on",
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
			Usage: "port with no listener; the engine answers SYNs here with RST",
		},
		cli.IntFlag{
			Name:  "blackhole-port",
			Value: 5002,
			Usage: "port whose inbound SYNs are silently dropped",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		checkError(err)
	}
}

func run(c *cli.Context) error {
	if logFile := c.String("log"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		log.SetOutput(f)
	}

	mtu := c.Int("mtu")
	echoPort := uint16(c.Int("echo-port"))
	rejectPort := uint16(c.Int("reject-port"))
	blackholePort := uint16(c.Int("blackhole-port"))
	local := mustEndpointFromString(c.String("addr"), 0)

	tcpRaw, err := link.NewRawIP("tcp", int(echoPort), mtu)
	checkError(err)
	udpRaw, err := link.NewRawIP("udp", int(echoPort), mtu)
	checkError(err)
	tcpLink := newBlackholeLink(tcpRaw, blackholePort)

	cfg := core.DefaultConfig()
	cfg.Interfaces = []core.Interface{
		{ID: tcpIfaceID, Link: tcpLink, Addresses: []addr.Endpoint{local}},
		{ID: udpIfaceID, Link: udpRaw, Addresses: []addr.Endpoint{local}},
	}
	cr := core.New(cfg)
	defer cr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	go func() {
		if err := cr.Run(ctx); err != nil && err != context.Canceled {
			log.Println("echosrv: core run:", err)
		}
	}()

	tcpListenFD, err := cr.Sockets.Socket(addr.IPv4, socket.Stream)
	checkError(err)
	checkError(cr.Sockets.SetSockOpt(tcpListenFD, socket.SOLSocket, socket.SOBindToDevice, int(tcpIfaceID)))
	tcpListenEP := local
	tcpListenEP.Port = echoPort
	checkError(cr.Sockets.Listen(tcpListenFD, tcpListenEP, 16))
	go serveTCPEcho(cr.Sockets, tcpListenFD)

	udpFD, err := cr.Sockets.Socket(addr.IPv4, socket.Dgram)
	checkError(err)
	checkError(cr.Sockets.SetSockOpt(udpFD, socket.SOLSocket, socket.SOBindToDevice, int(udpIfaceID)))
	udpEP := local
	udpEP.Port = echoPort
	checkError(cr.Sockets.Bind(udpFD, udpEP))
	go serveUDPEcho(cr.Sockets, udpFD)

	color.Green("echosrv listening on %s: echo=%d reject=%d blackhole=%d", c.String("addr"), echoPort, rejectPort, blackholePort)
	log.Println("reject-port has no listener bound: the engine's own unknown-port handling answers with RST")

	<-ctx.Done()
	log.Println("echosrv: shutting down")
	return nil
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
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
