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

package main

import (
	"log"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/socket"
)

// serveTCPEcho accepts connections on listenFD forever, echoing
// whatever each client sends back verbatim (spec §8 scenario 1), one
// goroutine per connection the way a userspace demo server would,
// since this module imposes no concurrency limit of its own on
// accepted sockets.
func serveTCPEcho(sockets *socket.Table, listenFD socket.FD) {
	for {
		childFD, peer, err := sockets.Accept(listenFD)
		if err != nil {
			log.Println("echosrv: tcp accept:", err)
			return
		}
		log.Println("echosrv: tcp accepted from", peer)
		go echoTCPConn(sockets, childFD)
	}
}

func echoTCPConn(sockets *socket.Table, fd socket.FD) {
	defer sockets.CloseSocket(fd)
	buf := make([]byte, 4096)
	for {
		n, _, err := sockets.Recv(fd, buf)
		if err != nil {
			return
		}
		if n == 0 {
			return // peer performed a clean close
		}
		if _, err := sockets.Send(fd, addr.Endpoint{}, buf[:n]); err != nil {
			log.Println("echosrv: tcp echo send:", err)
			return
		}
	}
}

// serveUDPEcho mirrors every datagram delivered to fd back to its
// sender (spec §8 scenario 2); recvmsg surfaces IP_RECVDSTADDR to the
// client, so the server side only needs a plain recv/send round trip.
func serveUDPEcho(sockets *socket.Table, fd socket.FD) {
	buf := make([]byte, 4096)
	for {
		n, peer, err := sockets.Recv(fd, buf)
		if err != nil {
			log.Println("echosrv: udp recv:", err)
			return
		}
		if _, err := sockets.Send(fd, peer, buf[:n]); err != nil {
			log.Println("echosrv: udp echo send:", err)
		}
	}
}
