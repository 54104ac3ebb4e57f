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
	"encoding/binary"

	"github.com/xtaci/embnet/link"
	"github.com/xtaci/embnet/wire"
)

// blackholeLink wraps a link.Link and silently drops ingress TCP
// segments addressed to one of a fixed set of ports, standing in for
// scenario 4's "drops SYNs" nonresponder: unlike handleUnknownPort's
// automatic RST for a port with no listener, a real blackhole never
// answers at all, so the engine must never even see the SYN. It peeks
// only the destination port, not the full checksum-verified segment,
// since a dropped frame has nothing further to validate.
type blackholeLink struct {
	link.Link
	ports map[uint16]bool
}

func newBlackholeLink(inner link.Link, ports ...uint16) *blackholeLink {
	set := make(map[uint16]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}
	return &blackholeLink{Link: inner, ports: set}
}

func (b *blackholeLink) SetRXHandler(h func(frame []byte)) {
	b.Link.SetRXHandler(func(frame []byte) {
		if b.dropped(frame) {
			return
		}
		h(frame)
	})
}

func (b *blackholeLink) dropped(frame []byte) bool {
	dg, err := wire.DecodeIPv4(frame)
	if err != nil || len(dg.Payload) < 4 {
		return false
	}
	dstPort := binary.BigEndian.Uint16(dg.Payload[2:4])
	return b.ports[dstPort]
}
