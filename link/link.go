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

// Package link implements the Link driver collaborator of spec §6: the core
// hands the driver already-serialised IP datagrams and expects the driver to
// handle media framing; the driver hands received frames back through a
// registered RX handler.
package link

// Link is the collaborator interface the IP Dispatcher submits egress
// datagrams to and receives ingress frames from.
type Link interface {
	// Submit enqueues an already-serialised IP datagram for transmission.
	Submit(frame []byte) error
	// SetRXHandler registers the callback invoked with each received frame.
	// Only one handler is active at a time; registering again replaces it.
	SetRXHandler(func(frame []byte))
	// Up reports whether the link is currently able to send/receive.
	Up() bool
	// MTU returns the link's maximum transmission unit in bytes.
	MTU() int
	// Close releases any resources the link driver holds.
	Close() error
}
