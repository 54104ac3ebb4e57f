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

package link

import (
	"sync"

	"github.com/pkg/errors"
)

// Loopback is an in-memory Link pair, the way the teacher's std.CompStream
// and std.QPPPort wrap a plain io.ReadWriteCloser: two Loopback values
// created by NewLoopbackPair feed each other's RX handler directly, with no
// real hardware involved, so two core.Core instances can be driven against
// each other in tests and demos.
type Loopback struct {
	mtu int

	mu      sync.Mutex
	rx      func(frame []byte)
	peer    *Loopback
	up      bool
	closed  bool
}

// NewLoopbackPair returns two Links wired to each other.
func NewLoopbackPair(mtu int) (a, b *Loopback) {
	a = &Loopback{mtu: mtu, up: true}
	b = &Loopback{mtu: mtu, up: true}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Submit(frame []byte) error {
	l.mu.Lock()
	peer := l.peer
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return errors.New("link: loopback is closed")
	}
	if len(frame) > l.mtu {
		return errors.Errorf("link: frame of %d bytes exceeds MTU %d", len(frame), l.mtu)
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)

	peer.mu.Lock()
	handler := peer.rx
	peer.mu.Unlock()
	if handler != nil {
		handler(cp)
	}
	return nil
}

func (l *Loopback) SetRXHandler(h func(frame []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = h
}

func (l *Loopback) Up() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.up && !l.closed
}

func (l *Loopback) MTU() int { return l.mtu }

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.up = false
	l.mu.Unlock()
	return nil
}
