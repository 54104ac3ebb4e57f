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

package socket

import (
	"time"

	"github.com/xtaci/embnet/errno"
)

// FDSetSize is the conventional FD_SETSIZE figure; Select rejects a call
// whose three FD sets together hold more entries than this.
const FDSetSize = 64

// Select implements select(): a one-shot snapshot of which of readfds,
// writefds and errorfds are currently ready, blocking (unless timeout
// is the zero duration) until at least one FD in any set becomes
// ready or timeout elapses. A nil timeout blocks indefinitely.
func (t *Table) Select(readfds, writefds, errorfds []FD, timeout *time.Duration) (readyR, readyW, readyE []FD, err error) {
	if len(readfds) == 0 && len(writefds) == 0 && len(errorfds) == 0 {
		return nil, nil, nil, errno.EINVAL
	}
	if len(readfds)+len(writefds)+len(errorfds) > FDSetSize {
		return nil, nil, nil, errno.EINVAL
	}

	var deadline time.Time
	if timeout != nil {
		deadline = time.Now().Add(*timeout)
	}

	for {
		readyR = t.filterReady(readfds, t.isReadable)
		readyW = t.filterReady(writefds, t.isWritable)
		readyE = t.filterReady(errorfds, t.isErrored)
		if len(readyR) > 0 || len(readyW) > 0 || len(readyE) > 0 {
			return readyR, readyW, readyE, nil
		}
		if timeout != nil && *timeout == 0 {
			return nil, nil, nil, nil // poll: nothing ready right now
		}

		if waitErr := t.waitEpoch(deadline); waitErr != nil {
			return nil, nil, nil, waitErr
		}
	}
}

func (t *Table) filterReady(fds []FD, pred func(*socketImpl) bool) []FD {
	var out []FD
	for _, fd := range fds {
		s, err := t.lookup(fd)
		if err != nil {
			continue // closed from under the caller: simply not ready
		}
		if pred(s) {
			out = append(out, fd)
		}
	}
	return out
}

func (t *Table) isReadable(s *socketImpl) bool {
	s.mu.Lock()
	typ, hasTCP, th, hasUDP, uh, terminal := s.typ, s.hasTCP, s.tcpHandle, s.hasUDP, s.udpHandle, s.terminalErr
	s.mu.Unlock()
	if terminal != nil {
		return true
	}
	if typ == Stream {
		if !hasTCP {
			return false
		}
		t.netMu.Lock()
		defer t.netMu.Unlock()
		if t.tcpEngine.Readable(th) {
			return true
		}
		tcb, lerr := t.tcpEngine.Lookup(th)
		return lerr == nil && tcb.AcceptReady()
	}
	if !hasUDP {
		return false
	}
	t.netMu.Lock()
	defer t.netMu.Unlock()
	ucb, lerr := t.udpEngine.Lookup(uh)
	return lerr == nil && ucb.Readable()
}

func (t *Table) isWritable(s *socketImpl) bool {
	s.mu.Lock()
	typ, hasTCP, connect, terminal := s.typ, s.hasTCP, s.connect, s.terminalErr
	s.mu.Unlock()
	if terminal != nil {
		return true
	}
	if typ == Dgram {
		return true // UDP sends never block on this engine's send path
	}
	if !hasTCP {
		return false
	}
	return connect == connectDone || connect == connectIdle
}

func (t *Table) isErrored(s *socketImpl) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalErr != nil || s.connect == connectFailed
}

// waitEpoch blocks until the shared epoch cond broadcasts (any FD's
// predicates may have changed) or deadline passes.
func (t *Table) waitEpoch(deadline time.Time) error {
	if deadline.IsZero() {
		t.epochMu.Lock()
		t.epoch.Wait()
		t.epochMu.Unlock()
		return nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errno.ETIMEDOUT
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		t.epochMu.Lock()
		t.epoch.Wait()
		t.epochMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-timer.C:
		t.epochMu.Lock()
		t.epoch.Broadcast()
		t.epochMu.Unlock()
		return errno.ETIMEDOUT
	}
}
