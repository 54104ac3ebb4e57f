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

// Package tcp implements the TCP Engine of spec §4.4: the eleven-state
// connection state machine, segment acceptance rules, Nagle-style send
// accumulation, RTO-driven retransmission, delayed ACK, keepalive,
// listen/accept backlog and TIME_WAIT.
package tcp

// Seq is a 32-bit TCP sequence number. Comparisons between two Seq
// values must use signed-difference arithmetic modulo 2^32 (spec §3's
// invariant), never a plain '<', since sequence space wraps.
type Seq uint32

// Add returns s advanced by n bytes, wrapping modulo 2^32.
func (s Seq) Add(n uint32) Seq { return s + Seq(n) }

// Sub returns the signed distance a-b in sequence space: positive when
// a is ahead of b, matching the "signed-difference semantics" the
// invariant calls for.
func (a Seq) Sub(b Seq) int32 { return int32(a - b) }

// LessThan reports whether a precedes b in sequence space.
func (a Seq) LessThan(b Seq) bool { return a.Sub(b) < 0 }

// LessEqual reports whether a precedes or equals b in sequence space.
func (a Seq) LessEqual(b Seq) bool { return a.Sub(b) <= 0 }

// InWindow reports whether seq lies in [start, start+size) modulo 2^32,
// the segment acceptance test of spec §4.4.2.
func InWindow(seq, start Seq, size uint32) bool {
	if size == 0 {
		return seq == start
	}
	offset := uint32(seq.Sub(start))
	return offset < size
}
