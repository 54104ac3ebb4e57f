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

package timer

import "time"

// RTO floor/ceiling from spec §4.4.6.
const (
	MinRTO = 1 * time.Second
	MaxRTO = 60 * time.Second

	// alpha/beta are the Jacobson smoothing constants, expressed as
	// eighths and quarters to match spec §4.4.6's α≈1/8, β≈1/4 without
	// pulling in floating point at the TCB level.
	alphaShift = 3 // 1/8
	betaShift  = 2 // 1/4
)

// Estimator tracks smoothed RTT and RTT variance for one TCP
// connection's retransmit timeout, per spec §4.4.6: each successful
// ACK updates srtt with weight alpha and rttvar with weight beta, and
// rto = srtt + 4*rttvar, clamped to [MinRTO, MaxRTO].
type Estimator struct {
	srtt   time.Duration
	rttvar time.Duration
	primed bool
}

// Update folds a fresh round-trip sample into the estimator and
// returns the new RTO. The very first sample seeds srtt directly and
// rttvar to half the sample, the conventional RFC 6298 initialization.
func (e *Estimator) Update(sample time.Duration) time.Duration {
	if !e.primed {
		e.srtt = sample
		e.rttvar = sample / 2
		e.primed = true
	} else {
		diff := e.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		e.rttvar += (diff - e.rttvar) >> betaShift
		e.srtt += (sample - e.srtt) >> alphaShift
	}
	return e.RTO()
}

// RTO returns the current retransmit timeout without folding in a new
// sample, for use right after connection setup before any ACK has
// been observed.
func (e *Estimator) RTO() time.Duration {
	rto := e.srtt + 4*e.rttvar
	if rto < MinRTO {
		return MinRTO
	}
	if rto > MaxRTO {
		return MaxRTO
	}
	return rto
}

// Backoff doubles rto for the next retransmission attempt, ceiled at
// MaxRTO, per spec §4.4.6 exponential backoff.
func Backoff(rto time.Duration) time.Duration {
	rto *= 2
	if rto > MaxRTO {
		return MaxRTO
	}
	return rto
}
