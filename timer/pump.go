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

// Pump ticks a Wheel on the fixed Tick resolution until stopped, the
// same time.Ticker-driven loop shape as the teacher's scavenger
// goroutine in server/main.go. The core thread normally drives the
// Wheel itself from its own select loop instead of using Pump, but
// Pump is handy for cmd/ demo binaries and standalone tests that want
// a free-running wheel.
type Pump struct {
	wheel  *Wheel
	ticker *time.Ticker
	stop   chan struct{}
}

// NewPump starts ticking wheel immediately in a background goroutine.
func NewPump(wheel *Wheel) *Pump {
	p := &Pump{
		wheel:  wheel,
		ticker: time.NewTicker(Tick),
		stop:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pump) run() {
	for {
		select {
		case now := <-p.ticker.C:
			p.wheel.Advance(now)
		case <-p.stop:
			return
		}
	}
}

// Stop halts the pump. Safe to call once; a second call panics on a
// closed channel, same as stopping any other teacher-style done
// channel twice.
func (p *Pump) Stop() {
	p.ticker.Stop()
	close(p.stop)
}
