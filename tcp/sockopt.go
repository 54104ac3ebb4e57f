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

package tcp

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/embnet/iface"
)

var errUnknownOption = errors.New("tcp: unknown socket option")

// SockOpt names the subset of spec §4.5.4's socket options that apply
// at the TCP engine level; SOL_SOCKET-wide options (SO_RCVTIMEO,
// SO_SNDTIMEO, SO_TYPE, ...) are handled by the socket package's FD
// table instead.
type SockOpt uint8

const (
	OptKeepalive SockOpt = iota
	OptTOS
	OptTTL
	OptTClass
	OptBindToDevice
	OptQuickACK    // TCP_QUICKACK: true disables delayed ACK
	OptFlowControl // TCP_FLOWCTRL: nonzero enables an application-driven cap
	OptKeepIdle    // TCP_KEEPIDLE, in seconds
)

// SetSockOpt applies one TCP-level option to h's TCB.
func (e *Engine) SetSockOpt(h Handle, opt SockOpt, value int) error {
	t, err := e.Lookup(h)
	if err != nil {
		return err
	}
	switch opt {
	case OptKeepalive:
		t.KeepaliveEnabled = value != 0
		if t.KeepaliveEnabled && t.state == Established {
			e.armIdleTimer(t)
		}
	case OptTOS, OptTClass:
		t.tos = uint8(value)
	case OptTTL:
		t.ttl = uint8(value)
	case OptBindToDevice:
		t.egressIface = iface.ID(value)
	case OptQuickACK:
		t.DelayedACKEnabled = value == 0
	case OptFlowControl:
		t.FlowControlCap = uint32(value)
	case OptKeepIdle:
		t.IdleCloseTimeout = time.Duration(value) * time.Second
	default:
		return errUnknownOption
	}
	return nil
}

// SockOpt returns the current value of a TCP-level option on h's TCB.
func (e *Engine) SockOpt(h Handle, opt SockOpt) (int, error) {
	t, err := e.Lookup(h)
	if err != nil {
		return 0, err
	}
	switch opt {
	case OptKeepalive:
		return boolToInt(t.KeepaliveEnabled), nil
	case OptTOS, OptTClass:
		return int(t.tos), nil
	case OptTTL:
		return int(t.ttl), nil
	case OptBindToDevice:
		return int(t.egressIface), nil
	case OptQuickACK:
		return boolToInt(!t.DelayedACKEnabled), nil
	case OptFlowControl:
		return int(t.FlowControlCap), nil
	case OptKeepIdle:
		return int(t.IdleCloseTimeout / time.Second), nil
	default:
		return 0, errUnknownOption
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
