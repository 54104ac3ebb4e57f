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

// Package errno defines the BSD-style negative result codes returned by
// every socket-facing entry point in this module. Zero or a positive value
// always indicates success; callers that only care about the numeric code
// can type-assert or compare directly against the Code constants.
package errno

import "github.com/pkg/errors"

// Code is a BSD-style negative error code. It implements error so it can be
// returned and compared directly, e.g. `if code == errno.EWOULDBLOCK`.
type Code int32

// Core subset from spec §6. Negative integers; zero or positive is success.
const (
	ERROR         Code = -1
	ESOCK         Code = -2
	EINVAL        Code = -3
	EWOULDBLOCK   Code = -4
	ENOMEM        Code = -5
	ENOTCONN      Code = -6
	ELOCKED       Code = -7
	ETIMEDOUT     Code = -8
	EINPROGRESS   Code = -9
	EHOSTNOTFOUND Code = -10
	ENOTSUP       Code = -11
	EISCONN       Code = -12
	ECONNREFUSED  Code = -13
	ECONNRESET    Code = -14
	ECONNABORTED  Code = -15
	EALREADY      Code = -16
	EADDRINUSE    Code = -17
	EDESTADDRREQ  Code = -18
	EMSGSIZE      Code = -19
	ESHUTDOWN     Code = -20
)

var names = map[Code]string{
	ERROR:         "ERROR",
	ESOCK:         "ESOCK",
	EINVAL:        "EINVAL",
	EWOULDBLOCK:   "EWOULDBLOCK",
	ENOMEM:        "ENOMEM",
	ENOTCONN:      "ENOTCONN",
	ELOCKED:       "ELOCKED",
	ETIMEDOUT:     "ETIMEDOUT",
	EINPROGRESS:   "EINPROGRESS",
	EHOSTNOTFOUND: "EHOSTNOTFOUND",
	ENOTSUP:       "ENOTSUP",
	EISCONN:       "EISCONN",
	ECONNREFUSED:  "ECONNREFUSED",
	ECONNRESET:    "ECONNRESET",
	ECONNABORTED:  "ECONNABORTED",
	EALREADY:      "EALREADY",
	EADDRINUSE:    "EADDRINUSE",
	EDESTADDRREQ:  "EDESTADDRREQ",
	EMSGSIZE:      "EMSGSIZE",
	ESHUTDOWN:     "ESHUTDOWN",
}

// Error implements the error interface.
func (c Code) Error() string {
	if name, ok := names[c]; ok {
		return name
	}
	return "errno(" + itoa(int32(c)) + ")"
}

// OK reports whether c represents success (zero or positive).
func (c Code) OK() bool {
	return c >= 0
}

// wrapped pairs a Code with an underlying cause, preserving the code for
// callers that switch on it while still carrying a stack-traced cause for
// logs, the way client/main.go wraps dial errors with pkg/errors.
type wrapped struct {
	code  Code
	cause error
}

func (w *wrapped) Error() string {
	return w.code.Error() + ": " + w.cause.Error()
}

// Unwrap allows errors.As/errors.Is (and pkg/errors.Cause) to reach the
// underlying cause.
func (w *wrapped) Unwrap() error {
	return w.cause
}

// FromError returns the numeric code of a wrapped error; ok is false for errors
// not produced by this package.
func FromError(err error) (Code, bool) {
	switch e := err.(type) {
	case Code:
		return e, true
	case *wrapped:
		return e.code, true
	default:
		return 0, false
	}
}

// Wrap attaches cause to code, recording a stack trace via pkg/errors so the
// core's %+v logging shows where the failure originated.
func Wrap(code Code, cause error, message string) error {
	if cause == nil {
		return code
	}
	return &wrapped{code: code, cause: errors.Wrap(cause, message)}
}

func itoa(n int32) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
