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

package addr

import (
	"context"
	"net"
	"time"

	"github.com/xtaci/embnet/errno"
)

// Resolver is the DNS collaborator of spec §6: gethostbyname invokes it
// synchronously and translates its result to the BSD error taxonomy. The
// core itself never calls a Resolver; only cmd/ and socket-level
// convenience wrappers do.
type Resolver interface {
	LookupIP(ctx context.Context, name string) ([]net.IP, error)
}

// SystemResolver wraps the standard library's net.Resolver, used by the
// demo binaries when no other Resolver is configured.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r SystemResolver) LookupIP(ctx context.Context, name string) ([]net.IP, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	return res.LookupIP(ctx, "ip", name)
}

// GetHostByName is a synchronous resolver shim per spec §4.6: it returns
// EHOSTNOTFOUND on NXDOMAIN, ETIMEDOUT on no response within timeout, and
// EINVAL on a null/empty name.
func GetHostByName(r Resolver, name string, timeout time.Duration) (Endpoint, error) {
	if name == "" {
		return Endpoint{}, errno.EINVAL
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ips, err := r.LookupIP(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return Endpoint{}, errno.ETIMEDOUT
		}
		return Endpoint{}, errno.EHOSTNOTFOUND
	}
	if len(ips) == 0 {
		return Endpoint{}, errno.EHOSTNOTFOUND
	}

	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return NewIPv4(v4[0], v4[1], v4[2], v4[3], 0), nil
		}
	}
	var raw [16]byte
	copy(raw[:], ips[0].To16())
	return NewIPv6(raw, 0), nil
}
