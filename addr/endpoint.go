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

// Package addr implements the endpoint and address-utility primitives of
// spec §3/§4.6: a tagged IPv4/IPv6 endpoint, strict text<->binary address
// conversion and network byte order helpers.
package addr

import "bytes"

// Family tags whether an Endpoint carries an IPv4 or IPv6 address.
type Family uint8

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Endpoint is the (family, address, port) triple of spec §3. IP is always
// stored as 16 bytes; for Family==IPv4 only the first 4 are significant.
type Endpoint struct {
	Family Family
	IP     [16]byte
	Port   uint16
}

// NewIPv4 builds an Endpoint from 4 address octets and a port.
func NewIPv4(a, b, c, d byte, port uint16) Endpoint {
	var e Endpoint
	e.Family = IPv4
	e.IP[0], e.IP[1], e.IP[2], e.IP[3] = a, b, c, d
	e.Port = port
	return e
}

// NewIPv6 builds an Endpoint from 16 address octets and a port.
func NewIPv6(ip [16]byte, port uint16) Endpoint {
	return Endpoint{Family: IPv6, IP: ip, Port: port}
}

// Equal reports whether two endpoints match in kind, address, and port, per
// the invariant in spec §3.
func (e Endpoint) Equal(o Endpoint) bool {
	if e.Family != o.Family || e.Port != o.Port {
		return false
	}
	if e.Family == IPv4 {
		return bytes.Equal(e.IP[:4], o.IP[:4])
	}
	return e.IP == o.IP
}

// IsWildcardPort reports whether the endpoint's port is the wildcard value 0.
func (e Endpoint) IsWildcardPort() bool {
	return e.Port == 0
}

// IsAnyAddress reports whether the endpoint's address is the all-zero "any
// local interface" address.
func (e Endpoint) IsAnyAddress() bool {
	if e.Family == IPv4 {
		return e.IP[0] == 0 && e.IP[1] == 0 && e.IP[2] == 0 && e.IP[3] == 0
	}
	return e.IP == [16]byte{}
}

// AddressBytes returns the significant address octets (4 for IPv4, 16 for
// IPv6).
func (e Endpoint) AddressBytes() []byte {
	if e.Family == IPv4 {
		return e.IP[:4]
	}
	return e.IP[:]
}

// String renders the endpoint in "addr:port" form using FormatIPv4/FormatIPv6.
func (e Endpoint) String() string {
	var host string
	if e.Family == IPv4 {
		host = FormatIPv4(e.IP)
	} else {
		host = FormatIPv6(e.IP)
	}
	return host + ":" + uitoa(uint32(e.Port))
}

func uitoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
