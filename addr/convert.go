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
	"strconv"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
)

// ParseIPv4 implements inet_pton(AF_INET, ...): dotted-quad only, rejecting
// the legacy octal/hex forms net.ParseIP historically tolerates.
func ParseIPv4(s string) (out [4]byte, err error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, errors.Errorf("addr: %q is not a dotted-quad IPv4 address", s)
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return out, errors.Errorf("addr: invalid octet %q in %q", p, s)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return out, errors.Errorf("addr: non-decimal octet %q in %q", p, s)
			}
		}
		if len(p) > 1 && p[0] == '0' {
			return out, errors.Errorf("addr: leading zero in octet %q rejects legacy octal form", p)
		}
		v, convErr := strconv.Atoi(p)
		if convErr != nil || v > 255 {
			return out, errors.Errorf("addr: octet %q out of range in %q", p, s)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// FormatIPv4 implements inet_ntop(AF_INET, ...), returning canonical
// dotted-quad text.
func FormatIPv4(ip [16]byte) string {
	var b strings.Builder
	for i := 0; i < 4; i++ {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(int(ip[i])))
	}
	return b.String()
}

// ParseIPv6 implements inet_pton(AF_INET6, ...): compressed form with at
// most one "::", no embedded spaces, and the "::ffff:a.b.c.d" IPv4-mapped
// form on parse, per spec §4.6.
func ParseIPv6(s string) (out [16]byte, err error) {
	if strings.ContainsAny(s, " \t") {
		return out, errors.Errorf("addr: %q contains embedded whitespace", s)
	}
	if strings.Count(s, "::") > 1 {
		return out, errors.Errorf("addr: %q has more than one '::'", s)
	}

	// Split off a trailing IPv4-mapped "a.b.c.d" tail, if present.
	var v4tail [4]byte
	haveV4 := false
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 && strings.Contains(s[idx+1:], ".") {
		v4tail, err = ParseIPv4(s[idx+1:])
		if err != nil {
			return out, errors.WithMessage(err, "addr: invalid IPv4-mapped tail")
		}
		haveV4 = true
		s = s[:idx+1] + "0:0" // placeholder groups, replaced below
	}

	head, tail, hasDouble := strings.Cut(s, "::")
	var headGroups, tailGroups []string
	if head != "" {
		headGroups = strings.Split(head, ":")
	}
	if hasDouble && tail != "" {
		tailGroups = strings.Split(tail, ":")
	}
	if !hasDouble {
		headGroups = strings.Split(s, ":")
	}

	groups := make([]uint16, 8)
	fill := func(list []string, start int) (int, error) {
		for i, g := range list {
			if g == "" {
				return 0, errors.Errorf("addr: empty group in %q", s)
			}
			v, convErr := strconv.ParseUint(g, 16, 16)
			if convErr != nil {
				return 0, errors.Errorf("addr: invalid hextet %q in %q", g, s)
			}
			groups[start+i] = uint16(v)
		}
		return start + len(list), nil
	}

	if !hasDouble {
		if len(headGroups) != 8 {
			return out, errors.Errorf("addr: %q does not have 8 groups and has no '::'", s)
		}
		if _, err = fill(headGroups, 0); err != nil {
			return out, err
		}
	} else {
		n := len(headGroups) + len(tailGroups)
		if n > 7 {
			return out, errors.Errorf("addr: %q has too many groups for a '::' compression", s)
		}
		if _, err = fill(headGroups, 0); err != nil {
			return out, err
		}
		if _, err = fill(tailGroups, 8-len(tailGroups)); err != nil {
			return out, err
		}
	}

	if haveV4 {
		groups[6] = uint16(v4tail[0])<<8 | uint16(v4tail[1])
		groups[7] = uint16(v4tail[2])<<8 | uint16(v4tail[3])
	}

	for i, g := range groups {
		out[i*2] = byte(g >> 8)
		out[i*2+1] = byte(g)
	}
	return out, nil
}

// FormatIPv6 implements inet_ntop(AF_INET6, ...), producing the canonical
// compressed form (longest run of zero groups collapsed to "::"). IPv4-mapped
// addresses (::ffff:0:0/96) render their low 32 bits as dotted-quad, matching
// the canonical text inet_pton accepts back for the same family.
func FormatIPv6(ip [16]byte) string {
	if isIPv4Mapped(ip) {
		var v4 [16]byte
		copy(v4[:4], ip[12:16])
		return "::ffff:" + FormatIPv4(v4)
	}

	groups := make([]uint16, 8)
	for i := range groups {
		groups[i] = uint16(ip[i*2])<<8 | uint16(ip[i*2+1])
	}

	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0
	for i, g := range groups {
		if g == 0 {
			if curStart == -1 {
				curStart = i
			}
			curLen++
		} else {
			curStart, curLen = -1, 0
		}
		if curLen > bestLen {
			bestStart, bestLen = curStart, curLen
		}
	}
	if bestLen < 2 {
		return joinHextets(groups)
	}

	left := joinHextets(groups[:bestStart])
	right := joinHextets(groups[bestStart+bestLen:])
	return left + "::" + right
}

// isIPv4Mapped reports whether ip carries the ::ffff:0:0/96 prefix.
func isIPv4Mapped(ip [16]byte) bool {
	for i := 0; i < 10; i++ {
		if ip[i] != 0 {
			return false
		}
	}
	return ip[10] == 0xff && ip[11] == 0xff
}

func joinHextets(groups []uint16) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strconv.FormatUint(uint64(g), 16)
	}
	return strings.Join(parts, ":")
}

// HTONS swaps a 16-bit value from host to network byte order; it collapses
// to identity on big-endian targets since network order already is
// big-endian.
func HTONS(v uint16) uint16 {
	if isBigEndian() {
		return v
	}
	return v<<8 | v>>8
}

// NTOHS is the inverse of HTONS (byte-order swaps are involutions).
func NTOHS(v uint16) uint16 { return HTONS(v) }

// HTONL swaps a 32-bit value from host to network byte order.
func HTONL(v uint32) uint32 {
	if isBigEndian() {
		return v
	}
	return v<<24 | (v&0xff00)<<8 | (v>>8)&0xff00 | v>>24
}

// NTOHL is the inverse of HTONL.
func NTOHL(v uint32) uint32 { return HTONL(v) }

// isBigEndian probes the runtime's native byte order the way low-level
// network code conventionally does, without depending on GOARCH build tags.
func isBigEndian() bool {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))
	return b[0] == 0
}
