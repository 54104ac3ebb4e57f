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

// Package iface implements the interface-identity tag and table of spec §3:
// a 32-bit tag encoding link class and instance index, and a build-time
// registry of bound interfaces consulted for source-address selection and
// SO_BINDTODEVICE.
package iface

import (
	"sync"

	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/link"
)

// Class identifies the kind of link layer backing an interface.
type Class uint8

const (
	Ethernet Class = iota
	WiFi
	PPP
	SLIP
)

// ID is the 32-bit interface identity tag: class in the high byte, instance
// index in the low 24 bits.
type ID uint32

// NewID packs a class and instance index into an ID.
func NewID(class Class, instance uint32) ID {
	return ID(uint32(class)<<24 | (instance & 0x00ffffff))
}

func (id ID) Class() Class      { return Class(id >> 24) }
func (id ID) Instance() uint32  { return uint32(id) & 0x00ffffff }
func (id ID) Zero() bool        { return id == 0 }

// Binding is one interface entry: its link driver and the local addresses
// assigned to it.
type Binding struct {
	ID        ID
	Link      link.Link
	Addresses []addr.Endpoint // port is always 0 here; these are local addresses only
}

// Table is the build-time-sized registry of interface bindings, consulted
// by the IP Dispatcher for source-address selection and next-hop lookup,
// and by SO_BINDTODEVICE.
type Table struct {
	mu       sync.RWMutex
	bindings map[ID]*Binding
}

// NewTable returns an empty interface table.
func NewTable() *Table {
	return &Table{bindings: make(map[ID]*Binding)}
}

// Register adds or replaces an interface binding.
func (t *Table) Register(b *Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[b.ID] = b
}

// Lookup returns the binding for id, or nil if unregistered.
func (t *Table) Lookup(id ID) *Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bindings[id]
}

// SourceFor picks the egress interface and local address for a destination:
// the first bound address whose family matches the destination's. Address
// scope is not considered, and when several interfaces hold an address of
// that family, which one is returned is not defined (map iteration order).
// If override is non-zero only that interface is tried. Returns a nil
// Binding, the zero Endpoint and false if no matching address is bound.
func (t *Table) SourceFor(dst addr.Endpoint, override ID) (*Binding, addr.Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !override.Zero() {
		if b, ok := t.bindings[override]; ok {
			if ep, ok := firstAddress(b, dst.Family); ok {
				return b, ep, true
			}
		}
		return nil, addr.Endpoint{}, false
	}

	for _, b := range t.bindings {
		if ep, ok := firstAddress(b, dst.Family); ok {
			return b, ep, true
		}
	}
	return nil, addr.Endpoint{}, false
}

func firstAddress(b *Binding, family addr.Family) (addr.Endpoint, bool) {
	for _, a := range b.Addresses {
		if a.Family == family {
			return a, true
		}
	}
	return addr.Endpoint{}, false
}
