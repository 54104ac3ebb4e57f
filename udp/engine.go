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

package udp

import (
	"github.com/xtaci/embnet/addr"
	"github.com/xtaci/embnet/errno"
	"github.com/xtaci/embnet/iface"
)

// MaxPayload is the largest UDP payload this engine will ever hand to
// the IP Dispatcher in one datagram; sends above it fail EMSGSIZE per
// spec §4.3. 1472 is the conventional Ethernet-MTU-minus-headers figure
// (1500 - 20 IPv4 - 8 UDP).
const MaxPayload = 1472

// Handle identifies one pool slot, the UDP engine's equivalent of the
// FD table's "underlying TCB-or-UCB reference" (spec §3).
type Handle uint32

// Egress is the IP Dispatcher collaborator the engine hands outbound
// datagrams to. ipdispatch.Dispatcher implements this.
type Egress interface {
	SendUDP(local, peer addr.Endpoint, payload []byte, tos, ttl uint8, iface iface.ID, computeChecksum bool) error
}

type portKey struct {
	family addr.Family
	port   uint16
}

// Engine is the UDP Engine of spec §4.3: a fixed-size pool of UCBs, a
// bind table keyed by (family, port), and the egress collaborator used
// to actually place datagrams on the wire. CBs are allocated from the
// pool at Open and returned at Close, per spec §3's Lifecycle note —
// no dynamic heap growth once the pool is built.
type Engine struct {
	pool  []*UCB
	free  []Handle
	ports map[portKey]Handle

	nextEphemeral uint16

	egress Egress
}

// NewEngine builds an Engine with a fixed pool of poolSize UCBs, the
// build-time constant spec §6 requires.
func NewEngine(poolSize int, egress Egress) *Engine {
	e := &Engine{
		pool:          make([]*UCB, poolSize),
		free:          make([]Handle, 0, poolSize),
		ports:         make(map[portKey]Handle),
		nextEphemeral: 49152, // conventional low end of the ephemeral range
		egress:        egress,
	}
	for i := poolSize - 1; i >= 0; i-- {
		e.pool[i] = newUCB()
		e.free = append(e.free, Handle(i))
	}
	return e
}

// Open allocates a UCB from the pool and binds it to localPort (0 for
// an implicit ephemeral allocation chosen when Send first requires
// one). Fails ENOMEM if the pool is exhausted, EADDRINUSE if the
// requested port is already bound for this family.
func (e *Engine) Open(family addr.Family, localPort uint16) (Handle, error) {
	if len(e.free) == 0 {
		return 0, errno.ENOMEM
	}
	if localPort != 0 {
		if _, taken := e.ports[portKey{family, localPort}]; taken {
			return 0, errno.EADDRINUSE
		}
	}

	h := e.free[len(e.free)-1]
	e.free = e.free[:len(e.free)-1]

	ucb := e.pool[h]
	ucb.state = Open
	ucb.Local = addr.Endpoint{Family: family, Port: localPort}

	if localPort != 0 {
		e.ports[portKey{family, localPort}] = h
	}
	return h, nil
}

// Close releases a UCB back to the pool and unbinds its port.
func (e *Engine) Close(h Handle) error {
	ucb, err := e.lookup(h)
	if err != nil {
		return err
	}
	if ucb.Local.Port != 0 {
		delete(e.ports, portKey{ucb.Local.Family, ucb.Local.Port})
	}
	ucb.reset()
	e.free = append(e.free, h)
	return nil
}

// Connect associates h with peer (spec §3's ConnectedBound state),
// filtering future receives to datagrams from that source. A zero
// peer endpoint dissolves the association, per spec §3's invariant on
// "connect to the zero address".
func (e *Engine) Connect(h Handle, peer addr.Endpoint) error {
	ucb, err := e.lookup(h)
	if err != nil {
		return err
	}
	if peer == (addr.Endpoint{}) {
		ucb.Peer = addr.Endpoint{}
		if ucb.state == ConnectedBound {
			ucb.state = Open
		}
		return nil
	}
	if err := e.ensureBound(ucb); err != nil {
		return err
	}
	ucb.Peer = peer
	ucb.state = ConnectedBound
	return nil
}

// Send transmits payload to peer, implicitly binding to an ephemeral
// port first if the socket is unbound, per spec §4.3. Oversized
// payloads fail EMSGSIZE before ever reaching the Egress collaborator.
func (e *Engine) Send(h Handle, peer addr.Endpoint, payload []byte) error {
	ucb, err := e.lookup(h)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayload {
		return errno.EMSGSIZE
	}
	if err := e.ensureBound(ucb); err != nil {
		return err
	}

	shards := [][]byte{payload}
	if ucb.fec != nil {
		shards, err = ucb.fec.Encode(payload)
		if err != nil {
			return errno.Wrap(errno.ERROR, err, "udp: FEC encode")
		}
	}

	for _, shard := range shards {
		if err := e.egress.SendUDP(ucb.Local, peer, shard, ucb.TOS, ucb.TTL, ucb.EgressInterface, ucb.Checksum.SendEnabled); err != nil {
			return err
		}
	}
	return nil
}

// Deliver is invoked by the IP Dispatcher for every UDP datagram
// addressed to a local port, after IP-level validation but before any
// UCB-level checksum verification, per spec §4.3's receive path: match
// destination port (and, if the socket is connected, source endpoint),
// append to the receive queue and then invoke the registered callback
// (if any), or drop if no socket matches.
func (e *Engine) Deliver(local, peer addr.Endpoint, payload []byte, checksumValid bool) {
	h, ok := e.ports[portKey{local.Family, local.Port}]
	if !ok {
		return // spec §4.3: no socket matches, drop
	}
	ucb := e.pool[h]
	if ucb.Checksum.VerifyOnReceive && !checksumValid {
		return // spec §4.3 failure semantics: silently counted and dropped
	}
	if ucb.state == ConnectedBound && ucb.Peer != (addr.Endpoint{}) && ucb.Peer != peer {
		return
	}

	if ucb.fec != nil {
		reconstructed, ok := ucb.fec.Receive(payload)
		if !ok {
			return
		}
		payload = reconstructed
	}

	ucb.enqueue(peer, payload)
	if ucb.Callback != nil {
		ucb.Callback(peer, payload)
	}
}

// ensureBound performs the "transparently bind to a system-chosen
// ephemeral port" step of spec §4.3's Send contract.
func (e *Engine) ensureBound(ucb *UCB) error {
	if ucb.Local.Port != 0 {
		return nil
	}
	for tries := 0; tries < 1<<16; tries++ {
		port := e.nextEphemeral
		e.nextEphemeral++
		if e.nextEphemeral == 0 {
			e.nextEphemeral = 49152
		}
		key := portKey{ucb.Local.Family, port}
		if _, taken := e.ports[key]; taken {
			continue
		}
		ucb.Local.Port = port
		e.ports[key] = e.handleOf(ucb)
		return nil
	}
	return errno.EADDRINUSE
}

// Lookup returns the UCB for h, for callers (the socket layer) that
// need to inspect or register a callback on it directly.
func (e *Engine) Lookup(h Handle) (*UCB, error) {
	return e.lookup(h)
}

func (e *Engine) handleOf(ucb *UCB) Handle {
	for i, p := range e.pool {
		if p == ucb {
			return Handle(i)
		}
	}
	return 0
}

func (e *Engine) lookup(h Handle) (*UCB, error) {
	if int(h) < 0 || int(h) >= len(e.pool) {
		return nil, errno.ESOCK
	}
	ucb := e.pool[h]
	if ucb.state == Free {
		return nil, errno.ESOCK
	}
	return ucb, nil
}

// SetFEC enables forward error correction on h's send/receive path.
// Passing nil disables it, restoring plain unprotected datagrams.
func (e *Engine) SetFEC(h Handle, policy *FECPolicy) error {
	ucb, err := e.lookup(h)
	if err != nil {
		return err
	}
	ucb.fec = policy
	return nil
}

// SockOpt returns the current value of a UDP-relevant socket option.
func (e *Engine) SockOpt(h Handle, opt Option) (int, error) {
	ucb, err := e.lookup(h)
	if err != nil {
		return 0, err
	}
	switch opt {
	case OptTOS, OptTClass:
		return int(ucb.TOS), nil
	case OptTTL, OptMulticastHops:
		return int(ucb.TTL), nil
	case OptBindToDevice:
		return int(ucb.EgressInterface), nil
	case OptRecvDstAddr:
		return boolToInt(ucb.RecvDstAddr), nil
	case OptChecksumSend:
		return boolToInt(ucb.Checksum.SendEnabled), nil
	default:
		return 0, errno.EINVAL
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetOption applies one of the UDP-relevant socket options of spec
// §4.5.4 (the IP_TOS/IP_TTL/IPV6_TCLASS/IPV6_MULTICAST_HOPS/
// SO_BINDTODEVICE/IP_RECVDSTADDR family; SOL_SOCKET-wide options like
// SO_RCVTIMEO live in the socket package's FD table instead).
func (e *Engine) SetOption(h Handle, opt Option, value int) error {
	ucb, err := e.lookup(h)
	if err != nil {
		return err
	}
	switch opt {
	case OptTOS, OptTClass:
		ucb.TOS = uint8(value)
	case OptTTL, OptMulticastHops:
		ucb.TTL = uint8(value)
	case OptBindToDevice:
		ucb.EgressInterface = iface.ID(value)
	case OptRecvDstAddr:
		ucb.RecvDstAddr = value != 0
	case OptChecksumSend:
		ucb.Checksum.SendEnabled = value != 0
	default:
		return errno.EINVAL
	}
	return nil
}
