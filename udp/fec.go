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
	"encoding/binary"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

// fecHeaderSize is the per-shard framing this engine prepends ahead of
// the share of payload carried in that shard: group id (4B), shard
// index (1B), shard count (1B), original payload length (2B), the same
// kind of fixed preamble kcp-go's fecEncoder/fecDecoder use ahead of
// each shard's data, trimmed down since each group here is exactly one
// Send call's payload rather than a sliding window across a stream.
const fecHeaderSize = 8

// FECPolicy erasure-codes one UDP payload per Send call into
// DataShards+ParityShards shards via klauspost/reedsolomon, mirroring
// the teacher's --datashard/--parityshard flags (client/main.go,
// server/main.go) which configure kcp-go's own FEC encoder/decoder —
// reapplied here directly to this engine's UDP datagrams instead of to
// a KCP session.
type FECPolicy struct {
	DataShards   int
	ParityShards int

	codec reedsolomon.Encoder

	nextGroup uint32
	inflight  map[uint32]*fecGroup
	order     []uint32
}

const maxInflightGroups = 8

type fecGroup struct {
	shards   [][]byte
	have     int
	origLen  int
	complete bool
}

// NewFECPolicy builds a FECPolicy for the given shard counts.
func NewFECPolicy(dataShards, parityShards int) (*FECPolicy, error) {
	codec, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "udp: build reed-solomon codec")
	}
	return &FECPolicy{
		DataShards:   dataShards,
		ParityShards: parityShards,
		codec:        codec,
		inflight:     make(map[uint32]*fecGroup),
	}, nil
}

// Encode splits payload into DataShards equal-length pieces (the last
// padded with zeros), computes ParityShards parity shards, and returns
// DataShards+ParityShards wire-ready shards each carrying the framing
// header described above.
func (p *FECPolicy) Encode(payload []byte) ([][]byte, error) {
	shardSize := len(payload) / p.DataShards
	if len(payload)%p.DataShards != 0 {
		shardSize++
	}
	if shardSize == 0 {
		shardSize = 1
	}

	total := p.DataShards + p.ParityShards
	shards := make([][]byte, total)
	for i := 0; i < total; i++ {
		shards[i] = make([]byte, shardSize)
	}
	for i := 0; i < p.DataShards; i++ {
		start := i * shardSize
		if start < len(payload) {
			end := start + shardSize
			if end > len(payload) {
				end = len(payload)
			}
			copy(shards[i], payload[start:end])
		}
	}

	if err := p.codec.Encode(shards); err != nil {
		return nil, errors.Wrap(err, "udp: reed-solomon encode")
	}

	group := p.nextGroup
	p.nextGroup++

	out := make([][]byte, total)
	for i, shard := range shards {
		framed := make([]byte, fecHeaderSize+len(shard))
		binary.BigEndian.PutUint32(framed[0:4], group)
		framed[4] = byte(i)
		framed[5] = byte(total)
		binary.BigEndian.PutUint16(framed[6:8], uint16(len(payload)))
		copy(framed[fecHeaderSize:], shard)
		out[i] = framed
	}
	return out, nil
}

// Receive folds one inbound shard into its group, returning the
// reconstructed original payload and ok=true once enough shards have
// arrived to run Reed-Solomon reconstruction (or, if every data shard
// already arrived intact, as soon as that happens). Loss beyond the
// parity count surfaces no payload at all — per spec §4.3, UDP still
// makes only one delivery attempt, so an unrecoverable group is simply
// dropped rather than retried.
func (p *FECPolicy) Receive(framed []byte) ([]byte, bool) {
	if len(framed) < fecHeaderSize {
		return nil, false
	}
	group := binary.BigEndian.Uint32(framed[0:4])
	index := int(framed[4])
	total := int(framed[5])
	origLen := int(binary.BigEndian.Uint16(framed[6:8]))
	shard := framed[fecHeaderSize:]

	g, ok := p.inflight[group]
	if !ok {
		if len(p.inflight) >= maxInflightGroups {
			oldest := p.order[0]
			p.order = p.order[1:]
			delete(p.inflight, oldest)
		}
		g = &fecGroup{shards: make([][]byte, total), origLen: origLen}
		p.inflight[group] = g
		p.order = append(p.order, group)
	}
	if index < 0 || index >= len(g.shards) || g.shards[index] != nil {
		return nil, false
	}
	g.shards[index] = shard
	g.have++

	if g.have < p.DataShards {
		return nil, false
	}

	// Try reconstruction every time we cross the data-shard threshold;
	// ReconstructData is a no-op cost-wise compared to waiting for a
	// retransmission that will never come.
	if err := p.codec.ReconstructData(g.shards); err != nil {
		return nil, false
	}

	payload := make([]byte, 0, origLen)
	for i := 0; i < p.DataShards; i++ {
		payload = append(payload, g.shards[i]...)
	}
	if len(payload) > origLen {
		payload = payload[:origLen]
	}

	delete(p.inflight, group)
	for i, id := range p.order {
		if id == group {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return payload, true
}
