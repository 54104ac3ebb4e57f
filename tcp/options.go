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
	"encoding/binary"

	"github.com/google/gopacket/layers"
	"github.com/xtaci/embnet/wire"
)

// SynOptions is the decoded form of the option subset spec §6 requires
// the engine to understand: MSS, Window-Scale, SACK-Permitted and
// Timestamp. Unknown-but-valid-length options are skipped on parse;
// an option with an invalid length aborts parsing of the whole
// segment, per spec §6.
type SynOptions struct {
	MSS            uint16
	WindowScale    uint8
	HasWindowScale bool
	SACKPermitted  bool
	Timestamp      uint32
	TimestampEcho  uint32
	HasTimestamp   bool
}

// ParseSynOptions decodes the option list gopacket produced for an
// inbound segment (via wire.DecodeTCP) into SynOptions, the same
// per-kind switch the options-parsing style in
// other_examples' coolheart77-netstack connect.go follows, adapted to
// this module's option struct shape. Returns ok=false if any option
// carries an invalid length for its kind.
func ParseSynOptions(opts []wire.TCPOption) (SynOptions, bool) {
	var out SynOptions
	for _, o := range opts {
		switch o.Kind {
		case layers.TCPOptionKindNop, layers.TCPOptionKindEndList:
			continue
		case layers.TCPOptionKindMSS:
			if len(o.Data) != 2 {
				return SynOptions{}, false
			}
			out.MSS = binary.BigEndian.Uint16(o.Data)
		case layers.TCPOptionKindWindowScale:
			if len(o.Data) != 1 {
				return SynOptions{}, false
			}
			out.WindowScale = o.Data[0]
			out.HasWindowScale = true
		case layers.TCPOptionKindSACKPermitted:
			if len(o.Data) != 0 {
				return SynOptions{}, false
			}
			out.SACKPermitted = true
		case layers.TCPOptionKindTimestamps:
			if len(o.Data) != 8 {
				return SynOptions{}, false
			}
			out.Timestamp = binary.BigEndian.Uint32(o.Data[0:4])
			out.TimestampEcho = binary.BigEndian.Uint32(o.Data[4:8])
			out.HasTimestamp = true
		default:
			// unknown-but-valid-length option: skip, don't abort.
			continue
		}
	}
	return out, true
}

// EncodeSynOptions builds the wire.TCPOption list for an outbound SYN
// or SYN+ACK advertising mss and, when requested, window scale and
// SACK-permitted.
func EncodeSynOptions(mss uint16, windowScale uint8, advertiseWS, advertiseSACK bool) []wire.TCPOption {
	out := make([]wire.TCPOption, 0, 4)

	mssData := make([]byte, 2)
	binary.BigEndian.PutUint16(mssData, mss)
	out = append(out, wire.TCPOption{Kind: layers.TCPOptionKindMSS, Data: mssData})

	if advertiseSACK {
		out = append(out, wire.TCPOption{Kind: layers.TCPOptionKindSACKPermitted})
	}
	if advertiseWS {
		out = append(out, wire.TCPOption{Kind: layers.TCPOptionKindWindowScale, Data: []byte{windowScale}})
	}
	return out
}
