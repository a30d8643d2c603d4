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

package wire

import (
	"github.com/xtaci/ouija/internal/codec"
)

// Phase tags a DGRAM Packet's role in the handshake/data/teardown cycle.
type Phase int

const (
	PhaseOpen  Phase = 1
	PhaseData  Phase = 2
	PhaseClose Phase = 3
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseOpen, PhaseData, PhaseClose:
		return true
	default:
		return false
	}
}

// Packet is the DGRAM wire unit. Field population differs by phase: only
// the non-ack OPEN carries host/port; DATA carries seq in both forms, but
// only the non-ack DATA carries data (and optionally drain); CLOSE carries
// neither.
type Packet struct {
	Phase Phase   `cbor:"pe"`
	Ack   bool    `cbor:"ak"`
	Token []byte  `cbor:"tn,omitempty"`
	Host  *string `cbor:"ht,omitempty"`
	Port  *int    `cbor:"pt,omitempty"`
	Seq   *uint32 `cbor:"sq,omitempty"`
	Data  []byte  `cbor:"da,omitempty"`
	Drain *bool   `cbor:"dn,omitempty"`
}

func NewOpenRequest(token []byte, host string, port int) Packet {
	return Packet{Phase: PhaseOpen, Ack: false, Token: token, Host: &host, Port: &port}
}

func NewOpenAck(token []byte) Packet {
	return Packet{Phase: PhaseOpen, Ack: true, Token: token}
}

func NewData(seq uint32, data []byte, drain bool) Packet {
	return Packet{Phase: PhaseData, Ack: false, Seq: &seq, Data: data, Drain: &drain}
}

func NewDataAck(seq uint32) Packet {
	return Packet{Phase: PhaseData, Ack: true, Seq: &seq}
}

func NewCloseRequest() Packet {
	return Packet{Phase: PhaseClose, Ack: false}
}

func NewCloseAck() Packet {
	return Packet{Phase: PhaseClose, Ack: true}
}

// SeqOf returns the packet's sequence number and whether it was present.
func (p Packet) SeqOf() (uint32, bool) {
	if p.Seq == nil {
		return 0, false
	}
	return *p.Seq, true
}

// DrainSet reports whether drain was set on a DATA packet.
func (p Packet) DrainSet() bool {
	return p.Drain != nil && *p.Drain
}

// EncodePacket renders p as a single codec-encoded datagram payload. There is
// no trailing separator: the UDP datagram boundary is the frame.
func EncodePacket(c codec.Cipher, e codec.Entropy, p Packet) ([]byte, error) {
	return encode(c, e, p)
}

// DecodePacket parses a single datagram payload into a Packet. An unknown
// phase value is returned as a parse error so the caller can silently drop
// the packet and bump the type-error counter, per spec §4.2/§7.
func DecodePacket(c codec.Cipher, e codec.Entropy, data []byte) (Packet, error) {
	var p Packet
	if err := decode(c, e, data, &p); err != nil {
		return Packet{}, err
	}
	if !p.Phase.Valid() {
		return Packet{}, errUnknownPhase
	}
	return p, nil
}

var errUnknownPhase = unknownPhaseError{}

type unknownPhaseError struct{}

func (unknownPhaseError) Error() string { return "wire: unknown packet phase" }

// IsUnknownPhase reports whether err is the unknown-phase sentinel.
func IsUnknownPhase(err error) bool {
	_, ok := err.(unknownPhaseError)
	return ok
}
