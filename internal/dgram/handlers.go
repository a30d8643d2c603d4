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

package dgram

import (
	"crypto/subtle"
	"sort"

	"github.com/xtaci/ouija/internal/wire"
)

// Process decodes and dispatches one inbound datagram. Per spec §7's
// propagation policy, a single malformed packet is caught here and never
// tears the session down, except for BufferOverload and unexpected panics,
// which still run the idempotent Close.
func (s *Session) Process(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log("dgram: panic processing packet: %v", r)
			if s.cfg.Telemetry != nil {
				s.cfg.Telemetry.IncServingError()
			}
			s.Close()
		}
	}()

	pkt, err := wire.DecodePacket(s.cfg.Cipher, s.cfg.Entropy, raw)
	if err != nil {
		if wire.IsUnknownPhase(err) {
			if s.cfg.Telemetry != nil {
				s.cfg.Telemetry.IncTypeError()
			}
		} else {
			if s.cfg.Telemetry != nil {
				s.cfg.Telemetry.IncProcessingError()
			}
		}
		return
	}
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.IncPacketsRecv()
	}

	switch pkt.Phase {
	case wire.PhaseOpen:
		s.handleOpen(pkt)
	case wire.PhaseData:
		s.handleData(pkt)
	case wire.PhaseClose:
		s.handleClose(pkt)
	}
}

func (s *Session) handleOpen(pkt wire.Packet) {
	if subtle.ConstantTimeCompare(pkt.Token, s.cfg.Token) != 1 {
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncTokenError()
		}
		s.log("dgram: token mismatch on OPEN, closing")
		s.Close()
		return
	}

	switch s.role {
	case RoleConnector:
		// Only the ack form is meaningful on the connector side; setOpened
		// is a sync.Once so a duplicate ack is a correct no-op (spec:
		// "ignore, opened already set").
		if pkt.Ack {
			s.setOpened()
		}
	case RoleLink:
		if pkt.Ack {
			return // a link never receives its own ack back
		}
		if s.IsOpened() {
			// Duplicate OPEN request: the connector's original ack was
			// lost. Re-send the ack without redialing local TCP.
			s.sendOpenAck()
			return
		}
		if pkt.Host == nil || pkt.Port == nil {
			s.log("dgram: OPEN request missing host/port")
			return
		}
		local, err := s.dialLocal(*pkt.Host, *pkt.Port)
		if err != nil {
			s.log("dgram: dial local %s:%d failed: %v", *pkt.Host, *pkt.Port, err)
			return
		}
		s.mu.Lock()
		s.local = local
		s.mu.Unlock()
		s.setOpened()
		s.sendOpenAck()
		go s.runLocalReader()
		go s.runRetransmitLoop()
	}
}

func (s *Session) sendOpenAck() {
	encoded, err := wire.EncodePacket(s.cfg.Cipher, s.cfg.Entropy, wire.NewOpenAck(s.cfg.Token))
	if err != nil {
		s.log("dgram: encode open ack: %v", err)
		return
	}
	if err := s.transport.Send(encoded); err != nil {
		s.log("dgram: send open ack: %v", err)
		return
	}
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.IncPacketsSent()
	}
}

func (s *Session) handleData(pkt wire.Packet) {
	seq, ok := pkt.SeqOf()
	if !ok {
		return
	}

	if pkt.Ack {
		s.mu.Lock()
		delete(s.sentBuf, seq)
		s.mu.Unlock()
		return
	}

	// Ack immediately, per spec: "immediately reply DATA{ack=true,seq}"
	// regardless of whether the payload is new or a retransmit duplicate.
	s.sendDataAck(seq)

	s.mu.Lock()
	if seq < s.recvSeq {
		s.mu.Unlock()
		return // duplicate, already delivered
	}
	if _, exists := s.recvBuf[seq]; !exists {
		s.recvBuf[seq] = &recvEntry{bytes: pkt.Data, drain: pkt.DrainSet()}
	}
	overloaded := len(s.recvBuf) >= s.cfg.Tuning.Capacity
	s.mu.Unlock()

	s.flushRecvBuf()

	if overloaded {
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncOverload()
		}
		s.Close()
	}
}

// flushRecvBuf writes every in-order, contiguous entry starting at recvSeq
// to the local TCP writer, advancing recvSeq past each one. Single-writer
// to the local socket, per the concurrency model in §4.5.5.
func (s *Session) flushRecvBuf() {
	for {
		s.mu.Lock()
		entry, ok := s.recvBuf[s.recvSeq]
		if !ok {
			s.mu.Unlock()
			return
		}
		delete(s.recvBuf, s.recvSeq)
		s.recvSeq++
		local := s.local
		s.mu.Unlock()

		if local == nil || s.IsWriteClosed() {
			continue
		}
		if _, err := local.Write(entry.bytes); err != nil {
			s.log("dgram: local write failed: %v", err)
			s.Close()
			return
		}
		if entry.drain {
			if f, ok := local.(interface{ Flush() error }); ok {
				f.Flush()
			}
		}
	}
}

func (s *Session) sendDataAck(seq uint32) {
	encoded, err := wire.EncodePacket(s.cfg.Cipher, s.cfg.Entropy, wire.NewDataAck(seq))
	if err != nil {
		s.log("dgram: encode data ack: %v", err)
		return
	}
	if err := s.transport.Send(encoded); err != nil {
		s.log("dgram: send data ack: %v", err)
		return
	}
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.IncPacketsSent()
	}
}

func (s *Session) handleClose(pkt wire.Packet) {
	if pkt.Ack {
		s.setReadClosed()
		return
	}
	// Peer will send no more DATA. Ack, mark write_closed, and stop
	// flushing further DATA to local TCP.
	encoded, err := wire.EncodePacket(s.cfg.Cipher, s.cfg.Entropy, wire.NewCloseAck())
	if err == nil {
		if err := s.transport.Send(encoded); err == nil && s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncPacketsSent()
		}
	}
	s.setWriteClosed()
	if s.IsReadClosed() {
		s.Close()
	}
}

// sortedSentSeqs returns the current sentBuf keys in ascending order, for
// stable, deterministic retransmission-loop iteration.
func (s *Session) sortedSentSeqs() []uint32 {
	s.mu.Lock()
	seqs := make([]uint32, 0, len(s.sentBuf))
	for seq := range s.sentBuf {
		seqs = append(seqs, seq)
	}
	s.mu.Unlock()
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
