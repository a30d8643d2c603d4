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
	"math/rand"
	"time"

	"github.com/xtaci/ouija/internal/wire"
)

// runLocalReader is the one task reading the local TCP socket and enqueuing
// DATA, per §4.5.5. On EOF it begins the orderly half-close sequence.
func (s *Session) runLocalReader() {
	buf := make([]byte, s.cfg.Tuning.TCPBuffer)
	for s.IsActive() {
		s.mu.Lock()
		local := s.local
		s.mu.Unlock()
		if local == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		n, err := local.Read(buf)
		if n > 0 {
			s.enqueueSend(buf[:n])
		}
		if err != nil {
			s.beginHalfClose()
			return
		}
	}
}

// enqueueSend splits data into chunks sized per Tuning — a fixed MaxPayload
// stride when MinPayload==MaxPayload, otherwise each chunk's size is drawn
// independently from [MinPayload, MaxPayload] per §4.5.1/§6 — assigns each
// the next monotonic seq, buffers the on-wire bytes in sent_buf, and sends
// the DATA packet. drain is set on the last chunk of this read, marking the
// end of a burst.
func (s *Session) enqueueSend(data []byte) {
	fixed := s.cfg.Tuning.MaxPayload
	if fixed <= 0 {
		fixed = len(data)
	}

	for i := 0; i < len(data); {
		chunkSize := fixed
		if s.cfg.Tuning.MinPayload > 0 && s.cfg.Tuning.MinPayload < s.cfg.Tuning.MaxPayload {
			chunkSize = s.cfg.Tuning.MinPayload + rand.Intn(s.cfg.Tuning.MaxPayload-s.cfg.Tuning.MinPayload+1)
		}

		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		drain := end == len(data)
		i = end

		seq := s.nextSeq()
		pkt := wire.NewData(seq, chunk, drain)
		encoded, err := wire.EncodePacket(s.cfg.Cipher, s.cfg.Entropy, pkt)
		if err != nil {
			s.log("dgram: encode data seq=%d: %v", seq, err)
			continue
		}

		s.mu.Lock()
		s.sentBuf[seq] = &sentEntry{bytes: encoded, firstSentAt: time.Now()}
		overloaded := len(s.sentBuf) >= s.cfg.Tuning.Capacity
		s.mu.Unlock()

		if err := s.transport.Send(encoded); err != nil {
			s.log("dgram: send data seq=%d: %v", seq, err)
		} else if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncPacketsSent()
			s.cfg.Telemetry.AddBytesSent(len(chunk))
		}

		if overloaded {
			if s.cfg.Telemetry != nil {
				s.cfg.Telemetry.IncOverload()
			}
			s.Close()
			return
		}
	}
}

func (s *Session) nextSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sentSeq
	s.sentSeq++
	return seq
}
