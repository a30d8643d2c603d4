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
	"time"

	"github.com/xtaci/ouija/internal/ouijaerr"
)

// runRetransmitLoop is the one task per session described in §4.5.2. It
// wakes every udp_resend_sleep, walks sent_buf in sorted seq order, and
// either discards or re-sends each entry based on its age. It exits once
// the session is no longer active and sent_buf has drained, which is also
// the signal teardown waits on before declaring the session dead.
func (s *Session) runRetransmitLoop() {
	defer close(s.retransmitDone)

	ticker := time.NewTicker(s.cfg.Tuning.ResendSleep)
	defer ticker.Stop()

	for range ticker.C {
		s.retransmitTick()

		s.mu.Lock()
		empty := len(s.sentBuf) == 0
		s.mu.Unlock()

		if !s.IsActive() && empty {
			return
		}
		if s.IsWriteClosed() && s.IsReadClosed() {
			return
		}
	}
}

func (s *Session) retransmitTick() {
	now := time.Now()
	maxAge := time.Duration(s.cfg.Tuning.Retries) * s.cfg.Tuning.Timeout

	for _, seq := range s.sortedSentSeqs() {
		s.mu.Lock()
		entry, ok := s.sentBuf[seq]
		if !ok {
			s.mu.Unlock()
			continue
		}
		age := now.Sub(entry.firstSentAt)

		if age >= maxAge {
			delete(s.sentBuf, seq)
			s.mu.Unlock()
			continue
		}

		resendDue := age >= time.Duration(entry.retries)*s.cfg.Tuning.Timeout
		if !resendDue {
			s.mu.Unlock()
			continue
		}
		bytesToSend := entry.bytes
		entry.retries++
		s.mu.Unlock()

		if err := s.transport.Send(bytesToSend); err != nil {
			s.log("dgram: retransmit seq=%d failed: %v", seq, err)
			continue
		}
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncPacketsSent()
		}
	}
}

// sendWithAck is the control-packet retry helper from §4.5.3: used for OPEN
// and CLOSE, independent of sent_buf. It sends, waits on the matching event
// for udp_timeout, and re-sends on timeout, up to udp_retries attempts.
func (s *Session) sendWithAck(encode func() ([]byte, error), done <-chan struct{}, isDone func() bool) error {
	for attempt := 0; attempt < s.cfg.Tuning.Retries; attempt++ {
		if isDone() {
			return nil
		}
		data, err := encode()
		if err != nil {
			return err
		}
		if err := s.transport.Send(data); err != nil {
			return err
		}
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncPacketsSent()
		}

		select {
		case <-done:
			return nil
		case <-time.After(s.cfg.Tuning.Timeout):
			continue
		}
	}
	if isDone() {
		return nil
	}
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.IncResendError()
	}
	return ouijaerr.New(ouijaerr.KindSendRetryExhausted, nil)
}
