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
	"sync/atomic"
	"time"

	"github.com/xtaci/ouija/internal/wire"
)

// beginHalfClose runs when the local reader hits EOF/error: stop accepting
// new local data and kick off the orderly CLOSE handshake in the background,
// per §4.5.4.
func (s *Session) beginHalfClose() {
	s.clearActive()
	go s.Close()
}

// Close tears the session down exactly once (spec invariant 6): drains
// outstanding sent_buf via the retransmit loop, sends CLOSE and waits for its
// ack (bounded by udp_retries), waits for the peer's own CLOSE (write_closed)
// bounded by closeTimeout, then releases the local TCP half. Safe to call
// concurrently from the receive path, the local reader, and an outer
// supervisor timeout.
func (s *Session) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	defer close(s.doneCh)

	s.clearActive()

	// §4.5.4: the retransmit loop must drain sent_buf before CLOSE goes out,
	// so a peer never sees CLOSE while this side still has outstanding
	// unacked DATA in flight.
	select {
	case <-s.retransmitDone:
	case <-time.After(s.closeTimeout()):
		s.log("dgram: timed out waiting for sent_buf to drain")
	}

	if !s.IsReadClosed() {
		err := s.sendWithAck(func() ([]byte, error) {
			return wire.EncodePacket(s.cfg.Cipher, s.cfg.Entropy, wire.NewCloseRequest())
		}, s.readClosedCh, s.IsReadClosed)
		if err != nil {
			s.log("dgram: close handshake: %v", err)
		}
	}

	select {
	case <-s.writeClosedCh:
	case <-time.After(s.closeTimeout()):
		s.log("dgram: timed out waiting for peer close")
	}

	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if local != nil {
		local.Close()
	}
}

// closeTimeout bounds each wait inside Close: (udp_retries+1) * udp_timeout,
// or one second when udp_timeout is unset. serving_timeout is not consulted
// here; the session's outer serving-timeout wrapper is separate.
func (s *Session) closeTimeout() time.Duration {
	if s.cfg.Tuning.Timeout <= 0 {
		return time.Second
	}
	return time.Duration(s.cfg.Tuning.Retries+1) * s.cfg.Tuning.Timeout
}
