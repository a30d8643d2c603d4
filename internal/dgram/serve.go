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
	"github.com/xtaci/ouija/internal/ouijaerr"
	"github.com/xtaci/ouija/internal/wire"
)

// Serve is the connector-side entry point, grounded on connector.py's
// DatagramConnector.on_serve: it sends the initial OPEN request (retried per
// §4.5.3 until acked or exhausted), then spawns the local reader and
// retransmit loop once the peer has confirmed the upstream dial succeeded.
func (s *Session) Serve(host string, port int) error {
	if s.role != RoleConnector {
		return ouijaerr.New(ouijaerr.KindHandshakeFailure, nil)
	}

	err := s.sendWithAck(func() ([]byte, error) {
		return wire.EncodePacket(s.cfg.Cipher, s.cfg.Entropy, wire.NewOpenRequest(s.cfg.Token, host, port))
	}, s.openedCh, s.IsOpened)
	if err != nil {
		return err
	}
	if !s.IsOpened() {
		return ouijaerr.New(ouijaerr.KindSendRetryExhausted, nil)
	}

	go s.runLocalReader()
	go s.runRetransmitLoop()
	return nil
}
