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

package stream

import (
	"bufio"
	"crypto/subtle"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/ouija/internal/ouijaerr"
	"github.com/xtaci/ouija/internal/wire"
)

// LinkHandshakeResult carries what the proxy-side handshake learned from
// the relay's opening record, plus the reader to reuse for forwarding.
type LinkHandshakeResult struct {
	Host       string
	Port       int
	PeerReader *bufio.Reader
}

// LinkHandshake performs the proxy-side handshake: await the first record
// until Separator within messageTimeout, verify the token, and reply
// Message{token}. The caller dials host:port only after this returns
// successfully (token enforcement per spec §8 property 7 — a bad token must
// never cause a local TCP dial).
func LinkHandshake(cfg Config, peer net.Conn, token []byte) (LinkHandshakeResult, error) {
	peer.SetReadDeadline(time.Now().Add(cfg.MessageTimeout))
	br := bufio.NewReader(peer)
	req, err := wire.ReadMessage(br, cfg.Cipher, cfg.Entropy)
	if err != nil {
		return LinkHandshakeResult{}, ouijaerr.New(ouijaerr.KindHandshakeFailure, errors.Wrap(err, "stream link: read request"))
	}
	peer.SetReadDeadline(time.Time{})

	if subtle.ConstantTimeCompare(req.Token, token) != 1 {
		return LinkHandshakeResult{}, ouijaerr.New(ouijaerr.KindTokenMismatch, nil)
	}
	if req.Host == nil || req.Port == nil {
		return LinkHandshakeResult{}, ouijaerr.New(ouijaerr.KindHandshakeFailure, errors.New("stream link: request missing host/port"))
	}

	reply, err := wire.EncodeMessage(cfg.Cipher, cfg.Entropy, wire.NewAckMessage(token))
	if err != nil {
		return LinkHandshakeResult{}, errors.Wrap(err, "stream link: encode reply")
	}
	if _, err := peer.Write(reply); err != nil {
		return LinkHandshakeResult{}, ouijaerr.New(ouijaerr.KindHandshakeFailure, errors.Wrap(err, "stream link: send reply"))
	}

	return LinkHandshakeResult{Host: *req.Host, Port: *req.Port, PeerReader: br}, nil
}
