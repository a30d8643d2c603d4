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

// connectionEstablished is written to the client verbatim once the
// handshake with the proxy succeeds and the original request was CONNECT.
const connectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// ConnectorHandshake performs the relay-side handshake: send Message{token,
// host, port}, await the reply until Separator within messageTimeout,
// verify the echoed token. On success, if https is set (the original client
// request was CONNECT), writes the 200 Connection Established banner to the
// client. Grounded on tcp/relay.py's connect flow and connector.py's
// StreamConnector.on_serve.
func ConnectorHandshake(cfg Config, client, peer net.Conn, token []byte, host string, port int, https bool) (*bufio.Reader, error) {
	req, err := wire.EncodeMessage(cfg.Cipher, cfg.Entropy, wire.NewRequestMessage(token, host, port))
	if err != nil {
		return nil, errors.Wrap(err, "stream connector: encode request")
	}
	if _, err := peer.Write(req); err != nil {
		return nil, ouijaerr.New(ouijaerr.KindHandshakeFailure, errors.Wrap(err, "stream connector: send request"))
	}

	peer.SetReadDeadline(time.Now().Add(cfg.MessageTimeout))
	br := bufio.NewReader(peer)
	reply, err := wire.ReadMessage(br, cfg.Cipher, cfg.Entropy)
	if err != nil {
		return nil, ouijaerr.New(ouijaerr.KindHandshakeFailure, errors.Wrap(err, "stream connector: read reply"))
	}
	peer.SetReadDeadline(time.Time{})

	if subtle.ConstantTimeCompare(reply.Token, token) != 1 {
		return nil, ouijaerr.New(ouijaerr.KindTokenMismatch, nil)
	}

	if https {
		if _, err := client.Write([]byte(connectionEstablished)); err != nil {
			return nil, ouijaerr.New(ouijaerr.KindConnectionError, err)
		}
	}
	return br, nil
}
