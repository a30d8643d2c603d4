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
	"bufio"

	"github.com/xtaci/ouija/internal/codec"
)

// Message is the STREAM handshake record: relay->proxy carries host+port,
// proxy->relay echoes only the token.
type Message struct {
	Token []byte  `cbor:"tn"`
	Host  *string `cbor:"ht,omitempty"`
	Port  *int    `cbor:"pt,omitempty"`
}

// NewRequestMessage builds the relay->proxy opening record.
func NewRequestMessage(token []byte, host string, port int) Message {
	return Message{Token: token, Host: &host, Port: &port}
}

// NewAckMessage builds the proxy->relay reply record (token only).
func NewAckMessage(token []byte) Message {
	return Message{Token: token}
}

// EncodeMessage renders m as the wire bytes: cbor record, codec-encoded,
// terminated with Separator.
func EncodeMessage(c codec.Cipher, e codec.Entropy, m Message) ([]byte, error) {
	body, err := encode(c, e, m)
	if err != nil {
		return nil, err
	}
	return append(body, []byte(Separator)...), nil
}

// ReadMessage reads a Separator-terminated record from br and decodes it.
// Callers are responsible for any read deadline on the underlying
// connection before calling this (message_timeout).
func ReadMessage(br *bufio.Reader, c codec.Cipher, e codec.Entropy) (Message, error) {
	raw, err := readUntilSeparator(br)
	if err != nil {
		return Message{}, err
	}
	body := raw[:len(raw)-len(Separator)]

	var m Message
	if err := decode(c, e, body, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EncodeFrame renders an arbitrary plaintext chunk as a Separator-terminated
// STREAM forwarding frame (the "frame" production in spec §6).
func EncodeFrame(c codec.Cipher, e codec.Entropy, plaintext []byte) ([]byte, error) {
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return append(e.Decrease(ciphertext), []byte(Separator)...), nil
}

// ReadFrame reads a Separator-terminated forwarding frame and returns the
// decoded plaintext.
func ReadFrame(br *bufio.Reader, c codec.Cipher, e codec.Entropy) ([]byte, error) {
	raw, err := readUntilSeparator(br)
	if err != nil {
		return nil, err
	}
	body := raw[:len(raw)-len(Separator)]
	ciphertext := e.Increase(body)
	return c.Decrypt(ciphertext)
}
