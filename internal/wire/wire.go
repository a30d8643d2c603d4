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

// Package wire encodes and decodes the two record shapes that cross the
// relay<->proxy transport: Message (the stream handshake record) and Packet
// (the datagram unit). Both use a compact cbor encoding with short two-letter
// keys and omit nil-valued fields, mirroring data.py's MAPPING-based short-key
// dict encoding.
package wire

import (
	"bufio"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/xtaci/ouija/internal/codec"
)

// Separator is the four-byte delimiter terminating every stream-framed
// record (handshake Message or forwarded data frame).
const Separator = "\r\n\r\n"

var cborEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// encode applies cipher.Encrypt then entropy.Decrease to a cbor-encoded
// record, per the send-side composition order in spec §4.1.
func encode(c codec.Cipher, e codec.Entropy, v interface{}) ([]byte, error) {
	raw, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "wire: cbor marshal")
	}
	ciphertext, err := c.Encrypt(raw)
	if err != nil {
		return nil, errors.Wrap(err, "wire: cipher encrypt")
	}
	return e.Decrease(ciphertext), nil
}

// decode applies entropy.Increase then cipher.Decrypt, the exact inverse of
// encode, then cbor-unmarshals into v.
func decode(c codec.Cipher, e codec.Entropy, data []byte, v interface{}) error {
	ciphertext := e.Increase(data)
	raw, err := c.Decrypt(ciphertext)
	if err != nil {
		return errors.Wrap(err, "wire: cipher decrypt")
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "wire: cbor unmarshal")
	}
	return nil
}

// readUntilSeparator reads raw bytes from br until the trailing window
// matches Separator, returning everything read including the separator
// itself. This mirrors asyncio's readuntil(SEPARATOR): the match is against
// the raw (already-encoded) wire bytes, not the decoded record, so it must
// scan byte-by-byte rather than assume line structure.
func readUntilSeparator(br *bufio.Reader) ([]byte, error) {
	const sepLen = len(Separator)
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if len(buf) >= sepLen && string(buf[len(buf)-sepLen:]) == Separator {
			return buf, nil
		}
	}
}
