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

// Package codec implements the two invertible byte-string transforms every
// session applies before putting bytes on the wire: a Cipher (confidentiality
// + authentication) and an optional Entropy codec (ciphertext shape
// obfuscation). Composition order on send is plaintext -> cipher.Encrypt ->
// entropy.Decrease; receive is the exact inverse.
package codec

// Cipher produces a self-delimited authenticated ciphertext from a plaintext
// byte string, and recovers the plaintext from it. Concrete choice is
// pluggable; the reference implementation is FernetCipher.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Entropy mangles the byte distribution of an already-encrypted payload to
// defeat naive traffic classifiers, and reverses the mangling. Decrease and
// Increase must be exact inverses of one another for the same codec
// instance/parameters.
type Entropy interface {
	Decrease(data []byte) []byte
	Increase(data []byte) []byte
}

// NullCipher is the identity Cipher, selected when no cipher_key is
// configured ("nil = cleartext" per the configuration table).
type NullCipher struct{}

func (NullCipher) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (NullCipher) Decrypt(c []byte) ([]byte, error) { return c, nil }

// NullEntropy is the identity Entropy, selected when entropy_rate is unset.
type NullEntropy struct{}

func (NullEntropy) Decrease(data []byte) []byte { return data }
func (NullEntropy) Increase(data []byte) []byte { return data }
