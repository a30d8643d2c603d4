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

package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// fernetSalt mirrors client/main.go's fixed pbkdf2 salt ("kcp-go"): a fixed,
// public salt is fine here because cipher_key is already the high-entropy
// shared secret, not a user password.
const fernetSalt = "ouija-fernet"

const (
	fernetVersion   byte = 0x80
	fernetKeyLen         = 32 // 16 signing + 16 encryption, like cryptography.fernet.Fernet
	fernetIVLen          = aes.BlockSize
	fernetHMACLen        = sha256.Size
	fernetHeaderLen      = 1 + 8 + fernetIVLen // version + timestamp + iv
)

// FernetCipher is the reference Cipher: AES-128-CBC for confidentiality,
// HMAC-SHA256 for authentication, composed the way cryptography.fernet.Fernet
// lays out its token (version || timestamp || iv || ciphertext || hmac) but
// with the base64 envelope stripped, per spec: the wire form is the raw
// token bytes, not base64 text.
type FernetCipher struct {
	signingKey    [16]byte
	encryptionKey [16]byte
}

// NewFernetCipher derives signing and encryption subkeys from an arbitrary
// length shared secret via PBKDF2, the same derivation shape client/main.go
// uses to turn a passphrase into a fixed-size block-cipher key.
func NewFernetCipher(secret []byte) *FernetCipher {
	derived := pbkdf2.Key(secret, []byte(fernetSalt), 4096, fernetKeyLen, sha256.New)
	fc := &FernetCipher{}
	copy(fc.signingKey[:], derived[:16])
	copy(fc.encryptionKey[:], derived[16:32])
	return fc
}

func (f *FernetCipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.encryptionKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "fernet: new aes cipher")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)

	iv := make([]byte, fernetIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "fernet: read iv")
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	header := make([]byte, fernetHeaderLen)
	header[0] = fernetVersion
	binary.BigEndian.PutUint64(header[1:9], uint64(time.Now().Unix()))
	copy(header[9:], iv)

	payload := append(header, ciphertext...)

	mac := hmac.New(sha256.New, f.signingKey[:])
	mac.Write(payload)
	tag := mac.Sum(nil)

	return append(payload, tag...), nil
}

func (f *FernetCipher) Decrypt(token []byte) ([]byte, error) {
	if len(token) < fernetHeaderLen+fernetHMACLen {
		return nil, errors.New("fernet: token too short")
	}

	payload := token[:len(token)-fernetHMACLen]
	tag := token[len(token)-fernetHMACLen:]

	mac := hmac.New(sha256.New, f.signingKey[:])
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, tag) {
		return nil, errors.New("fernet: hmac mismatch")
	}

	if payload[0] != fernetVersion {
		return nil, errors.Errorf("fernet: unsupported version %#x", payload[0])
	}

	iv := payload[9:fernetHeaderLen]
	ciphertext := payload[fernetHeaderLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("fernet: ciphertext not block aligned")
	}

	block, err := aes.NewCipher(f.encryptionKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "fernet: new aes cipher")
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("fernet: empty padded block")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("fernet: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
