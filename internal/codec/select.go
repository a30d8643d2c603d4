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

// NewCipher selects the configured Cipher: NullCipher when key is empty
// ("nil = cleartext"), FernetCipher otherwise. Mirrors std/crypt.go's
// SelectBlockCrypt in shape, minus the multi-algorithm lookup table: this
// project has exactly one concrete cipher, chosen or not.
func NewCipher(key string) Cipher {
	if key == "" {
		return NullCipher{}
	}
	return NewFernetCipher([]byte(key))
}

// EntropyConfig carries the knobs needed to select an Entropy codec.
type EntropyConfig struct {
	Rate     int
	UseQPP   bool
	QPPKey   string
	QPPCount int
}

// NewEntropy selects the configured Entropy codec: NullEntropy when rate is
// unset and QPP disabled, QPPEntropy when entropy_qpp is set, SimpleEntropy
// otherwise.
func NewEntropy(cfg EntropyConfig) Entropy {
	if cfg.UseQPP {
		return NewQPPEntropy([]byte(cfg.QPPKey), cfg.QPPCount)
	}
	if cfg.Rate >= 2 {
		return SimpleEntropy{Rate: cfg.Rate}
	}
	return NullEntropy{}
}
