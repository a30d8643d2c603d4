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
	"fmt"
	"math/big"

	"github.com/xtaci/qpp"
)

// qppPower is the permutation dimension, mirroring std/qpp.go's qppPower.
const qppPower = 8

// QPPEntropy is a second, optional Entropy implementation: rather than
// inserting filler bytes on a stride, it scrambles each payload byte-for-byte
// through a Quantum Permutation Pad, using separate PRNG streams for the
// send and receive directions so Decrease and Increase never observe the
// same PRNG state (the same construction std/qpp.go's QPPPort uses for a
// full-duplex net.Conn).
type QPPEntropy struct {
	pad   *qpp.QuantumPermutationPad
	wprng *qpp.Rand
	rprng *qpp.Rand
}

// NewQPPEntropy builds a QPPEntropy from a seed and pad count. Validate the
// parameters with ValidateQPPParams before calling this in production.
func NewQPPEntropy(seed []byte, numPads int) *QPPEntropy {
	pad := qpp.NewQPP(seed, uint16(numPads))
	return &QPPEntropy{
		pad:   pad,
		wprng: qpp.CreatePRNG(seed),
		rprng: qpp.CreatePRNG(seed),
	}
}

func (q *QPPEntropy) Decrease(data []byte) []byte {
	out := append([]byte(nil), data...)
	q.pad.EncryptWithPRNG(out, q.wprng)
	return out
}

func (q *QPPEntropy) Increase(data []byte) []byte {
	out := append([]byte(nil), data...)
	q.pad.DecryptWithPRNG(out, q.rprng)
	return out
}

// ValidateQPPParams inspects caller-supplied QPP settings and returns a
// fatal error for an unusable configuration, plus non-fatal warnings for a
// usable-but-weak one. Ported from std/qpp.go's helper of the same name.
func ValidateQPPParams(count int, key string) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("entropy_qpp_count must be greater than 0 when entropy_qpp is enabled")
	}

	var warnings []string

	minSeedLength := qpp.QPPMinimumSeedLength(qppPower)
	if len(key) < minSeedLength {
		warnings = append(warnings, fmt.Sprintf("QPP warning: entropy_qpp_key has %d bytes, want at least %d", len(key), minSeedLength))
	}

	minPads := qpp.QPPMinimumPads(qppPower)
	if count < minPads {
		warnings = append(warnings, fmt.Sprintf("QPP warning: entropy_qpp_count %d, want at least %d", count, minPads))
	}

	if new(big.Int).GCD(nil, nil, big.NewInt(int64(count)), big.NewInt(qppPower)).Int64() != 1 {
		warnings = append(warnings, fmt.Sprintf("QPP warning: entropy_qpp_count %d, choose a prime number for security", count))
	}

	return warnings, nil
}
