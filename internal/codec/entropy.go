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

import "math"

// SimpleEntropy is the reference Entropy codec: it inserts the most frequent
// byte of the input as filler every rate-1 payload bytes, only when the
// remaining tail is a full-sized group. The filler value itself never needs
// to travel on the wire: Increase strips one byte out of every rate-sized
// group without inspecting its value, so picking "the lowest-valued byte
// among those tied for most frequent" is an arbitrary but bit-for-bit
// reproducible choice, preserved here exactly as the reference does it.
type SimpleEntropy struct {
	Rate int
}

func (e SimpleEntropy) Decrease(data []byte) []byte {
	if e.Rate < 2 || len(data) == 0 {
		return data
	}
	filler := mostFrequentByte(data)
	group := e.Rate - 1

	out := make([]byte, 0, len(data)+len(data)/group+1)
	i := 0
	for i+group <= len(data) {
		out = append(out, data[i:i+group]...)
		out = append(out, filler)
		i += group
	}
	out = append(out, data[i:]...)
	return out
}

func (e SimpleEntropy) Increase(data []byte) []byte {
	if e.Rate < 2 || len(data) == 0 {
		return data
	}
	group := e.Rate - 1

	out := make([]byte, 0, len(data))
	i := 0
	for i+e.Rate <= len(data) {
		out = append(out, data[i:i+group]...)
		i += e.Rate
	}
	out = append(out, data[i:]...)
	return out
}

// mostFrequentByte returns the byte value with the highest occurrence count
// in data, breaking ties by choosing the lowest byte value.
func mostFrequentByte(data []byte) byte {
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	best := byte(0)
	bestCount := counts[0]
	for v := 1; v < 256; v++ {
		if counts[v] > bestCount {
			bestCount = counts[v]
			best = byte(v)
		}
	}
	return best
}

// ShannonEntropy computes the base-2 Shannon entropy of data over its byte
// symbol distribution, exposed purely for telemetry per spec §4.1.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
