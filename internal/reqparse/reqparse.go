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

// Package reqparse extracts method/host/port from the first line of an
// inbound HTTP request, the way rawparser.py's regex does, and supports
// re-feeding the consumed bytes back into the stream so a non-CONNECT
// request can still be proxied as plaintext.
package reqparse

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

const (
	defaultHTTPSPort = 443
	defaultHTTPPort  = 80
)

// requestLine matches "METHOD [scheme://]host[:port][/path] HTTP/x.y",
// tolerating both CONNECT's bare "host:port" authority form and a normal
// absolute-form request line.
var requestLine = regexp.MustCompile(`^([A-Z]+)\s+(?:[a-zA-Z][a-zA-Z0-9+.-]*://)?([^\s:/]+)(?::(\d+))?(?:/\S*)?\s+HTTP/\d\.\d\s*\r?\n?$`)

// Result is the outcome of parsing one request line.
type Result struct {
	Method string
	Host   string
	Port   int
	// Raw is the exact bytes consumed from the connection to read this
	// line (including its trailing CRLF), for Reinject.
	Raw []byte
}

// IsConnect reports whether the parsed method was CONNECT.
func (r Result) IsConnect() bool { return r.Method == "CONNECT" }

// Parse reads a single line from br and extracts method/host/port. On parse
// failure the caller should reject the session without a reply, per spec §7.
func Parse(br *bufio.Reader) (Result, error) {
	raw, err := br.ReadBytes('\n')
	if err != nil {
		return Result{}, errors.Wrap(err, "reqparse: read request line")
	}

	m := requestLine.FindSubmatch(raw)
	if m == nil {
		return Result{}, errors.Errorf("reqparse: malformed request line %q", bytes.TrimSpace(raw))
	}

	method := string(m[1])
	host := string(m[2])

	port := defaultHTTPPort
	if method == "CONNECT" {
		port = defaultHTTPSPort
	}
	if len(m[3]) > 0 {
		p, err := strconv.Atoi(string(m[3]))
		if err != nil {
			return Result{}, errors.Wrap(err, "reqparse: invalid port")
		}
		port = p
	}

	return Result{Method: method, Host: host, Port: port, Raw: raw}, nil
}

// Reinject returns a *bufio.Reader that yields r.Raw before falling through
// to br's remaining buffered and unread bytes, mirroring rawparser.py's
// reader.feed_data(data) path for non-CONNECT passthrough (spec §4.3, §6).
func Reinject(br *bufio.Reader, r Result) *bufio.Reader {
	return bufio.NewReader(io.MultiReader(bytes.NewReader(r.Raw), br))
}
