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

// Package stream implements the STREAM session engine: cipher-framed,
// message-delimited duplex forwarding between a client-facing TCP socket
// and a peer-facing TCP socket, grounded on tcp/ouija.py's Direction-tagged
// forward loop.
package stream

import (
	"bufio"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/telemetry"
	"github.com/xtaci/ouija/internal/wire"
)

// Config holds the codec and timing knobs shared by both forwarders of a
// session, threaded in rather than read from ambient globals (REDESIGN
// FLAGS: "Global logging").
type Config struct {
	Cipher         codec.Cipher
	Entropy        codec.Entropy
	Compress       bool // tcp_compress: snappy-compress plaintext before framing
	TCPBuffer      int
	TCPTimeout     time.Duration
	MessageTimeout time.Duration
	Logger         *log.Logger
	Telemetry      *telemetry.Telemetry
}

// Session owns one STREAM tunnel: a client-side socket and a peer-side
// socket, forwarding bytes between them until either side's EOF or the
// outer serving timeout.
type Session struct {
	cfg        Config
	client     net.Conn
	peer       net.Conn
	peerReader *bufio.Reader // carries forward any bytes buffered during handshake

	sync   int32 // atomic bool, 1 while forwarding
	closed int32 // atomic bool, guards idempotent Close
}

// NewSession wraps an already-handshaken client/peer pair. peerReader, if
// non-nil, is the *bufio.Reader the handshake used to read from peer: reused
// here so any bytes it already buffered past the handshake record are not
// lost when forwarding begins.
func NewSession(cfg Config, client, peer net.Conn, peerReader *bufio.Reader) *Session {
	if peerReader == nil {
		peerReader = bufio.NewReader(peer)
	}
	return &Session{cfg: cfg, client: client, peer: peer, peerReader: peerReader, sync: 1}
}

// Forward runs both cooperative forwarders and blocks until both have
// exited (EOF, error, or sync cleared), then tears the session down.
// Per spec §4.4: crypt=true reads plaintext from client and writes framed
// ciphertext to peer; crypt=false reads frames from peer and writes
// plaintext to client.
func (s *Session) Forward() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.forwardCrypt(s.client, s.peer)
	}()
	go func() {
		defer wg.Done()
		s.forwardDecrypt(s.peer, s.client)
	}()

	wg.Wait()
	s.Close()
}

// forwardCrypt is the crypt=true direction: plaintext in, framed ciphertext
// out. A read timeout is not fatal: it just re-checks the sync flag.
func (s *Session) forwardCrypt(src, dst net.Conn) {
	buf := make([]byte, s.cfg.TCPBuffer)
	for atomic.LoadInt32(&s.sync) == 1 {
		src.SetReadDeadline(time.Now().Add(s.cfg.TCPTimeout))
		n, err := src.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.fail()
			return
		}
		payload := buf[:n]
		if s.cfg.Compress {
			payload = snappy.Encode(nil, payload)
		}

		frame, err := wire.EncodeFrame(s.cfg.Cipher, s.cfg.Entropy, payload)
		if err != nil {
			s.log("stream: encode frame: %v", err)
			s.fail()
			return
		}
		if _, err := dst.Write(frame); err != nil {
			s.fail()
			return
		}
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.AddBytesSent(n)
		}
	}
}

// forwardDecrypt is the crypt=false direction: framed ciphertext in,
// plaintext out. Per spec §9 open question 3, this side must stay
// record-delimited (readuntil(SEPARATOR)), never switch to raw read(n).
func (s *Session) forwardDecrypt(src, dst net.Conn) {
	br := s.peerReader
	for atomic.LoadInt32(&s.sync) == 1 {
		src.SetReadDeadline(time.Now().Add(s.cfg.MessageTimeout))
		data, err := wire.ReadFrame(br, s.cfg.Cipher, s.cfg.Entropy)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.fail()
			return
		}
		if s.cfg.Compress {
			data, err = snappy.Decode(nil, data)
			if err != nil {
				s.log("stream: snappy decode: %v", err)
				s.fail()
				return
			}
		}

		if _, err := dst.Write(data); err != nil {
			s.fail()
			return
		}
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.AddBytesRecv(len(data))
		}
	}
}

func (s *Session) fail() {
	atomic.StoreInt32(&s.sync, 0)
}

func (s *Session) log(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

// Close clears sync and closes both sockets, best-effort, exactly once,
// satisfying the idempotent-close invariant shared with DGRAM (spec §4.4
// Teardown, §8 property 6).
func (s *Session) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	atomic.StoreInt32(&s.sync, 0)
	s.client.Close()
	s.peer.Close()
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.IncClosed()
	}
	return nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
