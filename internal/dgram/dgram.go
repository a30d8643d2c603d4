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

// Package dgram implements the DGRAM session engine: a from-scratch
// reliable, ordered byte-stream session layered on unreliable datagrams,
// grounded on ouija.py's Ouija base class (send_retry/recv_data/
// process_wrapped/resend_wrapped/serve_wrapped) and the connector.py /
// link.py DatagramConnector/DatagramLink specializations.
package dgram

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/telemetry"
)

// Transport is the send-one abstraction a session uses to put an encoded
// packet on the wire; the receive path is pushed into the session via
// Process instead of pulled, since one UDP socket demuxes many sessions.
type Transport interface {
	Send(data []byte) error
}

// Role distinguishes which side of the handshake a session plays: it only
// affects OPEN handling (§4.5.1); DATA and CLOSE handling is symmetric.
type Role int

const (
	RoleConnector Role = iota
	RoleLink
)

// Tuning mirrors the udp_* configuration keys (spec §6).
type Tuning struct {
	MinPayload   int
	MaxPayload   int
	Timeout      time.Duration
	Retries      int
	Capacity     int
	ResendSleep  time.Duration
	TCPBuffer    int
}

// Config bundles everything a Session needs beyond its role and transport.
type Config struct {
	Tuning    Tuning
	Cipher    codec.Cipher
	Entropy   codec.Entropy
	Token     []byte
	Logger    *log.Logger
	Telemetry *telemetry.Telemetry
}

type sentEntry struct {
	bytes       []byte // fully encoded on-wire bytes, re-sent bit-identical
	firstSentAt time.Time
	retries     int
}

type recvEntry struct {
	bytes []byte
	drain bool
}

// Session owns one DGRAM tunnel: config, the local TCP half, the datagram
// transport handle, and the buffers/flags from spec §3.
type Session struct {
	cfg       Config
	role      Role
	transport Transport

	mu      sync.Mutex
	local   io.ReadWriteCloser // nil until OPEN completes, link side
	sentBuf map[uint32]*sentEntry
	recvBuf map[uint32]*recvEntry
	sentSeq uint32
	recvSeq uint32

	opened      int32
	active      int32 // "sync" in spec terms; named active to avoid shadowing the sync package
	readClosed  int32
	writeClosed int32
	closed      int32

	openedOnce      sync.Once
	openedCh        chan struct{}
	readClosedOnce  sync.Once
	readClosedCh    chan struct{}
	writeClosedOnce sync.Once
	writeClosedCh   chan struct{}

	retransmitDone chan struct{}
	doneCh         chan struct{}

	// dialLocal is used only on the link side: invoked once, the first time
	// a genuine (non-duplicate) OPEN request is accepted.
	dialLocal func(host string, port int) (io.ReadWriteCloser, error)
}

// Done returns a channel closed once the session has fully torn down
// (DEAD, per §4.5.1), so an owning dispatch map knows when to remove its
// entry and release the transport.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// NewConnectorSession builds a session for the relay side. local is the
// client-facing TCP connection, already accepted; transport is this
// connector's dedicated UDP socket to the proxy.
func NewConnectorSession(cfg Config, transport Transport, local io.ReadWriteCloser) *Session {
	s := newSession(cfg, RoleConnector, transport)
	s.local = local
	return s
}

// NewLinkSession builds a session for the proxy side. dialLocal is called
// once token verification succeeds on the first OPEN request, to open the
// real upstream TCP connection.
func NewLinkSession(cfg Config, transport Transport, dialLocal func(host string, port int) (io.ReadWriteCloser, error)) *Session {
	s := newSession(cfg, RoleLink, transport)
	s.dialLocal = dialLocal
	return s
}

func newSession(cfg Config, role Role, transport Transport) *Session {
	return &Session{
		cfg:            cfg,
		role:           role,
		transport:      transport,
		sentBuf:        make(map[uint32]*sentEntry),
		recvBuf:        make(map[uint32]*recvEntry),
		openedCh:       make(chan struct{}),
		readClosedCh:   make(chan struct{}),
		writeClosedCh:  make(chan struct{}),
		retransmitDone: make(chan struct{}),
		doneCh:         make(chan struct{}),
		active:         1,
	}
}

func (s *Session) IsOpened() bool      { return atomic.LoadInt32(&s.opened) == 1 }
func (s *Session) IsActive() bool      { return atomic.LoadInt32(&s.active) == 1 }
func (s *Session) IsReadClosed() bool  { return atomic.LoadInt32(&s.readClosed) == 1 }
func (s *Session) IsWriteClosed() bool { return atomic.LoadInt32(&s.writeClosed) == 1 }

func (s *Session) setOpened() {
	s.openedOnce.Do(func() {
		atomic.StoreInt32(&s.opened, 1)
		close(s.openedCh)
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.IncOpened()
		}
	})
}

func (s *Session) setReadClosed() {
	s.readClosedOnce.Do(func() {
		atomic.StoreInt32(&s.readClosed, 1)
		close(s.readClosedCh)
	})
}

func (s *Session) setWriteClosed() {
	s.writeClosedOnce.Do(func() {
		atomic.StoreInt32(&s.writeClosed, 1)
		close(s.writeClosedCh)
	})
}

func (s *Session) clearActive() {
	atomic.StoreInt32(&s.active, 0)
}

func (s *Session) log(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}
