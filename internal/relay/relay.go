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

// Package relay implements the client-facing half of a tunnel pair: it
// accepts plain TCP, speaks just enough HTTP to learn the tunneled
// destination, and hands the connection to either a STREAM or DGRAM
// connector bound to the configured proxy. Grounded on ouija.py's Relay /
// StreamRelay / DatagramRelay and connector.py's StreamConnector /
// DatagramConnector.
package relay

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/config"
	"github.com/xtaci/ouija/internal/dgram"
	"github.com/xtaci/ouija/internal/reqparse"
	"github.com/xtaci/ouija/internal/stream"
	"github.com/xtaci/ouija/internal/supervisor"
	"github.com/xtaci/ouija/internal/telemetry"
)

const connectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// Relay owns the client-facing listener and the connectors map: a set of
// random connector uids for live sessions, mutated only by each session's
// own goroutine, which registers its uid once serving starts and removes it
// on teardown (spec §3 Ownership/lifecycle). Values carry no behavior; the
// map exists purely so ActiveCount can feed the telemetry monitor.
type Relay struct {
	Config    *config.Config
	Token     []byte
	Cipher    codec.Cipher
	Entropy   codec.Entropy
	Logger    *log.Logger
	Telemetry *telemetry.Telemetry

	mu         sync.Mutex
	connectors map[string]struct{}
}

// ListenAndServe accepts inbound TCP connections until the listener is
// closed or an unrecoverable accept error occurs.
func (r *Relay) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", r.Config.RelayHost, r.Config.RelayPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "relay: listen")
	}
	defer ln.Close()

	servingTimeout := time.Duration(r.Config.ServingTimeout) * time.Second

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "relay: accept")
		}
		go supervisor.Guard(r.Logger, r.Telemetry, servingTimeout*2, func() { conn.Close() }, func() {
			r.handle(conn)
		})
	}
}

// handle mirrors Relay.connect_wrapped: parse the first request line, reinject
// non-CONNECT bytes, and dispatch to the configured engine.
func (r *Relay) handle(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(time.Duration(r.Config.MessageTimeout) * time.Second))
	result, err := reqparse.Parse(br)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		r.log("relay: parse error: %v", err)
		return
	}

	https := result.IsConnect()
	client := net.Conn(conn)
	if !https {
		// Re-feed the consumed request line so a plain (non-CONNECT) request
		// is still proxied byte-for-byte, per the plaintext-passthrough
		// feature: the engine's forwarder must see those bytes first.
		client = &bufferedConn{Conn: conn, r: reqparse.Reinject(br, result)}
	}

	switch r.Config.Protocol {
	case config.ProtocolTCP:
		r.serveStream(client, result.Host, result.Port, https)
	case config.ProtocolUDP:
		r.serveDgram(client, result.Host, result.Port, https)
	}
}

// bufferedConn is a net.Conn whose Read is satisfied from a *bufio.Reader
// that has already consumed (and may still hold buffered, re-injected) bytes
// from the underlying connection, per reqparse.Reinject.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (r *Relay) serveStream(conn net.Conn, host string, port int, https bool) {
	uid := uuid.New().String()

	peer, err := net.Dial("tcp", r.proxyAddr())
	if err != nil {
		r.log("relay: dial proxy: %v", err)
		return
	}
	defer peer.Close()

	cfg := stream.Config{
		Cipher:         r.Cipher,
		Entropy:        r.Entropy,
		Compress:       r.Config.TCPCompress,
		TCPBuffer:      r.Config.TCPBuffer,
		TCPTimeout:     time.Duration(r.Config.TCPTimeout) * time.Second,
		MessageTimeout: time.Duration(r.Config.MessageTimeout) * time.Second,
		Logger:         r.Logger,
		Telemetry:      r.Telemetry,
	}

	peerReader, err := stream.ConnectorHandshake(cfg, conn, peer, r.Token, host, port, https)
	if err != nil {
		supervisor.LogSessionError(r.Logger, r.Telemetry, "relay: stream handshake", err)
		return
	}

	sess := stream.NewSession(cfg, conn, peer, peerReader)
	r.register(uid)
	defer r.unregister(uid)
	if r.Telemetry != nil {
		r.Telemetry.IncLinks()
	}

	sess.Forward()
}

func (r *Relay) serveDgram(conn net.Conn, host string, port int, https bool) {
	uid := uuid.New().String()

	proxyAddr, err := net.ResolveUDPAddr("udp", r.proxyAddr())
	if err != nil {
		r.log("relay: resolve proxy addr: %v", err)
		return
	}
	udpConn, err := net.DialUDP("udp", nil, proxyAddr)
	if err != nil {
		r.log("relay: dial proxy udp: %v", err)
		return
	}
	defer udpConn.Close()

	cfg := dgram.Config{
		Tuning:    r.dgramTuning(),
		Cipher:    r.Cipher,
		Entropy:   r.Entropy,
		Token:     r.Token,
		Logger:    r.Logger,
		Telemetry: r.Telemetry,
	}

	sess := dgram.NewConnectorSession(cfg, &udpTransport{conn: udpConn}, conn)
	r.register(uid)
	defer r.unregister(uid)
	if r.Telemetry != nil {
		r.Telemetry.IncLinks()
	}

	go func() {
		buf := make([]byte, 65536)
		for {
			n, err := udpConn.Read(buf)
			if err != nil {
				return
			}
			sess.Process(append([]byte(nil), buf[:n]...))
		}
	}()

	if err := sess.Serve(host, port); err != nil {
		supervisor.LogSessionError(r.Logger, r.Telemetry, "relay: dgram serve", err)
		return
	}
	if https {
		conn.Write([]byte(connectionEstablished))
	}

	<-sess.Done()
}

func (r *Relay) dgramTuning() dgram.Tuning {
	return dgram.Tuning{
		MinPayload:  r.Config.UDPMinPayload,
		MaxPayload:  r.Config.UDPMaxPayload,
		Timeout:     time.Duration(r.Config.UDPTimeout) * time.Second,
		Retries:     r.Config.UDPRetries,
		Capacity:    r.Config.UDPCapacity,
		ResendSleep: time.Duration(r.Config.UDPResendSleep) * time.Second,
		TCPBuffer:   r.Config.TCPBuffer,
	}
}

func (r *Relay) proxyAddr() string {
	return fmt.Sprintf("%s:%d", r.Config.ProxyHost, r.Config.ProxyPort)
}

func (r *Relay) register(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectors == nil {
		r.connectors = make(map[string]struct{})
	}
	r.connectors[uid] = struct{}{}
}

func (r *Relay) unregister(uid string) {
	r.mu.Lock()
	delete(r.connectors, uid)
	r.mu.Unlock()
}

// ActiveCount reports the number of live connectors, for the telemetry monitor.
func (r *Relay) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connectors)
}

func (r *Relay) log(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// udpTransport adapts a connected *net.UDPConn to dgram.Transport.
type udpTransport struct {
	conn *net.UDPConn
}

func (t *udpTransport) Send(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}
