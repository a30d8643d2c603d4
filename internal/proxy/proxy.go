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

// Package proxy implements the egress half of a tunnel pair: it accepts
// sessions from a relay (TCP accept for STREAM, UDP demux for DGRAM) and
// opens the real upstream TCP connection. Grounded on proxy.py's
// StreamProxy/DatagramProxy and link.py's StreamLink/DatagramLink.
package proxy

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/config"
	"github.com/xtaci/ouija/internal/dgram"
	"github.com/xtaci/ouija/internal/stream"
	"github.com/xtaci/ouija/internal/supervisor"
	"github.com/xtaci/ouija/internal/telemetry"
)

// Proxy owns the egress listener/socket and the links map. The map holds
// DGRAM links only, keyed by the peer UDP address, inserted only by the demux
// loop (spec §5 Shared resource policy), with peer-address collision reusing
// the existing link per spec §3 Ownership/lifecycle. STREAM links are not
// kept in the map; they only contribute to the active count.
type Proxy struct {
	Config    *config.Config
	Token     []byte
	Cipher    codec.Cipher
	Entropy   codec.Entropy
	Logger    *log.Logger
	Telemetry *telemetry.Telemetry

	mu    sync.Mutex
	links map[string]*dgram.Session // DGRAM only; STREAM links are not retained past Forward
	count int
}

// ListenAndServe dispatches to the STREAM or DGRAM egress loop per config.
func (p *Proxy) ListenAndServe() error {
	switch p.Config.Protocol {
	case config.ProtocolTCP:
		return p.listenStream()
	case config.ProtocolUDP:
		return p.listenDgram()
	default:
		return errors.Errorf("proxy: unrecognized protocol %q", p.Config.Protocol)
	}
}

func (p *Proxy) addr() string {
	return fmt.Sprintf("%s:%d", p.Config.ProxyHost, p.Config.ProxyPort)
}

func (p *Proxy) listenStream() error {
	ln, err := net.Listen("tcp", p.addr())
	if err != nil {
		return errors.Wrap(err, "proxy: listen")
	}
	defer ln.Close()

	servingTimeout := time.Duration(p.Config.ServingTimeout) * time.Second

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "proxy: accept")
		}
		go supervisor.Guard(p.Logger, p.Telemetry, servingTimeout*2, func() { conn.Close() }, func() {
			p.linkStream(conn)
		})
	}
}

func (p *Proxy) linkStream(conn net.Conn) {
	defer conn.Close()

	cfg := stream.Config{
		Cipher:         p.Cipher,
		Entropy:        p.Entropy,
		Compress:       p.Config.TCPCompress,
		TCPBuffer:      p.Config.TCPBuffer,
		TCPTimeout:     time.Duration(p.Config.TCPTimeout) * time.Second,
		MessageTimeout: time.Duration(p.Config.MessageTimeout) * time.Second,
		Logger:         p.Logger,
		Telemetry:      p.Telemetry,
	}

	res, err := stream.LinkHandshake(cfg, conn, p.Token)
	if err != nil {
		supervisor.LogSessionError(p.Logger, p.Telemetry, "proxy: stream handshake", err)
		return
	}

	target, err := net.Dial("tcp", fmt.Sprintf("%s:%d", res.Host, res.Port))
	if err != nil {
		p.log("proxy: dial target %s:%d: %v", res.Host, res.Port, err)
		return
	}
	defer target.Close()

	sess := stream.NewSession(cfg, target, conn, res.PeerReader)
	p.addActive()
	defer p.removeActive()
	if p.Telemetry != nil {
		p.Telemetry.IncLinks()
	}

	sess.Forward()
}

func (p *Proxy) listenDgram() error {
	conn, err := net.ListenPacket("udp", p.addr())
	if err != nil {
		return errors.Wrap(err, "proxy: listen udp")
	}
	defer conn.Close()

	buf := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return errors.Wrap(err, "proxy: read udp")
		}
		data := append([]byte(nil), buf[:n]...)

		sess := p.getOrCreateLink(conn, addr)
		sess.Process(data)
	}
}

// getOrCreateLink is the single-writer demux step (spec §5): only this loop
// ever inserts into links, and only a session's own teardown (via the
// goroutine spawned here) ever removes its entry.
func (p *Proxy) getOrCreateLink(conn net.PacketConn, addr net.Addr) *dgram.Session {
	key := addr.String()

	p.mu.Lock()
	if p.links == nil {
		p.links = make(map[string]*dgram.Session)
	}
	if sess, ok := p.links[key]; ok {
		p.mu.Unlock()
		return sess
	}

	cfg := dgram.Config{
		Tuning:    p.dgramTuning(),
		Cipher:    p.Cipher,
		Entropy:   p.Entropy,
		Token:     p.Token,
		Logger:    p.Logger,
		Telemetry: p.Telemetry,
	}
	sess := dgram.NewLinkSession(cfg, &packetTransport{conn: conn, addr: addr}, func(host string, port int) (io.ReadWriteCloser, error) {
		return net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	})
	p.links[key] = sess
	p.count++
	if p.Telemetry != nil {
		p.Telemetry.IncLinks()
	}
	p.mu.Unlock()

	go func() {
		<-sess.Done()
		p.mu.Lock()
		delete(p.links, key)
		p.count--
		p.mu.Unlock()
	}()

	servingTimeout := time.Duration(p.Config.ServingTimeout) * time.Second
	if servingTimeout > 0 {
		go func() {
			select {
			case <-sess.Done():
			case <-time.After(servingTimeout):
				sess.Close()
			}
		}()
	}

	return sess
}

func (p *Proxy) dgramTuning() dgram.Tuning {
	return dgram.Tuning{
		MinPayload:  p.Config.UDPMinPayload,
		MaxPayload:  p.Config.UDPMaxPayload,
		Timeout:     time.Duration(p.Config.UDPTimeout) * time.Second,
		Retries:     p.Config.UDPRetries,
		Capacity:    p.Config.UDPCapacity,
		ResendSleep: time.Duration(p.Config.UDPResendSleep) * time.Second,
		TCPBuffer:   p.Config.TCPBuffer,
	}
}

func (p *Proxy) addActive() {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}

func (p *Proxy) removeActive() {
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}

// ActiveCount reports the number of live links, for the telemetry monitor.
func (p *Proxy) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Proxy) log(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// packetTransport adapts a shared net.PacketConn + fixed peer addr to
// dgram.Transport. The underlying socket is shared by every DGRAM session on
// a proxy; WriteTo is safe for concurrent use (spec §5: "sends are
// serialized by the socket itself").
type packetTransport struct {
	conn net.PacketConn
	addr net.Addr
}

func (t *packetTransport) Send(data []byte) error {
	_, err := t.conn.WriteTo(data, t.addr)
	return err
}
