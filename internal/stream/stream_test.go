package stream

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/ouijaerr"
)

func testConfig() Config {
	return Config{
		Cipher:         codec.NewFernetCipher([]byte("test-key")),
		Entropy:        codec.NullEntropy{},
		TCPBuffer:      4096,
		TCPTimeout:     50 * time.Millisecond,
		MessageTimeout: time.Second,
	}
}

// TestHandshakeAndForward covers scenario S1: relay CONNECTs, proxy opens a
// loopback echo, client writes "ping" and gets "ping" back.
func TestHandshakeAndForward(t *testing.T) {
	cfg := testConfig()
	token := []byte("secret")

	relayPeer, proxyPeer := net.Pipe()   // relay<->proxy transport
	client, relayClient := net.Pipe()    // client<->relay
	upstream, linkUpstream := net.Pipe() // link<->upstream echo

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := upstream.Read(buf)
			if err != nil {
				return
			}
			upstream.Write(buf[:n])
		}
	}()

	linkDone := make(chan error, 1)
	go func() {
		res, err := LinkHandshake(cfg, proxyPeer, token)
		if err != nil {
			linkDone <- err
			return
		}
		if res.Host != "example.com" || res.Port != 443 {
			linkDone <- errUnexpected("host/port", res)
			return
		}
		sess := NewSession(cfg, linkUpstream, proxyPeer, res.PeerReader)
		go sess.Forward()
		linkDone <- nil
	}()

	connDone := make(chan error, 1)
	go func() {
		br, err := ConnectorHandshake(cfg, relayClient, relayPeer, token, "example.com", 443, true)
		if err != nil {
			connDone <- err
			return
		}
		sess := NewSession(cfg, relayClient, relayPeer, br)
		go sess.Forward()
		connDone <- nil
	}()

	if err := <-linkDone; err != nil {
		t.Fatalf("link handshake failed: %v", err)
	}

	// net.Pipe is unbuffered: ConnectorHandshake's banner write only returns
	// once the client reads it, so read the banner before waiting on connDone.
	banner := make([]byte, len(connectionEstablished))
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := readFull(client, banner); err != nil {
		t.Fatalf("reading CONNECT banner failed: %v", err)
	}
	if string(banner) != connectionEstablished {
		t.Fatalf("unexpected banner: %q", banner)
	}
	if err := <-connDone; err != nil {
		t.Fatalf("connector handshake failed: %v", err)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	echoed := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(client, echoed); err != nil {
		t.Fatalf("reading echo failed: %v", err)
	}
	if string(echoed) != "ping" {
		t.Fatalf("expected echoed 'ping', got %q", echoed)
	}

	client.Close()
	upstream.Close()
}

// TestForwardWithCompression exercises the tcp_compress path: both sides
// agree Compress=true, and a payload large enough to compress non-trivially
// still round-trips intact through the snappy-then-frame pipeline.
func TestForwardWithCompression(t *testing.T) {
	cfg := testConfig()
	cfg.Compress = true
	token := []byte("secret")

	relayPeer, proxyPeer := net.Pipe()
	client, relayClient := net.Pipe()
	upstream, linkUpstream := net.Pipe()

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte('a' + i%4) // low-entropy, compresses well
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := upstream.Read(buf)
			if err != nil {
				return
			}
			upstream.Write(buf[:n])
		}
	}()

	linkDone := make(chan error, 1)
	go func() {
		res, err := LinkHandshake(cfg, proxyPeer, token)
		if err != nil {
			linkDone <- err
			return
		}
		sess := NewSession(cfg, linkUpstream, proxyPeer, res.PeerReader)
		go sess.Forward()
		linkDone <- nil
	}()

	connDone := make(chan error, 1)
	go func() {
		br, err := ConnectorHandshake(cfg, relayClient, relayPeer, token, "example.com", 443, true)
		if err != nil {
			connDone <- err
			return
		}
		sess := NewSession(cfg, relayClient, relayPeer, br)
		go sess.Forward()
		connDone <- nil
	}()

	if err := <-linkDone; err != nil {
		t.Fatalf("link handshake failed: %v", err)
	}

	// Read the banner before waiting on connDone: the unbuffered net.Pipe
	// blocks ConnectorHandshake's banner write until the client reads it.
	banner := make([]byte, len(connectionEstablished))
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := readFull(client, banner); err != nil {
		t.Fatalf("reading CONNECT banner failed: %v", err)
	}
	if err := <-connDone; err != nil {
		t.Fatalf("connector handshake failed: %v", err)
	}

	if _, err := client.Write(payload); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	echoed := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(client, echoed); err != nil {
		t.Fatalf("reading echo failed: %v", err)
	}
	if string(echoed) != string(payload) {
		t.Fatalf("compressed round-trip mismatch")
	}

	client.Close()
	upstream.Close()
}

// TestHandshakeTokenMismatch covers scenario S2: relay and proxy configured
// with different tokens; the link must reject without replying.
func TestHandshakeTokenMismatch(t *testing.T) {
	cfg := testConfig()

	relayPeer, proxyPeer := net.Pipe()

	linkErr := make(chan error, 1)
	go func() {
		_, err := LinkHandshake(cfg, proxyPeer, []byte("other"))
		linkErr <- err
	}()

	client, relayClient := net.Pipe()
	defer client.Close()

	connErrCh := make(chan error, 1)
	go func() {
		_, err := ConnectorHandshake(cfg, relayClient, relayPeer, []byte("secret"), "example.com", 443, true)
		connErrCh <- err
	}()

	err := <-linkErr
	if err == nil {
		t.Fatalf("expected link to reject mismatched token")
	}
	if oerr, ok := err.(*ouijaerr.Error); !ok || oerr.Kind != ouijaerr.KindTokenMismatch {
		t.Fatalf("expected KindTokenMismatch, got %v", err)
	}

	connErr := <-connErrCh
	if connErr == nil {
		t.Fatalf("expected connector to see handshake failure (no reply from link)")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func errUnexpected(what string, v interface{}) error {
	return &unexpectedError{what: what, v: v}
}

type unexpectedError struct {
	what string
	v    interface{}
}

func (e *unexpectedError) Error() string {
	return e.what + ": unexpected value"
}
