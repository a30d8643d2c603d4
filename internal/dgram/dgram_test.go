package dgram

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/wire"
)

// memTransport ferries encoded datagrams to a peer session's Process, running
// an optional drop filter to simulate loss for S4.
type memTransport struct {
	mu     sync.Mutex
	peer   *Session
	drop   func(data []byte) bool
	dropN  int
}

func (t *memTransport) Send(data []byte) error {
	t.mu.Lock()
	drop := t.drop != nil && t.drop(data)
	t.mu.Unlock()
	if drop {
		t.dropN++
		return nil
	}
	go t.peer.Process(append([]byte(nil), data...))
	return nil
}

func testTuning() Tuning {
	return Tuning{
		MinPayload:  4,
		MaxPayload:  4,
		Timeout:     30 * time.Millisecond,
		Retries:     5,
		Capacity:    64,
		ResendSleep: 10 * time.Millisecond,
		TCPBuffer:   4096,
	}
}

type pipeEnd struct {
	r io.Reader
	w io.Writer
}

func (p pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipeEnd) Close() error                { return nil }

// TestSingleWriteChunking covers S3: a 10-byte write with payload=4 splits
// into chunks 4,4,2 with drain set only on the last.
func TestSingleWriteChunking(t *testing.T) {
	token := []byte("tok")
	cipher := codec.NullCipher{}
	entropy := codec.NullEntropy{}

	clientR, clientW := io.Pipe()     // test -> connector's local reader
	upstreamR, upstreamW := io.Pipe() // link's local writer -> test
	idleR, _ := io.Pipe()             // link's local reader, never written

	connLocal := pipeEnd{r: clientR, w: io.Discard}

	connCfg := Config{Tuning: testTuning(), Cipher: cipher, Entropy: entropy, Token: token}
	linkCfg := Config{Tuning: testTuning(), Cipher: cipher, Entropy: entropy, Token: token}

	var linkSess *Session
	connTransport := &memTransport{}
	linkTransport := &memTransport{}

	connSess := NewConnectorSession(connCfg, connTransport, connLocal)
	linkSess = NewLinkSession(linkCfg, linkTransport, func(host string, port int) (io.ReadWriteCloser, error) {
		return pipeEnd{r: idleR, w: upstreamW}, nil
	})
	connTransport.peer = linkSess
	linkTransport.peer = connSess

	// Record every DATA request the connector puts on the wire, keyed by seq
	// so retransmitted copies collapse into one entry.
	var mu sync.Mutex
	chunks := make(map[uint32]wire.Packet)
	connTransport.drop = func(data []byte) bool {
		if pkt, err := wire.DecodePacket(cipher, entropy, data); err == nil && pkt.Phase == wire.PhaseData && !pkt.Ack {
			if seq, ok := pkt.SeqOf(); ok {
				mu.Lock()
				chunks[seq] = pkt
				mu.Unlock()
			}
		}
		return false
	}

	done := make(chan error, 1)
	go func() { done <- connSess.Serve("example.com", 443) }()
	if err := <-done; err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	if _, err := clientW.Write([]byte("0123456789")); err != nil {
		t.Fatalf("local write: %v", err)
	}

	buf := make([]byte, 10)
	read := 0
	deadline := time.Now().Add(time.Second)
	for read < 10 && time.Now().Before(deadline) {
		n, _ := upstreamR.Read(buf[read:])
		read += n
	}
	if string(buf[:read]) != "0123456789" {
		t.Fatalf("expected upstream to see full payload, got %q", buf[:read])
	}

	mu.Lock()
	defer mu.Unlock()
	wantSizes := []int{4, 4, 2}
	if len(chunks) != len(wantSizes) {
		t.Fatalf("expected %d DATA chunks, got %d", len(wantSizes), len(chunks))
	}
	for i, want := range wantSizes {
		pkt, ok := chunks[uint32(i)]
		if !ok || len(pkt.Data) != want || pkt.DrainSet() != (i == len(wantSizes)-1) {
			t.Fatalf("chunk seq=%d: got %+v, want %d bytes with drain only on the last chunk", i, pkt, want)
		}
	}
}

// TestLossyRetransmit covers S4: the first DATA packet is dropped once; the
// retransmit loop must resend it within a couple of udp_timeout intervals.
func TestLossyRetransmit(t *testing.T) {
	token := []byte("tok")
	cipher := codec.NullCipher{}
	entropy := codec.NullEntropy{}

	clientR, clientW := io.Pipe()     // test -> connector's local reader
	upstreamR, upstreamW := io.Pipe() // link's local writer -> test
	idleR, _ := io.Pipe()             // link's local reader, never written
	connLocal := pipeEnd{r: clientR, w: io.Discard}

	connCfg := Config{Tuning: testTuning(), Cipher: cipher, Entropy: entropy, Token: token}
	linkCfg := Config{Tuning: testTuning(), Cipher: cipher, Entropy: entropy, Token: token}

	connTransport := &memTransport{}
	linkTransport := &memTransport{}

	connSess := NewConnectorSession(connCfg, connTransport, connLocal)
	linkSess := NewLinkSession(linkCfg, linkTransport, func(host string, port int) (io.ReadWriteCloser, error) {
		return pipeEnd{r: idleR, w: upstreamW}, nil
	})
	connTransport.peer = linkSess
	linkTransport.peer = connSess

	if err := connSess.Serve("example.com", 443); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	var droppedOnce sync.Once
	connTransport.mu.Lock()
	connTransport.drop = func(data []byte) bool {
		dropped := false
		droppedOnce.Do(func() { dropped = true })
		return dropped
	}
	connTransport.mu.Unlock()

	if _, err := clientW.Write([]byte("abcd")); err != nil {
		t.Fatalf("local write: %v", err)
	}

	buf := make([]byte, 4)
	read := 0
	resultCh := make(chan struct{})
	go func() {
		for read < 4 {
			n, err := upstreamR.Read(buf[read:])
			read += n
			if err != nil {
				break
			}
		}
		close(resultCh)
	}()

	select {
	case <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for retransmit to deliver dropped chunk")
	}
	if string(buf[:read]) != "abcd" {
		t.Fatalf("expected retransmit to deliver dropped chunk, got %q", buf[:read])
	}
}

// TestSentBufOverloadTeardown covers S5: once sent_buf reaches udp_capacity
// because the peer never acks, the session must tear itself down rather than
// grow sent_buf without bound.
func TestSentBufOverloadTeardown(t *testing.T) {
	token := []byte("tok")
	cipher := codec.NullCipher{}
	entropy := codec.NullEntropy{}

	clientR, clientW := io.Pipe() // test -> connector's local reader
	idleR, _ := io.Pipe()         // link's local reader, never written
	connLocal := pipeEnd{r: clientR, w: io.Discard}

	tuning := testTuning()
	tuning.Capacity = 3
	connCfg := Config{Tuning: tuning, Cipher: cipher, Entropy: entropy, Token: token}
	linkCfg := Config{Tuning: tuning, Cipher: cipher, Entropy: entropy, Token: token}

	connTransport := &memTransport{}
	linkTransport := &memTransport{}

	connSess := NewConnectorSession(connCfg, connTransport, connLocal)
	linkSess := NewLinkSession(linkCfg, linkTransport, func(host string, port int) (io.ReadWriteCloser, error) {
		return pipeEnd{r: idleR, w: io.Discard}, nil
	})
	connTransport.peer = linkSess
	linkTransport.peer = connSess

	if err := connSess.Serve("example.com", 443); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	// Drop everything after OPEN so DATA is never acked and sent_buf piles up
	// instead of draining.
	connTransport.mu.Lock()
	connTransport.drop = func(data []byte) bool { return true }
	connTransport.mu.Unlock()

	payload := make([]byte, tuning.MaxPayload*(tuning.Capacity+2))
	if _, err := clientW.Write(payload); err != nil {
		t.Fatalf("local write: %v", err)
	}

	select {
	case <-connSess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session to tear down once sent_buf exceeded capacity")
	}
}

// TestHalfCloseWaitsForSentBufDrain covers S6: on local EOF, CLOSE must not
// reach the wire until the retransmit loop has drained sent_buf. This is a
// regression guard for the ordering bug where Close sent CLOSE immediately
// after clearing sync, ahead of outstanding unacked DATA.
func TestHalfCloseWaitsForSentBufDrain(t *testing.T) {
	token := []byte("tok")
	cipher := codec.NullCipher{}
	entropy := codec.NullEntropy{}

	clientR, clientW := io.Pipe() // test -> connector's local reader
	idleR, _ := io.Pipe()         // link's local reader, never written
	connLocal := pipeEnd{r: clientR, w: io.Discard}

	tuning := testTuning()
	connCfg := Config{Tuning: tuning, Cipher: cipher, Entropy: entropy, Token: token}
	linkCfg := Config{Tuning: tuning, Cipher: cipher, Entropy: entropy, Token: token}

	connTransport := &memTransport{}
	linkTransport := &memTransport{}

	connSess := NewConnectorSession(connCfg, connTransport, connLocal)
	linkSess := NewLinkSession(linkCfg, linkTransport, func(host string, port int) (io.ReadWriteCloser, error) {
		return pipeEnd{r: idleR, w: io.Discard}, nil
	})
	connTransport.peer = linkSess
	linkTransport.peer = connSess

	if err := connSess.Serve("example.com", 443); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	var mu sync.Mutex
	var sawClose bool
	var dropData int32 = 1

	connTransport.mu.Lock()
	connTransport.drop = func(data []byte) bool {
		pkt, err := wire.DecodePacket(cipher, entropy, data)
		if err != nil {
			return false
		}
		if pkt.Phase == wire.PhaseClose && !pkt.Ack {
			mu.Lock()
			sawClose = true
			mu.Unlock()
		}
		return pkt.Phase == wire.PhaseData && !pkt.Ack && atomic.LoadInt32(&dropData) == 1
	}
	connTransport.mu.Unlock()

	if _, err := clientW.Write([]byte("abcd")); err != nil {
		t.Fatalf("local write: %v", err)
	}
	// Signal local EOF so the session begins its orderly half-close while
	// the DATA chunk above is still unacked (being dropped, above).
	clientW.Close()

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	closedEarly := sawClose
	mu.Unlock()
	if closedEarly {
		t.Fatalf("CLOSE reached the wire before sent_buf drained")
	}

	// Let sent_buf age out and drain; CLOSE should follow.
	atomic.StoreInt32(&dropData, 0)

	select {
	case <-connSess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session never completed its half-close")
	}

	mu.Lock()
	defer mu.Unlock()
	if !sawClose {
		t.Fatalf("expected CLOSE to reach the wire once sent_buf drained")
	}
}
