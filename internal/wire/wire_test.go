package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/xtaci/ouija/internal/codec"
)

func TestMessageRoundTripWithHostPort(t *testing.T) {
	c := codec.NewFernetCipher([]byte("key"))
	e := codec.SimpleEntropy{Rate: 4}

	msg := NewRequestMessage([]byte("secret"), "example.com", 443)
	encoded, err := EncodeMessage(c, e, msg)
	if err != nil {
		t.Fatalf("EncodeMessage returned error: %v", err)
	}

	br := bufio.NewReader(bytes.NewReader(encoded))
	got, err := ReadMessage(br, c, e)
	if err != nil {
		t.Fatalf("ReadMessage returned error: %v", err)
	}
	if string(got.Token) != "secret" || got.Host == nil || *got.Host != "example.com" || got.Port == nil || *got.Port != 443 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMessageRoundTripAckOnly(t *testing.T) {
	c := codec.NullCipher{}
	e := codec.NullEntropy{}

	msg := NewAckMessage([]byte("secret"))
	encoded, err := EncodeMessage(c, e, msg)
	if err != nil {
		t.Fatalf("EncodeMessage returned error: %v", err)
	}
	br := bufio.NewReader(bytes.NewReader(encoded))
	got, err := ReadMessage(br, c, e)
	if err != nil {
		t.Fatalf("ReadMessage returned error: %v", err)
	}
	if got.Host != nil || got.Port != nil {
		t.Fatalf("expected nil host/port on ack message, got %+v", got)
	}
}

func TestReadMessageStopsAtSeparatorNotEarlier(t *testing.T) {
	c := codec.NullCipher{}
	e := codec.NullEntropy{}

	first, err := EncodeMessage(c, e, NewAckMessage([]byte("a")))
	if err != nil {
		t.Fatalf("EncodeMessage returned error: %v", err)
	}
	second, err := EncodeMessage(c, e, NewAckMessage([]byte("b")))
	if err != nil {
		t.Fatalf("EncodeMessage returned error: %v", err)
	}

	br := bufio.NewReader(bytes.NewReader(append(append([]byte{}, first...), second...)))
	got1, err := ReadMessage(br, c, e)
	if err != nil {
		t.Fatalf("first ReadMessage returned error: %v", err)
	}
	if string(got1.Token) != "a" {
		t.Fatalf("expected first record token 'a', got %q", got1.Token)
	}
	got2, err := ReadMessage(br, c, e)
	if err != nil {
		t.Fatalf("second ReadMessage returned error: %v", err)
	}
	if string(got2.Token) != "b" {
		t.Fatalf("expected second record token 'b', got %q", got2.Token)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	c := codec.NewFernetCipher([]byte("key"))
	e := codec.NullEntropy{}

	encoded, err := EncodeFrame(c, e, []byte("ping"))
	if err != nil {
		t.Fatalf("EncodeFrame returned error: %v", err)
	}
	br := bufio.NewReader(bytes.NewReader(encoded))
	got, err := ReadFrame(br, c, e)
	if err != nil {
		t.Fatalf("ReadFrame returned error: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("expected 'ping', got %q", got)
	}
}

func TestPacketRoundTripOpenRequest(t *testing.T) {
	c := codec.NewFernetCipher([]byte("key"))
	e := codec.SimpleEntropy{Rate: 3}

	p := NewOpenRequest([]byte("secret"), "example.com", 8080)
	encoded, err := EncodePacket(c, e, p)
	if err != nil {
		t.Fatalf("EncodePacket returned error: %v", err)
	}
	got, err := DecodePacket(c, e, encoded)
	if err != nil {
		t.Fatalf("DecodePacket returned error: %v", err)
	}
	if got.Phase != PhaseOpen || got.Ack || got.Host == nil || *got.Host != "example.com" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPacketRoundTripData(t *testing.T) {
	c := codec.NullCipher{}
	e := codec.NullEntropy{}

	p := NewData(7, []byte("abcd"), true)
	encoded, err := EncodePacket(c, e, p)
	if err != nil {
		t.Fatalf("EncodePacket returned error: %v", err)
	}
	got, err := DecodePacket(c, e, encoded)
	if err != nil {
		t.Fatalf("DecodePacket returned error: %v", err)
	}
	seq, ok := got.SeqOf()
	if !ok || seq != 7 {
		t.Fatalf("expected seq=7, got %v ok=%v", seq, ok)
	}
	if string(got.Data) != "abcd" || !got.DrainSet() {
		t.Fatalf("unexpected data/drain: %+v", got)
	}
}

func TestPacketNilFieldsOmittedOnWire(t *testing.T) {
	c := codec.NullCipher{}
	e := codec.NullEntropy{}

	closeReq, err := EncodePacket(c, e, NewCloseRequest())
	if err != nil {
		t.Fatalf("EncodePacket returned error: %v", err)
	}
	ackOnly, err := EncodePacket(c, e, NewOpenAck([]byte("t")))
	if err != nil {
		t.Fatalf("EncodePacket returned error: %v", err)
	}
	// A close request encodes far fewer bytes than an OPEN ack that carries
	// a token, which is a cheap proxy for "nil fields are genuinely absent"
	// without depending on cbor's internal layout.
	if len(closeReq) >= len(ackOnly) {
		t.Fatalf("expected close request encoding to be smaller than a token-bearing ack")
	}
}

func TestDecodePacketRejectsUnknownPhase(t *testing.T) {
	c := codec.NullCipher{}
	e := codec.NullEntropy{}

	// Hand-build a record with an out-of-range phase by setting the Phase
	// field on the struct before encoding, rather than poking the wire
	// bytes, since cbor field order is not guaranteed stable enough to poke.
	p := Packet{Phase: 99, Ack: false}
	encoded, err := EncodePacket(c, e, p)
	if err != nil {
		t.Fatalf("EncodePacket returned error: %v", err)
	}
	if _, err := DecodePacket(c, e, encoded); err == nil || !IsUnknownPhase(err) {
		t.Fatalf("expected unknown phase error, got %v", err)
	}
}
