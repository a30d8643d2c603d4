package reqparse

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

func TestParseConnectDefaultsPort443(t *testing.T) {
	br := bufio.NewReader(bytes.NewBufferString("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	r, err := Parse(br)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !r.IsConnect() || r.Host != "example.com" || r.Port != 443 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestParseConnectWithoutExplicitPortStillDefaults(t *testing.T) {
	br := bufio.NewReader(bytes.NewBufferString("CONNECT example.com HTTP/1.1\r\n"))
	r, err := Parse(br)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if r.Port != 443 {
		t.Fatalf("expected default CONNECT port 443, got %d", r.Port)
	}
}

func TestParseGetDefaultsPort80(t *testing.T) {
	br := bufio.NewReader(bytes.NewBufferString("GET http://example.com/path HTTP/1.1\r\n"))
	r, err := Parse(br)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if r.IsConnect() || r.Host != "example.com" || r.Port != 80 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestParseExplicitPortOverridesDefault(t *testing.T) {
	br := bufio.NewReader(bytes.NewBufferString("GET http://example.com:8080/path HTTP/1.1\r\n"))
	r, err := Parse(br)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if r.Port != 8080 {
		t.Fatalf("expected explicit port 8080, got %d", r.Port)
	}
}

func TestParseMalformedLineFails(t *testing.T) {
	br := bufio.NewReader(bytes.NewBufferString("not a request line\r\n"))
	if _, err := Parse(br); err == nil {
		t.Fatalf("expected error for malformed request line")
	}
}

func TestReinjectReplaysConsumedBytes(t *testing.T) {
	original := "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\nbody"
	br := bufio.NewReader(bytes.NewBufferString(original))
	r, err := Parse(br)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	fed := Reinject(br, r)
	all, err := io.ReadAll(fed)
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if string(all) != original {
		t.Fatalf("reinject did not reproduce original bytes: got %q want %q", all, original)
	}
}
