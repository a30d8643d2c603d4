package codec

import (
	"bytes"
	"testing"
)

func TestQPPEntropyRoundTrip(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	enc := NewQPPEntropy(seed, 31)
	dec := NewQPPEntropy(seed, 31)

	plain := []byte("the quick brown fox")
	scrambled := enc.Decrease(plain)
	if bytes.Equal(scrambled, plain) {
		t.Fatalf("expected QPP scrambling to change the bytes")
	}

	got := dec.Increase(scrambled)
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plain)
	}
}

func TestValidateQPPParamsRejectsZeroCount(t *testing.T) {
	if _, err := ValidateQPPParams(0, "seed"); err == nil {
		t.Fatalf("expected error for zero count")
	}
}

func TestValidateQPPParamsWarnsOnShortKey(t *testing.T) {
	warnings, err := ValidateQPPParams(31, "short")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected a warning for a short key")
	}
}
