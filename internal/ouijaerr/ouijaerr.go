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

// Package ouijaerr defines the error kinds a session can raise, mirroring the
// small exception hierarchy the reference implementation keeps in
// exception.py (TokenError, OnOpenError, OnServeError, SendRetryError).
package ouijaerr

import "fmt"

// Kind tags an error with the taxonomy from the error handling design: which
// errors are session-fatal, which are dropped per-packet, and which are
// transient and never propagate.
type Kind int

const (
	// KindTokenMismatch: peer presented the wrong shared secret. Session fatal.
	KindTokenMismatch Kind = iota
	// KindHandshakeFailure: timeout, incomplete read, or send-retry exhausted
	// during handshake. Session fatal.
	KindHandshakeFailure
	// KindBufferOverload: sent_buf or recv_buf reached udp_capacity. Session fatal.
	KindBufferOverload
	// KindWireError: ciphertext decrypt failure or unparseable record. The
	// packet is dropped; the session continues.
	KindWireError
	// KindUnknownPhase: packet phase tag not recognized. Dropped, session continues.
	KindUnknownPhase
	// KindConnectionError: local or peer TCP reset. Session fatal.
	KindConnectionError
	// KindServingTimeout: the outer wall-clock bound on a session expired.
	KindServingTimeout
	// KindSendRetryExhausted: an ack-helper control send (OPEN/CLOSE) used up
	// udp_retries without an ack. Session fatal.
	KindSendRetryExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTokenMismatch:
		return "token_mismatch"
	case KindHandshakeFailure:
		return "handshake_failure"
	case KindBufferOverload:
		return "buffer_overload"
	case KindWireError:
		return "wire_error"
	case KindUnknownPhase:
		return "unknown_phase"
	case KindConnectionError:
		return "connection_error"
	case KindServingTimeout:
		return "serving_timeout"
	case KindSendRetryExhausted:
		return "send_retry_exhausted"
	default:
		return "unknown"
	}
}

// Error is a typed, session-visible failure. Kind drives the propagation
// policy in the supervisor; Err, when present, is the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind wrapping cause (cause may be nil).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// Fatal reports whether errors of this kind must tear a session down, as
// opposed to being dropped per-packet or retried silently.
func (k Kind) Fatal() bool {
	switch k {
	case KindTokenMismatch, KindHandshakeFailure, KindBufferOverload,
		KindConnectionError, KindServingTimeout, KindSendRetryExhausted:
		return true
	default:
		return false
	}
}
