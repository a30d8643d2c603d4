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

// Package telemetry holds the monotonic counters both engines bump. Counters
// have no effect on behavior; they exist purely for the debug/monitor
// dumper, mirroring telemetry.py's Telemetry class.
package telemetry

import (
	"fmt"
	"sync/atomic"
)

// Telemetry is safe for concurrent use by every session sharing a relay or
// proxy process.
type Telemetry struct {
	Links    int64 // sessions created
	Opened   int64 // sessions that completed handshake
	Closed   int64 // sessions torn down

	BytesSent     int64
	BytesReceived int64
	PacketsSent   int64
	PacketsRecv   int64

	ProcessingErrors int64 // WireError
	TokenErrors      int64 // TokenMismatch
	TypeErrors       int64 // UnknownPhase
	TimeoutErrors    int64 // ServingTimeout
	ConnectionErrors int64 // ConnectionError
	ServingErrors    int64 // panic/defensive teardown, or a session-fatal handshake/serve error
	ResendErrors     int64 // SendRetryExhausted
	Overloads        int64 // BufferOverload
}

func (t *Telemetry) IncLinks()            { atomic.AddInt64(&t.Links, 1) }
func (t *Telemetry) IncOpened()           { atomic.AddInt64(&t.Opened, 1) }
func (t *Telemetry) IncClosed()           { atomic.AddInt64(&t.Closed, 1) }
func (t *Telemetry) AddBytesSent(n int)   { atomic.AddInt64(&t.BytesSent, int64(n)) }
func (t *Telemetry) AddBytesRecv(n int)   { atomic.AddInt64(&t.BytesReceived, int64(n)) }
func (t *Telemetry) IncPacketsSent()      { atomic.AddInt64(&t.PacketsSent, 1) }
func (t *Telemetry) IncPacketsRecv()      { atomic.AddInt64(&t.PacketsRecv, 1) }
func (t *Telemetry) IncProcessingError()  { atomic.AddInt64(&t.ProcessingErrors, 1) }
func (t *Telemetry) IncTokenError()       { atomic.AddInt64(&t.TokenErrors, 1) }
func (t *Telemetry) IncTypeError()        { atomic.AddInt64(&t.TypeErrors, 1) }
func (t *Telemetry) IncTimeoutError()     { atomic.AddInt64(&t.TimeoutErrors, 1) }
func (t *Telemetry) IncConnectionError()  { atomic.AddInt64(&t.ConnectionErrors, 1) }
func (t *Telemetry) IncServingError()     { atomic.AddInt64(&t.ServingErrors, 1) }
func (t *Telemetry) IncResendError()      { atomic.AddInt64(&t.ResendErrors, 1) }
func (t *Telemetry) IncOverload()         { atomic.AddInt64(&t.Overloads, 1) }

// Snapshot is a point-in-time copy safe to print or serialize.
type Snapshot struct {
	Links, Opened, Closed                                       int64
	BytesSent, BytesReceived, PacketsSent, PacketsRecv          int64
	ProcessingErrors, TokenErrors, TypeErrors, TimeoutErrors    int64
	ConnectionErrors, ServingErrors, ResendErrors, Overloads    int64
}

func (t *Telemetry) Snapshot() Snapshot {
	return Snapshot{
		Links:            atomic.LoadInt64(&t.Links),
		Opened:           atomic.LoadInt64(&t.Opened),
		Closed:           atomic.LoadInt64(&t.Closed),
		BytesSent:        atomic.LoadInt64(&t.BytesSent),
		BytesReceived:    atomic.LoadInt64(&t.BytesReceived),
		PacketsSent:      atomic.LoadInt64(&t.PacketsSent),
		PacketsRecv:      atomic.LoadInt64(&t.PacketsRecv),
		ProcessingErrors: atomic.LoadInt64(&t.ProcessingErrors),
		TokenErrors:      atomic.LoadInt64(&t.TokenErrors),
		TypeErrors:       atomic.LoadInt64(&t.TypeErrors),
		TimeoutErrors:    atomic.LoadInt64(&t.TimeoutErrors),
		ConnectionErrors: atomic.LoadInt64(&t.ConnectionErrors),
		ServingErrors:    atomic.LoadInt64(&t.ServingErrors),
		ResendErrors:     atomic.LoadInt64(&t.ResendErrors),
		Overloads:        atomic.LoadInt64(&t.Overloads),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"links=%d opened=%d closed=%d sent=%dB recv=%dB pkt_sent=%d pkt_recv=%d "+
			"processing_err=%d token_err=%d type_err=%d timeout_err=%d conn_err=%d "+
			"serving_err=%d resend_err=%d overload=%d",
		s.Links, s.Opened, s.Closed, s.BytesSent, s.BytesReceived, s.PacketsSent, s.PacketsRecv,
		s.ProcessingErrors, s.TokenErrors, s.TypeErrors, s.TimeoutErrors, s.ConnectionErrors,
		s.ServingErrors, s.ResendErrors, s.Overloads,
	)
}
