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

// Package supervisor holds the per-session timeout/recover wrapper and the
// debug telemetry dumper shared by internal/relay and internal/proxy,
// grounded on ouija.py's Relay.connect / Proxy.link (asyncio.wait_for +
// except Exception: telemetry.serving_error()) and Relay.debug/Proxy.debug.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xtaci/ouija/internal/ouijaerr"
	"github.com/xtaci/ouija/internal/telemetry"
)

// Guard runs fn to completion, isolating its panics from the caller: a crash
// inside one session's task must never take down the accept loop or any
// other session, mirroring the original's try/except around each
// asyncio.create_task. It also enforces an absolute wall-clock bound,
// invoking onTimeout (expected to run the session's idempotent close) if fn
// has not returned once the bound elapses.
func Guard(logger *log.Logger, tel *telemetry.Telemetry, timeout time.Duration, onTimeout func(), fn func()) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Printf("supervisor: session panic: %v", r)
				}
				if tel != nil {
					tel.IncServingError()
				}
			}
		}()
		fn()
	}()

	if timeout <= 0 {
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(timeout):
		if tel != nil {
			tel.IncTimeoutError()
		}
		if onTimeout != nil {
			onTimeout()
		}
		<-done
	}
}

// LogSessionError logs a handshake/serve failure and, when err carries an
// *ouijaerr.Error whose Kind is session-fatal, counts it as a serving error
// rather than a transient one a caller might otherwise retry. prefix is
// logged ahead of err, e.g. "relay: stream handshake".
func LogSessionError(logger *log.Logger, tel *telemetry.Telemetry, prefix string, err error) {
	var oe *ouijaerr.Error
	if errors.As(err, &oe) && oe.Kind.Fatal() && tel != nil {
		tel.IncServingError()
	}
	if logger != nil {
		logger.Printf("%s: %v", prefix, err)
	}
}

// Monitor is the ticker-driven telemetry dumper started from cmd/ouija when
// config.monitor is set (SUPPLEMENTAL FEATURES: debug/monitor dumper).
// Unlike the original's os.system("clear"), this logs one line per tick —
// no ANSI-clear dependency is carried by the pack for that cosmetic effect.
func Monitor(ctx context.Context, logger *log.Logger, tel *telemetry.Telemetry, activeCount func() int, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tel.Snapshot()
			active := 0
			if activeCount != nil {
				active = activeCount()
			}
			msg := fmt.Sprintf("active=%d %s", active, snap)
			if logger != nil {
				logger.Println(msg)
			} else {
				log.Println(msg)
			}
		}
	}
}
