package telemetry

import "testing"

func TestCountersIncrement(t *testing.T) {
	var tel Telemetry
	tel.IncLinks()
	tel.IncOpened()
	tel.AddBytesSent(10)
	tel.AddBytesRecv(5)
	tel.IncOverload()

	snap := tel.Snapshot()
	if snap.Links != 1 || snap.Opened != 1 {
		t.Fatalf("unexpected link/open counts: %+v", snap)
	}
	if snap.BytesSent != 10 || snap.BytesReceived != 5 {
		t.Fatalf("unexpected byte counts: %+v", snap)
	}
	if snap.Overloads != 1 {
		t.Fatalf("expected one overload, got %d", snap.Overloads)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	var tel Telemetry
	tel.IncClosed()
	snap := tel.Snapshot()
	tel.IncClosed()
	if snap.Closed != 1 {
		t.Fatalf("snapshot should not observe later increments, got %d", snap.Closed)
	}
	if tel.Snapshot().Closed != 2 {
		t.Fatalf("live telemetry should reflect later increments")
	}
}

func TestStringContainsCounters(t *testing.T) {
	var tel Telemetry
	tel.IncLinks()
	s := tel.Snapshot().String()
	if s == "" {
		t.Fatalf("expected non-empty telemetry string")
	}
}
