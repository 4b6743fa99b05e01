package clientmetrics

import (
	"sync"
	"testing"
)

func TestCountersConcurrentUpdates(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Sent(10)
			c.Received(4)
			c.Failed()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.MessagesSent != 50 || s.BytesSent != 500 {
		t.Errorf("sent = %d/%d, want 50/500", s.MessagesSent, s.BytesSent)
	}
	if s.MessagesReceived != 50 || s.BytesReceived != 200 {
		t.Errorf("received = %d/%d, want 50/200", s.MessagesReceived, s.BytesReceived)
	}
	if s.Errors != 50 {
		t.Errorf("errors = %d, want 50", s.Errors)
	}
}

func TestConnectionCounts(t *testing.T) {
	c := New()
	if !c.Snapshot().Idle() {
		t.Fatal("new counters should be idle")
	}
	c.MarkConnected()
	c.MarkConnected()
	c.Sent(1)
	c.MarkDisconnected()

	s := c.Snapshot()
	if s.Connections != 2 || s.OpenConnections != 1 {
		t.Errorf("connections = %d open = %d, want 2 and 1", s.Connections, s.OpenConnections)
	}
	if s.MessagesSent != 1 {
		t.Error("totals must survive disconnect")
	}
	if s.Idle() {
		t.Error("used counters reported idle")
	}
}

func TestRegistrySharesCountersPerProviderAndProtocol(t *testing.T) {
	r := NewRegistry()
	if r.For("helius", "websocket") != r.For("helius", "websocket") {
		t.Fatal("For returned different counters for the same key")
	}
	r.For("helius", "websocket").Sent(100)
	r.For("helius", "grpc").Received(7)
	r.For("triton", "websocket").Failed()

	got := r.Snapshots("helius")
	if len(got) != 2 {
		t.Fatalf("snapshots = %+v, want websocket and grpc", got)
	}
	if got["websocket"].BytesSent != 100 || got["grpc"].BytesReceived != 7 {
		t.Errorf("snapshots = %+v", got)
	}
	if got["websocket"].Errors != 0 {
		t.Error("another provider's errors leaked in")
	}
	if names := Protocols(got); len(names) != 2 || names[0] != "grpc" || names[1] != "websocket" {
		t.Errorf("Protocols() = %v, want [grpc websocket]", names)
	}
	if len(r.Snapshots("quicknode")) != 0 {
		t.Error("unused provider should have no snapshots")
	}

	var nilRegistry *Registry
	if nilRegistry.Snapshots("helius") != nil {
		t.Error("nil registry should report nothing")
	}
}
