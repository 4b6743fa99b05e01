// Package clientmetrics counts the traffic protocol clients exchange with a
// provider. Counters are shared by every connection opened for the same
// provider and protocol, so a Snapshot is the provider's total.
package clientmetrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters tracks connections, messages, bytes and errors. The zero value
// is ready to use and safe for concurrent use.
type Counters struct {
	dials        atomic.Int64
	open         atomic.Int64
	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	errors       atomic.Int64
}

func New() *Counters {
	return &Counters{}
}

// MarkConnected records a newly established connection.
func (c *Counters) MarkConnected() {
	c.dials.Add(1)
	c.open.Add(1)
}

// MarkDisconnected records a closed connection. Totals are kept.
func (c *Counters) MarkDisconnected() {
	c.open.Add(-1)
}

func (c *Counters) Sent(bytes int) {
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(bytes))
}

func (c *Counters) Received(bytes int) {
	c.messagesRecv.Add(1)
	c.bytesRecv.Add(int64(bytes))
}

func (c *Counters) Failed() {
	c.errors.Add(1)
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Connections      int64 `json:"connections"`
	OpenConnections  int64 `json:"openConnections"`
	MessagesSent     int64 `json:"messagesSent"`
	MessagesReceived int64 `json:"messagesReceived"`
	BytesSent        int64 `json:"bytesSent"`
	BytesReceived    int64 `json:"bytesReceived"`
	Errors           int64 `json:"errors"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Connections:      c.dials.Load(),
		OpenConnections:  c.open.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesRecv.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesRecv.Load(),
		Errors:           c.errors.Load(),
	}
}

// Idle reports whether nothing was ever counted.
func (s Snapshot) Idle() bool {
	return s == Snapshot{}
}

type registryKey struct {
	provider string
	protocol string
}

// Registry hands out one Counters per provider and protocol.
type Registry struct {
	mu       sync.Mutex
	counters map[registryKey]*Counters
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[registryKey]*Counters)}
}

// For returns the counters of provider's traffic over protocol, creating
// them on first use.
func (r *Registry) For(provider, protocol string) *Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{provider: provider, protocol: protocol}
	c, ok := r.counters[k]
	if !ok {
		c = New()
		r.counters[k] = c
	}
	return c
}

// Snapshots returns provider's totals keyed by protocol. Protocols never
// used by provider are absent.
func (r *Registry) Snapshots(provider string) map[string]Snapshot {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot)
	for k, c := range r.counters {
		if k.provider == provider {
			out[k.protocol] = c.Snapshot()
		}
	}
	return out
}

// Protocols returns the protocols in snapshots in sorted order.
func Protocols(snapshots map[string]Snapshot) []string {
	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
