// Package pool keeps idle protocol connections for reuse across work items
// that target the same endpoint.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

const DefaultSize = 10

// Poolable is a client that can be parked in a Pool.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
}

// healthChecker is implemented by clients that can tell when they must not
// be reused.
type healthChecker interface {
	Healthy() bool
}

// Pool holds up to size idle clients per key.
type Pool[T Poolable] struct {
	mu     sync.Mutex
	idle   map[string]chan T
	size   int
	closed bool
}

func New[T Poolable](size int) *Pool[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool[T]{idle: make(map[string]chan T), size: size}
}

func (p *Pool[T]) bucket(key string) chan T {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.idle[key]
	if !ok {
		ch = make(chan T, p.size)
		p.idle[key] = ch
	}
	return ch
}

// Get returns an idle client for key, or a new unconnected one from
// factory. reused reports which case applied.
func (p *Pool[T]) Get(key string, factory func() T) (client T, reused bool) {
	ch := p.bucket(key)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return factory(), false
			}
			client = c
			if h, ok := any(client).(healthChecker); ok && !h.Healthy() {
				_ = client.Close()
				continue
			}
			return client, true
		default:
			return factory(), false
		}
	}
}

// Put parks client for reuse. Unhealthy clients, clients returned after
// Close, and clients beyond the per-key limit are closed instead.
func (p *Pool[T]) Put(key string, client T) error {
	if h, ok := any(client).(healthChecker); ok && !h.Healthy() {
		return client.Close()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return client.Close()
	}
	ch, ok := p.idle[key]
	if !ok {
		p.mu.Unlock()
		return client.Close()
	}
	select {
	case ch <- client:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		return client.Close()
	}
}

// Discard closes a client that must not go back into the pool.
func (p *Pool[T]) Discard(client T) {
	_ = client.Close()
}

// Retry closes a stale client and connects a fresh one in its place.
func (p *Pool[T]) Retry(ctx context.Context, stale T, factory func() T) (T, error) {
	_ = stale.Close()
	fresh := factory()
	if err := fresh.Connect(ctx); err != nil {
		_ = fresh.Close()
		var zero T
		return zero, fmt.Errorf("reconnect: %w", err)
	}
	return fresh, nil
}

// Close closes every idle client. Later Puts close their client.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for key, ch := range p.idle {
		close(ch)
		for client := range ch {
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
		delete(p.idle, key)
	}
	return errors.Join(errs...)
}

// Key builds a deterministic pool key from a target URL and headers.
func Key(target string, headers http.Header) string {
	var sb strings.Builder
	sb.WriteString(target)
	sb.WriteString("|")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(headers[k], ","))
		sb.WriteString(";")
	}
	return sb.String()
}
