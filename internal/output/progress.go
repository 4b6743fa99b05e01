package output

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
)

// ProgressReporter rewrites a single status line with live statistics of the
// provider currently being benchmarked.
type ProgressReporter struct {
	collector *metrics.Collector
	interval  time.Duration
	writer    io.Writer
	done      chan struct{}
	finished  chan struct{}
	active    int32

	mu       sync.Mutex
	provider string
	total    int
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		collector: collector,
		interval:  interval,
		writer:    writer,
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// SetProvider switches the line to a new provider run of total work items.
func (p *ProgressReporter) SetProvider(provider model.Provider, total int) {
	p.mu.Lock()
	p.provider = provider.Name
	p.total = total
	p.mu.Unlock()
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and ends the status line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	p.mu.Lock()
	provider, total := p.provider, p.total
	p.mu.Unlock()

	stats := p.collector.Stats(p.collector.Elapsed())
	line := "\r"
	if provider != "" {
		line += fmt.Sprintf("[%s] ", provider)
	}
	if total > 0 {
		line += fmt.Sprintf("Requests: %d/%d", stats.Total, total)
	} else {
		line += fmt.Sprintf("Requests: %d", stats.Total)
	}
	line += fmt.Sprintf(" | Successes: %d | Failures: %d | RPS: %.1f", stats.Successes, stats.Failures, stats.RequestsPerSec)
	if stats.Successes > 0 {
		line += fmt.Sprintf(" | P99: %.1fms", stats.P99LatencyMs)
	}
	return line
}
