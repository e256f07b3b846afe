// Package metrics is a trimmed port of github.com/ethereum/go-ethereum/
// metrics: a process-wide Registry of Counters and Timers that the
// replay engine uses to track interaction throughput and cache
// effectiveness. No exporter is wired by default; callers that want
// opentsdb/influx/prometheus style export can walk Registry.Each.
package metrics

import "sync"

// Counter is a monotonically-adjustable count, e.g. interactions applied.
type Counter interface {
	Inc(delta int64)
	Count() int64
}

type counter struct {
	mu    sync.Mutex
	count int64
}

func NewCounter() Counter { return &counter{} }

func (c *counter) Inc(delta int64) {
	c.mu.Lock()
	c.count += delta
	c.mu.Unlock()
}

func (c *counter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Registry is a named collection of metrics. DefaultRegistry is process-wide.
type Registry interface {
	Register(name string, metric any)
	Get(name string) any
	Each(func(name string, metric any))
}

type registry struct {
	mu      sync.RWMutex
	metrics map[string]any
}

// NewRegistry constructs an empty Registry.
func NewRegistry() Registry {
	return &registry{metrics: make(map[string]any)}
}

func (r *registry) Register(name string, metric any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = metric
}

func (r *registry) Get(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

func (r *registry) Each(f func(name string, metric any)) {
	r.mu.RLock()
	snapshot := make(map[string]any, len(r.metrics))
	for k, v := range r.metrics {
		snapshot[k] = v
	}
	r.mu.RUnlock()
	for name, metric := range snapshot {
		f(name, metric)
	}
}

// DefaultRegistry is the registry the engine registers its metrics into
// when the caller does not supply one of its own.
var DefaultRegistry = NewRegistry()

// NewRegisteredCounter creates and registers a new Counter.
func NewRegisteredCounter(name string, r Registry) Counter {
	if r == nil {
		r = DefaultRegistry
	}
	c := NewCounter()
	r.Register(name, c)
	return c
}
