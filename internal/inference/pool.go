package inference

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of in-flight generation calls to one provider and
// tracks their latency. It implements Generator.
type Pool struct {
	gen       Generator
	semaphore *semaphore.Weighted
	metrics   PoolMetrics
	mu        sync.Mutex
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	CompletedOK     int64         `json:"completed_ok"`
	CompletedError  int64         `json:"completed_error"`
	AverageLatency  time.Duration `json:"average_latency"`
	TotalLatency    time.Duration `json:"total_latency"`
	CurrentInflight int           `json:"current_inflight"`
}

// NewPool wraps gen. maxConcurrent <= 0 means 4, matching typical Ollama
// defaults.
func NewPool(gen Generator, maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Pool{
		gen:       gen,
		semaphore: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Name returns the wrapped provider's name
func (p *Pool) Name() string {
	return p.gen.Name()
}

// GenerateStructured waits for a free slot, then delegates
func (p *Pool) GenerateStructured(ctx context.Context, system, prompt string, schema *Schema) (string, error) {
	if err := p.semaphore.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.semaphore.Release(1)

	p.mu.Lock()
	p.metrics.TotalRequests++
	p.metrics.CurrentInflight++
	p.mu.Unlock()

	start := time.Now()
	out, err := p.gen.GenerateStructured(ctx, system, prompt, schema)
	p.record(time.Since(start), err)

	return out, err
}

// Metrics returns a snapshot of pool metrics
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Pool) record(latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.CurrentInflight--
	if err != nil {
		p.metrics.CompletedError++
	} else {
		p.metrics.CompletedOK++
	}

	p.metrics.TotalLatency += latency
	completed := p.metrics.CompletedOK + p.metrics.CompletedError
	p.metrics.AverageLatency = p.metrics.TotalLatency / time.Duration(completed)
}
