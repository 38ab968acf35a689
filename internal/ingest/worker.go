package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottatquimbi/quimbi-platform/internal/metrics"
)

// ErrShuttingDown is returned by Submit once the pool is draining.
var ErrShuttingDown = errors.New("ingest: worker pool is shutting down")

// ErrQueueFull is returned when the bounded queue cannot take more work.
var ErrQueueFull = errors.New("ingest: queue full")

// Pool runs the asynchronous enrichment steps so webhook responses stay
// prompt. Work is bounded; on shutdown no new jobs are accepted and
// queued jobs drain within the caller's deadline.
type Pool struct {
	jobs chan func(context.Context)
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines over a queue of queueSize jobs.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{jobs: make(chan func(context.Context), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		metrics.IngestQueueDepth.Dec()
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("ingest job panicked")
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			job(ctx)
		}()
	}
}

// Submit queues one enrichment job. The mutex is held across the channel
// send so Shutdown cannot close the queue between the closed-check and the
// send; the send is non-blocking, so the critical section never waits on a
// full queue.
func (p *Pool) Submit(job func(context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShuttingDown
	}

	select {
	case p.jobs <- job:
		metrics.IngestQueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued jobs to drain, at most until
// ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
