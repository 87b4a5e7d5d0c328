// Package executor provides a small fixed-size worker pool for running
// callbacks and background work off the caller's goroutine. Listener
// continuations must never run while a service lock is held, so everything
// that can re-enter the service is funneled through a pool like this one.
package executor

import (
	"sync"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
)

// Config contains configuration for the executor pool
type Config struct {
	// Workers is the number of goroutines draining the task queue
	Workers int

	// QueueSize is the buffer size of the task queue
	QueueSize int
}

// DefaultConfig returns default executor configuration
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 256,
	}
}

// Pool runs submitted tasks on a fixed set of worker goroutines
type Pool struct {
	config Config
	logger *logging.Logger

	tasks chan func()

	// Stats
	submitted uint64
	dropped   uint64
	executed  uint64
	statsMu   sync.RWMutex

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a new executor pool
func New(config Config, logger *logging.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	return &Pool{
		config: config,
		logger: logger,
		tasks:  make(chan func(), config.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start starts the worker goroutines
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	p.logger.Info("Executor pool started",
		"workers", p.config.Workers,
		"queue_size", p.config.QueueSize)
}

// Stop stops the pool and waits for in-flight tasks to finish.
// Queued tasks that have not started are discarded.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info("Executor pool stopped")
}

// Submit enqueues a task for execution. Returns false if the pool is
// stopped or the queue is full; the task is dropped in either case.
func (p *Pool) Submit(task func()) bool {
	if task == nil {
		return false
	}

	select {
	case <-p.stopCh:
		return false
	default:
	}

	select {
	case p.tasks <- task:
		p.statsMu.Lock()
		p.submitted++
		p.statsMu.Unlock()
		return true
	default:
		p.statsMu.Lock()
		p.dropped++
		p.statsMu.Unlock()
		p.logger.Warn("Executor queue full, task dropped")
		return false
	}
}

// Schedule runs a task after the given delay. The timer fires on its own
// goroutine and hands the task to the pool, so a stopped pool simply
// drops it.
func (p *Pool) Schedule(delay time.Duration, task func()) *time.Timer {
	return time.AfterFunc(delay, func() {
		p.Submit(task)
	})
}

// runWorker drains the task queue until the pool stops
func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return

		case task := <-p.tasks:
			p.runTask(task)
		}
	}
}

// runTask executes one task, recovering panics so a bad callback
// cannot take down a worker
func (p *Pool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Executor task panicked", "panic", r)
		}
	}()

	task()

	p.statsMu.Lock()
	p.executed++
	p.statsMu.Unlock()
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]interface{} {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	return map[string]interface{}{
		"workers":   p.config.Workers,
		"queued":    len(p.tasks),
		"submitted": p.submitted,
		"executed":  p.executed,
		"dropped":   p.dropped,
	}
}
