package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
)

func newTestPool(workers, queueSize int) *Pool {
	return New(Config{Workers: workers, QueueSize: queueSize}, logging.NewDevelopment())
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := newTestPool(2, 16)
	pool.Start()
	defer pool.Stop()

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}

	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != 10 {
		t.Errorf("expected 10 executions, got %d", got)
	}
}

func TestPoolRejectsAfterStop(t *testing.T) {
	pool := newTestPool(1, 4)
	pool.Start()
	pool.Stop()

	if pool.Submit(func() {}) {
		t.Error("expected submit to fail after stop")
	}
}

func TestPoolSurvivesPanic(t *testing.T) {
	pool := newTestPool(1, 4)
	pool.Start()
	defer pool.Stop()

	done := make(chan struct{})

	pool.Submit(func() { panic("boom") })
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panicking task")
	}
}

func TestPoolSchedule(t *testing.T) {
	pool := newTestPool(1, 4)
	pool.Start()
	defer pool.Stop()

	done := make(chan struct{})
	pool.Schedule(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	pool := newTestPool(1, 1)
	// Not started: nothing drains the queue.

	if !pool.Submit(func() {}) {
		t.Fatal("first submit should fill the queue")
	}
	if pool.Submit(func() {}) {
		t.Error("expected submit to be dropped when queue is full")
	}

	stats := pool.Stats()
	if stats["dropped"].(uint64) != 1 {
		t.Errorf("expected 1 dropped task, got %v", stats["dropped"])
	}
}
