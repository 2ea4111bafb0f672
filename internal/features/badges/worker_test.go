package badges

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedChecker проваливает первые failures вызовов, паникует при panics > 0.
type scriptedChecker struct {
	mu       sync.Mutex
	failures int
	panics   int
	calls    int
	done     chan string
}

func (c *scriptedChecker) Evaluate(ctx context.Context, userID string) ([]Definition, error) {
	c.mu.Lock()
	c.calls++
	if c.panics > 0 {
		c.panics--
		c.mu.Unlock()
		panic("boom")
	}
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	c.mu.Unlock()
	c.done <- userID
	return nil, nil
}

func (c *scriptedChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func startWorker(t *testing.T, checker Checker, cfg WorkerConfig) *Worker {
	t.Helper()
	w := NewWorker(checker, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return w
}

func waitDone(t *testing.T, done <-chan string, want string) {
	t.Helper()
	select {
	case got := <-done:
		if got != want {
			t.Errorf("processed %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task for %q was not processed", want)
	}
}

func TestWorkerRetriesFailedTask(t *testing.T) {
	checker := &scriptedChecker{failures: 2, done: make(chan string, 1)}
	w := startWorker(t, checker, WorkerConfig{Workers: 2, QueueSize: 4, MaxAttempts: 3, RetryDelay: time.Millisecond})

	w.Enqueue("u1")
	waitDone(t, checker.done, "u1")

	if got := checker.callCount(); got != 3 {
		t.Errorf("Evaluate calls = %d, want 3", got)
	}
}

func TestWorkerGivesUpAfterMaxAttempts(t *testing.T) {
	checker := &scriptedChecker{failures: 100, done: make(chan string, 1)}
	w := startWorker(t, checker, WorkerConfig{Workers: 1, QueueSize: 4, MaxAttempts: 2, RetryDelay: time.Millisecond})

	w.Enqueue("u1")
	deadline := time.Now().Add(2 * time.Second)
	for checker.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := checker.callCount(); got != 2 {
		t.Errorf("Evaluate calls = %d, want 2", got)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	checker := &scriptedChecker{panics: 1, done: make(chan string, 1)}
	w := startWorker(t, checker, WorkerConfig{Workers: 1, QueueSize: 4, MaxAttempts: 1})

	w.Enqueue("u1")
	w.Enqueue("u2")
	waitDone(t, checker.done, "u2")
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	checker := &scriptedChecker{done: make(chan string, 1)}
	w := NewWorker(checker, WorkerConfig{Workers: 1, QueueSize: 1})

	w.Enqueue("u1")
	w.Enqueue("u2") // не блокирует

	if got := len(w.queue); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}
