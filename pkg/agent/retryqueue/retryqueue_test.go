package retryqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func drainUntil(t *testing.T, q *Queue, status string, timeout time.Duration) DeliveryStatusEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-q.Events():
			if e.Status == status {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", status)
		}
	}
}

func TestEnqueueDeliversOnFirstAttempt(t *testing.T) {
	t.Parallel()
	q := New(func(ctx context.Context, e Entry) error { return nil }, WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("m1", "bob", []byte("hi"), "", time.Now())
	drainUntil(t, q, StatusDelivered, time.Second)
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	t.Parallel()
	q := New(func(ctx context.Context, e Entry) error { return errors.New("fail") }, WithMaxSize(1), WithTickInterval(time.Hour))

	now := time.Now()
	if !q.Enqueue("m1", "bob", nil, "", now) {
		t.Fatal("first enqueue should succeed")
	}
	if q.Enqueue("m2", "bob", nil, "", now) {
		t.Fatal("second enqueue should fail when queue is at capacity")
	}
}

func TestFailedAfterBackoffScheduleExhausted(t *testing.T) {
	t.Parallel()
	var calls int32
	q := New(func(ctx context.Context, e Entry) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always fails")
	}, WithBackoff([]time.Duration{time.Millisecond, time.Millisecond}), WithTickInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("m1", "bob", []byte("hi"), "", time.Now())
	drainUntil(t, q, StatusFailed, 2*time.Second)

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2 (initial + 1 retry)", calls)
	}
}

func TestExpiredAfterTTL(t *testing.T) {
	t.Parallel()
	q := New(func(ctx context.Context, e Entry) error { return errors.New("fail") },
		WithTTL(10*time.Millisecond), WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("m1", "bob", []byte("hi"), "", time.Now().Add(-time.Hour))
	drainUntil(t, q, StatusExpired, time.Second)
}
