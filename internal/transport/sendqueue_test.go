package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "meshgate/pkg/logx"
)

func TestSendQueueSerializesSends(t *testing.T) {
	t.Parallel()

	var inflight, maxInflight, sent int32
	next := SenderFunc(func(ctx context.Context, text string, to Target) error {
		n := atomic.AddInt32(&inflight, 1)
		for {
			m := atomic.LoadInt32(&maxInflight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInflight, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		atomic.AddInt32(&sent, 1)
		return nil
	})

	q := NewSendQueue(QueueConfig{Size: 16}, next, logx.Nop(), nil)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := q.Send(context.Background(), "hi", Channel(i%2)); err != nil {
				t.Errorf("Send: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&sent); got != 10 {
		t.Fatalf("sent = %d, want 10", got)
	}
	if got := atomic.LoadInt32(&maxInflight); got != 1 {
		t.Fatalf("max concurrent sends = %d, want 1", got)
	}
}

func TestSendQueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	next := SenderFunc(func(ctx context.Context, text string, to Target) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	q := NewSendQueue(QueueConfig{Size: 1}, next, logx.Nop(), nil)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	errs := make(chan error, 2)
	go func() { errs <- q.Send(context.Background(), "one", Channel(0)) }()
	<-entered

	go func() { errs <- q.Send(context.Background(), "two", Channel(0)) }()
	deadline := time.Now().Add(2 * time.Second)
	for len(q.ch) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("second message never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if err := q.Send(context.Background(), "three", Channel(0)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Send err = %v, want ErrQueueFull", err)
	}

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("queued Send: %v", err)
		}
	}
}

func TestSendQueuePacesWithLimiter(t *testing.T) {
	t.Parallel()

	next := SenderFunc(func(context.Context, string, Target) error { return nil })
	q := NewSendQueue(QueueConfig{RatePerSec: 20, Burst: 1}, next, logx.Nop(), nil)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := q.Send(context.Background(), "x", Channel(0)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	// Burst 1 at 20/s: two waits of ~50ms.
	if took := time.Since(start); took < 80*time.Millisecond {
		t.Fatalf("3 sends took %v, limiter not applied", took)
	}
}

func TestSendQueuePropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("radio busy")
	q := NewSendQueue(QueueConfig{}, SenderFunc(func(context.Context, string, Target) error { return boom }), logx.Nop(), nil)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	if err := q.Send(context.Background(), "x", Direct("!00000001")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestTargetString(t *testing.T) {
	t.Parallel()

	if got := Channel(2).String(); got != "ch:2" {
		t.Fatalf("Channel(2) = %q", got)
	}
	if got := Direct("!a1b2c3d4").String(); got != "dm:!a1b2c3d4" {
		t.Fatalf("Direct = %q", got)
	}
	if got := (Target{}).String(); got != "none" {
		t.Fatalf("zero Target = %q", got)
	}
	if got := NodeID(305419896); got != "!12345678" {
		t.Fatalf("NodeID = %q", got)
	}
}
