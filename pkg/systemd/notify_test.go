package systemd

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu     sync.Mutex
	states []string
}

func (c *capture) notifier() Notifier {
	return NewNotifier(func(s string) (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.states = append(c.states, s)
		return true, nil
	})
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.states...)
}

func TestNotifierStates(t *testing.T) {
	t.Parallel()

	var c capture
	n := c.notifier()
	_, _ = n.Ready()
	_, _ = n.Status("connected")
	_, _ = n.Stopping()

	got := c.all()
	want := []string{"READY=1", "STATUS=connected", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("states = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPingStopsWithContext(t *testing.T) {
	t.Parallel()

	var c capture
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.notifier().ping(ctx, 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for len(c.all()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("no watchdog pings")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ping: %v", err)
	}
	if c.all()[0] != "WATCHDOG=1" {
		t.Fatalf("state = %q", c.all()[0])
	}
}

func TestZeroNotifierWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ok, err := Notifier{}.Ready()
	if ok || err != nil {
		t.Fatalf("Ready = %v, %v", ok, err)
	}
}
