package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"meshgate/internal/observability"
	logx "meshgate/pkg/logx"
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	clk     clockwork.Clock
	log     logx.Logger
	metrics *observability.Metrics

	// tasks holds every task whose goroutine has not exited, including
	// ones that were stopped but are still finishing an invocation.
	tasks map[string]*task
}

type task struct {
	job    JobDefinition
	cfg    Config
	sched  cron.Schedule
	cancel context.CancelFunc
	done   chan struct{}

	// prev is the done channel of a stopped task for the same job that
	// was still draining when this one started.
	prev     <-chan struct{}
	stopping atomic.Bool

	mu      sync.Mutex
	next    time.Time
	lastRun time.Time
	lastErr string
	runs    uint64
}

func New(cfg Config, clk clockwork.Clock, log logx.Logger, m *observability.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		clk:     clk,
		log:     log,
		metrics: m,
		tasks:   map[string]*task{},
	}
}

// Reconfigure replaces the timing settings. Tasks already running keep the
// settings they were started with.
func (s *Service) Reconfigure(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start launches a task for job. The cron expression is parsed before
// anything is spawned, so a malformed spec returns an error and leaves no
// task behind. Starting a job whose task is live is a no-op. If the previous
// task was stopped but is still inside an invocation, the new task waits for
// it to exit before scheduling its first run.
func (s *Service) Start(ctx context.Context, job JobDefinition, action Action) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return errors.New("job name required")
	}
	if action == nil {
		return fmt.Errorf("job %s: nil action", name)
	}
	sched, err := Validate(job.Cron)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var prev <-chan struct{}
	if old, ok := s.tasks[name]; ok && !old.exited() {
		if !old.stopping.Load() {
			s.log.Debug("job already running", logx.String("job", name))
			return nil
		}
		s.log.Warn("job still draining, new task waits for it", logx.String("job", name))
		prev = old.done
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &task{job: job, cfg: s.cfg, sched: sched, cancel: cancel, done: make(chan struct{}), prev: prev}
	s.tasks[name] = t

	s.metrics.TaskStarted()
	go s.loop(tctx, name, t, action)

	s.log.Info("job started", logx.String("job", name), logx.String("cron", job.Cron), logx.String("dispatch", job.Dispatch))
	return nil
}

// Stop cancels the named task and waits up to the grace period for it to
// exit. It reports whether the task exited in time; unknown names report true.
// A task that misses the grace period stays registered until it exits.
func (s *Service) Stop(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	grace := s.cfg.Grace
	s.mu.Unlock()
	if !ok {
		return true
	}

	t.stop()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		s.log.Warn("job did not stop within grace", logx.String("job", name), logx.Duration("grace", grace))
		return false
	}
}

// StopAll cancels every task and waits for them in parallel, bounded by the
// grace period and ctx. It returns an error naming tasks still running.
func (s *Service) StopAll(ctx context.Context) error {
	s.mu.Lock()
	tasks := make(map[string]*task, len(s.tasks))
	for name, t := range s.tasks {
		tasks[name] = t
	}
	grace := s.cfg.Grace
	s.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}

	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var stuck []string
	for name, t := range tasks {
		select {
		case <-t.done:
		case <-wctx.Done():
			// Other tasks may still have exited; check without blocking.
			if !t.exited() {
				stuck = append(stuck, name)
			}
		}
	}
	if len(stuck) > 0 {
		sort.Strings(stuck)
		return fmt.Errorf("jobs still running after stop: %s", strings.Join(stuck, ", "))
	}
	return nil
}

// Running reports whether a task for name has not exited yet. A stopped
// task that is still finishing an invocation counts.
func (s *Service) Running(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	return ok && !t.exited()
}

func (s *Service) loop(ctx context.Context, name string, t *task, action Action) {
	defer close(t.done)
	defer s.forget(name, t)
	defer s.metrics.TaskStopped()

	log := s.log.With(logx.String("job", t.job.Name))
	if t.prev != nil {
		// Successive ticks of one job never overlap, even across a restart.
		<-t.prev
	}
	for {
		next := t.sched.Next(s.clk.Now().In(t.cfg.Location))
		t.mu.Lock()
		t.next = next
		t.mu.Unlock()

		if !s.waitUntil(ctx, next, t.cfg.Slice) {
			log.Debug("job loop exiting")
			return
		}
		s.invoke(ctx, t, action, log)
	}
}

func (s *Service) forget(name string, t *task) {
	s.mu.Lock()
	if s.tasks[name] == t {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
}

// waitUntil blocks until the clock reaches deadline, in slices no longer
// than slice. It returns false if ctx is cancelled first.
func (s *Service) waitUntil(ctx context.Context, deadline time.Time, slice time.Duration) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		remaining := deadline.Sub(s.clk.Now())
		if remaining <= 0 {
			return true
		}
		if remaining > slice {
			remaining = slice
		}
		timer := s.clk.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.Chan():
		}
	}
}

func (s *Service) invoke(ctx context.Context, t *task, action Action, log logx.Logger) {
	started := time.Now()
	result := "ok"

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				result = "panic"
				log.Error("job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		cctx, cancel := context.WithTimeout(ctx, t.cfg.JobTimeout)
		defer cancel()
		log.Debug("job fired", logx.String("dispatch", t.job.Dispatch))
		return action(cctx, t.job)
	}()

	took := time.Since(started)
	if err != nil && result == "ok" {
		result = "error"
		log.Warn("job failed", logx.Err(err), logx.Duration("took", took))
	}
	s.metrics.ObserveJob(t.job.Name, result, took)

	t.mu.Lock()
	t.runs++
	t.lastRun = s.clk.Now()
	t.lastErr = ""
	if err != nil {
		t.lastErr = err.Error()
	}
	t.mu.Unlock()
}

func (t *task) stop() {
	t.stopping.Store(true)
	t.cancel()
}

func (t *task) exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
