package transport

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"meshgate/internal/observability"
	logx "meshgate/pkg/logx"
)

// QueueConfig paces outbound traffic to respect the radio duty cycle.
type QueueConfig struct {
	RatePerSec float64 // <=0 means unlimited
	Burst      int
	Size       int
}

type outMsg struct {
	ctx  context.Context
	text string
	to   Target
	res  chan error
}

// SendQueue serializes every outbound message through one writer so the
// underlying Sender is never called concurrently.
type SendQueue struct {
	next    Sender
	lim     *rate.Limiter
	ch      chan outMsg
	log     logx.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSendQueue(cfg QueueConfig, next Sender, log logx.Logger, m *observability.Metrics) *SendQueue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Size <= 0 {
		cfg.Size = 32
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	lim := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	return &SendQueue{
		next:    next,
		lim:     lim,
		ch:      make(chan outMsg, cfg.Size),
		log:     log.With(logx.String("comp", "sendq")),
		metrics: m,
	}
}

// Start launches the writer goroutine. It is idempotent.
func (q *SendQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	q.running = true
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(wctx, q.done)
}

// Stop halts the writer. Messages still queued fail with context.Canceled.
func (q *SendQueue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Send enqueues text and waits for the writer to deliver it. A full queue
// drops the message with ErrQueueFull rather than blocking the caller.
func (q *SendQueue) Send(ctx context.Context, text string, to Target) error {
	msg := outMsg{ctx: ctx, text: text, to: to, res: make(chan error, 1)}
	select {
	case q.ch <- msg:
	default:
		q.metrics.Send("dropped")
		q.log.Warn("send queue full, dropping message", logx.String("to", to.String()))
		return ErrQueueFull
	}
	q.metrics.QueueDepth(len(q.ch))

	select {
	case err := <-msg.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *SendQueue) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx.Err())
			return
		case msg := <-q.ch:
			q.metrics.QueueDepth(len(q.ch))
			msg.res <- q.deliver(ctx, msg)
		}
	}
}

func (q *SendQueue) deliver(ctx context.Context, msg outMsg) error {
	if err := msg.ctx.Err(); err != nil {
		// Caller gave up while queued.
		q.metrics.Send("dropped")
		return err
	}
	if err := q.lim.Wait(ctx); err != nil {
		q.metrics.Send("dropped")
		return err
	}
	err := q.next.Send(msg.ctx, msg.text, msg.to)
	if err != nil {
		q.metrics.Send("error")
		if !errors.Is(err, context.Canceled) {
			q.log.Warn("send failed", logx.String("to", msg.to.String()), logx.Err(err))
		}
		return err
	}
	q.metrics.Send("sent")
	q.log.Info("sent", logx.String("to", msg.to.String()), logx.Int("len", len(msg.text)))
	return nil
}

func (q *SendQueue) drain(err error) {
	for {
		select {
		case msg := <-q.ch:
			msg.res <- err
		default:
			q.metrics.QueueDepth(0)
			return
		}
	}
}
