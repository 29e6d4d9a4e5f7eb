package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meshgate/internal/actions"
	"meshgate/internal/config"
	"meshgate/internal/dispatch"
	"meshgate/internal/eventbus"
	"meshgate/internal/observability"
	"meshgate/internal/presence"
	rtsup "meshgate/internal/runtime/supervisor"
	"meshgate/internal/scheduler"
	"meshgate/internal/transport"
	"meshgate/internal/transport/bridge"
	logx "meshgate/pkg/logx"
	"meshgate/pkg/systemd"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	root   logx.Logger
	log    logx.Logger
	logs   *logx.Service
	bus    *eventbus.MemBus
	status *eventbus.Tracker

	reg     *prometheus.Registry
	metrics *observability.Metrics
	http    *observability.Server
	sd      systemd.Notifier

	store   presence.Store
	adapter transport.Adapter
	queue   *transport.SendQueue
	disp    *dispatch.Dispatcher

	events  chan transport.Event
	inbound chan transport.Inbound

	botActive atomic.Bool
	self      atomic.Value // string
	connected atomic.Bool
	readyOnce sync.Once

	sched *scheduler.Service

	// jobsMu serializes job start/stop between the event loop and reloads
	// and guards registry and jobs.
	jobsMu   sync.Mutex
	registry *actions.Registry
	jobs     []scheduler.JobDefinition
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	clock   clockwork.Clock
	notify  *systemd.Notifier
}

// WithAdapter replaces the websocket bridge, e.g. with an in-process fake.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithClock drives the scheduler from clk.
func WithClock(clk clockwork.Clock) Option { return func(o *options) { o.clock = clk } }

// WithNotifier replaces the sd_notify client.
func WithNotifier(n systemd.Notifier) Option { return func(o *options) { o.notify = &n } }

// New loads the config and builds every component. Any invalid job,
// command or upstream reference fails here, before anything runs.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var store presence.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := presence.Open(sc, root.With(logx.String("comp", "presence")))
		if err != nil {
			return nil, fmt.Errorf("open presence store: %w", err)
		}
		store = st
		log.Info("presence enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		log.Info("presence disabled")
	}

	ad := o.adapter
	if ad == nil {
		bc, err := mapBridgeConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad = bridge.New(bc, root)
	}
	queue := transport.NewSendQueue(mapQueueConfig(cfg), ad, root, metrics)

	p, err := buildPlan(cfg, queue, store, root)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	clk := o.clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	sd := systemd.Notifier{}
	if o.notify != nil {
		sd = *o.notify
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		root:     root,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		status:   eventbus.NewTracker(),
		reg:      reg,
		metrics:  metrics,
		sd:       sd,
		store:    store,
		adapter:  ad,
		queue:    queue,
		disp:     dispatch.NewDispatcher(dc, p.table, queue, root.With(logx.String("comp", "dispatch")), metrics),
		events:   make(chan transport.Event, 64),
		inbound:  make(chan transport.Inbound, 64),
		sched:    scheduler.New(p.sched, clk, root.With(logx.String("comp", "scheduler")), metrics),
		registry: p.registry,
		jobs:     p.jobs,
	}
	a.http = observability.NewServer(mapServerConfig(cfg), reg, a.health, root)
	a.botActive.Store(cfg.Bot.Active)
	a.self.Store("")
	return a, nil
}

func closeStore(st presence.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// SelfID is the gateway's node id, empty until the radio has connected.
func (a *App) SelfID() string {
	s, _ := a.self.Load().(string)
	return s
}

// HTTPAddr is the bound observability address, empty when disabled.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("status", func(c context.Context) {
		defer unsub()
		a.status.Run(c, events)
	})

	a.queue.Start(c)
	if err := a.adapter.Start(c, a.events); err != nil {
		return fmt.Errorf("start radio: %w", err)
	}

	a.sup.Go0("radio.events", a.eventLoop)
	a.sup.Go0("dispatch", func(c context.Context) { a.disp.Run(c, a.inbound) })
	a.http.Start(c)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.sd.Watchdog)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error {
		a.jobsMu.Lock()
		defer a.jobsMu.Unlock()
		return a.sched.StopAll(c)
	})
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("radio", 2*time.Second, a.adapter.Stop)
	step("sendqueue", time.Second, func(c context.Context) error { a.queue.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.metrics.Connected(false)
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

type healthDoc struct {
	Status     eventbus.Status      `json:"status"`
	Jobs       []scheduler.TaskInfo `json:"jobs"`
	Goroutines rtsup.Counters       `json:"goroutines"`
	BusDropped uint64               `json:"bus_dropped"`
}

func (a *App) health() any {
	return healthDoc{
		Status:     a.status.Snapshot(),
		Jobs:       a.sched.Snapshot(),
		Goroutines: a.sup.Counters(),
		BusDropped: a.bus.Dropped(),
	}
}
