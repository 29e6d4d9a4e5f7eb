package app

import (
	"context"
	"reflect"

	"meshgate/internal/config"
	"meshgate/internal/eventbus"
	logx "meshgate/pkg/logx"
)

// validate is the config manager hook. A snapshot that fails here is never
// committed, so the running config stays in effect.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := buildPlan(cfg, a.queue, a.store, logx.Nop()); err != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.ConfigRejected, Data: eventbus.Reload{Err: err.Error()}})
		return err
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest snapshot matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			if cfg == nil {
				continue
			}
			if err := a.apply(ctx, prev, cfg); err != nil {
				a.log.Warn("config apply failed; keeping previous", logx.Err(err))
				a.bus.Publish(eventbus.Event{Type: eventbus.ConfigRejected, Data: eventbus.Reload{Err: err.Error()}})
				continue
			}
			prev = cfg
		}
	}
}

// apply swaps the command table, restarts jobs and re-applies logging and
// the HTTP server. Radio and storage settings need a restart.
func (a *App) apply(ctx context.Context, prev, cfg *config.Config) error {
	p, err := buildPlan(cfg, a.queue, a.store, a.root)
	if err != nil {
		return err
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}

	if prev != nil {
		if !reflect.DeepEqual(prev.Radio, cfg.Radio) {
			a.log.Warn("radio config changed; restart required for changes to take effect")
		}
		if prev.SaveNodeDB != cfg.SaveNodeDB || prev.Storage != cfg.Storage {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if prp, _ := mapDispatchConfig(prev); prp.Addressing != dc.Addressing {
			a.log.Warn("radio.addressing changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(cfg))
	a.disp.SetTable(p.table)
	a.botActive.Store(cfg.Bot.Active)

	a.jobsMu.Lock()
	// The same scheduler is reused so a job still draining from the old
	// config blocks its replacement instead of overlapping with it.
	if err := a.sched.StopAll(ctx); err != nil {
		a.log.Warn("jobs did not stop cleanly", logx.Err(err))
	}
	a.sched.Reconfigure(p.sched)
	a.registry = p.registry
	a.jobs = p.jobs
	if a.connected.Load() {
		a.startJobsLocked(ctx)
	}
	a.jobsMu.Unlock()

	a.http.Reconfigure(ctx, mapServerConfig(cfg))

	a.log.Info("config applied",
		logx.Int("commands", p.table.Len()),
		logx.Int("jobs", len(p.jobs)),
		logx.Bool("bot_active", cfg.Bot.Active),
	)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded})
	return nil
}
