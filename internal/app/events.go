package app

import (
	"context"
	"strings"

	"meshgate/internal/eventbus"
	"meshgate/internal/transport"
	logx "meshgate/pkg/logx"
)

func (a *App) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		a.onConnected(ctx, ev.SelfID)
	case transport.EventDisconnected:
		a.connected.Store(false)
		a.metrics.Connected(false)
		errStr := ""
		if ev.Err != nil {
			errStr = ev.Err.Error()
		}
		a.log.Warn("radio disconnected", logx.Err(ev.Err))
		a.bus.Publish(eventbus.Event{Type: eventbus.RadioDisconnected, Data: eventbus.Radio{Err: errStr}})
	case transport.EventPacket:
		a.onPacket(ctx, ev.Packet)
	}
}

func (a *App) onConnected(ctx context.Context, self string) {
	a.self.Store(self)
	a.connected.Store(true)
	a.metrics.Connected(true)
	a.log.Info("radio connected", logx.String("self", self))
	a.bus.Publish(eventbus.Event{Type: eventbus.RadioConnected, Data: eventbus.Radio{SelfID: self}})

	a.jobsMu.Lock()
	a.startJobsLocked(ctx)
	a.jobsMu.Unlock()

	a.readyOnce.Do(func() {
		if ok, err := a.sd.Ready(); err != nil {
			a.log.Warn("systemd notify failed", logx.Err(err))
		} else if ok {
			a.log.Debug("systemd notified ready")
		}
	})
	_, _ = a.sd.Status("connected as " + self)
}

// startJobsLocked starts every active job. Jobs already running are left
// alone, so a reconnect does not reset their schedule.
func (a *App) startJobsLocked(ctx context.Context) {
	var started, skipped []string
	for _, job := range a.jobs {
		if !job.Active {
			a.log.Info("job inactive, skipping", logx.String("job", job.Name), logx.String("type", job.Type))
			skipped = append(skipped, job.Name)
			continue
		}
		action, err := a.registry.Job(job.Dispatch)
		if err == nil {
			err = a.sched.Start(ctx, job, action)
		}
		if err != nil {
			// Jobs are validated at load; this only trips on programming errors.
			a.log.Error("job start failed", logx.String("job", job.Name), logx.Err(err))
			skipped = append(skipped, job.Name)
			continue
		}
		started = append(started, job.Name)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.JobsStarted, Data: eventbus.Jobs{Started: started, Skipped: skipped}})
}

// onPacket records NODEINFO observations and hands text to the dispatcher.
// A storage failure never blocks command handling.
func (a *App) onPacket(ctx context.Context, pkt transport.Packet) {
	if a.store != nil && pkt.Decoded.Portnum == transport.PortNodeInfo && pkt.Decoded.User != nil {
		a.recordNode(ctx, pkt)
	}

	if !a.botActive.Load() || pkt.Decoded.Portnum != transport.PortText {
		return
	}
	select {
	case a.inbound <- transport.Inbound{Packet: pkt, SelfID: a.SelfID()}:
	default:
		a.metrics.Packet("overflow")
		a.log.Warn("dispatch queue full, dropping packet", logx.String("from", pkt.FromID))
	}
}

func (a *App) recordNode(ctx context.Context, pkt transport.Packet) {
	u := pkt.Decoded.User
	id := strings.TrimSpace(pkt.FromID)
	if id == "" {
		id = strings.TrimSpace(u.ID)
	}
	if id == "" {
		a.log.Debug("nodeinfo without sender id, ignoring")
		return
	}
	res, err := a.store.Upsert(ctx, id, u.ShortName, u.LongName)
	if err != nil {
		a.metrics.Upsert("error")
		a.log.Warn("presence upsert failed", logx.String("node", id), logx.Err(err))
		return
	}
	a.metrics.Upsert(res.String())
	a.bus.Publish(eventbus.Event{Type: eventbus.NodeSeen, Data: eventbus.Node{ID: id, Result: res.String()}})
}
