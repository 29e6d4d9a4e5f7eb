package actions

import (
	"context"

	"meshgate/internal/scheduler"
	"meshgate/internal/transport"
	"meshgate/internal/weather"
	logx "meshgate/pkg/logx"
)

func (r *Registry) beacon(ctx context.Context, job scheduler.JobDefinition) error {
	text, err := job.Parameters.String("text")
	if err != nil {
		return err
	}
	ch, err := job.Parameters.Int("channel_index")
	if err != nil {
		return err
	}
	if err := r.deps.Sender.Send(ctx, text, transport.Channel(ch)); err != nil {
		return err
	}
	r.deps.Log.Info("beacon sent", logx.String("job", job.Name), logx.String("text", text), logx.Int("channel", ch))
	return nil
}

func (r *Registry) weatherConditions(ctx context.Context, job scheduler.JobDefinition) error {
	if err := needSensors(r.deps); err != nil {
		return err
	}
	p := job.Parameters
	tempID, err := p.String("temp_entity_id")
	if err != nil {
		return err
	}
	humID, err := p.String("humidity_entity_id")
	if err != nil {
		return err
	}
	loc, err := p.String("location_description")
	if err != nil {
		return err
	}
	ch, err := p.Int("channel_index")
	if err != nil {
		return err
	}

	msg, err := weather.Conditions(ctx, r.deps.Sensors, tempID, humID, loc)
	if err != nil {
		return err
	}
	if err := r.deps.Sender.Send(ctx, msg, transport.Channel(ch)); err != nil {
		return err
	}
	r.deps.Log.Info("weather sent", logx.String("job", job.Name), logx.String("text", msg), logx.Int("channel", ch))
	return nil
}

func (r *Registry) weatherForecast(ctx context.Context, job scheduler.JobDefinition) error {
	if err := needForecast(r.deps); err != nil {
		return err
	}
	ch, err := job.Parameters.Int("channel_index")
	if err != nil {
		return err
	}
	p, ok, err := r.deps.Forecast.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		r.deps.Log.Info("forecast has no periods, skipping broadcast", logx.String("job", job.Name))
		return nil
	}
	msg := p.String()
	if err := r.deps.Sender.Send(ctx, msg, transport.Channel(ch)); err != nil {
		return err
	}
	r.deps.Log.Info("forecast sent", logx.String("job", job.Name), logx.String("text", msg), logx.Int("channel", ch))
	return nil
}
