// Package actions holds the named job actions and command handlers that
// configuration can refer to by string.
package actions

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"meshgate/internal/dispatch"
	"meshgate/internal/presence"
	"meshgate/internal/scheduler"
	"meshgate/internal/transport"
	"meshgate/internal/weather"
	logx "meshgate/pkg/logx"
)

var ErrUnknownAction = errors.New("unknown action")

const (
	JobBeacon            = "get_beacon_worker"
	JobWeatherConditions = "get_weather_conditions_worker"
	JobWeatherForecast   = "get_weather_forecast_worker"

	CmdSeenNodes         = "get_seen_nodes"
	CmdWeatherForecast   = "get_weather_forecast"
	CmdWeatherConditions = "get_weather_conditions"
)

// BotSettings are the command-side settings from the bot config block.
type BotSettings struct {
	TempEntityID        string
	HumidityEntityID    string
	LocationDescription string
	SeenNodesLimit      int
}

// Deps are the collaborators actions run against. Presence, Sensors and
// Forecast may be nil when the matching feature is not configured.
type Deps struct {
	Sender   transport.Sender
	Presence presence.Store
	Sensors  weather.SensorReader
	Forecast weather.ForecastReader
	Bot      BotSettings
	Log      logx.Logger
}

type paramKind int

const (
	kindString paramKind = iota
	kindInt
)

type param struct {
	name string
	kind paramKind
}

type jobSpec struct {
	run      scheduler.Action
	params   []param
	requires func(Deps) error
}

// Registry resolves dispatch and handler names.
type Registry struct {
	deps     Deps
	jobs     map[string]jobSpec
	handlers map[string]dispatch.HandlerFunc
}

func New(d Deps) *Registry {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bot.SeenNodesLimit <= 0 {
		d.Bot.SeenNodesLimit = 1
	}
	r := &Registry{deps: d}
	r.jobs = map[string]jobSpec{
		JobBeacon: {
			run:    r.beacon,
			params: []param{{"text", kindString}, {"channel_index", kindInt}},
		},
		JobWeatherConditions: {
			run: r.weatherConditions,
			params: []param{
				{"temp_entity_id", kindString},
				{"humidity_entity_id", kindString},
				{"location_description", kindString},
				{"channel_index", kindInt},
			},
			requires: needSensors,
		},
		JobWeatherForecast: {
			run:      r.weatherForecast,
			params:   []param{{"channel_index", kindInt}},
			requires: needForecast,
		},
	}
	r.handlers = map[string]dispatch.HandlerFunc{
		CmdSeenNodes:         r.seenNodes,
		CmdWeatherForecast:   r.forecastReply,
		CmdWeatherConditions: r.conditionsReply,
	}
	return r
}

// Job returns the action registered under a dispatch name.
func (r *Registry) Job(name string) (scheduler.Action, error) {
	spec, ok := r.jobs[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return spec.run, nil
}

// ValidateJob checks a worker entry before anything is scheduled: a known
// dispatch name, a parseable schedule, required parameters of the right
// type, and any upstream the action needs when the worker is active.
func (r *Registry) ValidateJob(job scheduler.JobDefinition) error {
	spec, ok := r.jobs[strings.TrimSpace(job.Dispatch)]
	if !ok {
		return fmt.Errorf("worker %s: %w: dispatch %q", job.Name, ErrUnknownAction, job.Dispatch)
	}
	if _, err := scheduler.Validate(job.Cron); err != nil {
		return fmt.Errorf("worker %s: %w", job.Name, err)
	}
	for _, p := range spec.params {
		var err error
		switch p.kind {
		case kindInt:
			_, err = job.Parameters.Int(p.name)
		default:
			_, err = job.Parameters.String(p.name)
		}
		if err != nil {
			return fmt.Errorf("worker %s: %w", job.Name, err)
		}
	}
	// An inactive worker never runs, so its upstream may be absent.
	if spec.requires != nil && job.Active {
		if err := spec.requires(r.deps); err != nil {
			return fmt.Errorf("worker %s: %w", job.Name, err)
		}
	}
	return nil
}

// Handlers returns the command handlers for building a dispatch.Table.
func (r *Registry) Handlers() map[string]dispatch.HandlerFunc {
	out := make(map[string]dispatch.HandlerFunc, len(r.handlers))
	for k, v := range r.handlers {
		out[k] = v
	}
	return out
}

func (r *Registry) JobNames() []string {
	out := make([]string, 0, len(r.jobs))
	for k := range r.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func needSensors(d Deps) error {
	if d.Sensors == nil {
		return errors.New("home_assistant_base is not configured")
	}
	return nil
}

func needForecast(d Deps) error {
	if d.Forecast == nil {
		return errors.New("weather.forecast.url is not configured")
	}
	return nil
}
