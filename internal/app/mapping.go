package app

import (
	"fmt"
	"strings"
	"time"

	"meshgate/internal/actions"
	"meshgate/internal/config"
	"meshgate/internal/dispatch"
	"meshgate/internal/observability"
	"meshgate/internal/presence"
	"meshgate/internal/scheduler"
	"meshgate/internal/transport"
	"meshgate/internal/transport/bridge"
	"meshgate/internal/weather"
	logx "meshgate/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig reports enabled=false when save_node_db is off.
func mapStorageConfig(cfg *config.Config) (presence.Config, bool, error) {
	if !cfg.SaveNodeDB {
		return presence.Config{}, false, nil
	}
	driver, path := cfg.StorageTarget()
	if driver == "none" {
		return presence.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return presence.Config{}, false, err
	}
	return presence.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapBridgeConfig(cfg *config.Config) (bridge.Config, error) {
	reconnectMax, err := config.ParseDurationOrDefault("radio.reconnect_max", cfg.Radio.ReconnectMax, time.Minute)
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		URL:          strings.TrimSpace(cfg.Radio.URL),
		Token:        cfg.Radio.Token,
		ReconnectMax: reconnectMax,
	}, nil
}

func mapQueueConfig(cfg *config.Config) transport.QueueConfig {
	return transport.QueueConfig{
		RatePerSec: cfg.Radio.SendRatePerSec,
		Burst:      cfg.Radio.SendBurst,
		Size:       cfg.Radio.SendQueueSize,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	mode, err := dispatch.ParseAddressing(cfg.Radio.Addressing)
	if err != nil {
		return dispatch.Config{}, fmt.Errorf("radio.addressing: %w", err)
	}
	return dispatch.Config{Addressing: mode}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loc, err := config.ParseLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("scheduler.grace", cfg.Scheduler.Grace, scheduler.DefaultGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, scheduler.DefaultJobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Location: loc, Grace: grace, JobTimeout: timeout}, nil
}

func mapServerConfig(cfg *config.Config) observability.ServerConfig {
	return observability.ServerConfig{
		Enabled: cfg.Observability.Enabled,
		Addr:    cfg.Observability.Addr,
		Token:   cfg.Observability.Token,
		Pprof:   cfg.Observability.Pprof,
	}
}

func mapJobs(cfg *config.Config) []scheduler.JobDefinition {
	out := make([]scheduler.JobDefinition, 0, len(cfg.Workers))
	for i, w := range cfg.Workers {
		params := make(scheduler.Params, len(w.Params))
		for k, v := range w.Params {
			params[k] = v
		}
		out = append(out, scheduler.JobDefinition{
			Name:       cfg.WorkerName(i),
			Type:       w.Type,
			Cron:       strings.TrimSpace(w.Cron),
			Active:     w.Active,
			Dispatch:   strings.TrimSpace(w.Dispatch),
			Parameters: params,
		})
	}
	return out
}

// mapActionDeps wires the optional upstreams. Interfaces are only set when
// the upstream is configured so the registry sees a true nil otherwise.
func mapActionDeps(cfg *config.Config, sender transport.Sender, store presence.Store, log logx.Logger) (actions.Deps, error) {
	d := actions.Deps{
		Sender:   sender,
		Presence: store,
		Bot: actions.BotSettings{
			TempEntityID:        cfg.Bot.TempEntityID,
			HumidityEntityID:    cfg.Bot.HumidityEntityID,
			LocationDescription: cfg.Bot.LocationDescription,
			SeenNodesLimit:      cfg.Bot.SeenNodesLimit,
		},
		Log: log.With(logx.String("comp", "actions")),
	}
	timeout, err := config.ParseDurationOrDefault("home_assistant.timeout", cfg.HomeAssistant.Timeout, 10*time.Second)
	if err != nil {
		return actions.Deps{}, err
	}
	if base := strings.TrimSpace(cfg.HomeAssistantBase); base != "" {
		d.Sensors = weather.NewHomeAssistant(weather.HAConfig{
			BaseURL: base,
			Token:   cfg.HAToken(),
			Timeout: timeout,
		}, log)
	}
	if u := strings.TrimSpace(cfg.Weather.Forecast.URL); u != "" {
		d.Forecast = weather.NewForecast(weather.ForecastConfig{
			URL:       u,
			UserAgent: cfg.Weather.Forecast.UserAgent,
			Timeout:   timeout,
		}, log)
	}
	return d, nil
}

// plan is everything derived from one config snapshot that must be valid
// before any of it is applied.
type plan struct {
	registry *actions.Registry
	table    *dispatch.Table
	jobs     []scheduler.JobDefinition
	sched    scheduler.Config
}

func buildPlan(cfg *config.Config, sender transport.Sender, store presence.Store, log logx.Logger) (*plan, error) {
	deps, err := mapActionDeps(cfg, sender, store, log)
	if err != nil {
		return nil, err
	}
	reg := actions.New(deps)

	table, err := dispatch.NewTable(cfg.Bot.Commands, reg.Handlers())
	if err != nil {
		return nil, fmt.Errorf("bot.commands: %w", err)
	}

	jobs := mapJobs(cfg)
	for _, j := range jobs {
		if err := reg.ValidateJob(j); err != nil {
			return nil, err
		}
	}

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return nil, err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	}
	return &plan{registry: reg, table: table, jobs: jobs, sched: sc}, nil
}
