package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	logx "meshgate/pkg/logx"
)

const DefaultHATokenEnv = "HA_TOKEN"

// Validate performs the static checks that need nothing but the file itself.
// Dispatch names, handler names and job parameters are checked by the
// runtime against its registry.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Radio.URL) == "" {
		add("radio.url is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Radio.Addressing)) {
	case "", "direct", "channel0":
	default:
		add("radio.addressing: unknown mode %q", c.Radio.Addressing)
	}
	if c.Radio.SendRatePerSec < 0 {
		add("radio.send_rate_per_sec must be >= 0")
	}
	if c.Radio.SendBurst < 0 || c.Radio.SendQueueSize < 0 {
		add("radio.send_burst and radio.send_queue_size must be >= 0")
	}

	durations := []struct{ path, raw string }{
		{"radio.reconnect_max", c.Radio.ReconnectMax},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.grace", c.Scheduler.Grace},
		{"scheduler.job_timeout", c.Scheduler.JobTimeout},
		{"home_assistant.timeout", c.HomeAssistant.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.SaveNodeDB {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "sqlite", "sqlite3":
		default:
			add("storage.driver: unsupported %q", c.Storage.Driver)
		}
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if _, err := ParseLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
	}
	if c.Bot.SeenNodesLimit < 0 {
		add("bot.seen_nodes_limit must be >= 0")
	}
	for trigger, reply := range c.Bot.Commands {
		if strings.TrimSpace(trigger) == "" {
			add("bot.commands: empty trigger")
		}
		if strings.TrimSpace(reply) == "" {
			add("bot.commands[%q]: empty reply", trigger)
		}
	}
	names := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if n := c.WorkerName(i); names[n] {
			add("workers[%d]: duplicate name %q", i, n)
		} else {
			names[n] = true
		}
		if strings.TrimSpace(w.Dispatch) == "" {
			add("workers[%d]: dispatch is required", i)
		}
		if strings.TrimSpace(w.Cron) == "" {
			add("workers[%d]: cron is required", i)
		}
	}
	return errors.Join(errs...)
}

// WorkerName is the stable task name for workers[i]. An explicit name wins.
func (c *Config) WorkerName(i int) string {
	w := c.Workers[i]
	if n := strings.TrimSpace(w.Name); n != "" {
		return n
	}
	return fmt.Sprintf("%s#%d", strings.TrimSpace(w.Dispatch), i)
}

// HAToken reads the Home Assistant token from the configured environment
// variable.
func (c *Config) HAToken() string {
	env := strings.TrimSpace(c.HomeAssistant.TokenEnv)
	if env == "" {
		env = DefaultHATokenEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

const DefaultNodeDB = "./nodes.db"

// StorageTarget returns the effective presence driver and database path.
func (c *Config) StorageTarget() (driver, path string) {
	driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path = strings.TrimSpace(c.Storage.Path)
	if path == "" {
		path = DefaultNodeDB
	}
	return driver, path
}
