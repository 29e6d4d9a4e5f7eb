package config

import (
	"encoding/json"
	"fmt"
)

type Config struct {
	Radio RadioConfig `json:"radio"`

	// SaveNodeDB gates the presence store. When false, nothing is persisted
	// and the seen-nodes command answers as inactive.
	SaveNodeDB bool          `json:"save_node_db"`
	Storage    StorageConfig `json:"storage"`

	Logging       LoggingConfig       `json:"logging"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Observability ObservabilityConfig `json:"observability"`

	HomeAssistantBase string              `json:"home_assistant_base,omitempty"`
	HomeAssistant     HomeAssistantConfig `json:"home_assistant"`
	Weather           WeatherConfig       `json:"weather"`

	Bot     BotConfig `json:"bot"`
	Workers []Worker  `json:"workers"`
}

// RadioConfig points at the websocket bridge that owns the serial/TCP link
// to the radio.
//
// Durations are Go duration strings (e.g. "1s", "2m").
type RadioConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"` // optional bearer token (do not log)

	// Addressing is "direct" (default) or "channel0".
	Addressing string `json:"addressing,omitempty"`

	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
	SendQueueSize  int     `json:"send_queue_size,omitempty"`

	ReconnectMax string `json:"reconnect_max,omitempty"`
}

// StorageConfig controls the presence store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./nodes.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls job triggering. Timezone is an IANA name; empty
// means the process local zone.
type SchedulerConfig struct {
	Timezone   string `json:"timezone,omitempty"`
	Grace      string `json:"grace,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
}

// ObservabilityConfig controls the HTTP server exposing /metrics, /healthz
// and optionally pprof.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:9466").
//   - A non-loopback addr requires a token.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

type HomeAssistantConfig struct {
	// TokenEnv names the environment variable holding the long-lived access
	// token. Defaults to HA_TOKEN.
	TokenEnv string `json:"token_env,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type WeatherConfig struct {
	Forecast ForecastConfig `json:"forecast"`
}

type ForecastConfig struct {
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type BotConfig struct {
	Active bool `json:"active"`

	// Commands maps a trigger to a literal reply or a handler name.
	Commands map[string]string `json:"commands"`

	TempEntityID        string `json:"temp_entity_id,omitempty"`
	HumidityEntityID    string `json:"humidity_entity_id,omitempty"`
	LocationDescription string `json:"location_description,omitempty"`
	SeenNodesLimit      int    `json:"seen_nodes_limit,omitempty"`
}

// Worker is one scheduled job entry. Keys other than the fixed ones are
// collected into Params.
type Worker struct {
	Name     string
	Type     string
	Active   bool
	Cron     string
	Dispatch string
	Params   map[string]any
}

var workerKeys = map[string]bool{"name": true, "type": true, "active": true, "cron": true, "dispatch": true}

func (w *Worker) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Worker{Active: true}
	str := func(key string, dst *string) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("worker.%s: %w", key, err)
		}
		return nil
	}
	for _, f := range []struct {
		key string
		dst *string
	}{{"name", &out.Name}, {"type", &out.Type}, {"cron", &out.Cron}, {"dispatch", &out.Dispatch}} {
		if err := str(f.key, f.dst); err != nil {
			return err
		}
	}
	if v, ok := raw["active"]; ok {
		if err := json.Unmarshal(v, &out.Active); err != nil {
			return fmt.Errorf("worker.active: %w", err)
		}
	}
	for k, v := range raw {
		if workerKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("worker.%s: %w", k, err)
		}
		if out.Params == nil {
			out.Params = make(map[string]any)
		}
		out.Params[k] = val
	}
	*w = out
	return nil
}

// MarshalJSON flattens Params back next to the fixed keys so the config
// hash covers parameter edits.
func (w Worker) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(w.Params)+5)
	for k, v := range w.Params {
		m[k] = v
	}
	if w.Name != "" {
		m["name"] = w.Name
	}
	m["type"] = w.Type
	m["active"] = w.Active
	m["cron"] = w.Cron
	m["dispatch"] = w.Dispatch
	return json.Marshal(m)
}
