package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidCron  = errors.New("invalid cron expression")
	ErrMissingParam = errors.New("missing parameter")
)

const (
	DefaultGrace      = 2 * time.Second
	DefaultSlice      = time.Second
	DefaultJobTimeout = 30 * time.Second
)

type Config struct {
	// Location evaluates cron expressions. Nil means time.Local.
	Location *time.Location
	// Grace bounds how long Stop waits for a task to exit.
	Grace time.Duration
	// Slice is the longest single wait between cancellation checks.
	Slice time.Duration
	// JobTimeout bounds a single action invocation.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.Slice <= 0 || c.Slice > DefaultSlice {
		c.Slice = DefaultSlice
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

// JobDefinition is one configured worker entry. It is immutable after load.
type JobDefinition struct {
	Name       string
	Type       string
	Cron       string
	Active     bool
	Dispatch   string
	Parameters Params
}

// Action performs one run of a job.
type Action func(ctx context.Context, job JobDefinition) error

// Params are the job-specific settings carried alongside the fixed fields.
type Params map[string]any

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: want string, got %T", key, v)
	}
	return s, nil
}

func (p Params) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("parameter %s: want integer, got %v", key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("parameter %s: want integer, got %T", key, v)
	}
}

func (p Params) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s: want bool, got %T", key, v)
	}
	return b, nil
}

// TaskInfo is a point-in-time view of a live task.
type TaskInfo struct {
	Name     string    `json:"name"`
	Type     string    `json:"type,omitempty"`
	Dispatch string    `json:"dispatch"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
	Runs     uint64    `json:"runs"`
	// Draining marks a stopped task still finishing an invocation.
	Draining bool      `json:"draining,omitempty"`
}
