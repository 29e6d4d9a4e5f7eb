package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	logx "meshgate/pkg/logx"
)

type HAConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Breaker BreakerConfig
}

// SensorState is the reading of one Home Assistant entity.
type SensorState struct {
	State string
	Unit  string
}

// Float parses State as a number.
func (s SensorState) Float() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s.State), 64)
	if err != nil {
		return 0, fmt.Errorf("sensor state %q is not numeric", s.State)
	}
	return v, nil
}

// SensorReader reads entity states.
type SensorReader interface {
	SensorState(ctx context.Context, entityID string) (SensorState, error)
}

type HomeAssistant struct {
	cfg    HAConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewHomeAssistant(cfg HAConfig, log logx.Logger) *HomeAssistant {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &HomeAssistant{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     newBreaker("home_assistant", cfg.Breaker, log.With(logx.String("comp", "ha"))),
	}
}

type haStateResponse struct {
	State      string `json:"state"`
	Attributes struct {
		Unit string `json:"unit_of_measurement"`
	} `json:"attributes"`
}

func (h *HomeAssistant) SensorState(ctx context.Context, entityID string) (SensorState, error) {
	if h.cfg.BaseURL == "" {
		return SensorState{}, errors.New("home assistant base url not configured")
	}
	if strings.TrimSpace(entityID) == "" {
		return SensorState{}, errors.New("entity id required")
	}

	v, err := h.cb.Execute(func() (interface{}, error) {
		return h.fetch(ctx, entityID)
	})
	if err != nil {
		return SensorState{}, fmt.Errorf("home assistant %s: %w", entityID, err)
	}
	return v.(SensorState), nil
}

func (h *HomeAssistant) fetch(ctx context.Context, entityID string) (SensorState, error) {
	u := h.cfg.BaseURL + "/api/states/" + url.PathEscape(entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SensorState{}, err
	}
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return SensorState{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SensorState{}, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var body haStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SensorState{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return SensorState{State: body.State, Unit: body.Attributes.Unit}, nil
}
