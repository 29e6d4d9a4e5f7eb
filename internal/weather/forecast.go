package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	logx "meshgate/pkg/logx"
)

type ForecastConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	Breaker   BreakerConfig
}

// Period is one forecast period, e.g. "Tonight".
type Period struct {
	Name             string `json:"name"`
	DetailedForecast string `json:"detailedForecast"`
}

func (p Period) String() string { return p.Name + ": " + p.DetailedForecast }

// ForecastReader returns the current forecast period. ok=false means the
// upstream answered with no periods.
type ForecastReader interface {
	Current(ctx context.Context) (p Period, ok bool, err error)
}

type Forecast struct {
	cfg    ForecastConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewForecast(cfg ForecastConfig, log logx.Logger) *Forecast {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "meshgate"
	}
	return &Forecast{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     newBreaker("forecast", cfg.Breaker, log.With(logx.String("comp", "forecast"))),
	}
}

type forecastResponse struct {
	Properties struct {
		Periods []Period `json:"periods"`
	} `json:"properties"`
}

func (f *Forecast) Current(ctx context.Context) (Period, bool, error) {
	if strings.TrimSpace(f.cfg.URL) == "" {
		return Period{}, false, errors.New("forecast url not configured")
	}
	v, err := f.cb.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		return Period{}, false, fmt.Errorf("forecast: %w", err)
	}
	periods := v.([]Period)
	if len(periods) == 0 {
		return Period{}, false, nil
	}
	return periods[0], true, nil
}

func (f *Forecast) fetch(ctx context.Context) ([]Period, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return body.Properties.Periods, nil
}
