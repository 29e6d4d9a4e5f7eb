package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"

	logx "meshgate/pkg/logx"
)

func TestHomeAssistantSensorState(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/sensor.porch_temp" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"entity_id":"sensor.porch_temp","state":"71.6","attributes":{"unit_of_measurement":"°F"}}`)
	}))
	defer srv.Close()

	ha := NewHomeAssistant(HAConfig{BaseURL: srv.URL + "/", Token: "tok"}, logx.Nop())
	st, err := ha.SensorState(context.Background(), "sensor.porch_temp")
	if err != nil {
		t.Fatalf("SensorState: %v", err)
	}
	if st.State != "71.6" || st.Unit != "°F" {
		t.Fatalf("state = %+v", st)
	}

	if _, err := ha.SensorState(context.Background(), "sensor.missing"); err == nil {
		t.Fatalf("404 should be an error")
	}

	bad := NewHomeAssistant(HAConfig{BaseURL: srv.URL, Token: "wrong"}, logx.Nop())
	if _, err := bad.SensorState(context.Background(), "sensor.porch_temp"); err == nil {
		t.Fatalf("401 should be an error")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ha := NewHomeAssistant(HAConfig{BaseURL: srv.URL, Breaker: BreakerConfig{Failures: 3}}, logx.Nop())
	var last error
	for i := 0; i < 5; i++ {
		_, last = ha.SensorState(context.Background(), "sensor.x")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("upstream hits = %d, want 3", got)
	}
	if !errors.Is(last, gobreaker.ErrOpenState) {
		t.Fatalf("last err = %v, want open breaker", last)
	}
}

func TestForecastCurrent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "(meshgate, ops@example.com)" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/empty":
			fmt.Fprint(w, `{"properties":{"periods":[]}}`)
		default:
			fmt.Fprint(w, `{"properties":{"periods":[
				{"name":"Tonight","detailedForecast":"Mostly clear, with a low around 54."},
				{"name":"Tuesday","detailedForecast":"Sunny."}
			]}}`)
		}
	}))
	defer srv.Close()

	f := NewForecast(ForecastConfig{URL: srv.URL + "/gridpoints", UserAgent: "(meshgate, ops@example.com)"}, logx.Nop())
	p, ok, err := f.Current(context.Background())
	if err != nil || !ok {
		t.Fatalf("Current = %v, %v", ok, err)
	}
	if got, want := p.String(), "Tonight: Mostly clear, with a low around 54."; got != want {
		t.Fatalf("period = %q, want %q", got, want)
	}

	empty := NewForecast(ForecastConfig{URL: srv.URL + "/empty", UserAgent: "(meshgate, ops@example.com)"}, logx.Nop())
	if _, ok, err := empty.Current(context.Background()); err != nil || ok {
		t.Fatalf("empty Current = %v, %v", ok, err)
	}

	noUA := NewForecast(ForecastConfig{URL: srv.URL}, logx.Nop())
	if _, _, err := noUA.Current(context.Background()); err == nil {
		t.Fatalf("rejected user agent should surface as error")
	}
}
