package dispatch

import (
	"context"
	"testing"
)

func TestNewTableRejectsDuplicateTriggers(t *testing.T) {
	t.Parallel()

	if _, err := NewTable(map[string]string{".ping": "a", " .PING": "b"}, nil); err == nil {
		t.Fatalf("duplicate triggers should be rejected")
	}
	if _, err := NewTable(map[string]string{"  ": "a"}, nil); err == nil {
		t.Fatalf("empty trigger should be rejected")
	}
	if _, err := NewTable(map[string]string{".x": " "}, nil); err == nil {
		t.Fatalf("empty reply should be rejected")
	}
}

func TestNewTableResolvesHandlersAndLiterals(t *testing.T) {
	t.Parallel()

	handlers := map[string]HandlerFunc{
		"get_weather_forecast": func(context.Context) (string, bool, error) { return "Tonight: clear", true, nil },
	}
	tbl, err := NewTable(map[string]string{
		".Forecast": "get_weather_forecast",
		".ping":     "pong!",
	}, handlers)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	c, ok := tbl.Lookup(".forecast")
	if !ok || !c.IsHandler() || c.Handler != "get_weather_forecast" {
		t.Fatalf("forecast command = %+v, %v", c, ok)
	}
	if reply, ok, err := c.resolve(context.Background()); err != nil || !ok || reply != "Tonight: clear" {
		t.Fatalf("resolve = %q %v %v", reply, ok, err)
	}

	c, ok = tbl.Lookup(".ping")
	if !ok || c.IsHandler() || c.Reply != "pong!" {
		t.Fatalf("ping command = %+v", c)
	}
	if got := tbl.Triggers(); len(got) != 2 || got[0] != ".forecast" || got[1] != ".ping" {
		t.Fatalf("Triggers = %v", got)
	}
}

func TestNilTable(t *testing.T) {
	t.Parallel()

	var tbl *Table
	if _, ok := tbl.Lookup(".ping"); ok || tbl.Len() != 0 {
		t.Fatalf("nil table should be empty")
	}
}
