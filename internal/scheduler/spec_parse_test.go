package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := []string{
		"* * * * *",
		"*/5 * * * *",
		"0 30 * * * *",
		"@hourly",
		"@every 5m",
		"cron:*/5 * * * *",
		"55m",
		"02:30",
		"every:10s",
	}
	for _, spec := range ok {
		if _, err := Validate(spec); err != nil {
			t.Fatalf("Validate(%q): %v", spec, err)
		}
	}

	bad := []string{"", "61 * * * *", "not a cron", "0:75", "500ms", "cron:", "@fortnightly"}
	for _, spec := range bad {
		if _, err := Validate(spec); !errors.Is(err, ErrInvalidCron) {
			t.Fatalf("Validate(%q) err = %v, want ErrInvalidCron", spec, err)
		}
	}
}

func TestValidateIntervalNext(t *testing.T) {
	t.Parallel()

	sched, err := Validate("02:30")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sched.Next(from); !got.Equal(from.Add(150 * time.Minute)) {
		t.Fatalf("Next = %v", got)
	}
}

func TestParams(t *testing.T) {
	t.Parallel()

	p := Params{"text": "hello", "channel_index": float64(2), "frac": 1.5, "flag": true}

	if s, err := p.String("text"); err != nil || s != "hello" {
		t.Fatalf("String = %q, %v", s, err)
	}
	if n, err := p.Int("channel_index"); err != nil || n != 2 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	if _, err := p.Int("frac"); err == nil {
		t.Fatalf("Int(frac) should fail")
	}
	if _, err := p.Int("text"); err == nil {
		t.Fatalf("Int(text) should fail")
	}
	if b, err := p.Bool("flag"); err != nil || !b {
		t.Fatalf("Bool = %v, %v", b, err)
	}
	if _, err := p.String("missing"); !errors.Is(err, ErrMissingParam) {
		t.Fatalf("missing err = %v", err)
	}
}
