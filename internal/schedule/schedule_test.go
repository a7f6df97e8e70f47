package schedule

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := map[string]struct {
		raw     string
		kind    string
		wantErr bool
	}{
		"plain cron":        {raw: "0 9 * * *", kind: KindCron},
		"cron alias":        {raw: "@daily", kind: KindCron},
		"json cron":         {raw: `{"kind":"cron","cron_expr":"*/5 * * * *"}`, kind: KindCron},
		"every":             {raw: "every 90s", kind: KindInterval},
		"json interval":     {raw: `{"kind":"interval","interval_ms":60000}`, kind: KindInterval},
		"at":                {raw: "at 2030-01-02T15:04:05Z", kind: KindOnce},
		"bad cron":          {raw: "not a cron", wantErr: true},
		"bad interval":      {raw: "every soon", wantErr: true},
		"negative interval": {raw: `{"kind":"interval","interval_ms":-1}`, wantErr: true},
		"bad time":          {raw: "at tomorrow", wantErr: true},
		"unknown kind":      {raw: `{"kind":"lunar"}`, wantErr: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := Parse(test.raw)
			if test.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", test.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if s.Kind != test.kind {
				t.Errorf("expected kind %q, got %q", test.kind, s.Kind)
			}
		})
	}
}

func TestNextCron(t *testing.T) {
	s, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	from := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next, ok := s.Next(from)
	if !ok {
		t.Fatal("expected a next run")
	}
	want := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNextInterval(t *testing.T) {
	s, err := Parse("every 1m")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	from := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next, ok := s.Next(from)
	if !ok || !next.Equal(from.Add(time.Minute)) {
		t.Errorf("expected %v, got %v (ok=%t)", from.Add(time.Minute), next, ok)
	}
}

func TestNextOnce(t *testing.T) {
	s, err := Parse("at 2026-05-01T12:00:00Z")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	before := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	if next, ok := s.Next(before); !ok || next.UTC().Hour() != 12 {
		t.Errorf("expected run at 12:00, got %v (ok=%t)", next, ok)
	}

	after := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, ok := s.Next(after); ok {
		t.Error("expected no run after the one-off time")
	}
}

func TestString(t *testing.T) {
	tests := map[string]string{
		"0 9 * * *":               "0 9 * * *",
		"every 1h":                "Every hour",
		"every 3h":                "Every 3 hours",
		"every 1m":                "Every minute",
		"every 15m":               "Every 15 minutes",
		"every 45s":               "Every 45 seconds",
		"at 2026-03-15T14:30:00Z": "Once at Mar 15 14:30",
	}
	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			s, err := Parse(raw)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if got := s.String(); got != want {
				t.Errorf("expected %q, got %q", want, got)
			}
		})
	}
}
