package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "trace", want: LevelTrace.String()},
		{in: "DEBUG", want: "DEBUG"},
		{in: "Warning", want: "WARN"},
		{in: "fatal", want: LevelFatal.String()},
		{in: "verbose", want: "INFO", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got.String() != tc.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(context.Background(), Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	l.Info("dropped")
	l.Warn("kept", "backend", "Debiased LLM")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "kept" || entry["backend"] != "Debiased LLM" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Setup(context.Background(), Options{Format: FormatText, Output: &buf}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Logger.Info("hello", "rows", 3)

	if !strings.Contains(buf.String(), "msg=hello rows=3") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if _, err := Setup(context.Background(), Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestCountersIgnoreSampling(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Setup(context.Background(), Options{Output: &buf, SampleRate: 1000000}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	errorsBefore := TotalErrors.Load()
	warningsBefore := TotalWarnings.Load()
	for i := 0; i < 10; i++ {
		Error("boom")
		Warn("careful")
	}
	WarnHttp4xx(404)
	ErrorHttp5xx()

	if got := TotalErrors.Load() - errorsBefore; got != 11 {
		t.Errorf("errors counted = %d, want 11", got)
	}
	if got := TotalWarnings.Load() - warningsBefore; got != 11 {
		t.Errorf("warnings counted = %d, want 11", got)
	}
	if Counters()["http_404"] < 1 {
		t.Errorf("404 counter not incremented: %v", Counters())
	}
}
