package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "cueboxd")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSampleRate(t *testing.T) {
	cases := map[string]float64{"": 0.1, "0.5": 0.5, "2": 0.1, "junk": 0.1, "0": 0}
	for raw, want := range cases {
		t.Setenv("OTEL_TRACE_SAMPLE_RATE", raw)
		if got := SampleRate(); got != want {
			t.Fatalf("rate %q: expected %v, got %v", raw, want, got)
		}
	}
}
