package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	CommandsTotal.WithLabelValues("audio", "playback.toggle", "ok").Inc()
	ActiveTickers.WithLabelValues("audio").Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
	}
	for _, name := range []string{"cuebox_commands_total", "cuebox_active_tickers"} {
		if !found[name] {
			t.Fatalf("expected %s to be registered", name)
		}
	}
}
