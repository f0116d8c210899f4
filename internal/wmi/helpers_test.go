package wmi

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue reads one counter series from g.
func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	counter, _ := seriesValue(t, g, name, labels)
	return counter
}

// gaugeValue reads one gauge series from g.
func gaugeValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	_, gauge := seriesValue(t, g, name, labels)
	return gauge
}

func seriesValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) (counter, gauge float64) {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := len(m.GetLabel()) == len(labels)
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue(), m.GetGauge().GetValue()
			}
		}
	}
	return 0, 0
}
