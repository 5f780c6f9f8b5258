package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range fam.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("mail:send").End(nil))
	boom := errors.New("smtp down")
	assert.ErrorIs(t, m.Track("mail:send").End(boom), boom)
	m.AddPruned("security_event", 12)
	m.AddPruned("security_event", 0)

	assert.Equal(t, 1.0, counterValue(t, reg, "caseflow_jobs_total", map[string]string{"job": "mail:send", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "caseflow_jobs_total", map[string]string{"job": "mail:send", "status": "failure"}))
	assert.Equal(t, 12.0, counterValue(t, reg, "caseflow_jobs_pruned_rows_total", map[string]string{"table": "security_event"}))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("x")
	assert.ErrorIs(t, m.Track("noop").End(boom), boom)
}
