package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigMetricsRegistersWithoutPanic(t *testing.T) {
	m := NewConfigMetrics()
	assert.NotNil(t, m)
	m.CacheHitsTotal.WithLabelValues().Inc()
	m.CurrentVersion.Set(3)
}

func TestNewCommandMetricsRegistersWithoutPanic(t *testing.T) {
	m := NewCommandMetrics()
	assert.NotNil(t, m)
	m.RegisteredTotal.WithLabelValues("ConfigureGpu").Inc()
}

func TestNewGpuSetupMetricsRegistersWithoutPanic(t *testing.T) {
	m := NewGpuSetupMetrics()
	assert.NotNil(t, m)
	m.QueuedTotal.WithLabelValues("Auto").Inc()
}
