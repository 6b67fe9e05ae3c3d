// Package metrics defines the Prometheus instrumentation surfaced by the
// configuration store, command dispatcher, and GPU-setup controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchd"

// ConfigMetrics instruments package schedconfig.
type ConfigMetrics struct {
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	ReloadDuration   *prometheus.HistogramVec
	UpdateTotal      *prometheus.CounterVec
	CurrentVersion   prometheus.Gauge
}

// NewConfigMetrics registers and returns the schedconfig metric set.
func NewConfigMetrics() *ConfigMetrics {
	return &ConfigMetrics{
		CacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "config", Name: "cache_hits_total",
			Help: "Number of GetConfig calls served from the in-process cache.",
		}, []string{}),
		CacheMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "config", Name: "cache_misses_total",
			Help: "Number of GetConfig calls that required a store reload.",
		}, []string{}),
		ReloadDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "config", Name: "reload_duration_seconds",
			Help:    "Time spent reloading the scheduling configuration from the store.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		UpdateTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "config", Name: "update_total",
			Help: "Number of UpdateConfig calls by outcome (accepted, rejected).",
		}, []string{"outcome"}),
		CurrentVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "config", Name: "current_version",
			Help: "Version number of the currently cached SchedulingConfig.",
		}),
	}
}

// CommandMetrics instruments package command.
type CommandMetrics struct {
	RegisteredTotal  *prometheus.CounterVec
	AckedTotal       *prometheus.CounterVec
	ReapedTotal      *prometheus.CounterVec
	OutstandingGauge *prometheus.GaugeVec
	DeliveryDuration *prometheus.HistogramVec
}

// NewCommandMetrics registers and returns the command dispatcher metric set.
func NewCommandMetrics() *CommandMetrics {
	return &CommandMetrics{
		RegisteredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "command", Name: "registered_total",
			Help: "Number of outstanding commands registered, by type.",
		}, []string{"type"}),
		AckedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "command", Name: "acknowledged_total",
			Help: "Number of acknowledgments processed, by type and success.",
		}, []string{"type", "success"}),
		ReapedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "command", Name: "reaped_total",
			Help: "Number of outstanding commands reaped after timing out, by type.",
		}, []string{"type"}),
		OutstandingGauge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "command", Name: "outstanding",
			Help: "Current number of outstanding commands awaiting acknowledgment, by type.",
		}, []string{"type"}),
		DeliveryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "command", Name: "delivery_duration_seconds",
			Help:    "Time spent attempting delivery to a node agent.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// GpuSetupMetrics instruments package gpusetup.
type GpuSetupMetrics struct {
	QueuedTotal     *prometheus.CounterVec
	OutcomeTotal    *prometheus.CounterVec
	TriggerRejected *prometheus.CounterVec
}

// NewGpuSetupMetrics registers and returns the GPU-setup controller metric set.
func NewGpuSetupMetrics() *GpuSetupMetrics {
	return &GpuSetupMetrics{
		QueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gpusetup", Name: "queued_total",
			Help: "Number of ConfigureGpu commands queued, by mode.",
		}, []string{"mode"}),
		OutcomeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gpusetup", Name: "outcome_total",
			Help: "GPU setup acknowledgment outcomes, by result.",
		}, []string{"result"}),
		TriggerRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gpusetup", Name: "trigger_rejected_total",
			Help: "Manual TriggerSetup calls rejected, by reason.",
		}, []string{"reason"}),
	}
}
