// Package metrics provides Prometheus metrics for the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bot
type Metrics struct {
	Registry *prometheus.Registry

	MessagesTotal   *prometheus.CounterVec
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	ModelCallsTotal   *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec

	ProfileCyclesTotal   *prometheus.CounterVec
	ProfilesUpdatedTotal prometheus.Counter

	ActiveUsers prometheus.Gauge
	StartTime   time.Time
}

// New creates a Metrics set on its own registry so tests and multiple
// gateways do not collide on the global default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		StartTime: time.Now(),
	}

	m.MessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teacherbot_messages_total",
			Help: "Inbound chat messages by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	m.CommandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teacherbot_commands_total",
			Help: "Dispatched commands by name and status",
		},
		[]string{"command", "status"},
	)

	m.CommandDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teacherbot_command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"command"},
	)

	m.ModelCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teacherbot_model_calls_total",
			Help: "Language model calls by backend and status",
		},
		[]string{"backend", "status"},
	)

	m.ModelCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teacherbot_model_call_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: []float64{0.25, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	m.ProfileCyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teacherbot_profile_cycles_total",
			Help: "Profile analysis cycles by status",
		},
		[]string{"status"},
	)

	m.ProfilesUpdatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "teacherbot_profiles_updated_total",
			Help: "User profiles regenerated",
		},
	)

	m.ActiveUsers = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "teacherbot_active_users",
			Help: "Users with conversation state in memory",
		},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "teacherbot_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(m.StartTime).Seconds() },
	)

	return m
}

func (m *Metrics) RecordCommand(command, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *Metrics) RecordModelCall(backend, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(backend, status).Inc()
	m.ModelCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func (m *Metrics) RecordMessage(channel, outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) RecordProfileCycle(status string, updated int) {
	if m == nil {
		return
	}
	m.ProfileCyclesTotal.WithLabelValues(status).Inc()
	m.ProfilesUpdatedTotal.Add(float64(updated))
}

func (m *Metrics) SetActiveUsers(n int) {
	if m == nil {
		return
	}
	m.ActiveUsers.Set(float64(n))
}
