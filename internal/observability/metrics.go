package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshgate"

// Metrics holds the gateway's Prometheus collectors.
//
// All methods are safe on a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	ScheduledTasks  prometheus.Gauge
	Commands        *prometheus.CounterVec
	PresenceUpserts *prometheus.CounterVec
	Sends           *prometheus.CounterVec
	SendQueueDepth  prometheus.Gauge
	RadioConnected  prometheus.Gauge
}

// NewMetrics creates and registers gateway metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job invocations by job name and result (ok, error, panic).",
		}, []string{"job", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Wall time of each scheduled job invocation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"job"}),
		ScheduledTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_running",
			Help:      "Number of live scheduled tasks.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "packets_total",
			Help:      "Inbound packets seen by the dispatcher by outcome.",
		}, []string{"outcome"}),
		PresenceUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "upserts_total",
			Help:      "Presence table upserts by result (inserted, updated, heartbeat, error).",
		}, []string{"result"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "radio",
			Name:      "sends_total",
			Help:      "Outbound radio sends by result (sent, error, dropped).",
		}, []string{"result"}),
		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "radio",
			Name:      "send_queue_depth",
			Help:      "Outbound messages waiting for the radio writer.",
		}),
		RadioConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "radio",
			Name:      "connected",
			Help:      "1 while the radio bridge connection is established.",
		}),
	}

	reg.MustRegister(
		m.JobRuns,
		m.JobDuration,
		m.ScheduledTasks,
		m.Commands,
		m.PresenceUpserts,
		m.Sends,
		m.SendQueueDepth,
		m.RadioConnected,
	)

	return m
}

func (m *Metrics) ObserveJob(job, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *Metrics) TaskStarted() {
	if m != nil {
		m.ScheduledTasks.Inc()
	}
}

func (m *Metrics) TaskStopped() {
	if m != nil {
		m.ScheduledTasks.Dec()
	}
}

func (m *Metrics) Packet(outcome string) {
	if m != nil {
		m.Commands.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Upsert(result string) {
	if m != nil {
		m.PresenceUpserts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Send(result string) {
	if m != nil {
		m.Sends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.SendQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.RadioConnected.Set(1)
	} else {
		m.RadioConnected.Set(0)
	}
}
