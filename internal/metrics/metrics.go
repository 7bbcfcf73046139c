package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are boring counters about one worker process
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent    *prometheus.CounterVec
	Faults          *prometheus.CounterVec
	SweptRejections prometheus.Counter
	ExitCode        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testworker",
			Name:      "messages_sent_total",
			Help:      "Messages queued for the parent, by type.",
		}, []string{"type"}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testworker",
			Name:      "faults_total",
			Help:      "Leaked faults seen by the supervisor, by kind and attribution.",
		}, []string{"kind", "attributed"}),
		SweptRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testworker",
			Name:      "swept_rejections_total",
			Help:      "Unattributed rejections reported at finalization.",
		}),
		ExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "testworker",
			Name:      "exit_code",
			Help:      "Exit code decided by the supervisor, -1 while running.",
		}),
	}
	m.ExitCode.Set(-1)
	m.registry.MustRegister(m.MessagesSent, m.Faults, m.SweptRejections, m.ExitCode)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) IncMessage(msgType string) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncFault(kind string, attributed bool) {
	m.Faults.WithLabelValues(kind, strconv.FormatBool(attributed)).Inc()
}
