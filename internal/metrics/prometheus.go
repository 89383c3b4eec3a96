package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "approvalmailer/pkg/logx"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged, never propagated.
type PrometheusSink struct {
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	fetchDuration    prometheus.Histogram
	fetchEntries     prometheus.Histogram
	fetchErrorsTotal prometheus.Counter
	mailTotal        *prometheus.CounterVec
	triggers         prometheus.Gauge
	reconfigureTotal *prometheus.CounterVec

	log logx.Logger
}

var _ Sink = (*PrometheusSink)(nil)

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log}

	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvalmailer_pipeline_runs_total",
		Help: "Pipeline runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "approvalmailer_pipeline_run_duration_seconds",
		Help:    "Duration of a full fetch, build and dispatch run.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	s.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "approvalmailer_feed_fetch_duration_seconds",
		Help:    "Duration of feed fetches.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	s.fetchEntries = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "approvalmailer_feed_entries",
		Help:    "Entries returned per successful feed fetch.",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
	})
	s.fetchErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approvalmailer_feed_fetch_errors_total",
		Help: "Failed feed fetches.",
	})
	s.mailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvalmailer_mail_sent_total",
		Help: "Digest emails by outcome.",
	}, []string{"outcome"})
	s.triggers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "approvalmailer_scheduler_triggers",
		Help: "Recurring triggers currently registered.",
	})
	s.reconfigureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvalmailer_scheduler_reconfigure_total",
		Help: "Trigger set reconfigurations by outcome.",
	}, []string{"outcome"})

	for _, c := range []prometheus.Collector{
		s.runsTotal, s.runDuration, s.fetchDuration, s.fetchEntries,
		s.fetchErrorsTotal, s.mailTotal, s.triggers, s.reconfigureTotal,
	} {
		s.register(reg, c)
	}
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
		s.log.Warn("metrics registration failed", logx.Err(err))
	}
}

func (s *PrometheusSink) RunCompleted(trigger, outcome string, d time.Duration) {
	s.runsTotal.WithLabelValues(trigger, outcome).Inc()
	s.runDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) FetchCompleted(d time.Duration, entries int, err error) {
	s.fetchDuration.Observe(d.Seconds())
	if err != nil {
		s.fetchErrorsTotal.Inc()
		return
	}
	s.fetchEntries.Observe(float64(entries))
}

func (s *PrometheusSink) MailSent(outcome string) { s.mailTotal.WithLabelValues(outcome).Inc() }

func (s *PrometheusSink) TriggersActive(n int) { s.triggers.Set(float64(n)) }

func (s *PrometheusSink) Reconfigured(outcome string) {
	s.reconfigureTotal.WithLabelValues(outcome).Inc()
}
