package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconMetrics содержит метрики обработки событий провайдера.
type ReconMetrics struct {
	// Счётчики исходов обработки
	eventsReceived  prometheus.Counter
	eventsApplied   prometheus.Counter
	eventsIgnored   prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	eventsReplayed  prometheus.Counter
	commitConflicts prometheus.Counter

	// Гистограмма времени обработки
	handleDuration prometheus.Histogram

	// Gauge для событий в обработке
	inFlight prometheus.Gauge
}

// NewReconMetrics создаёт новый экземпляр метрик реконсиляции.
func NewReconMetrics() *ReconMetrics {
	return newReconMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newReconMetricsWithRegisterer(registerer prometheus.Registerer) *ReconMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconMetrics{
		eventsReceived: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_events_received_total",
			Help: "Total number of verified provider events received",
		}),
		eventsApplied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_events_applied_total",
			Help: "Total number of events that changed order state",
		}),
		eventsIgnored: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_events_ignored_total",
			Help: "Total number of stale or unhandled events recorded as ignored",
		}),
		eventsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payrecon_events_rejected_total",
			Help: "Total number of events rejected as invalid transitions, by reason",
		}, []string{"reason"}),
		eventsReplayed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_events_replayed_total",
			Help: "Total number of duplicate deliveries resolved as idempotent no-ops",
		}),
		commitConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_commit_conflicts_total",
			Help: "Total number of persistence failures on the commit path",
		}),
		handleDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "payrecon_handle_duration_seconds",
			Help:    "Duration of full event handling in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payrecon_events_in_flight",
			Help: "Number of provider events currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordEventReceived увеличивает счётчик принятых событий.
func (m *ReconMetrics) RecordEventReceived() {
	m.eventsReceived.Inc()
	m.inFlight.Inc()
}

// RecordEventFinished уменьшает количество событий в обработке.
func (m *ReconMetrics) RecordEventFinished() {
	m.inFlight.Dec()
}

// RecordEventApplied увеличивает счётчик применённых переходов.
func (m *ReconMetrics) RecordEventApplied() {
	m.eventsApplied.Inc()
}

// RecordEventIgnored увеличивает счётчик пропущенных событий.
func (m *ReconMetrics) RecordEventIgnored() {
	m.eventsIgnored.Inc()
}

// RecordEventRejected увеличивает счётчик отклонённых переходов.
// reason служит меткой для алертинга по качеству данных.
func (m *ReconMetrics) RecordEventRejected(reason string) {
	m.eventsRejected.WithLabelValues(reason).Inc()
}

// RecordEventReplayed увеличивает счётчик идемпотентных повторов.
func (m *ReconMetrics) RecordEventReplayed() {
	m.eventsReplayed.Inc()
}

// RecordCommitConflict увеличивает счётчик сбоев на пути коммита.
func (m *ReconMetrics) RecordCommitConflict() {
	m.commitConflicts.Inc()
}

// RecordHandleDuration записывает полное время обработки события.
func (m *ReconMetrics) RecordHandleDuration(duration time.Duration) {
	m.handleDuration.Observe(duration.Seconds())
}
