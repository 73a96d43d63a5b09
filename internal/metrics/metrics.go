package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/notify"
	"github.com/notifyhub/purchase-notify/internal/service"
	"github.com/notifyhub/purchase-notify/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EventsHandled    *prometheus.CounterVec
	HandlingLatency  *prometheus.HistogramVec
	ProviderRequests *prometheus.CounterVec
	PurchasesSaved   *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	ConsumerRunning  prometheus.Gauge

	reg prometheus.Registerer
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_events_total",
			Help: "Notification events taken off the queue, by type and how they were settled.",
		}, []string{"type", "outcome"}),

		HandlingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_handling_seconds",
			Help:    "Time from receiving a notification event to settling it.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),

		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound provider calls by channel and result.",
		}, []string{"channel", "result"}),

		PurchasesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purchases_saved_total",
			Help: "Purchases persisted by the purchase service.",
		}, []string{"product"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_events_published_total",
			Help: "Notification events published by the purchase service.",
		}, []string{"type"}),

		ConsumerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_consumer_running",
			Help: "1 while the notification consumer pool is running.",
		}),

		reg: reg,
	}

	reg.MustRegister(
		m.EventsHandled,
		m.HandlingLatency,
		m.ProviderRequests,
		m.PurchasesSaved,
		m.EventsPublished,
		m.ConsumerRunning,
	)

	return m
}

// TrackQueueDepth exposes the backlog of queueName as a gauge read on every
// scrape. Only brokers that can report depth cheaply provide depth.
func (m *Metrics) TrackQueueDepth(queueName string, depth func(string) (int, error)) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "notification_queue_depth",
		Help:        "Messages waiting in the notification queue.",
		ConstLabels: prometheus.Labels{"queue": queueName},
	}, func() float64 {
		n, err := depth(queueName)
		if err != nil {
			return 0
		}
		return float64(n)
	}))
}

// WorkerHooks returns the callbacks expected by worker.MetricHooks.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnOutcome: func(eventType string, outcome worker.Outcome, latency time.Duration) {
			m.EventsHandled.WithLabelValues(eventType, string(outcome)).Inc()
			m.HandlingLatency.WithLabelValues(eventType).Observe(latency.Seconds())
		},
		OnRunning: func(running bool) {
			if running {
				m.ConsumerRunning.Set(1)
				return
			}
			m.ConsumerRunning.Set(0)
		},
	}
}

func (m *Metrics) NotifyHooks() notify.MetricHooks {
	return notify.MetricHooks{
		OnProviderResult: func(ch domain.Channel, result string) {
			m.ProviderRequests.WithLabelValues(string(ch), result).Inc()
		},
	}
}

func (m *Metrics) ServiceHooks() service.MetricHooks {
	return service.MetricHooks{
		OnSaved: func(product string) {
			m.PurchasesSaved.WithLabelValues(product).Inc()
		},
		OnPublished: func(eventType domain.EventType) {
			m.EventsPublished.WithLabelValues(string(eventType)).Inc()
		},
	}
}
