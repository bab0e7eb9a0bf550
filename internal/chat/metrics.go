package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently registered clients",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total events processed by the event loop, by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to process each event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	SendRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_send_retries_total",
		Help: "Failed send attempts that were retried or exhausted",
	})

	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_evictions_total",
		Help: "Connections removed by the server, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(SendRetriesTotal)
	prometheus.MustRegister(EvictionsTotal)
}
