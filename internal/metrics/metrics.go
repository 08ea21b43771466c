package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages confirmed by the store.",
	})
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_send_failures_total",
		Help: "Sends rolled back, by failing stage (upload, insert).",
	}, []string{"stage"})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Send attempts rejected by the composer rate limiter.",
	})
	MergeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_merge_outcomes_total",
		Help: "Durable messages merged into open chats, by path and outcome.",
	}, []string{"path", "outcome"})
	RealtimeDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_realtime_dropped_total",
		Help: "Pushed rows not relevant to the open chat.",
	})
	SubscriptionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_subscription_failures_total",
		Help: "Realtime subscriptions that failed to open or ended unexpectedly.",
	})
	ActiveChatSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_sessions",
		Help: "Open chat sessions.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		MessagesSent, SendFailures, RateLimited,
		MergeOutcomes, RealtimeDropped, SubscriptionFailures,
		ActiveChatSessions,
	)
}
