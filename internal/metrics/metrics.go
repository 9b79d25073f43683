package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_webhook_requests_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"outcome"}, // accepted|unauthorized|malformed|ignored
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_webhook_events_total",
			Help: "Inbound messages and statuses by kind and result",
		},
		[]string{"kind", "result"}, // message|status , saved|duplicate|failed|rejected|orphan
	)

	RoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_routed_total",
			Help: "Inbound messages by classified intent",
		},
		[]string{"intent"},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_tasks_total",
			Help: "Background side-effect tasks by name and result",
		},
		[]string{"task", "result"}, // ok|error|dropped|panic
	)

	OutboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_outbound_total",
			Help: "Cloud API calls by operation and result",
		},
		[]string{"op", "result"}, // send|mark_read , ok|error|breaker_open
	)

	SenderMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_sender_messages_total",
			Help: "Outbound requests consumed by the sender worker, by result",
		},
		[]string{"result"}, // sent|failed|opted_out|poison|lookup_failed
	)
)

var registerOnce sync.Once

// MustRegister registers the collectors once per process; repeated calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			WebhookRequestsTotal,
			WebhookEventsTotal,
			RoutedTotal,
			TasksTotal,
			OutboundTotal,
			SenderMessagesTotal,
		)
	})
}
