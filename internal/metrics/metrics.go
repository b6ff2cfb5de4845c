// Package metrics exposes Prometheus collectors for webhook traffic, outage
// transitions, notification delivery and bot commands.
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lightsout"

type Collector struct {
	webhookRequests *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	outageOpen      prometheus.Gauge
	notifications   *prometheus.CounterVec
	sendLatency     prometheus.Histogram
	commands        *prometheus.CounterVec
	reg             prometheus.Registerer
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook calls by endpoint and response code.",
		}, []string{"endpoint", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outage_transitions_total",
			Help:      "Accepted power state changes.",
		}, []string{"kind"}),
		outageOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outage_open",
			Help:      "1 while an outage is open.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Per-recipient notification outcomes.",
		}, []string{"result"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_send_seconds",
			Help:      "Latency of a single notification send.",
			Buckets:   prometheus.DefBuckets,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_total",
			Help:      "Bot commands by name and outcome.",
		}, []string{"command", "outcome"}),
		reg: reg,
	}
	reg.MustRegister(
		c.webhookRequests,
		c.transitions,
		c.outageOpen,
		c.notifications,
		c.sendLatency,
		c.commands,
	)
	return c
}

func (c *Collector) RecordWebhook(endpoint string, code int) {
	if c == nil {
		return
	}
	c.webhookRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// RecordOutageStarted and RecordOutageEnded also drive the outage_open gauge.
func (c *Collector) RecordOutageStarted() {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues("started").Inc()
	c.outageOpen.Set(1)
}

func (c *Collector) RecordOutageEnded() {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues("ended").Inc()
	c.outageOpen.Set(0)
}

// SetOutageOpen seeds the gauge at startup.
func (c *Collector) SetOutageOpen(open bool) {
	if c == nil {
		return
	}
	if open {
		c.outageOpen.Set(1)
	} else {
		c.outageOpen.Set(0)
	}
}

func (c *Collector) RecordNotification(ok bool, took time.Duration) {
	if c == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	c.notifications.WithLabelValues(result).Inc()
	c.sendLatency.Observe(took.Seconds())
}

// RecordCommand counts a bot command. outcome is "ok", "ignored" or "error".
func (c *Collector) RecordCommand(command, outcome string) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(command, outcome).Inc()
}

// RegisterCounterFunc exposes an externally maintained counter such as
// store reconnects.
func (c *Collector) RegisterCounterFunc(name, help string, fn func() float64) {
	if c == nil {
		return
	}
	c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// RegisterGaugeFunc exposes an externally maintained gauge.
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) {
	if c == nil {
		return
	}
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
