package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trello_signoff"

// Collector holds the service's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	apiRequests       *prometheus.CounterVec
	apiDuration       *prometheus.HistogramVec
	reconciliations   *prometheus.CounterVec
	statusPushes      *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	webhookDeliveries *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of GitHub and Trello API calls",
		}, []string{"service", "operation", "outcome"}),
		apiDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "GitHub and Trello API call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"service", "operation"}),
		reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation calls by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		statusPushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_pushes_total",
			Help:      "Commit statuses pushed to GitHub by state",
		}, []string{"state", "outcome"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		webhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Inbound webhook deliveries by provider and disposition",
		}, []string{"provider", "disposition"}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveHTTP(method, route, statusCode string, seconds float64) {
	c.httpRequests.WithLabelValues(method, route, statusCode).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (c *Collector) ObserveAPICall(service, operation, outcome string, seconds float64) {
	c.apiRequests.WithLabelValues(service, operation, outcome).Inc()
	c.apiDuration.WithLabelValues(service, operation).Observe(seconds)
}

func (c *Collector) ObserveReconciliation(trigger, outcome string) {
	c.reconciliations.WithLabelValues(trigger, outcome).Inc()
}

func (c *Collector) ObserveStatusPush(state, outcome string) {
	c.statusPushes.WithLabelValues(state, outcome).Inc()
}

func (c *Collector) SetBreakerState(name string, state float64) {
	c.breakerState.WithLabelValues(name).Set(state)
}

func (c *Collector) ObserveWebhook(provider, disposition string) {
	c.webhookDeliveries.WithLabelValues(provider, disposition).Inc()
}
