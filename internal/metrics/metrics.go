package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Tick outcomes.
const (
	TickOK                = "ok"
	TickNoPosition        = "no_position"
	TickFetchFailed       = "fetch_failed"
	TickIdentityFailed    = "identity_failed"
	TickPermissionRevoked = "permission_revoked"
	TickPanicked          = "panicked"
)

// Notification outcomes.
const (
	NotificationSent       = "sent"
	NotificationFailed     = "failed"
	NotificationSuppressed = "suppressed"
)

// Collector holds the Prometheus metrics of the proximity checker.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	notifications *prometheus.CounterVec
	scanHits      prometheus.Histogram
	controllers   prometheus.Gauge
	positions     prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proximity_ticks_total",
				Help:      "Proximity check cycles by outcome",
			},
			[]string{"result"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proximity_notifications_total",
				Help:      "Proximity notifications by outcome",
			},
			[]string{"result"},
		),
		scanHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proximity_scan_hits",
				Help:      "Tasks inside the trigger radius per scan",
				Buckets:   []float64{0, 1, 2, 5, 10, 25},
			},
		),
		controllers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proximity_controllers_registered",
				Help:      "Sessions with a registered proximity job",
			},
		),
		positions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "positions_received_total",
				Help:      "Device positions received",
			},
		),
	}

	registry.MustRegister(
		c.ticks,
		c.notifications,
		c.scanHits,
		c.controllers,
		c.positions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

func (c *Collector) ObserveTick(result string) {
	if c == nil {
		return
	}
	c.ticks.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveNotification(result string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveScanHits(n int) {
	if c == nil {
		return
	}
	c.scanHits.Observe(float64(n))
}

func (c *Collector) ControllerRegistered() {
	if c == nil {
		return
	}
	c.controllers.Inc()
}

func (c *Collector) ControllerUnregistered() {
	if c == nil {
		return
	}
	c.controllers.Dec()
}

func (c *Collector) PositionReceived() {
	if c == nil {
		return
	}
	c.positions.Inc()
}
