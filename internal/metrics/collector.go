package metrics

import (
	"wssimple/infrastructure/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the Prometheus collector.
type Config struct {
	// Namespace is the metrics namespace (default: "wssimple").
	Namespace string

	// ConstLabels are added to every metric, e.g. the server id.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector turns server events into Prometheus metrics.
type Collector struct {
	activeConnections  prometheus.Gauge
	connectsTotal      prometheus.Counter
	disconnectsTotal   prometheus.Counter
	connectionDuration prometheus.Histogram
	messagesTotal      *prometheus.CounterVec
	messageBytes       *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

func NewCollector(opts ...Option) *Collector {
	config := Config{
		Namespace: "wssimple",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)
	return &Collector{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_connections",
			Help:        "Number of currently registered websocket connections",
			ConstLabels: config.ConstLabels,
		}),
		connectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "connects_total",
			Help:        "Total number of accepted websocket connections",
			ConstLabels: config.ConstLabels,
		}),
		disconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "disconnects_total",
			Help:        "Total number of disconnected websocket connections",
			ConstLabels: config.ConstLabels,
		}),
		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "connection_duration_seconds",
			Help:        "Lifetime of websocket connections in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 10, 60, 300, 1800, 3600, 21600, 86400},
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "messages_total",
			Help:        "Total number of websocket messages by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),
		messageBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "message_bytes_total",
			Help:        "Total websocket payload bytes by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "errors_total",
			Help:        "Total number of websocket errors by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
	}
}

// Subscribe feeds the collector from bus until the returned func is called.
func (c *Collector) Subscribe(bus *ws.EventBus) (unsubscribe func()) {
	return bus.Subscribe(c.Handlers())
}

func (c *Collector) Handlers() ws.Handlers {
	return ws.Handlers{
		Connection: c.ObserveConnection,
		Message:    c.ObserveMessage,
		Error:      c.ObserveError,
	}
}

func (c *Collector) ObserveConnection(event ws.ConnectionEvent) {
	switch event.Type {
	case ws.Connected:
		c.connectsTotal.Inc()
		c.activeConnections.Inc()
	case ws.Disconnected:
		c.disconnectsTotal.Inc()
		c.activeConnections.Dec()
		if event.Connection != nil {
			c.connectionDuration.Observe(event.Timestamp.Sub(event.Connection.ConnectedAt()).Seconds())
		}
	}
}

func (c *Collector) ObserveMessage(event ws.MessageEvent) {
	direction := event.Type.String()
	c.messagesTotal.WithLabelValues(direction).Inc()
	c.messageBytes.WithLabelValues(direction).Add(float64(len(event.Data)))
}

func (c *Collector) ObserveError(event ws.ErrorEvent) {
	c.errorsTotal.WithLabelValues(event.Kind.String()).Inc()
}
