// Package metrics exports connection lifecycle counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

type Collector struct {
	registry *prometheus.Registry

	live       prometheus.Gauge
	created    prometheus.Counter
	ready      prometheus.Counter
	removed    *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	latency    prometheus.Histogram
}

// New registers the collector's metrics on reg, or on a fresh registry
// when reg is nil.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		live: f.NewGauge(prometheus.GaugeOpts{
			Name: "geckos_connections",
			Help: "Connections currently registered",
		}),
		created: f.NewCounter(prometheus.CounterOpts{
			Name: "geckos_connections_created_total",
			Help: "Connections registered",
		}),
		ready: f.NewCounter(prometheus.CounterOpts{
			Name: "geckos_channels_ready_total",
			Help: "Data channels created",
		}),
		removed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "geckos_connections_removed_total",
			Help: "Connections removed, by terminal state",
		}, []string{"state"}),
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "geckos_handshakes_total",
			Help: "Handshakes finished, by HTTP status",
		}, []string{"status"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name: "geckos_handshake_latency_seconds",
			Help: "Handshake time",
			// 12 buckets from 1ms to 5s.
			Buckets: prometheus.ExponentialBucketsRange(0.001, 5, 12),
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectionCreated(connection.Info) {
	c.live.Inc()
	c.created.Inc()
}

func (c *Collector) ChannelReady(connection.Info) {
	c.ready.Inc()
}

func (c *Collector) ConnectionRemoved(_ connection.Info, state transport.State) {
	c.live.Dec()
	c.removed.WithLabelValues(string(state)).Inc()
}

func (c *Collector) HandshakeFinished(status int, elapsed time.Duration) {
	c.handshakes.WithLabelValues(strconv.Itoa(status)).Inc()
	c.latency.Observe(elapsed.Seconds())
}
