// Package metrics собирает Prometheus метрики маршрутизатора вызовов.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector собирает метрики вызовов, B-каналов и медиа.
//
// Все методы допускают nil получатель: компоненты, собранные без метрик,
// вызывают их без проверок.
type Collector struct {
	registry *prometheus.Registry

	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callDuration     prometheus.Histogram
	releasesTotal    *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec

	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	framesDropped  *prometheus.CounterVec

	channelsInUse prometheus.Gauge
	huntFailures  prometheus.Counter

	routingMessages *prometheus.CounterVec
}

// Config конфигурация системы метрик
type Config struct {
	// Namespace префикс для Prometheus метрик
	Namespace string
	// Registry реестр; nil означает новый реестр
	Registry *prometheus.Registry
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{Namespace: "lcr"}
}

// New создает сборщик и регистрирует метрики в реестре
func New(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "lcr"
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	ns := cfg.Namespace

	return &Collector{
		registry: reg,
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "call", Name: "created_total",
			Help: "Total number of calls created, by origin",
		}, []string{"origin"}),
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "call", Name: "active",
			Help: "Number of calls not yet swept",
		}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "call", Name: "duration_seconds",
			Help:    "Lifetime of a call record in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800, 3600},
		}),
		releasesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "call", Name: "releases_total",
			Help: "Releases sent to the routing layer, by Q.850 cause",
		}, []string{"cause"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "call", Name: "state_transitions_total",
			Help: "Call state transitions",
		}, []string{"from", "to"}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rtp", Name: "frames_sent_total",
			Help: "RTP frames transmitted",
		}),
		framesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rtp", Name: "frames_received_total",
			Help: "RTP frames delivered to the bearer",
		}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rtp", Name: "frames_dropped_total",
			Help: "RTP frames dropped, by reason",
		}, []string{"reason"}),
		channelsInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "bchannel", Name: "in_use",
			Help: "B-channels currently seized",
		}),
		huntFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "bchannel", Name: "hunt_failures_total",
			Help: "Hunts that found no free B-channel",
		}),
		routingMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "routing", Name: "messages_total",
			Help: "Messages exchanged with the routing layer",
		}, []string{"direction", "type"}),
	}
}

// Registry возвращает реестр для экспорта через promhttp
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CallCreated учитывает новый вызов
func (c *Collector) CallCreated(origin string) {
	if c == nil {
		return
	}
	c.callsTotal.WithLabelValues(origin).Inc()
	c.callsActive.Inc()
}

// CallDeleted учитывает удаление записи вызова
func (c *Collector) CallDeleted(lifetime time.Duration) {
	if c == nil {
		return
	}
	c.callsActive.Dec()
	c.callDuration.Observe(lifetime.Seconds())
}

// Release учитывает RELEASE к маршрутизации
func (c *Collector) Release(cause int) {
	if c == nil {
		return
	}
	c.releasesTotal.WithLabelValues(strconv.Itoa(cause)).Inc()
}

// StateTransition учитывает смену состояния вызова
func (c *Collector) StateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) FrameSent() {
	if c == nil {
		return
	}
	c.framesSent.Inc()
}

func (c *Collector) FrameReceived() {
	if c == nil {
		return
	}
	c.framesReceived.Inc()
}

// FrameDropped учитывает отброшенный кадр
func (c *Collector) FrameDropped(reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(reason).Inc()
}

// ChannelSeized учитывает занятие B-канала
func (c *Collector) ChannelSeized() {
	if c == nil {
		return
	}
	c.channelsInUse.Inc()
}

// ChannelReleased учитывает освобождение B-канала
func (c *Collector) ChannelReleased() {
	if c == nil {
		return
	}
	c.channelsInUse.Dec()
}

func (c *Collector) HuntFailed() {
	if c == nil {
		return
	}
	c.huntFailures.Inc()
}

// RoutingMessage учитывает сообщение маршрутизации; direction "in" или "out"
func (c *Collector) RoutingMessage(direction, msgType string) {
	if c == nil {
		return
	}
	c.routingMessages.WithLabelValues(direction, msgType).Inc()
}
