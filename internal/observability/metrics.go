// Package observability exposes Prometheus metrics of the exercise server.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer
	reg      prometheus.Registerer

	Actions         *prometheus.CounterVec
	ActionDurations *prometheus.HistogramVec
	Ticks           prometheus.Counter
	Exercises       prometheus.Gauge
	Clients         prometheus.Gauge
	SlowClients     prometheus.Counter
}

// New registers the server metrics against reg, defaulting to the global
// registry when nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	actions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "manv_actions_total",
		Help: "Proposed actions by action type and result (applied, rejected, error).",
	}, []string{"type", "result"}), "manv_actions_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manv_action_apply_duration_seconds",
		Help:    "Time spent validating and reducing one action.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"type"}), "manv_action_apply_duration_seconds")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "manv_ticks_total",
		Help: "Simulation ticks applied across all exercises.",
	}), "manv_ticks_total")
	if err != nil {
		return nil, err
	}
	exercises, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "manv_exercises_active",
		Help: "Exercises currently loaded in memory.",
	}), "manv_exercises_active")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "manv_clients_connected",
		Help: "Clients joined to an exercise.",
	}), "manv_clients_connected")
	if err != nil {
		return nil, err
	}
	slow, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "manv_clients_disconnected_slow_total",
		Help: "Clients disconnected because their outbound queue was full.",
	}), "manv_clients_disconnected_slow_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:        gatherer,
		reg:             reg,
		Actions:         actions,
		ActionDurations: durations,
		Ticks:           ticks,
		Exercises:       exercises,
		Clients:         clients,
		SlowClients:     slow,
	}, nil
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAction(actionType, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(actionType, result).Inc()
	m.ActionDurations.WithLabelValues(actionType).Observe(d.Seconds())
}

func (m *Metrics) Tick() {
	if m != nil {
		m.Ticks.Inc()
	}
}

func (m *Metrics) ExerciseLoaded(delta int) {
	if m != nil {
		m.Exercises.Add(float64(delta))
	}
}

func (m *Metrics) ClientJoined(delta int) {
	if m != nil {
		m.Clients.Add(float64(delta))
	}
}

func (m *Metrics) SlowClient() {
	if m != nil {
		m.SlowClients.Inc()
	}
}

// QueueStats is sampled on every scrape.
type QueueStats func() (depth, capacity int, dropped uint64)

// RegisterQueue exposes depth, capacity and drops of a background queue
// (index writer, mirror uploads) under the given queue label.
func (m *Metrics) RegisterQueue(name string, stats QueueStats) error {
	if m == nil || stats == nil {
		return nil
	}
	labels := prometheus.Labels{"queue": name}
	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "manv_queue_depth",
			Help:        "Items waiting in a background queue.",
			ConstLabels: labels,
		}, func() float64 { d, _, _ := stats(); return float64(d) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "manv_queue_capacity",
			Help:        "Capacity of a background queue.",
			ConstLabels: labels,
		}, func() float64 { _, c, _ := stats(); return float64(c) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "manv_queue_dropped_total",
			Help:        "Items dropped because a background queue was full.",
			ConstLabels: labels,
		}, func() float64 { _, _, n := stats(); return float64(n) }),
	}
	for _, c := range cs {
		if err := m.reg.Register(c); err != nil {
			return fmt.Errorf("register %s queue metrics: %w", name, err)
		}
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
