package observability

import (
	"context"
	"net/http"

	"payroll-gateway/middleware/circuitbreaker"
	"payroll-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics agrupa os coletores do gateway num registry próprio.
type Metrics struct {
	registry *prometheus.Registry

	BreakerTransitions *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	Decisions          *prometheus.CounterVec
	AuthAttempts       *prometheus.CounterVec
	TokensMinted       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"breaker", "from", "to"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0 closed, 1 open, 2 half_open).",
		}, []string{"breaker"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Request decisions by route and outcome.",
		}, []string{"route", "outcome"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		TokensMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_minted_total",
			Help:      "Signed tokens minted by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.BreakerTransitions,
		m.BreakerState,
		m.Decisions,
		m.AuthAttempts,
		m.TokensMinted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnBreakerStateChange serve como circuitbreaker.Config.OnStateChange.
func (m *Metrics) OnBreakerStateChange(name string, from, to circuitbreaker.State) {
	m.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	m.BreakerState.WithLabelValues(name).Set(float64(to))
}

// TrackBreaker publica o estado inicial (closed) antes da primeira transição.
func (m *Metrics) TrackBreaker(b *circuitbreaker.Breaker) {
	m.BreakerState.WithLabelValues(b.Name()).Set(float64(b.State()))
}

func (m *Metrics) OnAuthAttempt(result string) {
	m.AuthAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) OnTokenMinted(kind string) {
	m.TokensMinted.WithLabelValues(kind).Inc()
}

// Record implementa domain.StatsStore: cada decisão vira um incremento.
// Key e Path ficam de fora dos labels (cardinalidade).
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Route
	if route == "" {
		route = "other"
	}
	m.Decisions.WithLabelValues(route, string(ev.Outcome)).Inc()
	return nil
}
