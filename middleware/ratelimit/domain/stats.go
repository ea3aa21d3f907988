package domain

import (
	"context"
	"time"
)

// Outcome é o resultado final de uma request que passou pelo gateway.
type Outcome string

const (
	OutcomeAllowed     Outcome = "allowed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeIPDenied    Outcome = "ip_denied"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeAuthError   Outcome = "auth_error"
)

func (o Outcome) Allowed() bool { return o == OutcomeAllowed }

// StatsEvent representa uma decisão tomada para uma request
// (rate limit ou pipeline de verificação).
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     Key
	Outcome Outcome

	// Route é a variante da rota (ex.: "v1", "v3", "login").
	Route  string
	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// Quem grava deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
