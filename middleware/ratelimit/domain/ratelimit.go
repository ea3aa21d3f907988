package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Key identifica quem está sendo limitado (IP, API key, usuário).
type Key string

// Limiter decide, de forma síncrona e sem I/O, se uma ação da chave é permitida agora.
//
// A implementação pode ser janela fixa, token bucket, etc.
// Cada chamada que devolve Allowed=true consome uma unidade da cota da chave.
type Limiter interface {
	Allow(key Key) Decision
}

type Decision struct {
	Allowed bool
	// Limit é a cota da janela (ou o burst, no token bucket). 0 quando não se aplica.
	Limit int
	// Remaining é quanto ainda cabe na janela atual depois desta decisão.
	Remaining int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
