// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela fixa, token bucket, semáforo, stats)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo:
//
//   1) Extrai a chave do cliente (header/XFF/IP)
//   2) Chama a camada application para obter a decisão
//   3) Se bloqueado, responde 429 TOO_MANY_REQUESTS (rate limit) ou 503 SERVICE_UNAVAILABLE (concorrência)
//   4) Se permitido, chama o próximo handler
//
// O pipeline de verificação (middleware/verification) reusa o mesmo Limiter,
// então login e rotas verificadas dividem a mesma cota por cliente.
package ratelimit
