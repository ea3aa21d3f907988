// Package server monta o router HTTP do gateway.
package server

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/ratelimit"
	"payroll-gateway/middleware/ratelimit/domain"
	"payroll-gateway/middleware/requestid"
	"payroll-gateway/middleware/verification"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Deps são as peças já construídas que o router conecta.
type Deps struct {
	Logger *zap.Logger

	// Limiter nil desliga o rate limit do /login (o pipeline recebe o seu em Options).
	Limiter             domain.Limiter
	Stats               domain.StatsStore
	KeyFn               ratelimit.KeyFunc
	// AddressFn dá o IP conferido pelo serviço de verificação (padrão: RemoteAddr).
	AddressFn           ratelimit.KeyFunc
	AddRateLimitHeaders bool
	Concurrency         ratelimit.ConcurrencyOptions

	Pipeline *verification.Pipeline
	// Bearer protege as rotas /v3. Nil deixa /v3 sem checagem de token do cliente.
	Bearer func(http.Handler) http.Handler
	Login  http.Handler

	Upstream http.Handler
	Metrics  http.Handler
}

// New devolve o handler raiz:
//
//	GET  /health
//	GET  /metrics
//	POST /login          rate limit
//	*    /v1/*           pipeline (variante pública) -> upstream sem o prefixo
//	*    /v3/*           bearer + pipeline (variante autenticada) -> upstream sem o prefixo
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requestLogger(d.Logger))
	r.Use(recovery(d.Logger))
	d.Concurrency.Logger = d.Logger
	r.Use(ratelimit.ConcurrencyMiddleware(d.Concurrency))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, r, apierror.New(apierror.CodeNotFound, ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, r, apierror.New(apierror.CodeMethodNotAllowed, ""))
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	if d.Login != nil {
		login := d.Login
		if d.Limiter != nil {
			login = ratelimit.Middleware(ratelimit.Options{
				Limiter:             d.Limiter,
				Stats:               d.Stats,
				KeyFn:               d.KeyFn,
				AddRateLimitHeaders: d.AddRateLimitHeaders,
				Route:               "login",
				Logger:              d.Logger,
			})(login)
		}
		r.Method(http.MethodPost, "/login", login)
	}

	if d.Pipeline != nil && d.Upstream != nil {
		r.Route("/v1", func(r chi.Router) {
			r.Use(verification.Middleware(d.Pipeline, verification.MiddlewareOptions{
				KeyFn:               d.KeyFn,
				AddressFn:           d.AddressFn,
				AddRateLimitHeaders: d.AddRateLimitHeaders,
			}))
			r.Handle("/*", http.StripPrefix("/v1", d.Upstream))
		})
		r.Route("/v3", func(r chi.Router) {
			if d.Bearer != nil {
				r.Use(d.Bearer)
			}
			r.Use(verification.Middleware(d.Pipeline, verification.MiddlewareOptions{
				KeyFn:               d.KeyFn,
				AddressFn:           d.AddressFn,
				RequiresAuth:        true,
				AddRateLimitHeaders: d.AddRateLimitHeaders,
			}))
			r.Handle("/*", http.StripPrefix("/v3", d.Upstream))
		})
	}

	return r
}

// NewUpstreamProxy cria o reverse proxy para a API de funcionários.
func NewUpstreamProxy(target *url.URL, logger *zap.Logger) *httputil.ReverseProxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		apierror.Write(w, r, apierror.Wrap(apierror.CodeBadGateway, "", err))
	}
	return proxy
}
