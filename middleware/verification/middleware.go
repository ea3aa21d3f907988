package verification

import (
	"net/http"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/ratelimit"
)

type MiddlewareOptions struct {
	// KeyFn identifica o cliente no rate limit.
	KeyFn ratelimit.KeyFunc
	// AddressFn dá o IP enviado ao serviço de verificação. Padrão: host do RemoteAddr.
	// Não deve ler headers arbitrários do cliente.
	AddressFn    ratelimit.KeyFunc
	RequiresAuth bool
	// AddRateLimitHeaders expõe X-RateLimit-* também nas rotas verificadas.
	AddRateLimitHeaders bool
}

// Middleware roda o pipeline antes do próximo handler; negações viram o corpo JSON de erro.
func Middleware(p *Pipeline, opts MiddlewareOptions) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = ratelimit.DefaultKeyFunc("", false)
	}
	if opts.AddressFn == nil {
		opts.AddressFn = ratelimit.ClientIPFunc(false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec, err := p.Check(r.Context(), key, opts.AddressFn(r), opts.RequiresAuth)
			ratelimit.SetHeaders(w, key, dec, p.limiter.Limiter, opts.AddRateLimitHeaders)
			if err != nil {
				apierror.Write(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
