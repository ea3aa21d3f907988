package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/ratelimit/application"
	"payroll-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Limiter             domain.Limiter
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	// Route identifica a rota nas estatísticas (ex.: "login").
	Route  string
	Logger *zap.Logger
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// DefaultKeyFunc usa o header keyHeader quando presente; senão o IP do cliente (ClientIPFunc).
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	clientIP := ClientIPFunc(trustXFF)
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		return clientIP(r)
	}
}

// ClientIPFunc devolve o IP do cliente: host do RemoteAddr, ou o primeiro
// X-Forwarded-For quando trustXFF. Nunca lê headers escolhidos pelo operador,
// então serve como endereço a verificar.
func ClientIPFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// SetHeaders escreve Retry-After (quando bloqueado) e, se pedido, os X-RateLimit-*.
func SetHeaders(w http.ResponseWriter, key string, dec domain.Decision, limiter domain.Limiter, verbose bool) {
	if !dec.Allowed {
		w.Header().Set("Retry-After", formatRetryAfter(dec.RetryAfter))
	}
	if !verbose {
		return
	}

	h := w.Header()
	h.Set("X-RateLimit-Key", key)
	if dec.Limit > 0 {
		h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
		h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	}
	if ri, ok := limiter.(rateInfo); ok {
		h.Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
		h.Set("X-RateLimit-Burst", formatInt(ri.Burst()))
	}
}

// RecordStats grava o evento sem deixar erro de store afetar a request.
func RecordStats(ctx context.Context, stats domain.StatsStore, logger *zap.Logger, ev domain.StatsEvent) {
	if stats == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := stats.Record(ctx, ev); err != nil && logger != nil {
		logger.Warn("stats record failed", zap.Error(err), zap.String("outcome", string(ev.Outcome)))
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.Service{
		Limiter:    opts.Limiter,
		RetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			dec := svc.Decide(domain.Key(key))
			SetHeaders(w, key, dec, opts.Limiter, opts.AddRateLimitHeaders)

			outcome := domain.OutcomeAllowed
			if !dec.Allowed {
				outcome = domain.OutcomeRateLimited
			}
			RecordStats(r.Context(), opts.Stats, opts.Logger, domain.StatsEvent{
				Key:     domain.Key(key),
				Outcome: outcome,
				Route:   opts.Route,
				Method:  r.Method,
				Path:    r.URL.Path,
			})

			if !dec.Allowed {
				opts.Logger.Debug("rate limited", zap.String("key", key), zap.Duration("retry_after", dec.RetryAfter))
				apierror.Write(w, r, apierror.New(apierror.CodeTooManyRequests, ""))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
