package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"payroll-gateway/middleware/auth"
	"payroll-gateway/middleware/ratelimit"
	"payroll-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// stubOptions controla a injeção de falhas do serviço de verificação.
type stubOptions struct {
	// FailureRate e SlowRate são probabilidades em [0, 1].
	FailureRate float64
	SlowRate    float64
	SlowMin     time.Duration
	SlowMax     time.Duration
	// Bearer, se não nil, protege /v3/ip.
	Bearer func(http.Handler) http.Handler
	// RateLimit > 0 limita o próprio stub por IP (janela de RatePeriod).
	RateLimit  int
	RatePeriod time.Duration
	Logger     *zap.Logger
	// Float é a fonte aleatória; nil usa math/rand/v2.
	Float func() float64
}

type simulatedFailure struct {
	status  int
	message string
}

var failures = []simulatedFailure{
	{http.StatusRequestTimeout, "Failure: Request Timeout simulated"},
	{http.StatusTooManyRequests, "Failure: Too Many Requests simulated"},
	{http.StatusServiceUnavailable, "Failure: Service Unavailable simulated"},
	{http.StatusInternalServerError, "Failure: Internal Server Error simulated"},
}

type stub struct {
	opts stubOptions
}

func newStubRouter(opts stubOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Float == nil {
		opts.Float = rand.Float64
	}
	if opts.SlowMax < opts.SlowMin {
		opts.SlowMax = opts.SlowMin
	}
	s := &stub{opts: opts}

	r := chi.NewRouter()
	if opts.RateLimit > 0 {
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Limiter:             infra.NewFixedWindowStore(opts.RateLimit, opts.RatePeriod),
			AddRateLimitHeaders: true,
			Route:               "stub",
			Logger:              opts.Logger,
		}))
	}

	r.Get("/ip", s.serveIP)
	r.Get("/v1/ip", s.serveIP)
	r.Group(func(r chi.Router) {
		if opts.Bearer != nil {
			r.Use(opts.Bearer)
		}
		r.Get("/v3/ip", s.serveIP)
	})
	return r
}

func (s *stub) serveIP(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Failure: address is required"})
		return
	}

	if s.opts.SlowRate > 0 && s.opts.Float() < s.opts.SlowRate {
		delay := s.opts.SlowMin
		if span := s.opts.SlowMax - s.opts.SlowMin; span > 0 {
			delay += time.Duration(s.opts.Float() * float64(span))
		}
		s.opts.Logger.Debug("simulating latency", zap.Duration("delay", delay), zap.String("address", address))
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if s.opts.FailureRate > 0 && s.opts.Float() < s.opts.FailureRate {
		f := failures[int(s.opts.Float()*float64(len(failures)))%len(failures)]
		s.opts.Logger.Info("simulating failure", zap.Int("status", f.status), zap.String("address", address))
		writeJSON(w, f.status, map[string]string{"ip": address, "message": f.message})
		return
	}

	resp := map[string]string{"ip": address, "message": "Success"}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		resp["subject"] = claims.Subject
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
