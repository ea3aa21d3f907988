package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/circuitbreaker"
	"payroll-gateway/middleware/ratelimit"
	"payroll-gateway/middleware/ratelimit/application"
	"payroll-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

const (
	messageSuccess       = "Success"
	messageFailurePrefix = "Failure"
)

// TokenSource fornece o token de serviço para rotas autenticadas.
type TokenSource interface {
	ServiceToken(ctx context.Context) (string, error)
}

// Route é uma variante da verificação (ex.: v1 sem auth, v3 com auth).
// Cada variante tem seu próprio breaker.
type Route struct {
	Name    string
	Client  *Client
	Breaker *circuitbreaker.Breaker
	// Tokens nil significa que a variante não envia Authorization.
	Tokens TokenSource
}

type Options struct {
	Limiter    domain.Limiter
	RetryAfter time.Duration
	Public     Route
	Protected  Route
	Stats      domain.StatsStore
	Logger     *zap.Logger
}

type Pipeline struct {
	limiter   application.Service
	public    Route
	protected Route
	stats     domain.StatsStore
	logger    *zap.Logger
}

func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		limiter:   application.Service{Limiter: opts.Limiter, RetryAfter: opts.RetryAfter},
		public:    opts.Public,
		protected: opts.Protected,
		stats:     opts.Stats,
		logger:    opts.Logger,
	}
}

// Check decide se a request pode seguir. key é a chave do rate limit; address
// é o IP do cliente que o serviço de verificação confere. nil libera; caso
// contrário o erro é um *apierror.Error. A Decision devolvida é a do rate limiter.
func (p *Pipeline) Check(ctx context.Context, key, address string, requiresAuth bool) (domain.Decision, error) {
	route := p.public
	if requiresAuth {
		route = p.protected
	}

	dec := p.limiter.Decide(domain.Key(key))
	if !dec.Allowed {
		p.record(ctx, key, route.Name, domain.OutcomeRateLimited)
		return dec, apierror.New(apierror.CodeTooManyRequests, "")
	}

	var token string
	if requiresAuth {
		if route.Tokens == nil {
			p.record(ctx, key, route.Name, domain.OutcomeAuthError)
			return dec, apierror.New(apierror.CodeAuthSetupError, "no token source configured for "+route.Name)
		}
		t, err := route.Tokens.ServiceToken(ctx)
		if err != nil {
			p.logger.Error("service token unavailable", zap.String("route", route.Name), zap.Error(err))
			p.record(ctx, key, route.Name, domain.OutcomeAuthError)
			if apierror.HasCode(err, apierror.CodeAuthSetupError) {
				return dec, err
			}
			return dec, apierror.Wrap(apierror.CodeAuthSetupError, "", err)
		}
		token = t
	}

	if err := p.verify(ctx, route, address, token); err != nil {
		outcome := domain.OutcomeUnavailable
		if apierror.HasCode(err, apierror.CodeIPVerificationFailed) {
			outcome = domain.OutcomeIPDenied
		}
		p.record(ctx, key, route.Name, outcome)
		return dec, err
	}

	p.record(ctx, key, route.Name, domain.OutcomeAllowed)
	return dec, nil
}

func (p *Pipeline) verify(ctx context.Context, route Route, address, token string) error {
	if route.Client == nil || route.Breaker == nil {
		return apierror.New(apierror.CodeServiceUnavailable, "verification route "+route.Name+" is not configured")
	}

	resp, err := circuitbreaker.Execute(ctx, route.Breaker, func(ctx context.Context) (Response, error) {
		return route.Client.Verify(ctx, address, token)
	})
	if err != nil {
		p.logger.Warn("verification call failed",
			zap.String("route", route.Name),
			zap.String("breaker_state", route.Breaker.State().String()),
			zap.Error(err))
		return apierror.Wrap(apierror.CodeServiceUnavailable, unavailableMessage(err), err)
	}

	switch {
	case resp.Message == messageSuccess:
		return nil
	case strings.HasPrefix(resp.Message, messageFailurePrefix):
		p.logger.Info("ip verification denied", zap.String("route", route.Name), zap.String("address", address), zap.String("reason", resp.Message))
		return apierror.New(apierror.CodeIPVerificationFailed, "")
	default:
		p.logger.Warn("unexpected verification response", zap.String("route", route.Name), zap.Int("status", resp.Status))
		return apierror.New(apierror.CodeServiceUnavailable, "verification service unavailable (invalid response)")
	}
}

func unavailableMessage(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "verification service unavailable (circuit open)"
	case errors.Is(err, circuitbreaker.ErrTimeout):
		return "verification service timed out"
	case errors.As(err, &statusErr):
		return "verification service error"
	default:
		return "verification service unreachable"
	}
}

func (p *Pipeline) record(ctx context.Context, key, route string, outcome domain.Outcome) {
	ratelimit.RecordStats(ctx, p.stats, p.logger, domain.StatsEvent{
		Key:     domain.Key(key),
		Outcome: outcome,
		Route:   route,
	})
}
