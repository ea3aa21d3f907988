package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"payroll-gateway/internal/observability"
	"payroll-gateway/internal/server"
	"payroll-gateway/middleware/auth"
	"payroll-gateway/middleware/circuitbreaker"
	"payroll-gateway/middleware/ratelimit"
	"payroll-gateway/middleware/ratelimit/domain"
	"payroll-gateway/middleware/ratelimit/infra"
	"payroll-gateway/middleware/tokencache"
	"payroll-gateway/middleware/verification"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// janitorLimiter é o limiter com limpeza periódica de chaves ociosas.
type janitorLimiter interface {
	domain.Limiter
	StartJanitor(ctx infra.DoneContext)
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	limiter := newLimiter(cfg)
	limiter.StartJanitor(ctx)

	stats, closeStats, err := newStats(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer closeStats()

	signer, tokens := newTokenCache(cfg, metrics, logger)
	bearer, err := newBearer(cfg, signer, logger)
	if err != nil {
		return err
	}

	breakerCfg := func(name string) circuitbreaker.Config {
		return circuitbreaker.Config{
			Name:             name,
			MaxFailures:      cfg.BreakerMaxFailures,
			ExecutionTimeout: cfg.BreakerExecutionTimeout,
			ResetTimeout:     cfg.BreakerResetTimeout,
			OnStateChange:    metrics.OnBreakerStateChange,
			Logger:           logger,
		}
	}
	publicBreaker := circuitbreaker.New(breakerCfg("verify_v1"))
	protectedBreaker := circuitbreaker.New(breakerCfg("verify_v3"))
	loginBreaker := circuitbreaker.New(breakerCfg("login"))
	for _, b := range []*circuitbreaker.Breaker{publicBreaker, protectedBreaker, loginBreaker} {
		metrics.TrackBreaker(b)
	}

	// O timeout de cada chamada vem do breaker; o client não impõe outro.
	httpClient := &http.Client{}
	publicClient, err := verification.NewClient(cfg.VerifyURL, cfg.VerifyPublicPath, httpClient)
	if err != nil {
		return fmt.Errorf("verify client: %w", err)
	}
	protectedClient, err := verification.NewClient(cfg.VerifyURL, cfg.VerifyProtectedPath, httpClient)
	if err != nil {
		return fmt.Errorf("verify client: %w", err)
	}

	// Com RATE_ENABLED=false o pipeline continua verificando o IP, só sem limite.
	var admission domain.Limiter = unlimited{}
	if cfg.RateEnabled {
		admission = limiter
	}

	pipeline := verification.New(verification.Options{
		Limiter:    admission,
		RetryAfter: cfg.RetryAfter,
		Public:     verification.Route{Name: "v1", Client: publicClient, Breaker: publicBreaker},
		Protected:  verification.Route{Name: "v3", Client: protectedClient, Breaker: protectedBreaker, Tokens: tokens},
		Stats:      stats,
		Logger:     logger,
	})

	users, err := newUserStore(cfg, logger)
	if err != nil {
		return err
	}
	login := auth.LoginHandler(auth.LoginOptions{
		Users:     users,
		Tokens:    tokens,
		Breaker:   loginBreaker,
		Logger:    logger,
		OnAttempt: metrics.OnAuthAttempt,
	})

	deps := server.Deps{
		Logger:              logger,
		Stats:               stats,
		KeyFn:               ratelimit.DefaultKeyFunc(cfg.RateKeyHeader, cfg.TrustXFF),
		AddressFn:           ratelimit.ClientIPFunc(cfg.TrustXFF),
		AddRateLimitHeaders: cfg.AddHeaders,
		Concurrency: ratelimit.ConcurrencyOptions{
			Max:            cfg.ConcurrencyMax,
			AcquireTimeout: cfg.ConcurrencyTimeout,
		},
		Pipeline: pipeline,
		Bearer:   bearer,
		Login:    login,
		Upstream: server.NewUpstreamProxy(target, logger),
		Metrics:  metrics.Handler(),
	}
	if cfg.RateEnabled {
		deps.Limiter = limiter
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		for _, b := range []*circuitbreaker.Breaker{publicBreaker, protectedBreaker, loginBreaker} {
			b.Reset()
		}
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", target.String()),
		zap.String("verify", cfg.VerifyURL))
	logger.Info("rate limit",
		zap.Bool("enabled", cfg.RateEnabled),
		zap.String("algorithm", cfg.RateAlgorithm),
		zap.Int("limit", cfg.RateLimit),
		zap.Duration("period", cfg.RatePeriod),
		zap.Float64("rps", cfg.RateRPS),
		zap.Int("burst", cfg.RateBurst),
		zap.String("key_header", cfg.RateKeyHeader),
		zap.Bool("trust_xff", cfg.TrustXFF))
	logger.Info("circuit breaker",
		zap.Int("max_failures", cfg.BreakerMaxFailures),
		zap.Duration("execution_timeout", cfg.BreakerExecutionTimeout),
		zap.Duration("reset_timeout", cfg.BreakerResetTimeout))
	logger.Info("concurrency",
		zap.Int("max", cfg.ConcurrencyMax),
		zap.Duration("acquire_timeout", cfg.ConcurrencyTimeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

func newLimiter(cfg config) janitorLimiter {
	if cfg.RateAlgorithm == algorithmTokenBucket {
		return infra.NewTokenBucketStore(cfg.RateRPS, cfg.RateBurst,
			infra.WithIdleTTL(cfg.RateIdleTTL),
			infra.WithCleanupEvery(cfg.RateCleanEvery))
	}
	return infra.NewFixedWindowStore(cfg.RateLimit, cfg.RatePeriod,
		infra.WithWindowIdleTTL(cfg.RateIdleTTL),
		infra.WithWindowCleanupEvery(cfg.RateCleanEvery))
}

// newStats junta memória, Prometheus e, se habilitado, Redis.
func newStats(ctx context.Context, cfg config, metrics *observability.Metrics) (domain.StatsStore, func(), error) {
	stores := infra.MultiStatsStore{infra.NewMemoryStatsStore(), metrics}
	if !cfg.RateStatsEnabled {
		return stores, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RateStatsRedisAddr,
		Password: cfg.RateStatsRedisPassword,
		DB:       cfg.RateStatsRedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis stats ping error: %w", err)
	}

	stores = append(stores, infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cfg.RateStatsPrefix),
		infra.WithStatsTTL(cfg.RateStatsTTL),
		infra.WithStatsBucket(cfg.RateStatsBucket),
		infra.WithStatsTrackKeys(cfg.RateStatsTrackKeys),
	))
	return stores, func() { _ = rdb.Close() }, nil
}

// newTokenCache sobe mesmo sem chave válida: as rotas que precisam de token
// respondem AUTH_SETUP_ERROR.
func newTokenCache(cfg config, metrics *observability.Metrics, logger *zap.Logger) (*tokencache.JWTSigner, *tokencache.Cache) {
	if cfg.RSAPrivateKey == "" {
		logger.Warn("RSA_PRIVATE_KEY not set; token issuance disabled")
		return nil, tokencache.NewFailed("RSA_PRIVATE_KEY not set", logger)
	}
	signer, err := tokencache.NewJWTSignerFromPEM(cfg.RSAPrivateKey, cfg.TokenServiceSubject)
	if err != nil {
		logger.Error("invalid RSA_PRIVATE_KEY; token issuance disabled", zap.Error(err))
		return nil, tokencache.NewFailed(err.Error(), logger)
	}
	return signer, tokencache.New(signer, tokencache.Config{
		ServiceSubject: cfg.TokenServiceSubject,
		ServiceTTL:     cfg.TokenServiceTTL,
		UserTTL:        cfg.TokenUserTTL,
		RefreshBuffer:  cfg.TokenRefreshBuffer,
		Logger:         logger,
		OnMint:         metrics.OnTokenMinted,
	})
}

// newBearer valida tokens de cliente com RSA_PUBLIC_KEY ou, na falta dela,
// com a chave pública do próprio signer. RSA_PUBLIC_KEY inválida aborta a subida.
func newBearer(cfg config, signer *tokencache.JWTSigner, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.RSAPublicKey != "" {
		verifier, err := tokencache.NewJWTVerifierFromPEM(cfg.RSAPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid RSA_PUBLIC_KEY: %w", err)
		}
		return auth.RequireBearer(verifier, logger), nil
	}
	if pub := signer.PublicKey(); pub != nil {
		return auth.RequireBearer(tokencache.NewJWTVerifier(pub), logger), nil
	}
	logger.Warn("no key to validate bearer tokens; /v3 relies on the service token check only")
	return nil, nil
}

func newUserStore(cfg config, logger *zap.Logger) (auth.UserStore, error) {
	entries, err := auth.ParseUsers(cfg.AuthUsers)
	if err != nil {
		return nil, fmt.Errorf("AUTH_USERS: %w", err)
	}
	if len(entries) == 0 {
		logger.Warn("AUTH_USERS is empty; every login will be rejected")
	}
	users, err := auth.NewMemoryUserStore(entries)
	if err != nil {
		return nil, fmt.Errorf("AUTH_USERS: %w", err)
	}
	return users, nil
}

type unlimited struct{}

func (unlimited) Allow(domain.Key) domain.Decision { return domain.Decision{Allowed: true} }
