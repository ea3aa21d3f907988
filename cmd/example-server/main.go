// example-server é um serviço de verificação de IP para testar o gateway
// localmente: responde Success e injeta falhas e latência sob demanda.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payroll-gateway/internal/observability"
	"payroll-gateway/middleware/auth"
	"payroll-gateway/middleware/tokencache"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "example-server:", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetDefault("listen_addr", ":8081")
	v.SetDefault("failure_rate", 0.0)
	v.SetDefault("slow_rate", 0.0)
	v.SetDefault("slow_min", 500*time.Millisecond)
	v.SetDefault("slow_max", 5*time.Second)
	v.SetDefault("stub_rate_limit", 0)
	v.SetDefault("stub_rate_period", time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.AutomaticEnv()

	logger, err := observability.NewLogger(v.GetString("log_level"), v.GetString("log_format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := stubOptions{
		FailureRate: v.GetFloat64("failure_rate"),
		SlowRate:    v.GetFloat64("slow_rate"),
		SlowMin:     v.GetDuration("slow_min"),
		SlowMax:     v.GetDuration("slow_max"),
		RateLimit:   v.GetInt("stub_rate_limit"),
		RatePeriod:  v.GetDuration("stub_rate_period"),
		Logger:      logger,
	}
	if pem := v.GetString("rsa_public_key"); pem != "" {
		verifier, err := tokencache.NewJWTVerifierFromPEM(pem)
		if err != nil {
			return fmt.Errorf("RSA_PUBLIC_KEY: %w", err)
		}
		opts.Bearer = auth.RequireBearer(verifier, logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := v.GetString("listen_addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           newStubRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening",
		zap.String("addr", addr),
		zap.Float64("failure_rate", opts.FailureRate),
		zap.Float64("slow_rate", opts.SlowRate),
		zap.Bool("bearer_required", opts.Bearer != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
