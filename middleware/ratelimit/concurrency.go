package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/ratelimit/application"
	"payroll-gateway/middleware/ratelimit/domain"
	"payroll-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	Logger         *zap.Logger
}

// ConcurrencyMiddleware limita requests em voo (bulkhead). Max <= 0 desliga.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	pool := infra.NewChanPool(opts.Max)
	svc := application.ConcurrencyService{
		Pool:           pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				if errors.Is(err, application.ErrSaturated) {
					logSaturation(opts.Logger, pool, opts.AcquireTimeout)
				}
				apierror.Write(w, r, apierror.Wrap(apierror.CodeServiceUnavailable, "", err))
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

func logSaturation(logger *zap.Logger, usage domain.PoolUsage, timeout time.Duration) {
	logger.Warn("concurrency limit reached",
		zap.Int("max", usage.Capacity()),
		zap.Int("in_use", usage.InUse()),
		zap.Duration("acquire_timeout", timeout))
}
