package application

import (
	"context"
	"errors"
	"time"

	"payroll-gateway/middleware/ratelimit/domain"
)

// ErrSaturated indica que nenhuma vaga abriu dentro de AcquireTimeout.
var ErrSaturated = errors.New("concurrency limit reached")

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - AcquireTimeout <= 0: espera até o ctx do chamador encerrar.
//   - AcquireTimeout > 0: espera no máximo esse tempo.
//
// Sem vaga, devolve ErrSaturated; se o próprio chamador desistiu, devolve ctx.Err().
// Com vaga, release deve ser chamado exatamente uma vez.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrSaturated
}
