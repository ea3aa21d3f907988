package infra

import (
	"context"

	"payroll-gateway/middleware/ratelimit/domain"
)

// ChanPool é um semáforo baseado em channel (bulkhead de requests em voo).
type ChanPool struct {
	sem chan struct{}
}

var (
	_ domain.SlotPool  = (*ChanPool)(nil)
	_ domain.PoolUsage = (*ChanPool)(nil)
)

// NewChanPool cria um pool com capacidade `max`.
func NewChanPool(max int) *ChanPool {
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *ChanPool) Capacity() int { return cap(p.sem) }
func (p *ChanPool) InUse() int    { return len(p.sem) }
