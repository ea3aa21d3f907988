package domain

import "context"

// SlotPool limita quantas requests o gateway atende ao mesmo tempo (bulkhead),
// independente do rate limit por chave.
//
// Acquire espera uma vaga até o ctx encerrar; com vaga, release deve ser
// chamado exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// PoolUsage é implementado por pools que sabem informar a ocupação (logs de saturação).
type PoolUsage interface {
	Capacity() int
	InUse() int
}
