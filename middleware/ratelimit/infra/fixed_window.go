package infra

import (
	"sync"
	"sync/atomic"
	"time"

	"payroll-gateway/middleware/ratelimit/domain"
)

// FixedWindowStore limita cada chave a `limit` ações por janela de `period`.
//
// O estado de uma chave é um *window imutável trocado por compare-and-set:
// nenhuma goroutine segura lock enquanto decide, e um CAS perdido apenas
// recomeça a leitura. Com M chamadas concorrentes na mesma janela, exatamente
// min(M, limit) são admitidas.
type FixedWindowStore struct {
	limit        int
	period       time.Duration
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time

	windows sync.Map // string -> *windowEntry
}

type window struct {
	count   int
	resetAt time.Time
}

// evicted marca uma entrada removida pelo janitor; quem a encontrar busca outra no mapa.
var evicted = &window{}

type windowEntry struct {
	cur      atomic.Pointer[window]
	lastSeen atomic.Int64
}

type FixedWindowOption func(*FixedWindowStore)

// WithWindowIdleTTL define por quanto tempo uma chave ociosa (e com janela vencida) é mantida.
func WithWindowIdleTTL(d time.Duration) FixedWindowOption {
	return func(s *FixedWindowStore) { s.idleTTL = d }
}

func WithWindowCleanupEvery(d time.Duration) FixedWindowOption {
	return func(s *FixedWindowStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) FixedWindowOption {
	return func(s *FixedWindowStore) { s.now = now }
}

func NewFixedWindowStore(limit int, period time.Duration, opts ...FixedWindowOption) *FixedWindowStore {
	s := &FixedWindowStore{
		limit:        limit,
		period:       period,
		idleTTL:      5 * time.Minute,
		cleanupEvery: 1 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FixedWindowStore) Limit() int                  { return s.limit }
func (s *FixedWindowStore) Period() time.Duration       { return s.period }
func (s *FixedWindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Allow implementa domain.Limiter.
func (s *FixedWindowStore) Allow(key domain.Key) domain.Decision {
	now := s.now()
	k := string(key)
	ent := s.entry(k)
	ent.lastSeen.Store(now.UnixNano())

	for {
		cur := ent.cur.Load()
		if cur == evicted {
			s.windows.CompareAndDelete(k, ent)
			ent = s.entry(k)
			ent.lastSeen.Store(now.UnixNano())
			continue
		}

		var next *window
		switch {
		case cur == nil || now.After(cur.resetAt):
			next = &window{count: 1, resetAt: now.Add(s.period)}
		case cur.count >= s.limit:
			return domain.Decision{
				Allowed:    false,
				Limit:      s.limit,
				RetryAfter: cur.resetAt.Sub(now),
			}
		default:
			next = &window{count: cur.count + 1, resetAt: cur.resetAt}
		}

		if ent.cur.CompareAndSwap(cur, next) {
			return domain.Decision{
				Allowed:   true,
				Limit:     s.limit,
				Remaining: s.limit - next.count,
			}
		}
	}
}

func (s *FixedWindowStore) entry(k string) *windowEntry {
	if v, ok := s.windows.Load(k); ok {
		return v.(*windowEntry)
	}
	v, _ := s.windows.LoadOrStore(k, &windowEntry{})
	return v.(*windowEntry)
}

// Len devolve quantas chaves estão sendo rastreadas.
func (s *FixedWindowStore) Len() int {
	n := 0
	s.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup remove chaves cuja janela já venceu e que estão ociosas há mais de idleTTL.
func (s *FixedWindowStore) Cleanup() {
	now := s.now()
	cutoff := now.Add(-s.idleTTL).UnixNano()

	s.windows.Range(func(k, v any) bool {
		ent := v.(*windowEntry)
		cur := ent.cur.Load()
		if cur == nil || cur == evicted {
			return true
		}
		if !now.After(cur.resetAt) || ent.lastSeen.Load() > cutoff {
			return true
		}
		if ent.cur.CompareAndSwap(cur, evicted) {
			s.windows.CompareAndDelete(k, ent)
		}
		return true
	})
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *FixedWindowStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
