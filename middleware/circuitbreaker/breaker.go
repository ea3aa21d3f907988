package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen é devolvido sem executar a operação quando o circuito está aberto
	// (ou em half_open com uma prova já em andamento).
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTimeout indica que a operação passou de ExecutionTimeout.
	ErrTimeout = errors.New("circuit breaker: execution timeout")
	// ErrPanic embrulha um panic recuperado dentro da operação.
	ErrPanic = errors.New("circuit breaker: operation panicked")
)

// Config é lida uma vez em New; alterar depois não tem efeito.
type Config struct {
	Name             string
	MaxFailures      int
	ExecutionTimeout time.Duration
	ResetTimeout     time.Duration

	// OnStateChange é chamado de forma síncrona em cada transição.
	// Deve ser rápido: roda na goroutine do chamador ou do timer de reset.
	OnStateChange func(name string, from, to State)
	Logger        *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Name:             "default",
		MaxFailures:      5,
		ExecutionTimeout: 2 * time.Second,
		ResetTimeout:     10 * time.Second,
	}
}

type Breaker struct {
	name             string
	maxFailures      int32
	executionTimeout time.Duration
	resetTimeout     time.Duration
	onStateChange    func(name string, from, to State)
	logger           *zap.Logger

	state    atomic.Int32
	failures atomic.Int32
	inTrial  atomic.Bool
	timer    atomic.Pointer[time.Timer]
}

// New cria um breaker fechado. Campos zerados (ou negativos) usam DefaultConfig.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Breaker{
		name:             cfg.Name,
		maxFailures:      int32(cfg.MaxFailures),
		executionTimeout: cfg.ExecutionTimeout,
		resetTimeout:     cfg.ResetTimeout,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger.With(zap.String("breaker", cfg.Name)),
	}
}

func (b *Breaker) Name() string  { return b.name }
func (b *Breaker) State() State  { return State(b.state.Load()) }
func (b *Breaker) Failures() int { return int(b.failures.Load()) }

type result[T any] struct {
	val T
	err error
}

// Execute roda op sob o breaker.
//
// op recebe um contexto com deadline de ExecutionTimeout e deve respeitá-lo;
// se não respeitar, Execute devolve ErrTimeout mesmo assim e o resultado que
// chegar depois é descartado. Cancelamento do ctx do chamador não conta como
// falha da dependência.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	trial, err := b.admit()
	if err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.executionTimeout)
	defer cancel()

	// buffer 1: a goroutine nunca fica presa se ninguém ler o resultado
	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result[T]{err: fmt.Errorf("%w: %v", ErrPanic, p)}
			}
		}()
		v, err := op(callCtx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			b.onSuccess(trial)
			return res.val, nil
		}
		if ctx.Err() != nil {
			b.release(trial)
			return zero, res.err
		}
		b.onFailure(trial)
		if callCtx.Err() != nil {
			// a operação desistiu sozinha ao ver o deadline
			return zero, fmt.Errorf("%w: %w", ErrTimeout, res.err)
		}
		return zero, res.err

	case <-callCtx.Done():
		if ctx.Err() != nil {
			b.release(trial)
			return zero, ctx.Err()
		}
		b.onFailure(trial)
		return zero, ErrTimeout
	}
}

// Do é Execute para operações sem valor de retorno.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Reset força o estado closed e cancela um reset pendente.
func (b *Breaker) Reset() {
	if t := b.timer.Swap(nil); t != nil {
		t.Stop()
	}
	for {
		from := b.State()
		if from == StateClosed || b.transition(from, StateClosed) {
			break
		}
	}
	b.failures.Store(0)
}

// admit decide se a chamada pode seguir. trial=true quando ela é a prova do half_open.
func (b *Breaker) admit() (trial bool, err error) {
	for {
		switch b.State() {
		case StateClosed:
			return false, nil
		case StateOpen:
			return false, ErrOpen
		default:
			if !b.inTrial.CompareAndSwap(false, true) {
				return false, ErrOpen
			}
			if b.State() == StateHalfOpen {
				return true, nil
			}
			// a prova anterior terminou entre o Load e o CAS
			b.inTrial.Store(false)
		}
	}
}

func (b *Breaker) onSuccess(trial bool) {
	if trial {
		b.transition(StateHalfOpen, StateClosed)
		b.inTrial.Store(false)
		return
	}
	if b.State() == StateClosed {
		b.failures.Store(0)
	}
}

func (b *Breaker) onFailure(trial bool) {
	if trial {
		b.transition(StateHalfOpen, StateOpen)
		b.inTrial.Store(false)
		return
	}
	// resultado de uma chamada admitida antes do circuito abrir: ignorado
	if b.State() != StateClosed {
		return
	}
	if b.failures.Add(1) >= b.maxFailures {
		b.transition(StateClosed, StateOpen)
	}
}

func (b *Breaker) release(trial bool) {
	if trial {
		b.inTrial.Store(false)
	}
}

func (b *Breaker) transition(from, to State) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	switch to {
	case StateClosed:
		b.failures.Store(0)
		b.logger.Info("circuit closed", zap.String("from", from.String()))
	case StateOpen:
		b.failures.Store(0)
		b.armReset()
		b.logger.Warn("circuit opened", zap.String("from", from.String()), zap.Duration("reset_in", b.resetTimeout))
	case StateHalfOpen:
		b.logger.Info("circuit half-open, next call is a trial")
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
	return true
}

// armReset agenda open -> half_open. Um timer pendente é substituído, nunca empilhado.
func (b *Breaker) armReset() {
	t := time.AfterFunc(b.resetTimeout, func() {
		b.transition(StateOpen, StateHalfOpen)
	})
	if prev := b.timer.Swap(t); prev != nil {
		prev.Stop()
	}
}
