// internal/batch/executor.go
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/pace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Op - единица работы над одним аккаунтом.
type Op func(ctx context.Context, acc domain.Account) error

// Options управляет параллелизмом и паузами между запусками.
type Options struct {
	// Concurrency ограничивает число одновременных операций; 0 - по горутине на аккаунт.
	Concurrency int
	JitterMin   time.Duration
	JitterMax   time.Duration
}

// DefaultOptions разносит старты запросов на 1-2с, как при ручной работе.
func DefaultOptions() Options {
	return Options{
		JitterMin: time.Second,
		JitterMax: 2 * time.Second,
	}
}

// Executor запускает одну операцию по многим аккаунтам и никогда не падает целиком.
type Executor struct {
	logger *zap.Logger
	opts   Options
	sleep  pace.SleepFunc
}

// NewExecutor создает Executor с заданными опциями.
func NewExecutor(logger *zap.Logger, opts Options) *Executor {
	return &Executor{
		logger: logger.Named("batch"),
		opts:   opts,
		sleep:  pace.Sleep,
	}
}

// WithoutJitter возвращает копию без пауз между стартами.
// Используется для проверочных проходов, которые только читают.
func (e *Executor) WithoutJitter() *Executor {
	cp := *e
	cp.opts.JitterMin = 0
	cp.opts.JitterMax = 0
	return &cp
}

// Options возвращает действующие опции.
func (e *Executor) Options() Options {
	return e.opts
}

// Run выполняет op для каждого аккаунта и возвращает ровно один результат на
// аккаунт в порядке входа. Паники и ошибки остаются внутри своего результата.
func (e *Executor) Run(ctx context.Context, accounts []domain.Account, op Op) []domain.WalletOutcome {
	outcomes := make([]domain.WalletOutcome, len(accounts))
	if len(accounts) == 0 {
		return outcomes
	}

	var g errgroup.Group
	if e.opts.Concurrency > 0 {
		g.SetLimit(e.opts.Concurrency)
	}

	for i, acc := range accounts {
		i, acc := i, acc
		g.Go(func() error {
			outcomes[i] = e.runOne(ctx, acc, op)
			return nil
		})
	}
	_ = g.Wait()

	failed := domain.FailedIDs(outcomes)
	e.logger.Debug("Batch finished",
		zap.Int("total", len(accounts)),
		zap.Int("failed", len(failed)),
		zap.Strings("failed_accounts", failed))

	return outcomes
}

func (e *Executor) runOne(ctx context.Context, acc domain.Account, op Op) (out domain.WalletOutcome) {
	out.AccountID = acc.ID

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("💥 Operation panicked",
				zap.String("account", acc.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out.Succeeded = false
			out.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := e.sleep(ctx, pace.Jitter(e.opts.JitterMin, e.opts.JitterMax)); err != nil {
		out.Err = err
		return out
	}

	if err := op(ctx, acc); err != nil {
		e.logger.Warn("Operation failed",
			zap.String("account", acc.ID),
			zap.String("wallet", acc.Short()),
			zap.Error(err))
		out.Err = err
		return out
	}

	out.Succeeded = true
	return out
}
