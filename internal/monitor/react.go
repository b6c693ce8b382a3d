// internal/monitor/react.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"go.uber.org/zap"
)

// liquidate закрывает все задетые позиции. Собирает и продает токены только
// когда закрыты все; иначе возвращает аккаунты, которые еще держат позицию.
func (d *Daemon) liquidate(
	ctx context.Context,
	affected []domain.Account,
	pool solana.PublicKey,
	main *domain.Account,
	mint *solana.PublicKey,
) []string {
	outcomes := d.exec.Run(ctx, affected, func(ctx context.Context, acc domain.Account) error {
		return d.closeLeg(ctx, acc, pool)
	})
	failed := domain.FailedIDs(outcomes)
	d.publishReaction(pool, ExitLiquidate, affected, failed)
	if len(failed) > 0 || ctx.Err() != nil {
		return failed
	}

	d.logger.Info("💸 All positions closed, selling tokens", zap.Int("accounts", len(affected)))
	if d.funds == nil {
		d.logger.Warn("No swap route configured, tokens stay in the wallets")
		return nil
	}

	if main != nil {
		var wg sync.WaitGroup
		for _, acc := range affected {
			if acc.PublicKey.Equals(main.PublicKey) {
				continue
			}
			wg.Add(1)
			go func(acc domain.Account) {
				defer wg.Done()
				if _, err := d.funds.ConsolidateWithRetry(ctx, acc, main.PublicKey); err != nil {
					d.logger.Warn("Consolidation interrupted", zap.String("account", acc.ID), zap.Error(err))
				}
			}(acc)
		}
		wg.Wait()
		d.sell(ctx, *main, mint)
		return nil
	}

	for _, acc := range affected {
		d.sell(ctx, acc, mint)
	}
	return nil
}

func (d *Daemon) sell(ctx context.Context, acc domain.Account, mint *solana.PublicKey) {
	res, err := d.funds.SellWithRetry(ctx, acc, mint)
	switch {
	case err != nil:
		d.logger.Warn("Sell interrupted", zap.String("account", acc.ID), zap.Error(err))
	case !res.Done():
		d.logger.Warn("⚠️ Tokens left after sell attempts",
			zap.String("account", acc.ID),
			zap.Int("attempts", res.Attempts),
			zap.Int("tokens", len(res.Remaining)))
	default:
		d.logger.Info("✅ Tokens sold", zap.String("account", acc.ID), zap.Int("attempts", res.Attempts))
	}
}

// rotate закрывает и переоткрывает каждый аккаунт независимо и возвращает
// те, у которых в итоге новая позиция в токенах.
func (d *Daemon) rotate(ctx context.Context, accounts []domain.Account, pool solana.PublicKey) []domain.Account {
	strategy := domain.StrategySpec{
		Shape:      d.cfg.RotateShape,
		RangeWidth: d.cfg.RotateWidth,
		Funding:    domain.FundingToken,
	}

	outcomes := d.exec.Run(ctx, accounts, func(ctx context.Context, acc domain.Account) error {
		if err := d.closeLeg(ctx, acc, pool); err != nil {
			return err
		}
		return d.openLeg(ctx, acc, pool, strategy)
	})
	failed := domain.FailedIDs(outcomes)
	d.publishReaction(pool, ExitRotate, accounts, failed)

	rotated := domain.ExcludeAccounts(accounts, failed)
	if len(rotated) > 0 {
		d.logger.Info("🔄 Positions rotated", zap.Strings("accounts", domain.AccountIDs(rotated)))
	}
	return rotated
}

func (d *Daemon) closeLeg(ctx context.Context, acc domain.Account, pool solana.PublicKey) error {
	return d.leg(ctx, acc, pool, false, d.cfg.CloseSettle, func() error {
		err := d.chain.ClosePosition(ctx, acc, pool)
		if errors.Is(err, domain.ErrNoPosition) {
			return nil
		}
		return err
	})
}

func (d *Daemon) openLeg(ctx context.Context, acc domain.Account, pool solana.PublicKey, strategy domain.StrategySpec) error {
	return d.leg(ctx, acc, pool, true, d.cfg.OpenSettle, func() error {
		return d.chain.OpenPosition(ctx, acc, pool, domain.Sizing{}, strategy)
	})
}

// leg ведет один аккаунт к wantOpen: прочитать, отправить при расхождении,
// подождать, перечитать. Не больше LegAttempts попыток.
func (d *Daemon) leg(
	ctx context.Context,
	acc domain.Account,
	pool solana.PublicKey,
	wantOpen bool,
	settle time.Duration,
	issue func() error,
) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.LegBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}

	want := "no position"
	if wantOpen {
		want = "open position"
	}
	matches := func() (bool, error) {
		pos, err := d.chain.GetPosition(ctx, acc, pool)
		if err != nil {
			return false, err
		}
		return (pos != nil) == wantOpen, nil
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := matches()
		if err != nil || ok {
			return struct{}{}, err
		}
		if err := issue(); err != nil {
			return struct{}{}, err
		}
		if err := d.sleep(ctx, settle); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if ok, err = matches(); err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, &domain.StateInconsistency{AccountID: acc.ID, Want: want}
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.LegAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("Attempt failed, retrying",
				zap.String("account", acc.ID),
				zap.String("want", want),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	return err
}

func (d *Daemon) publishReaction(pool solana.PublicKey, strategy ExitStrategy, accounts []domain.Account, failed []string) {
	_ = d.bus.Publish(&events.ReactionEvent{
		BaseEvent: events.NewBase(events.MonitorReaction),
		Pool:      pool.String(),
		Strategy:  strategy.String(),
		Succeeded: domain.AccountIDs(domain.ExcludeAccounts(accounts, failed)),
		Failed:    failed,
	})
}
