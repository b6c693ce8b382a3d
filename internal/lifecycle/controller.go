// internal/lifecycle/controller.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/batch"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/pace"
	"go.uber.org/zap"
)

// Config задает паузы и лимиты сценариев жизненного цикла.
type Config struct {
	OpenSettle    time.Duration
	RemoveSettle  time.Duration
	RepollDelay   time.Duration
	MaxRounds     int
	VerifyTries   uint
	VerifyBackoff time.Duration
}

// DefaultConfig matches what the chain needs to reflect a confirmed transaction
// through most public RPC nodes.
func DefaultConfig() Config {
	return Config{
		OpenSettle:    7 * time.Second,
		RemoveSettle:  5 * time.Second,
		RepollDelay:   2 * time.Second,
		MaxRounds:     5,
		VerifyTries:   3,
		VerifyBackoff: 500 * time.Millisecond,
	}
}

// Controller drives open, remove and reopen over a batch of accounts. Every
// workflow issues, waits, verifies against the chain and lets the RetryPolicy
// decide what to do about accounts that have not converged.
type Controller struct {
	chain    domain.ChainGateway
	exec     *batch.Executor
	verifier *batch.Executor
	policy   RetryPolicy
	cfg      Config
	bus      events.Publisher
	logger   *zap.Logger
	sleep    pace.SleepFunc
}

// NewController собирает контроллер. При nil bus события не публикуются.
func NewController(
	chain domain.ChainGateway,
	exec *batch.Executor,
	policy RetryPolicy,
	cfg Config,
	bus events.Publisher,
	logger *zap.Logger,
) *Controller {
	if bus == nil {
		bus = events.Nop{}
	}
	if policy == nil {
		policy = AutoPolicy(cfg.MaxRounds)
	}
	if cfg.VerifyTries == 0 {
		cfg.VerifyTries = 1
	}
	return &Controller{
		chain:    chain,
		exec:     exec,
		verifier: exec.WithoutJitter(),
		policy:   policy,
		cfg:      cfg,
		bus:      bus,
		logger:   logger.Named("lifecycle"),
		sleep:    pace.Sleep,
	}
}

// Open открывает позицию каждому аккаунту, у которого её нет в пуле.
// Аккаунты с уже открытой позицией не трогаем и считаем успешными.
func (c *Controller) Open(
	ctx context.Context,
	accounts []domain.Account,
	poolAddr string,
	sizing domain.Sizing,
	strategy domain.StrategySpec,
) (domain.Summary, error) {
	pool, err := validateRequest(accounts, poolAddr)
	if err != nil {
		return domain.Summary{}, err
	}
	if err := strategy.Validate(sizing); err != nil {
		return domain.Summary{}, err
	}

	start := c.begin("open", pool, accounts)
	c.logger.Info("🚀 Opening positions",
		zap.String("pool", pool.String()),
		zap.Int("accounts", len(accounts)),
		zap.Stringer("shape", strategy.Shape),
		zap.Stringer("funding", strategy.Funding),
		zap.Int32("range_width", strategy.RangeWidth),
		zap.Float64("sol_per_account", domain.LamportsToSOL(sizing.NativeLamports)))

	summary := c.converge(ctx, "open", accounts, pool, true, c.cfg.OpenSettle, c.openOp(pool, sizing, strategy))
	return c.finish(summary, start), nil
}

// Remove закрывает позицию каждого аккаунта в пуле. Аккаунты без позиции
// считаются успешными.
func (c *Controller) Remove(ctx context.Context, accounts []domain.Account, poolAddr string) (domain.Summary, error) {
	pool, err := validateRequest(accounts, poolAddr)
	if err != nil {
		return domain.Summary{}, err
	}

	start := c.begin("remove", pool, accounts)
	c.logger.Info("🧹 Removing positions",
		zap.String("pool", pool.String()),
		zap.Int("accounts", len(accounts)))

	summary := c.converge(ctx, "remove", accounts, pool, false, c.cfg.RemoveSettle, c.closeOp(pool))
	return c.finish(summary, start), nil
}

// Reopen closes the current positions and opens new ones with the given
// sizing and strategy on exactly the same accounts. Accounts whose old
// position would not close are not reopened and are reported in CloseFailures.
func (c *Controller) Reopen(
	ctx context.Context,
	accounts []domain.Account,
	poolAddr string,
	sizing domain.Sizing,
	strategy domain.StrategySpec,
) (domain.Summary, error) {
	pool, err := validateRequest(accounts, poolAddr)
	if err != nil {
		return domain.Summary{}, err
	}
	if err := strategy.Validate(sizing); err != nil {
		return domain.Summary{}, err
	}

	start := c.begin("reopen", pool, accounts)

	// Всё, что не подтверждено пустым, считаем держателем; закрытие перепроверит.
	holders := c.verify(ctx, accounts, pool, false)
	c.logger.Info("🔄 Reopening positions",
		zap.String("pool", pool.String()),
		zap.Int("accounts", len(accounts)),
		zap.Strings("holders", domain.AccountIDs(holders)))

	var (
		stragglers []string
		rounds     int
	)
	if len(holders) > 0 {
		removed := c.converge(ctx, "reopen/remove", holders, pool, false, c.cfg.RemoveSettle, c.closeOp(pool))
		stragglers = removed.Unresolved
		rounds += removed.Rounds
		if len(stragglers) > 0 {
			c.logger.Warn("⚠️ Some positions did not close, skipping reopen for them",
				zap.Strings("accounts", stragglers))
		}
	}

	targets := domain.ExcludeAccounts(accounts, stragglers)
	opened := c.converge(ctx, "reopen/open", targets, pool, true, c.cfg.OpenSettle, c.openOp(pool, sizing, strategy))
	rounds += opened.Rounds

	unresolved := append(append([]string(nil), stragglers...), opened.Unresolved...)
	summary := domain.NewSummary("reopen", pool.String(), len(accounts), unresolved)
	summary.CloseFailures = append([]string(nil), stragglers...)
	sort.Strings(summary.CloseFailures)
	summary.Rounds = rounds
	return c.finish(summary, start), nil
}

// ClaimFees забирает накопленные комиссии каждого аккаунта. Аккаунты без
// комиссий пропускаются и считаются успешными.
func (c *Controller) ClaimFees(
	ctx context.Context,
	claimer domain.FeeClaimer,
	accounts []domain.Account,
	poolAddr string,
) (domain.Summary, error) {
	pool, err := validateRequest(accounts, poolAddr)
	if err != nil {
		return domain.Summary{}, err
	}

	start := c.begin("claim", pool, accounts)
	outcomes := c.exec.Run(ctx, accounts, func(ctx context.Context, acc domain.Account) error {
		claimed, err := claimer.ClaimFees(ctx, acc, pool)
		if err != nil {
			return err
		}
		if !claimed {
			c.logger.Info("No fees to claim", zap.String("account", acc.ID))
		}
		return nil
	})

	summary := domain.NewSummary("claim", pool.String(), len(accounts), domain.FailedIDs(outcomes))
	return c.finish(summary, start), nil
}

func (c *Controller) openOp(pool solana.PublicKey, sizing domain.Sizing, strategy domain.StrategySpec) batch.Op {
	return func(ctx context.Context, acc domain.Account) error {
		pos, err := c.readPosition(ctx, acc, pool)
		if err != nil {
			return fmt.Errorf("check existing position: %w", err)
		}
		if pos != nil {
			c.logger.Info("Position already exists, skipping open",
				zap.String("account", acc.ID),
				zap.Int32("lower_bin", pos.LowerBin),
				zap.Int32("upper_bin", pos.UpperBin))
			return nil
		}
		return c.chain.OpenPosition(ctx, acc, pool, sizing, strategy)
	}
}

func (c *Controller) closeOp(pool solana.PublicKey) batch.Op {
	return func(ctx context.Context, acc domain.Account) error {
		pos, err := c.readPosition(ctx, acc, pool)
		if err != nil {
			return fmt.Errorf("check position: %w", err)
		}
		if pos == nil {
			return nil
		}
		err = c.chain.ClosePosition(ctx, acc, pool)
		if errors.Is(err, domain.ErrNoPosition) {
			return nil
		}
		return err
	}
}

// converge issues op on accounts and loops verify/decide until every account
// reports the wanted state, the policy stops, MaxRounds is reached or ctx ends.
func (c *Controller) converge(
	ctx context.Context,
	name string,
	accounts []domain.Account,
	pool solana.PublicKey,
	wantOpen bool,
	settle time.Duration,
	op batch.Op,
) domain.Summary {
	if len(accounts) == 0 {
		return domain.NewSummary(name, pool.String(), 0, nil)
	}
	log := c.logger.With(zap.String("workflow", name), zap.String("pool", pool.String()))

	if failed := domain.FailedIDs(c.exec.Run(ctx, accounts, op)); len(failed) > 0 {
		log.Warn("Issue failed for some accounts", zap.Strings("accounts", failed))
	}
	_ = c.sleep(ctx, settle)
	pending := c.verify(ctx, accounts, pool, wantOpen)

	rounds := 0
	for len(pending) > 0 && rounds < c.cfg.MaxRounds && ctx.Err() == nil {
		rounds++
		ids := domain.AccountIDs(pending)
		decision := c.policy.Decide(ids, rounds)
		log.Info("Unresolved accounts",
			zap.Int("round", rounds),
			zap.Strings("accounts", ids),
			zap.Stringer("decision", decision))

		if decision == Stop {
			break
		}
		if decision == RetryIssue {
			c.exec.Run(ctx, pending, op)
			_ = c.sleep(ctx, settle)
		} else {
			_ = c.sleep(ctx, c.cfg.RepollDelay)
		}
		pending = c.verify(ctx, pending, pool, wantOpen)
	}

	unresolved := domain.AccountIDs(pending)
	c.publishPositions(pool, accounts, unresolved, wantOpen)

	summary := domain.NewSummary(name, pool.String(), len(accounts), unresolved)
	summary.Rounds = rounds
	return summary
}

// verify возвращает аккаунты, чье состояние в сети не совпало с wantOpen,
// включая те, что не удалось прочитать.
func (c *Controller) verify(ctx context.Context, accounts []domain.Account, pool solana.PublicKey, wantOpen bool) []domain.Account {
	outcomes := c.verifier.Run(ctx, accounts, func(ctx context.Context, acc domain.Account) error {
		pos, err := c.readPosition(ctx, acc, pool)
		if err != nil {
			return err
		}
		if (pos != nil) != wantOpen {
			want := "no position"
			if wantOpen {
				want = "open position"
			}
			return &domain.StateInconsistency{AccountID: acc.ID, Want: want}
		}
		return nil
	})
	return domain.FilterAccounts(accounts, domain.FailedIDs(outcomes))
}

// readPosition повторяет GetPosition несколько раз, прежде чем сдаться.
func (c *Controller) readPosition(ctx context.Context, acc domain.Account, pool solana.PublicKey) (*domain.Position, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.VerifyBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}

	return backoff.Retry(ctx, func() (*domain.Position, error) {
		return c.chain.GetPosition(ctx, acc, pool)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.VerifyTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Position read failed, retrying",
				zap.String("account", acc.ID),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
}

func (c *Controller) begin(workflow string, pool solana.PublicKey, accounts []domain.Account) time.Time {
	_ = c.bus.Publish(&events.WorkflowStartedEvent{
		BaseEvent: events.NewBase(events.WorkflowStarted),
		Workflow:  workflow,
		Pool:      pool.String(),
		Accounts:  domain.AccountIDs(accounts),
	})
	return time.Now()
}

func (c *Controller) finish(summary domain.Summary, start time.Time) domain.Summary {
	fields := []zap.Field{
		zap.String("workflow", summary.Workflow),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Strings("unresolved", summary.Unresolved),
		zap.Int("rounds", summary.Rounds),
		zap.Duration("took", time.Since(start)),
	}
	if summary.OK() {
		c.logger.Info("✅ Workflow finished", fields...)
	} else {
		c.logger.Warn("⚠️ Workflow finished with unresolved accounts", fields...)
	}

	_ = c.bus.Publish(&events.WorkflowCompletedEvent{
		BaseEvent: events.NewBase(events.WorkflowCompleted),
		Summary:   summary,
		Duration:  time.Since(start),
	})
	return summary
}

func (c *Controller) publishPositions(pool solana.PublicKey, accounts []domain.Account, unresolved []string, wantOpen bool) {
	bad := make(map[string]struct{}, len(unresolved))
	for _, id := range unresolved {
		bad[id] = struct{}{}
	}
	for _, acc := range accounts {
		typ := events.PositionClosed
		if wantOpen {
			typ = events.PositionOpened
		}
		if _, ok := bad[acc.ID]; ok {
			typ = events.PositionUnresolved
		}
		_ = c.bus.Publish(&events.PositionEvent{
			BaseEvent: events.NewBase(typ),
			AccountID: acc.ID,
			Pool:      pool.String(),
		})
	}
}

func validateRequest(accounts []domain.Account, poolAddr string) (solana.PublicKey, error) {
	pool, err := solana.PublicKeyFromBase58(poolAddr)
	if err != nil {
		return solana.PublicKey{}, &domain.ValidationError{Field: "pool", Reason: fmt.Sprintf("%q is not a valid address", poolAddr)}
	}
	if pool.IsZero() {
		return solana.PublicKey{}, &domain.ValidationError{Field: "pool", Reason: "zero address"}
	}
	if len(accounts) == 0 {
		return solana.PublicKey{}, &domain.ValidationError{Field: "accounts", Reason: "no accounts selected"}
	}
	seen := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		if _, dup := seen[acc.ID]; dup {
			return solana.PublicKey{}, &domain.ValidationError{Field: "accounts", Reason: fmt.Sprintf("duplicate account %q", acc.ID)}
		}
		seen[acc.ID] = struct{}{}
	}
	return pool, nil
}
