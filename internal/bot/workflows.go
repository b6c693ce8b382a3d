// internal/bot/workflows.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"github.com/rovshanmuradov/meteora-bot/internal/monitor"
	"github.com/rovshanmuradov/meteora-bot/internal/rebalance"
	"github.com/rovshanmuradov/meteora-bot/internal/task"
	"go.uber.org/zap"
)

// OpenRequest описывает открытие в SOL или в токенах.
type OpenRequest struct {
	Wallets    []string
	Pool       string
	AmountSOL  float64 // на аккаунт, для токенов игнорируется
	Shape      domain.Shape
	RangeWidth int32
	Funding    domain.Funding
}

func (r OpenRequest) strategy(defaultWidth int32) (domain.StrategySpec, domain.Sizing) {
	width := r.RangeWidth
	if width == 0 {
		width = defaultWidth
	}
	return domain.StrategySpec{Shape: r.Shape, RangeWidth: width, Funding: r.Funding},
		domain.Sizing{NativeLamports: domain.SOLToLamports(r.AmountSOL)}
}

// Open открывает позицию каждому выбранному аккаунту, у которого её нет в пуле.
func (a *App) Open(ctx context.Context, req OpenRequest) (domain.Summary, error) {
	accounts, err := a.accounts(req.Wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	strategy, sizing := req.strategy(a.cfg.RangeInterval)
	return a.lifecycle.Open(ctx, accounts, req.Pool, sizing, strategy)
}

// Remove закрывает все позиции выбранных аккаунтов в пуле.
func (a *App) Remove(ctx context.Context, wallets []string, pool string) (domain.Summary, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	return a.lifecycle.Remove(ctx, accounts, pool)
}

// Reopen закрывает и заново открывает позиции на тех же аккаунтах.
func (a *App) Reopen(ctx context.Context, req OpenRequest) (domain.Summary, error) {
	accounts, err := a.accounts(req.Wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	strategy, sizing := req.strategy(a.cfg.RangeInterval)
	return a.lifecycle.Reopen(ctx, accounts, req.Pool, sizing, strategy)
}

// Claim забирает накопленные комиссии выбранных аккаунтов в пуле.
func (a *App) Claim(ctx context.Context, wallets []string, pool string) (domain.Summary, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	return a.lifecycle.ClaimFees(ctx, a.deps.Chain, accounts, pool)
}

// Monitor watches the positions of the selected accounts until they are gone,
// a close fails, or ctx is cancelled.
func (a *App) Monitor(ctx context.Context, wallets []string, pool, strategy string) (monitor.Termination, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return monitor.Termination{}, err
	}
	exit, err := monitor.ParseExitStrategy(strategy)
	if err != nil {
		return monitor.Termination{}, err
	}
	return a.daemon.Run(ctx, monitor.Request{
		Accounts: accounts,
		Pool:     pool,
		Strategy: exit,
		Main:     a.main,
	})
}

// SwapBuy spends lamports worth of SOL on mint from every selected account.
func (a *App) SwapBuy(ctx context.Context, wallets []string, mint solana.PublicKey, amountSOL float64) (domain.Summary, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	lamports := domain.SOLToLamports(amountSOL)
	if lamports == 0 {
		return domain.Summary{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return a.runBatch(ctx, "swap-buy", mint.String(), accounts, func(ctx context.Context, acc domain.Account) error {
		return a.deps.Swap.Buy(ctx, acc, mint, lamports)
	}), nil
}

// SwapSell sells token holdings of every selected account until only dust is
// left. A nil mint sells everything.
func (a *App) SwapSell(ctx context.Context, wallets []string, mint *solana.PublicKey) (domain.Summary, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	target := ""
	if mint != nil {
		target = mint.String()
	}
	return a.runBatch(ctx, "swap-sell", target, accounts, func(ctx context.Context, acc domain.Account) error {
		res, err := a.funds.SellWithRetry(ctx, acc, mint)
		if err != nil {
			return err
		}
		if !res.Done() {
			return fmt.Errorf("%d token(s) left after %d attempts", len(res.Remaining), res.Attempts)
		}
		return nil
	}), nil
}

// ConsolidateTokens переводит все SPL-балансы выбранных аккаунтов на main-кошелек.
func (a *App) ConsolidateTokens(ctx context.Context, wallets []string) (domain.Summary, error) {
	main, sources, err := a.mainAndOthers(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	return a.runBatch(ctx, "consolidate-tokens", main.PublicKey.String(), sources, func(ctx context.Context, acc domain.Account) error {
		res, err := a.funds.ConsolidateWithRetry(ctx, acc, main.PublicKey)
		if err != nil {
			return err
		}
		if !res.Done() {
			return fmt.Errorf("%d token(s) left after %d attempts", len(res.Remaining), res.Attempts)
		}
		return nil
	}), nil
}

// ConsolidateSOL отправляет SOL выбранных аккаунтов на main-кошелек.
func (a *App) ConsolidateSOL(ctx context.Context, wallets []string) (domain.Summary, error) {
	main, sources, err := a.mainAndOthers(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	return a.runBatch(ctx, "consolidate-sol", main.PublicKey.String(), sources, func(ctx context.Context, acc domain.Account) error {
		return a.deps.Funds.ConsolidateNative(ctx, acc, main.PublicKey)
	}), nil
}

// Distribute делит totalSOL с main-кошелька поровну между выбранными
// аккаунтами. Ноль - быстрая раздача всего баланса main.
func (a *App) Distribute(ctx context.Context, wallets []string, totalSOL float64) (domain.Summary, error) {
	main, targets, err := a.mainAndOthers(wallets)
	if err != nil {
		return domain.Summary{}, err
	}
	if len(targets) == 0 {
		return domain.Summary{}, &domain.ValidationError{Field: "wallets", Reason: "no targets besides the main wallet"}
	}

	total := domain.SOLToLamports(totalSOL)
	if totalSOL == 0 {
		balance, err := a.deps.Funds.NativeBalance(ctx, main.PublicKey)
		if err != nil {
			return domain.Summary{}, fmt.Errorf("main wallet balance: %w", err)
		}
		total = rebalance.FastDistributionAmount(balance, len(targets))
		a.logger.Info("Fast distribution",
			zap.Float64("main_sol", domain.LamportsToSOL(balance)),
			zap.Float64("distribute_sol", domain.LamportsToSOL(total)))
	}
	per := rebalance.PerTarget(total, len(targets))
	if per == 0 {
		return domain.Summary{}, &domain.ValidationError{Field: "amount", Reason: "nothing to distribute"}
	}

	return a.runBatch(ctx, "distribute", main.PublicKey.String(), targets, func(ctx context.Context, acc domain.Account) error {
		return a.deps.Funds.DistributeNative(ctx, *main, []solana.PublicKey{acc.PublicKey}, per)
	}), nil
}

// mainAndOthers возвращает main-кошелек и выборку без него.
func (a *App) mainAndOthers(wallets []string) (*domain.Account, []domain.Account, error) {
	main, err := a.requireMain()
	if err != nil {
		return nil, nil, err
	}
	accounts, err := a.accounts(wallets)
	if err != nil {
		return nil, nil, err
	}
	return main, domain.ExcludeAccounts(accounts, []string{main.ID}), nil
}

// runBatch прогоняет op по аккаунтам и отчитывается как сценарий жизненного цикла.
func (a *App) runBatch(ctx context.Context, workflow, target string, accounts []domain.Account, op func(context.Context, domain.Account) error) domain.Summary {
	if len(accounts) == 0 {
		return domain.NewSummary(workflow, target, 0, nil)
	}
	start := time.Now()
	outcomes := a.exec.Run(ctx, accounts, op)
	summary := domain.NewSummary(workflow, target, len(accounts), domain.FailedIDs(outcomes))
	summary.Rounds = 1
	for _, o := range outcomes {
		if o.Err != nil && !errors.Is(o.Err, context.Canceled) {
			a.logger.Warn("Account failed", zap.String("workflow", workflow), zap.String("account", o.AccountID), zap.Error(o.Err))
		}
	}
	_ = a.deps.Bus.Publish(&events.WorkflowCompletedEvent{
		BaseEvent: events.NewBase(events.WorkflowCompleted),
		Summary:   summary,
		Duration:  time.Since(start),
	})
	return summary
}

// RunTask выполняет один шаг плана. Шаги wait обрабатывает Runner.
func (a *App) RunTask(ctx context.Context, t *task.Task) (domain.Summary, error) {
	open := OpenRequest{
		Wallets:    t.Wallets,
		Pool:       t.Pool,
		AmountSOL:  t.AmountSol,
		Shape:      t.Shape,
		RangeWidth: t.RangeWidth,
		Funding:    t.Strategy().Funding,
	}

	switch t.Workflow {
	case task.WorkflowOpen, task.WorkflowOpenToken:
		return a.Open(ctx, open)
	case task.WorkflowReopen:
		return a.Reopen(ctx, open)
	case task.WorkflowRemove:
		return a.Remove(ctx, t.Wallets, t.Pool)
	case task.WorkflowClaim:
		return a.Claim(ctx, t.Wallets, t.Pool)
	case task.WorkflowSwapBuy, task.WorkflowSwapSell:
		mint, err := t.Mint()
		if err != nil {
			return domain.Summary{}, err
		}
		if t.Workflow == task.WorkflowSwapSell {
			return a.SwapSell(ctx, t.Wallets, mint)
		}
		if mint == nil {
			return domain.Summary{}, &domain.ValidationError{Field: "token_mint", Reason: "required for swap-buy"}
		}
		return a.SwapBuy(ctx, t.Wallets, *mint, t.AmountSol)
	case task.WorkflowConsolidateTokens:
		return a.ConsolidateTokens(ctx, t.Wallets)
	case task.WorkflowConsolidateSOL:
		return a.ConsolidateSOL(ctx, t.Wallets)
	case task.WorkflowDistribute:
		return a.Distribute(ctx, t.Wallets, t.AmountSol)
	default:
		return domain.Summary{}, fmt.Errorf("workflow %q cannot be run directly", t.Workflow)
	}
}
