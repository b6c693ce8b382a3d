// internal/rebalance/retry.go
package rebalance

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/pace"
	"go.uber.org/zap"
)

// RetryConfig ограничивает циклы сбора и продажи.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	// DustUI - баланс токена в отображаемых единицах, ниже которого продажа считается завершенной.
	DustUI float64
}

// DefaultRetryConfig: 3 attempts 2s apart, balances under 5 tokens are dust.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    2 * time.Second,
		DustUI:   5,
	}
}

// Result показывает, сколько попыток ушло и что осталось.
type Result struct {
	Attempts  int
	Remaining []domain.TokenBalance
}

// Done сообщает, что ничего значимого не осталось.
func (r Result) Done() bool {
	return len(r.Remaining) == 0
}

// Helper повторяет сбор и продажу, пока балансы не очистятся.
type Helper struct {
	gateway  domain.RebalanceGateway
	swap     domain.SwapGateway
	balances domain.BalanceReader
	cfg      RetryConfig
	logger   *zap.Logger
	sleep    pace.SleepFunc
}

// NewHelper создает Helper.
func NewHelper(
	gateway domain.RebalanceGateway,
	swap domain.SwapGateway,
	balances domain.BalanceReader,
	cfg RetryConfig,
	logger *zap.Logger,
) *Helper {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Helper{
		gateway:  gateway,
		swap:     swap,
		balances: balances,
		cfg:      cfg,
		logger:   logger.Named("rebalance"),
		sleep:    pace.Sleep,
	}
}

// ConsolidateWithRetry moves every SPL balance of src to dst and re-checks,
// up to the attempt ceiling.
func (h *Helper) ConsolidateWithRetry(ctx context.Context, src domain.Account, dst solana.PublicKey) (Result, error) {
	return h.untilClear(ctx, "consolidate", src,
		func() error { return h.gateway.ConsolidateTokens(ctx, src, dst) },
		func(b domain.TokenBalance) bool { return b.Amount > 0 },
	)
}

// SellWithRetry sells the holdings of acc until only dust remains. A non-nil
// mint restricts both the sell and the check to that token.
func (h *Helper) SellWithRetry(ctx context.Context, acc domain.Account, mint *solana.PublicKey) (Result, error) {
	return h.untilClear(ctx, "sell", acc,
		func() error { return h.swap.SellAll(ctx, acc, mint) },
		func(b domain.TokenBalance) bool {
			if mint != nil && !b.Mint.Equals(*mint) {
				return false
			}
			return b.UIAmount() > h.cfg.DustUI
		},
	)
}

func (h *Helper) untilClear(
	ctx context.Context,
	action string,
	acc domain.Account,
	issue func() error,
	counts func(domain.TokenBalance) bool,
) (Result, error) {
	log := h.logger.With(zap.String("action", action), zap.String("account", acc.ID))

	var res Result
	for attempt := 1; attempt <= h.cfg.Attempts; attempt++ {
		res.Attempts = attempt

		if err := issue(); err != nil {
			log.Warn("Attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		remaining, err := h.remaining(ctx, acc.PublicKey, counts)
		switch {
		case err != nil:
			log.Warn("Balance check failed", zap.Int("attempt", attempt), zap.Error(err))
		case len(remaining) == 0:
			res.Remaining = nil
			log.Info("✅ Balances clear", zap.Int("attempt", attempt))
			return res, nil
		default:
			res.Remaining = remaining
			log.Info("Tokens still held",
				zap.Int("attempt", attempt),
				zap.Int("tokens", len(remaining)))
		}

		if attempt < h.cfg.Attempts {
			if err := h.sleep(ctx, h.cfg.Delay); err != nil {
				return res, err
			}
		}
	}

	log.Warn("⚠️ Attempts exhausted", zap.Int("tokens_left", len(res.Remaining)))
	return res, nil
}

func (h *Helper) remaining(ctx context.Context, owner solana.PublicKey, counts func(domain.TokenBalance) bool) ([]domain.TokenBalance, error) {
	all, err := h.balances.TokenBalances(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []domain.TokenBalance
	for _, b := range all {
		if b.Mint.Equals(domain.NativeMint) {
			continue
		}
		if counts(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// FastDistributionAmount - сумма для раздачи "всего": источник оставляет
// себе одну долю и 1% на комиссии.
func FastDistributionAmount(balance uint64, targets int) uint64 {
	if targets <= 0 || balance == 0 {
		return 0
	}
	keep := balance / uint64(targets)
	return (balance - keep) * 99 / 100
}

// PerTarget делит total поровну, остаток отбрасывается.
func PerTarget(total uint64, targets int) uint64 {
	if targets <= 0 {
		return 0
	}
	return total / uint64(targets)
}
