// internal/dex/jupiter/gateway.go
package jupiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Chain отдает токенные балансы кошелька.
type Chain interface {
	GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]domain.TokenBalance, error)
}

// Submitter отправляет уже подписанную транзакцию.
type Submitter interface {
	SubmitSigned(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Config настраивает свопы.
type Config struct {
	SlippageBps      int
	MinSellUIAmount  float64
	PriorityLamports uint64
	MaxTries         uint
	RetryDelay       time.Duration
}

// DefaultConfig: проскальзывание 5%, пыль меньше 5 токенов, приоритет 0.01 SOL, 3 попытки через 2с.
func DefaultConfig() Config {
	return Config{
		SlippageBps:      500,
		MinSellUIAmount:  5,
		PriorityLamports: 10_000_000,
		MaxTries:         3,
		RetryDelay:       2 * time.Second,
	}
}

// Gateway swaps tokens against SOL through Jupiter.
type Gateway struct {
	api    *API
	chain  Chain
	sender Submitter
	cfg    Config
	logger *zap.Logger
}

// NewGateway creates a Gateway.
func NewGateway(api *API, chain Chain, sender Submitter, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	return &Gateway{
		api:    api,
		chain:  chain,
		sender: sender,
		cfg:    cfg,
		logger: logger.Named("jupiter"),
	}
}

var _ domain.SwapGateway = (*Gateway)(nil)

// Sellable сообщает, стоит ли продавать b: не WSOL и не пыль.
func (g *Gateway) Sellable(b domain.TokenBalance) bool {
	return !b.Mint.Equals(domain.NativeMint) && b.Amount > 0 && b.UIAmount() >= g.cfg.MinSellUIAmount
}

// SellAll продает за SOL все годные токены acc, или только mint, если он задан.
// Токены продаются параллельно; каждая ошибка попадает в результат.
func (g *Gateway) SellAll(ctx context.Context, acc domain.Account, mint *solana.PublicKey) error {
	balances, err := g.chain.GetTokenBalances(ctx, acc.PublicKey)
	if err != nil {
		return fmt.Errorf("token balances of %s: %w", acc.ID, err)
	}

	var targets []domain.TokenBalance
	for _, b := range balances {
		if mint != nil && !b.Mint.Equals(*mint) {
			continue
		}
		if g.Sellable(b) {
			targets = append(targets, b)
		}
	}
	if len(targets) == 0 {
		g.logger.Debug("Nothing to sell", zap.String("account", acc.ID))
		return nil
	}
	g.logger.Info("Selling tokens", zap.String("account", acc.ID), zap.Int("count", len(targets)))

	var (
		mu   sync.Mutex
		errs []error
	)
	var eg errgroup.Group
	for _, b := range targets {
		eg.Go(func() error {
			if err := g.sell(ctx, acc, b); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

func (g *Gateway) sell(ctx context.Context, acc domain.Account, b domain.TokenBalance) error {
	log := g.logger.With(
		zap.String("account", acc.ID),
		zap.String("mint", b.Mint.String()),
		zap.Float64("ui_amount", b.UIAmount()))

	sig, err := g.withRetry(ctx, log, func() (solana.Signature, error) {
		return g.swap(ctx, acc, b.Mint, domain.NativeMint, b.Amount)
	})
	if err != nil {
		return fmt.Errorf("sell %s for %s: %w", domain.ShortAddress(b.Mint), acc.ID, err)
	}
	log.Info("✅ Token sold", zap.String("signature", sig.String()))
	return nil
}

// Buy обменивает lamports SOL на mint.
func (g *Gateway) Buy(ctx context.Context, acc domain.Account, mint solana.PublicKey, lamports uint64) error {
	if lamports == 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	log := g.logger.With(
		zap.String("account", acc.ID),
		zap.String("mint", mint.String()),
		zap.Float64("sol", domain.LamportsToSOL(lamports)))

	sig, err := g.withRetry(ctx, log, func() (solana.Signature, error) {
		return g.swap(ctx, acc, domain.NativeMint, mint, lamports)
	})
	if err != nil {
		return fmt.Errorf("buy %s for %s: %w", domain.ShortAddress(mint), acc.ID, err)
	}
	log.Info("✅ Token bought", zap.String("signature", sig.String()))
	return nil
}

func (g *Gateway) swap(ctx context.Context, acc domain.Account, input, output solana.PublicKey, amount uint64) (solana.Signature, error) {
	quote, err := g.api.Quote(ctx, input, output, amount, g.cfg.SlippageBps)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := g.api.SwapTransaction(ctx, quote, acc.PublicKey, g.cfg.PriorityLamports)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := solbc.SignWith(tx, acc.PrivateKey); err != nil {
		return solana.Signature{}, backoff.Permanent(fmt.Errorf("sign swap: %w", err))
	}
	return g.sender.SubmitSigned(ctx, tx)
}

func (g *Gateway) withRetry(ctx context.Context, log *zap.Logger, op backoff.Operation[solana.Signature]) (solana.Signature, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.cfg.RetryDelay)),
		backoff.WithMaxTries(g.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("Swap failed, retrying", zap.Duration("next", next), zap.Error(err))
		}),
	)
}
