// internal/rebalance/gateway.go
package rebalance

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NativeReserve остаётся на кошельке при переводе SOL, чтобы хватило на комиссии.
const NativeReserve uint64 = 2_000_000

// ErrNothingToMove: перевод SOL оставил бы меньше резерва.
var ErrNothingToMove = errors.New("balance below reserve")

// Chain is the part of solbc.Client the gateway reads through.
type Chain interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]domain.TokenBalance, error)
}

// Submitter подписывает и отправляет транзакции.
type Submitter interface {
	Send(
		ctx context.Context,
		payer solana.PrivateKey,
		instructions []solana.Instruction,
		priority solbc.PriorityConfig,
		signers ...solana.PrivateKey,
	) (solana.Signature, error)
}

// GatewayConfig задает приоритетные комиссии переводов.
type GatewayConfig struct {
	TokenPriority  solbc.PriorityConfig
	NativePriority solbc.PriorityConfig
}

// DefaultGatewayConfig: 500k micro-lamports for token moves, 100k for SOL moves.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		TokenPriority:  solbc.PriorityConfig{PriorityFee: 500_000},
		NativePriority: solbc.PriorityConfig{PriorityFee: 100_000},
	}
}

// SolanaGateway переводит SOL и SPL-токены между управляемыми аккаунтами.
type SolanaGateway struct {
	chain  Chain
	sender Submitter
	cfg    GatewayConfig
	logger *zap.Logger
}

// NewSolanaGateway создает шлюз.
func NewSolanaGateway(chain Chain, sender Submitter, cfg GatewayConfig, logger *zap.Logger) *SolanaGateway {
	return &SolanaGateway{
		chain:  chain,
		sender: sender,
		cfg:    cfg,
		logger: logger.Named("rebalance-gateway"),
	}
}

// NativeBalance возвращает лампорты owner.
func (g *SolanaGateway) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return g.chain.GetBalance(ctx, owner)
}

// TokenBalances returns every SPL holding of owner.
func (g *SolanaGateway) TokenBalances(ctx context.Context, owner solana.PublicKey) ([]domain.TokenBalance, error) {
	return g.chain.GetTokenBalances(ctx, owner)
}

// ConsolidateTokens отправляет все непустые SPL-балансы src на dst, по
// транзакции на токен. WSOL не трогаем.
func (g *SolanaGateway) ConsolidateTokens(ctx context.Context, src domain.Account, dst solana.PublicKey) error {
	balances, err := g.chain.GetTokenBalances(ctx, src.PublicKey)
	if err != nil {
		return fmt.Errorf("token balances of %s: %w", src.ID, err)
	}

	var moves []domain.TokenBalance
	for _, b := range balances {
		if b.Amount == 0 || b.Mint.Equals(domain.NativeMint) {
			continue
		}
		moves = append(moves, b)
	}
	if len(moves) == 0 {
		g.logger.Debug("Nothing to consolidate", zap.String("account", src.ID))
		return nil
	}

	g.logger.Info("📦 Consolidating tokens",
		zap.String("account", src.ID),
		zap.String("to", domain.ShortAddress(dst)),
		zap.Int("tokens", len(moves)))

	// по транзакции на токен, ошибки собираем все
	errs := make([]error, len(moves))
	var eg errgroup.Group
	for i, b := range moves {
		eg.Go(func() error {
			errs[i] = g.transferToken(ctx, src, dst, b)
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

func (g *SolanaGateway) transferToken(ctx context.Context, src domain.Account, dst solana.PublicKey, b domain.TokenBalance) error {
	createIx, dstATA, err := solbc.CreateATAIdempotent(src.PublicKey, dst, b.Mint, b.Program)
	if err != nil {
		return err
	}
	transferIx, err := solbc.TransferChecked(b.Program, b.Amount, b.Decimals, b.Account, b.Mint, dstATA, src.PublicKey)
	if err != nil {
		return err
	}

	sig, err := g.sender.Send(ctx, src.PrivateKey, []solana.Instruction{createIx, transferIx}, g.cfg.TokenPriority)
	if err != nil {
		return fmt.Errorf("transfer %s from %s: %w", domain.ShortAddress(b.Mint), src.ID, err)
	}

	g.logger.Info("✅ Tokens sent",
		zap.String("account", src.ID),
		zap.String("mint", domain.ShortAddress(b.Mint)),
		zap.Float64("amount", b.UIAmount()),
		zap.String("signature", sig.String()))
	return nil
}

// ConsolidateNative отправляет SOL с src на dst, оставляя NativeReserve.
func (g *SolanaGateway) ConsolidateNative(ctx context.Context, src domain.Account, dst solana.PublicKey) error {
	balance, err := g.chain.GetBalance(ctx, src.PublicKey)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", src.ID, err)
	}
	if balance <= NativeReserve {
		return fmt.Errorf("%s holds %.6f SOL: %w", src.ID, domain.LamportsToSOL(balance), ErrNothingToMove)
	}
	amount := balance - NativeReserve

	sig, err := g.sender.Send(ctx, src.PrivateKey,
		[]solana.Instruction{system.NewTransferInstruction(amount, src.PublicKey, dst).Build()},
		g.cfg.NativePriority)
	if err != nil {
		return fmt.Errorf("send SOL from %s: %w", src.ID, err)
	}

	g.logger.Info("✅ SOL sent",
		zap.String("account", src.ID),
		zap.String("to", domain.ShortAddress(dst)),
		zap.Float64("sol", domain.LamportsToSOL(amount)),
		zap.String("signature", sig.String()))
	return nil
}

// DistributeNative делит lamports поровну между targets. Переводы идут
// параллельно; каждый неудачный получатель попадает в ошибку.
func (g *SolanaGateway) DistributeNative(ctx context.Context, src domain.Account, targets []solana.PublicKey, lamports uint64) error {
	per := PerTarget(lamports, len(targets))
	if per == 0 {
		return &domain.ValidationError{Field: "amount", Reason: "nothing to distribute"}
	}

	g.logger.Info("💸 Distributing SOL",
		zap.String("account", src.ID),
		zap.Int("targets", len(targets)),
		zap.Float64("sol_per_target", domain.LamportsToSOL(per)))

	errs := make([]error, len(targets))
	var eg errgroup.Group
	for i, to := range targets {
		eg.Go(func() error {
			ix := system.NewTransferInstruction(per, src.PublicKey, to).Build()
			sig, err := g.sender.Send(ctx, src.PrivateKey, []solana.Instruction{ix}, g.cfg.NativePriority)
			if err != nil {
				errs[i] = fmt.Errorf("send to %s: %w", domain.ShortAddress(to), err)
				return nil
			}
			g.logger.Info("✅ SOL sent",
				zap.String("to", domain.ShortAddress(to)),
				zap.String("signature", sig.String()))
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

var (
	_ domain.RebalanceGateway = (*SolanaGateway)(nil)
	_ domain.BalanceReader    = (*SolanaGateway)(nil)
)
