// internal/domain/gateway.go
package domain

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// ChainGateway читает и изменяет DLMM-позиции.
type ChainGateway interface {
	// GetPosition возвращает nil, если у аккаунта ничего нет в пуле.
	GetPosition(ctx context.Context, acc Account, pool solana.PublicKey) (*Position, error)
	OpenPosition(ctx context.Context, acc Account, pool solana.PublicKey, sizing Sizing, strategy StrategySpec) error
	// ClosePosition withdraws all liquidity, claims fees and closes every position
	// account of acc in pool.
	ClosePosition(ctx context.Context, acc Account, pool solana.PublicKey) error
	ListPositions(ctx context.Context, acc Account) ([]Position, error)
}

// PoolReader получает метаданные пула.
type PoolReader interface {
	PoolInfo(ctx context.Context, pool solana.PublicKey) (*Pool, error)
}

// PoolFinder ищет DLMM-пулы токена в паре с SOL.
type PoolFinder interface {
	FindPools(ctx context.Context, mint solana.PublicKey) ([]Pool, error)
}

// FeeClaimer забирает накопленные комиссии, не трогая ликвидность.
type FeeClaimer interface {
	ClaimFees(ctx context.Context, acc Account, pool solana.PublicKey) (claimed bool, err error)
}

// SwapGateway продает и покупает токены за SOL.
type SwapGateway interface {
	// SellAll sells every meaningful token balance of acc, or only mint when it is set.
	SellAll(ctx context.Context, acc Account, mint *solana.PublicKey) error
	Buy(ctx context.Context, acc Account, mint solana.PublicKey, lamports uint64) error
}

// RebalanceGateway переводит средства между управляемыми аккаунтами.
type RebalanceGateway interface {
	ConsolidateTokens(ctx context.Context, src Account, dst solana.PublicKey) error
	ConsolidateNative(ctx context.Context, src Account, dst solana.PublicKey) error
	DistributeNative(ctx context.Context, src Account, targets []solana.PublicKey, lamports uint64) error
}

// BalanceReader читает балансы SOL и SPL.
type BalanceReader interface {
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	TokenBalances(ctx context.Context, owner solana.PublicKey) ([]TokenBalance, error)
}
