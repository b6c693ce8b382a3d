// internal/domain/position.go
package domain

import (
	"math"

	"github.com/gagliardetto/solana-go"
)

// LamportsPerSOL - масштаб нативной единицы.
const LamportsPerSOL = 1_000_000_000

// NativeMint - минт wrapped SOL.
var NativeMint = solana.SolMint

// Pool is a metadata snapshot of a DLMM pair. It is re-read every time it is needed.
type Pool struct {
	Address      solana.PublicKey
	Name         string
	MintX        solana.PublicKey
	MintY        solana.PublicKey
	BinStep      uint16
	BaseFeePct   float64
	Volume1h     float64
	Volume24h    float64
	Fees24h      float64
	Liquidity    float64
	CurrentPrice float64
	ActiveBin    int32
}

// NativeIsX сообщает, стоит ли SOL на стороне X пары.
func (p Pool) NativeIsX() bool {
	return p.MintX.Equals(NativeMint)
}

// TokenMint возвращает не-SOL сторону пары.
func (p Pool) TokenMint() solana.PublicKey {
	if p.NativeIsX() {
		return p.MintY
	}
	return p.MintX
}

// Position is the aggregated liquidity one account holds in one pool.
// Several on-chain position accounts may back it. Amounts are in smallest units.
type Position struct {
	Owner     solana.PublicKey
	Pool      solana.PublicKey
	PoolName  string
	Accounts  []solana.PublicKey
	LowerBin  int32
	UpperBin  int32
	ActiveBin int32

	LowerPrice float64
	UpperPrice float64

	TokenMint     solana.PublicKey
	TokenDecimals uint8
	TokenAmount   uint64
	NativeAmount  uint64
	TokenFee      uint64
	NativeFee     uint64
}

// OutOfRange is true when the native side of the position is exhausted or the
// active bin sits on the lower bound.
func (p *Position) OutOfRange() bool {
	return p.NativeAmount == 0 || p.ActiveBin == p.LowerBin
}

// Drift - насколько активный бин выше нижней границы.
func (p *Position) Drift() int32 {
	return p.ActiveBin - p.LowerBin
}

// HasFees сообщает, есть ли что забрать.
func (p *Position) HasFees() bool {
	return p.TokenFee > 0 || p.NativeFee > 0
}

// TokenBalance is a SPL token holding of an account.
type TokenBalance struct {
	Mint     solana.PublicKey
	Account  solana.PublicKey
	Amount   uint64
	Decimals uint8
	// Program owning the token account (SPL Token or Token-2022).
	Program solana.PublicKey
}

// UIAmount переводит сырое количество в отображаемые единицы.
func (b TokenBalance) UIAmount() float64 {
	return ToUI(b.Amount, b.Decimals)
}

// ToUI переводит минимальные единицы в отображаемые.
func ToUI(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

// LamportsToSOL converts lamports to SOL for output.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SOLToLamports переводит SOL в лампорты.
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol * LamportsPerSOL)
}
