// internal/dex/meteora/instructions.go
package meteora

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
)

// Instruction discriminators: sha256("global:<name>")[:8].
var (
	initializePositionDiscriminator = instructionDiscriminator("initialize_position")
	initializeBinArrayDiscriminator = instructionDiscriminator("initialize_bin_array")
	addLiquidityDiscriminator       = instructionDiscriminator("add_liquidity_by_strategy")
	removeLiquidityDiscriminator    = instructionDiscriminator("remove_liquidity_by_range")
	claimFeeDiscriminator           = instructionDiscriminator("claim_fee")
	closePositionDiscriminator      = instructionDiscriminator("close_position")
)

func instructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// StrategyType is the on-chain liquidity distribution enum.
type StrategyType uint8

const (
	StrategySpotImBalanced   StrategyType = 6
	StrategyBidAskImBalanced StrategyType = 8
)

// StrategyFor maps a shape to the on-chain strategy.
func StrategyFor(shape domain.Shape) StrategyType {
	if shape == domain.ShapeSkewed {
		return StrategyBidAskImBalanced
	}
	return StrategySpotImBalanced
}

// MaxActiveBinSlippage is how far the active bin may move between quote and execution.
const MaxActiveBinSlippage int32 = 3

// FullBps removes 100% of the liquidity.
const FullBps uint16 = 10_000

// LiquidityAccounts are the accounts shared by add and remove liquidity.
type LiquidityAccounts struct {
	Position        solana.PublicKey
	LbPair          solana.PublicKey
	BitmapExtension solana.PublicKey
	UserTokenX      solana.PublicKey
	UserTokenY      solana.PublicKey
	ReserveX        solana.PublicKey
	ReserveY        solana.PublicKey
	MintX           solana.PublicKey
	MintY           solana.PublicKey
	BinArrayLower   solana.PublicKey
	BinArrayUpper   solana.PublicKey
	Sender          solana.PublicKey
	TokenXProgram   solana.PublicKey
	TokenYProgram   solana.PublicKey
}

func (a *LiquidityAccounts) metas() []*solana.AccountMeta {
	return []*solana.AccountMeta{
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.LbPair, true, false),
		solana.NewAccountMeta(a.BitmapExtension, !a.BitmapExtension.Equals(ProgramID), false),
		solana.NewAccountMeta(a.UserTokenX, true, false),
		solana.NewAccountMeta(a.UserTokenY, true, false),
		solana.NewAccountMeta(a.ReserveX, true, false),
		solana.NewAccountMeta(a.ReserveY, true, false),
		solana.NewAccountMeta(a.MintX, false, false),
		solana.NewAccountMeta(a.MintY, false, false),
		solana.NewAccountMeta(a.BinArrayLower, true, false),
		solana.NewAccountMeta(a.BinArrayUpper, true, false),
		solana.NewAccountMeta(a.Sender, false, true),
		solana.NewAccountMeta(a.TokenXProgram, false, false),
		solana.NewAccountMeta(a.TokenYProgram, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(ProgramID, false, false),
	}
}

// NewInitializePositionInstruction creates a position account spanning
// [lower, lower+width-1].
func NewInitializePositionInstruction(payer, position, pair, owner solana.PublicKey, lower, width int32) solana.Instruction {
	data := make([]byte, 8+4+4)
	copy(data[0:8], initializePositionDiscriminator)
	binary.LittleEndian.PutUint32(data[8:12], uint32(lower))
	binary.LittleEndian.PutUint32(data[12:16], uint32(width))

	return solana.NewInstruction(ProgramID, []*solana.AccountMeta{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(position, true, true),
		solana.NewAccountMeta(pair, false, false),
		solana.NewAccountMeta(owner, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(ProgramID, false, false),
	}, data)
}

// NewInitializeBinArrayInstruction creates the bin array with index.
func NewInitializeBinArrayInstruction(pair, binArray, funder solana.PublicKey, index int64) solana.Instruction {
	data := make([]byte, 8+8)
	copy(data[0:8], initializeBinArrayDiscriminator)
	binary.LittleEndian.PutUint64(data[8:16], uint64(index))

	return solana.NewInstruction(ProgramID, []*solana.AccountMeta{
		solana.NewAccountMeta(pair, false, false),
		solana.NewAccountMeta(binArray, true, false),
		solana.NewAccountMeta(funder, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data)
}

// AddLiquidityParams is the argument of add_liquidity_by_strategy.
type AddLiquidityParams struct {
	AmountX  uint64
	AmountY  uint64
	ActiveID int32
	MinBin   int32
	MaxBin   int32
	Strategy StrategyType
}

// NewAddLiquidityByStrategyInstruction deposits into [MinBin, MaxBin].
func NewAddLiquidityByStrategyInstruction(accounts *LiquidityAccounts, p AddLiquidityParams) solana.Instruction {
	// discriminator + amounts + active_id + slippage + min/max bin + strategy + [u8; 64]
	data := make([]byte, 8+8+8+4+4+4+4+1+64)
	copy(data[0:8], addLiquidityDiscriminator)
	binary.LittleEndian.PutUint64(data[8:16], p.AmountX)
	binary.LittleEndian.PutUint64(data[16:24], p.AmountY)
	binary.LittleEndian.PutUint32(data[24:28], uint32(p.ActiveID))
	binary.LittleEndian.PutUint32(data[28:32], uint32(MaxActiveBinSlippage))
	binary.LittleEndian.PutUint32(data[32:36], uint32(p.MinBin))
	binary.LittleEndian.PutUint32(data[36:40], uint32(p.MaxBin))
	data[40] = byte(p.Strategy)

	return solana.NewInstruction(ProgramID, accounts.metas(), data)
}

// NewRemoveLiquidityByRangeInstruction withdraws bps of every bin in [from, to].
func NewRemoveLiquidityByRangeInstruction(accounts *LiquidityAccounts, from, to int32, bps uint16) solana.Instruction {
	data := make([]byte, 8+4+4+2)
	copy(data[0:8], removeLiquidityDiscriminator)
	binary.LittleEndian.PutUint32(data[8:12], uint32(from))
	binary.LittleEndian.PutUint32(data[12:16], uint32(to))
	binary.LittleEndian.PutUint16(data[16:18], bps)

	return solana.NewInstruction(ProgramID, accounts.metas(), data)
}

// NewClaimFeeInstruction claims the swap fees of a position.
func NewClaimFeeInstruction(accounts *LiquidityAccounts) solana.Instruction {
	data := make([]byte, 8)
	copy(data, claimFeeDiscriminator)

	return solana.NewInstruction(ProgramID, []*solana.AccountMeta{
		solana.NewAccountMeta(accounts.LbPair, true, false),
		solana.NewAccountMeta(accounts.Position, true, false),
		solana.NewAccountMeta(accounts.BinArrayLower, true, false),
		solana.NewAccountMeta(accounts.BinArrayUpper, true, false),
		solana.NewAccountMeta(accounts.Sender, false, true),
		solana.NewAccountMeta(accounts.ReserveX, true, false),
		solana.NewAccountMeta(accounts.ReserveY, true, false),
		solana.NewAccountMeta(accounts.UserTokenX, true, false),
		solana.NewAccountMeta(accounts.UserTokenY, true, false),
		solana.NewAccountMeta(accounts.MintX, false, false),
		solana.NewAccountMeta(accounts.MintY, false, false),
		solana.NewAccountMeta(accounts.TokenXProgram, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(ProgramID, false, false),
	}, data)
}

// NewClosePositionInstruction closes an empty position and refunds its rent to sender.
func NewClosePositionInstruction(accounts *LiquidityAccounts) solana.Instruction {
	data := make([]byte, 8)
	copy(data, closePositionDiscriminator)

	return solana.NewInstruction(ProgramID, []*solana.AccountMeta{
		solana.NewAccountMeta(accounts.Position, true, false),
		solana.NewAccountMeta(accounts.LbPair, true, false),
		solana.NewAccountMeta(accounts.BinArrayLower, true, false),
		solana.NewAccountMeta(accounts.BinArrayUpper, true, false),
		solana.NewAccountMeta(accounts.Sender, false, true),
		solana.NewAccountMeta(accounts.Sender, true, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(ProgramID, false, false),
	}, data)
}
