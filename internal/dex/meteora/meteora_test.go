package meteora

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBinArrayIndex(t *testing.T) {
	tests := []struct {
		bin  int32
		want int64
	}{
		{0, 0},
		{69, 0},
		{70, 1},
		{-1, -1},
		{-70, -1},
		{-71, -2},
		{-140, -2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BinArrayIndex(tt.bin), "bin %d", tt.bin)
	}
}

func TestDecodeLbPair(t *testing.T) {
	lb, err := DecodeLbPair(encodeLbPair(-42, 25))
	require.NoError(t, err)
	assert.Equal(t, int32(-42), lb.ActiveID)
	assert.Equal(t, uint16(25), lb.BinStep)
	assert.Equal(t, testTokenMint, lb.MintX)
	assert.Equal(t, domain.NativeMint, lb.MintY)
	assert.Equal(t, testReserveX, lb.ReserveX)

	x, y := lb.TokenPrograms()
	assert.Equal(t, solana.TokenProgramID, x)
	assert.Equal(t, solana.TokenProgramID, y)

	bad := encodeLbPair(0, 1)
	bad[0] ^= 0xff
	_, err = DecodeLbPair(bad)
	assert.Error(t, err)

	_, err = DecodeLbPair(encodeLbPair(0, 1)[:100])
	assert.Error(t, err)
}

func TestDecodePosition(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	addr := solana.NewWallet().PublicKey()
	data := encodePosition(testPair, owner, -3, 2, map[int32]int64{-3: 11, 2: 22}, map[int32]feeSlot{0: {x: 5, y: 6}})

	p, err := DecodePosition(addr, data)
	require.NoError(t, err)
	assert.Equal(t, addr, p.Address)
	assert.Equal(t, testPair, p.LbPair)
	assert.Equal(t, owner, p.Owner)
	assert.Equal(t, int32(-3), p.LowerBin)
	assert.Equal(t, int32(2), p.UpperBin)
	assert.Equal(t, int64(11), p.Share(-3).Int64())
	assert.Equal(t, int64(22), p.Share(2).Int64())
	assert.Zero(t, p.Share(0).Sign())
	assert.Zero(t, p.Share(50).Sign(), "outside the range")
	assert.Equal(t, uint64(5), p.Fee(0).XPending)
	assert.Equal(t, uint64(6), p.Fee(0).YPending)
	assert.False(t, p.IsEmpty())

	empty, err := DecodePosition(addr, encodePosition(testPair, owner, 0, 5, nil, nil))
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	_, err = DecodePosition(addr, encodePosition(testPair, owner, 10, 200, nil, nil))
	assert.Error(t, err, "wider than one position can be")
}

func TestPositionAmounts(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	pos, err := DecodePosition(solana.NewWallet().PublicKey(), encodePosition(testPair, owner, -2, 1,
		map[int32]int64{-1: 1000, 0: 500},
		map[int32]feeSlot{-2: {x: 7}}))
	require.NoError(t, err)

	arrays := map[int64]*BinArray{}
	for idx, bins := range map[int64]map[int32]testBin{
		-1: {-1: {y: 2000, supply: 1000}},
		0:  {0: {x: 300, y: 100, supply: 1000}},
	} {
		arr, err := DecodeBinArray(encodeBinArray(testPair, idx, bins))
		require.NoError(t, err)
		arrays[idx] = arr
	}

	got := PositionAmounts(pos, arrays)
	assert.Equal(t, uint64(150), got.X)
	assert.Equal(t, uint64(2050), got.Y)
	assert.Equal(t, uint64(7), got.FeeX)
	assert.Zero(t, got.FeeY)

	delete(arrays, 0)
	assert.Equal(t, uint64(2000), PositionAmounts(pos, arrays).Y, "missing arrays are skipped")
}

func TestAccruedFee(t *testing.T) {
	q := func(n int64) *big.Int { return new(big.Int).Lsh(big.NewInt(n), 64) }
	assert.Equal(t, int64(12), accruedFee(q(4), q(5), q(2)).Int64())
	assert.Zero(t, accruedFee(q(4), q(2), q(5)).Sign(), "no negative fees")
}

func TestBinPrice(t *testing.T) {
	assert.InDelta(t, 1.0, BinPrice(0, 25, 6, 6), 1e-12)
	assert.InDelta(t, 1.0025, BinPrice(1, 25, 6, 6), 1e-12)
	assert.InDelta(t, 0.001, BinPrice(0, 25, 6, 9), 1e-15)
}

func TestInstructionLayouts(t *testing.T) {
	accounts := &LiquidityAccounts{BitmapExtension: ProgramID}

	add := NewAddLiquidityByStrategyInstruction(accounts, AddLiquidityParams{
		AmountY: 1_000_000_000, ActiveID: 10, MinBin: -58, MaxBin: 10, Strategy: StrategyBidAskImBalanced,
	})
	data, err := add.Data()
	require.NoError(t, err)
	require.Len(t, data, 105)
	assert.Equal(t, addLiquidityDiscriminator, data[:8])
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(data[16:24]))
	assert.Equal(t, int32(3), int32(binary.LittleEndian.Uint32(data[28:32])))
	assert.Equal(t, int32(-58), int32(binary.LittleEndian.Uint32(data[32:36])))
	assert.Equal(t, byte(8), data[40])
	assert.Len(t, add.Accounts(), 16)
	assert.False(t, add.Accounts()[2].IsWritable, "program id placeholder is read-only")

	remove := NewRemoveLiquidityByRangeInstruction(accounts, -58, 10, FullBps)
	data, err = remove.Data()
	require.NoError(t, err)
	assert.Equal(t, uint16(10_000), binary.LittleEndian.Uint16(data[16:18]))

	init := NewInitializePositionInstruction(solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}, -58, 69)
	data, err = init.Data()
	require.NoError(t, err)
	assert.Equal(t, int32(69), int32(binary.LittleEndian.Uint32(data[12:16])))

	assert.Equal(t, StrategySpotImBalanced, StrategyFor(domain.ShapeFlat))
	assert.Equal(t, StrategyBidAskImBalanced, StrategyFor(domain.ShapeSkewed))
}

func newTestGateway(t *testing.T, chain *fakeChain, sender *recordingSender) *Gateway {
	chain.accounts[testPair] = encodeLbPair(10, 25)
	return NewGateway(chain, sender, nil, DefaultConfig(), zaptest.NewLogger(t))
}

func TestGetPositionAggregates(t *testing.T) {
	chain := newFakeChain()
	gw := newTestGateway(t, chain, &recordingSender{})
	acc := testAccount()

	pos, err := gw.GetPosition(context.Background(), acc, testPair)
	require.NoError(t, err)
	assert.Nil(t, pos, "no position accounts")

	chain.addBinArray(0, map[int32]testBin{5: {x: 0, y: 800, supply: 100}, 10: {x: 40, y: 0, supply: 100}})
	chain.addPosition(acc.PublicKey, 5, 10, map[int32]int64{5: 50}, nil)
	chain.addPosition(acc.PublicKey, 8, 12, map[int32]int64{10: 100}, map[int32]feeSlot{8: {x: 3, y: 4}})
	chain.addPosition(solana.NewWallet().PublicKey(), 0, 1, nil, nil)

	pos, err = gw.GetPosition(context.Background(), acc, testPair)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Len(t, pos.Accounts, 2, "other owners are ignored")
	assert.Equal(t, int32(5), pos.LowerBin)
	assert.Equal(t, int32(12), pos.UpperBin)
	assert.Equal(t, int32(10), pos.ActiveBin)
	assert.Equal(t, testTokenMint, pos.TokenMint)
	assert.Equal(t, uint8(6), pos.TokenDecimals)
	assert.Equal(t, uint64(40), pos.TokenAmount)
	assert.Equal(t, uint64(400), pos.NativeAmount)
	assert.Equal(t, uint64(3), pos.TokenFee)
	assert.Equal(t, uint64(4), pos.NativeFee)
	assert.Equal(t, "USDC-SOL", pos.PoolName)
}

func TestGetPositionUnknownPool(t *testing.T) {
	chain := newFakeChain()
	gw := NewGateway(chain, &recordingSender{}, nil, DefaultConfig(), zaptest.NewLogger(t))
	acc := testAccount()
	chain.addPosition(acc.PublicKey, 0, 1, nil, nil)

	_, err := gw.GetPosition(context.Background(), acc, testPair)
	assert.True(t, domain.IsValidation(err))
}

func TestOpenNativePosition(t *testing.T) {
	chain := newFakeChain()
	sender := &recordingSender{}
	gw := newTestGateway(t, chain, sender)
	chain.addBinArray(0, nil)

	strategy := domain.StrategySpec{Shape: domain.ShapeFlat, RangeWidth: 68, Funding: domain.FundingNative}
	err := gw.OpenPosition(context.Background(), testAccount(), testPair, domain.Sizing{NativeLamports: 5e8}, strategy)
	require.NoError(t, err)

	// bin array -1 is missing and gets its own transaction
	require.Len(t, sender.txs, 2)
	data, _, ok := findInstruction(sender.txs[0].ixs, initializeBinArrayDiscriminator)
	require.True(t, ok)
	assert.Equal(t, int64(-1), int64(binary.LittleEndian.Uint64(data[8:16])))

	open := sender.txs[1]
	assert.Equal(t, 1, open.signers, "position keypair signs")
	assert.Equal(t, uint64(1_000_000), open.priority.PriorityFee)

	data, _, ok = findInstruction(open.ixs, initializePositionDiscriminator)
	require.True(t, ok)
	assert.Equal(t, int32(-58), int32(binary.LittleEndian.Uint32(data[8:12])))
	assert.Equal(t, int32(69), int32(binary.LittleEndian.Uint32(data[12:16])))

	data, _, ok = findInstruction(open.ixs, addLiquidityDiscriminator)
	require.True(t, ok)
	assert.Zero(t, binary.LittleEndian.Uint64(data[8:16]), "no X")
	assert.Equal(t, uint64(5e8), binary.LittleEndian.Uint64(data[16:24]))
	assert.Equal(t, int32(10), int32(binary.LittleEndian.Uint32(data[36:40])))
	assert.Equal(t, byte(StrategySpotImBalanced), data[40])

	last := open.ixs[len(open.ixs)-1]
	assert.Equal(t, solana.TokenProgramID, last.ProgramID(), "WSOL is unwrapped at the end")
}

func TestOpenTokenPosition(t *testing.T) {
	chain := newFakeChain()
	sender := &recordingSender{}
	gw := newTestGateway(t, chain, sender)
	chain.addBinArray(0, nil)
	chain.addBinArray(1, nil)
	acc := testAccount()

	strategy := domain.StrategySpec{Shape: domain.ShapeSkewed, RangeWidth: 68, Funding: domain.FundingToken}
	err := gw.OpenPosition(context.Background(), acc, testPair, domain.Sizing{}, strategy)
	assert.ErrorIs(t, err, ErrNoTokenBalance)

	chain.tokens = []domain.TokenBalance{{Mint: testTokenMint, Amount: 1234, Decimals: 6}}
	require.NoError(t, gw.OpenPosition(context.Background(), acc, testPair, domain.Sizing{}, strategy))
	require.Len(t, sender.txs, 1, "both bin arrays exist")

	data, _, ok := findInstruction(sender.txs[0].ixs, addLiquidityDiscriminator)
	require.True(t, ok)
	assert.Equal(t, uint64(1234), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, int32(10), int32(binary.LittleEndian.Uint32(data[32:36])))
	assert.Equal(t, int32(78), int32(binary.LittleEndian.Uint32(data[36:40])))
	assert.Equal(t, byte(StrategyBidAskImBalanced), data[40])
}

func TestClosePosition(t *testing.T) {
	chain := newFakeChain()
	sender := &recordingSender{}
	gw := newTestGateway(t, chain, sender)
	acc := testAccount()

	assert.ErrorIs(t, gw.ClosePosition(context.Background(), acc, testPair), domain.ErrNoPosition)

	full := chain.addPosition(acc.PublicKey, -5, 5, map[int32]int64{0: 10}, nil)
	chain.addPosition(acc.PublicKey, 20, 30, nil, nil)
	require.NoError(t, gw.ClosePosition(context.Background(), acc, testPair))
	require.Len(t, sender.txs, 2)

	_, accounts, ok := findInstruction(sender.txs[0].ixs, removeLiquidityDiscriminator)
	require.True(t, ok)
	assert.Equal(t, full, accounts[0].PublicKey)
	_, _, ok = findInstruction(sender.txs[0].ixs, claimFeeDiscriminator)
	assert.True(t, ok)
	_, _, ok = findInstruction(sender.txs[0].ixs, closePositionDiscriminator)
	assert.True(t, ok)

	_, _, ok = findInstruction(sender.txs[1].ixs, removeLiquidityDiscriminator)
	assert.False(t, ok, "empty position is only closed")
	_, _, ok = findInstruction(sender.txs[1].ixs, closePositionDiscriminator)
	assert.True(t, ok)
}

func TestClosePositionJoinsFailures(t *testing.T) {
	chain := newFakeChain()
	boom := errors.New("boom")
	sender := &recordingSender{err: boom}
	gw := newTestGateway(t, chain, sender)
	acc := testAccount()
	chain.addPosition(acc.PublicKey, 0, 1, nil, nil)
	chain.addPosition(acc.PublicKey, 2, 3, nil, nil)

	err := gw.ClosePosition(context.Background(), acc, testPair)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sender.txs, 2, "every position is attempted")
}

func TestClaimFeesSkipsEmpty(t *testing.T) {
	chain := newFakeChain()
	sender := &recordingSender{}
	gw := newTestGateway(t, chain, sender)
	acc := testAccount()
	chain.addBinArray(0, nil)

	claimed, err := gw.ClaimFees(context.Background(), acc, testPair)
	require.NoError(t, err)
	assert.False(t, claimed, "no position")

	chain.addPosition(acc.PublicKey, 0, 3, map[int32]int64{1: 5}, nil)
	claimed, err = gw.ClaimFees(context.Background(), acc, testPair)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, sender.txs)

	chain.addPosition(acc.PublicKey, 4, 6, nil, map[int32]feeSlot{5: {y: 9}})
	claimed, err = gw.ClaimFees(context.Background(), acc, testPair)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.Len(t, sender.txs, 1)
	assert.Equal(t, uint64(150_000), sender.txs[0].priority.PriorityFee)
}
