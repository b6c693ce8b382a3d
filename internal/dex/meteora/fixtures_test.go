package meteora

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
)

var (
	testTokenMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testPair      = solana.NewWallet().PublicKey()
	testReserveX  = solana.NewWallet().PublicKey()
	testReserveY  = solana.NewWallet().PublicKey()
)

func putU128(dst []byte, v *big.Int) {
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	binary.LittleEndian.PutUint64(dst[0:8], lo.Uint64())
	binary.LittleEndian.PutUint64(dst[8:16], hi.Uint64())
}

// encodeLbPair builds a token/SOL pair: token is X, SOL is Y.
func encodeLbPair(active int32, binStep uint16) []byte {
	data := make([]byte, 904)
	copy(data, lbPairDiscriminator)
	binary.LittleEndian.PutUint32(data[lbPairActiveIDOffset:], uint32(active))
	binary.LittleEndian.PutUint16(data[lbPairBinStepOffset:], binStep)
	copy(data[lbPairMintXOffset:], testTokenMint.Bytes())
	copy(data[lbPairMintYOffset:], domain.NativeMint.Bytes())
	copy(data[lbPairReserveXOffset:], testReserveX.Bytes())
	copy(data[lbPairReserveYOffset:], testReserveY.Bytes())
	return data
}

type feeSlot struct {
	x, y uint64
}

func encodePosition(pair, owner solana.PublicKey, lower, upper int32, shares map[int32]int64, fees map[int32]feeSlot) []byte {
	data := make([]byte, 8120)
	copy(data, positionDiscriminator)
	copy(data[positionLbPairOffset:], pair.Bytes())
	copy(data[positionOwnerOffset:], owner.Bytes())
	for id, s := range shares {
		off := positionSharesOffset + int(id-lower)*16
		putU128(data[off:], big.NewInt(s))
	}
	for id, f := range fees {
		off := positionFeesOffset + int(id-lower)*feeInfoSize
		binary.LittleEndian.PutUint64(data[off+32:], f.x)
		binary.LittleEndian.PutUint64(data[off+40:], f.y)
	}
	binary.LittleEndian.PutUint32(data[positionLowerOffset:], uint32(lower))
	binary.LittleEndian.PutUint32(data[positionUpperOffset:], uint32(upper))
	return data
}

type testBin struct {
	x, y   uint64
	supply int64
}

func encodeBinArray(pair solana.PublicKey, index int64, bins map[int32]testBin) []byte {
	data := make([]byte, binArrayBinsOffset+MaxBins*binSize)
	copy(data, binArrayDiscriminator)
	binary.LittleEndian.PutUint64(data[binArrayIndexOffset:], uint64(index))
	copy(data[binArrayLbPairOffset:], pair.Bytes())
	for id, b := range bins {
		off := binArrayBinsOffset + int(int64(id)-index*MaxBins)*binSize
		binary.LittleEndian.PutUint64(data[off:], b.x)
		binary.LittleEndian.PutUint64(data[off+8:], b.y)
		putU128(data[off+32:], big.NewInt(b.supply))
	}
	return data
}

type fakeChain struct {
	mu        sync.Mutex
	accounts  map[solana.PublicKey][]byte
	positions []solbc.RawAccount
	tokens    []domain.TokenBalance
}

func newFakeChain() *fakeChain {
	return &fakeChain{accounts: make(map[solana.PublicKey][]byte)}
}

func (f *fakeChain) addBinArray(index int64, bins map[int32]testBin) {
	addr, err := DeriveBinArray(testPair, index)
	if err != nil {
		panic(err)
	}
	f.accounts[addr] = encodeBinArray(testPair, index, bins)
}

func (f *fakeChain) addPosition(owner solana.PublicKey, lower, upper int32, shares map[int32]int64, fees map[int32]feeSlot) solana.PublicKey {
	addr := solana.NewWallet().PublicKey()
	f.positions = append(f.positions, solbc.RawAccount{
		Pubkey: addr,
		Data:   encodePosition(testPair, owner, lower, upper, shares, fees),
	})
	return addr
}

func (f *fakeChain) GetAccountData(_ context.Context, pk solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.accounts[pk]
	if !ok {
		return nil, solbc.ErrAccountNotFound
	}
	return d, nil
}

func (f *fakeChain) GetMultipleAccounts(_ context.Context, pks []solana.PublicKey) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(pks))
	for i, pk := range pks {
		out[i] = f.accounts[pk]
	}
	return out, nil
}

func (f *fakeChain) FindProgramAccounts(context.Context, solana.PublicKey, ...solanarpc.RPCFilter) ([]solbc.RawAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]solbc.RawAccount(nil), f.positions...), nil
}

func (f *fakeChain) GetTokenBalances(context.Context, solana.PublicKey) ([]domain.TokenBalance, error) {
	return f.tokens, nil
}

func (f *fakeChain) GetMintDecimals(_ context.Context, mint solana.PublicKey) (uint8, error) {
	if mint.Equals(domain.NativeMint) {
		return 9, nil
	}
	return 6, nil
}

type sent struct {
	ixs      []solana.Instruction
	signers  int
	priority solbc.PriorityConfig
}

type recordingSender struct {
	mu  sync.Mutex
	txs []sent
	err error
}

func (s *recordingSender) Send(
	_ context.Context,
	_ solana.PrivateKey,
	ixs []solana.Instruction,
	priority solbc.PriorityConfig,
	signers ...solana.PrivateKey,
) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, sent{ixs: ixs, signers: len(signers), priority: priority})
	return solana.Signature{}, s.err
}

// findInstruction returns the first DLMM instruction whose data starts with discriminator.
func findInstruction(ixs []solana.Instruction, discriminator []byte) ([]byte, []*solana.AccountMeta, bool) {
	for _, ix := range ixs {
		if !ix.ProgramID().Equals(ProgramID) {
			continue
		}
		data, err := ix.Data()
		if err != nil || len(data) < 8 {
			continue
		}
		if string(data[:8]) == string(discriminator) {
			return data, ix.Accounts(), true
		}
	}
	return nil, nil, false
}

func testAccount() domain.Account {
	w := solana.NewWallet()
	return domain.Account{ID: "1", PublicKey: w.PublicKey(), PrivateKey: w.PrivateKey}
}
