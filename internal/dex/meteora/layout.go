// internal/dex/meteora/layout.go
package meteora

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Offsets of the fields the bot reads. Everything else in the accounts is skipped.
const (
	lbPairActiveIDOffset = 76
	lbPairBinStepOffset  = 80
	lbPairMintXOffset    = 88
	lbPairMintYOffset    = 120
	lbPairReserveXOffset = 152
	lbPairReserveYOffset = 184
	lbPairBitmapOffset   = 584
	lbPairTokenFlagsOff  = 880
	lbPairMinSize        = 216

	positionLbPairOffset = 8
	positionOwnerOffset  = 40
	positionSharesOffset = 72
	positionFeesOffset   = 4552
	positionLowerOffset  = 7912
	positionUpperOffset  = 7916
	positionMinSize      = 7920
	feeInfoSize          = 48

	binArrayIndexOffset  = 8
	binArrayLbPairOffset = 24
	binArrayBinsOffset   = 56
	binSize              = 144
)

// Account discriminators.
var (
	lbPairDiscriminator   = accountDiscriminator("LbPair")
	positionDiscriminator = accountDiscriminator("PositionV2")
	binArrayDiscriminator = accountDiscriminator("BinArray")
)

func accountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

// LbPair is the subset of the pair state the bot needs.
type LbPair struct {
	ActiveID     int32
	BinStep      uint16
	MintX        solana.PublicKey
	MintY        solana.PublicKey
	ReserveX     solana.PublicKey
	ReserveY     solana.PublicKey
	Bitmap       [16]uint64
	TokenXFlag   uint8 // 0 = SPL Token, 1 = Token-2022
	TokenYFlag   uint8
}

// PositionState is a decoded PositionV2 account.
type PositionState struct {
	Address  solana.PublicKey
	LbPair   solana.PublicKey
	Owner    solana.PublicKey
	Shares   [MaxBins]*big.Int
	Fees     [MaxBins]FeeInfo
	LowerBin int32
	UpperBin int32
}

// FeeInfo tracks the fee checkpoint of one bin of a position.
type FeeInfo struct {
	XPerTokenComplete *big.Int
	YPerTokenComplete *big.Int
	XPending          uint64
	YPending          uint64
}

// Bin is one price bin of a bin array.
type Bin struct {
	AmountX           uint64
	AmountY           uint64
	LiquiditySupply   *big.Int
	FeeXPerTokenStore *big.Int
	FeeYPerTokenStore *big.Int
}

// BinArray holds MaxBins consecutive bins.
type BinArray struct {
	Index  int64
	LbPair solana.PublicKey
	Bins   [MaxBins]Bin
}

// DecodeLbPair decodes an LbPair account.
func DecodeLbPair(data []byte) (*LbPair, error) {
	if err := checkAccount(data, lbPairDiscriminator, lbPairMinSize, "LbPair"); err != nil {
		return nil, err
	}
	dec := bin.NewBorshDecoder(data)
	p := &LbPair{}

	var err error
	if p.ActiveID, err = readInt32At(dec, lbPairActiveIDOffset); err != nil {
		return nil, err
	}
	if err = dec.SetPosition(lbPairBinStepOffset); err != nil {
		return nil, err
	}
	if p.BinStep, err = dec.ReadUint16(bin.LE); err != nil {
		return nil, err
	}
	keys := []*solana.PublicKey{&p.MintX, &p.MintY, &p.ReserveX, &p.ReserveY}
	if err = dec.SetPosition(lbPairMintXOffset); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if *k, err = readKey(dec); err != nil {
			return nil, err
		}
	}

	// поля ниже есть только у полноразмерных аккаунтов
	if len(data) >= lbPairBitmapOffset+16*8 {
		if err = dec.SetPosition(lbPairBitmapOffset); err != nil {
			return nil, err
		}
		for i := range p.Bitmap {
			if p.Bitmap[i], err = dec.ReadUint64(bin.LE); err != nil {
				return nil, err
			}
		}
	}
	if len(data) > lbPairTokenFlagsOff+1 {
		p.TokenXFlag = data[lbPairTokenFlagsOff]
		p.TokenYFlag = data[lbPairTokenFlagsOff+1]
	}
	return p, nil
}

// TokenPrograms returns the token programs of the X and Y mints.
func (p *LbPair) TokenPrograms() (x, y solana.PublicKey) {
	return tokenProgram(p.TokenXFlag), tokenProgram(p.TokenYFlag)
}

// DecodePosition decodes a PositionV2 account.
func DecodePosition(address solana.PublicKey, data []byte) (*PositionState, error) {
	if err := checkAccount(data, positionDiscriminator, positionMinSize, "PositionV2"); err != nil {
		return nil, err
	}
	dec := bin.NewBorshDecoder(data)
	p := &PositionState{Address: address}

	var err error
	if err = dec.SetPosition(positionLbPairOffset); err != nil {
		return nil, err
	}
	if p.LbPair, err = readKey(dec); err != nil {
		return nil, err
	}
	if p.Owner, err = readKey(dec); err != nil {
		return nil, err
	}
	for i := range p.Shares {
		if p.Shares[i], err = readU128(dec); err != nil {
			return nil, fmt.Errorf("share %d: %w", i, err)
		}
	}

	if err = dec.SetPosition(positionFeesOffset); err != nil {
		return nil, err
	}
	for i := range p.Fees {
		f := &p.Fees[i]
		if f.XPerTokenComplete, err = readU128(dec); err != nil {
			return nil, err
		}
		if f.YPerTokenComplete, err = readU128(dec); err != nil {
			return nil, err
		}
		if f.XPending, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, err
		}
		if f.YPending, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, err
		}
	}

	if p.LowerBin, err = readInt32At(dec, positionLowerOffset); err != nil {
		return nil, err
	}
	if p.UpperBin, err = readInt32At(dec, positionUpperOffset); err != nil {
		return nil, err
	}
	if p.UpperBin < p.LowerBin || p.UpperBin-p.LowerBin >= MaxBins {
		return nil, fmt.Errorf("position %s: bad range [%d, %d]", address, p.LowerBin, p.UpperBin)
	}
	return p, nil
}

// Share returns the liquidity share of the position in binID.
func (p *PositionState) Share(binID int32) *big.Int {
	if binID < p.LowerBin || binID > p.UpperBin {
		return new(big.Int)
	}
	return p.Shares[binID-p.LowerBin]
}

// Fee returns the fee checkpoint of the position in binID.
func (p *PositionState) Fee(binID int32) FeeInfo {
	return p.Fees[binID-p.LowerBin]
}

// IsEmpty reports whether the position holds no liquidity.
func (p *PositionState) IsEmpty() bool {
	for i := 0; i <= int(p.UpperBin-p.LowerBin); i++ {
		if p.Shares[i].Sign() > 0 {
			return false
		}
	}
	return true
}

// DecodeBinArray decodes a BinArray account.
func DecodeBinArray(data []byte) (*BinArray, error) {
	if err := checkAccount(data, binArrayDiscriminator, binArrayBinsOffset+MaxBins*binSize, "BinArray"); err != nil {
		return nil, err
	}
	dec := bin.NewBorshDecoder(data)
	a := &BinArray{}

	var err error
	if err = dec.SetPosition(binArrayIndexOffset); err != nil {
		return nil, err
	}
	if a.Index, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, err
	}
	if err = dec.SetPosition(binArrayLbPairOffset); err != nil {
		return nil, err
	}
	if a.LbPair, err = readKey(dec); err != nil {
		return nil, err
	}

	for i := range a.Bins {
		if err = dec.SetPosition(uint(binArrayBinsOffset + i*binSize)); err != nil {
			return nil, err
		}
		b := &a.Bins[i]
		if b.AmountX, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, err
		}
		if b.AmountY, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, err
		}
		// price u128 не нужен
		if err = dec.SkipBytes(16); err != nil {
			return nil, err
		}
		if b.LiquiditySupply, err = readU128(dec); err != nil {
			return nil, err
		}
		// reward_per_token_stored [u128; 2]
		if err = dec.SkipBytes(32); err != nil {
			return nil, err
		}
		if b.FeeXPerTokenStore, err = readU128(dec); err != nil {
			return nil, err
		}
		if b.FeeYPerTokenStore, err = readU128(dec); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Bin returns the bin with binID, which must belong to the array.
func (a *BinArray) Bin(binID int32) (*Bin, bool) {
	idx := int64(binID) - a.Index*MaxBins
	if idx < 0 || idx >= MaxBins {
		return nil, false
	}
	return &a.Bins[idx], true
}

func checkAccount(data, discriminator []byte, minSize int, name string) error {
	if len(data) < minSize {
		return fmt.Errorf("%s: data too short (%d bytes)", name, len(data))
	}
	if !bytes.Equal(data[:8], discriminator) {
		return fmt.Errorf("%s: invalid discriminator", name)
	}
	return nil
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func readU128(dec *bin.Decoder) (*big.Int, error) {
	v, err := dec.ReadUint128(bin.LE)
	if err != nil {
		return nil, err
	}
	return v.BigInt(), nil
}

func readInt32At(dec *bin.Decoder, offset uint) (int32, error) {
	if err := dec.SetPosition(offset); err != nil {
		return 0, err
	}
	return dec.ReadInt32(bin.LE)
}
