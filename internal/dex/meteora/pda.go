// internal/dex/meteora/pda.go
package meteora

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the Meteora DLMM program.
var ProgramID = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

// MaxBins is the number of bins in a bin array and the widest position.
const MaxBins = 70

// Range of bin array indexes covered by the bitmap stored in the pair itself.
const (
	minBitmapIndex = -512
	maxBitmapIndex = 511
)

// BinArrayIndex returns the index of the bin array holding binID.
func BinArrayIndex(binID int32) int64 {
	idx := int64(binID) / MaxBins
	if binID < 0 && int64(binID)%MaxBins != 0 {
		idx--
	}
	return idx
}

// DeriveBinArray returns the bin array PDA of pair for index.
func DeriveBinArray(pair solana.PublicKey, index int64) (solana.PublicKey, error) {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(index))
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bin_array"), pair.Bytes(), seed[:]}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bin array %d: %w", index, err)
	}
	return addr, nil
}

// DeriveBitmapExtension returns the bitmap extension PDA of pair.
func DeriveBitmapExtension(pair solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bitmap"), pair.Bytes()}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bitmap extension: %w", err)
	}
	return addr, nil
}

// DeriveEventAuthority returns the Anchor event authority of the program.
func DeriveEventAuthority() solana.PublicKey {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, ProgramID)
	if err != nil {
		panic(err)
	}
	return addr
}

var eventAuthority = DeriveEventAuthority()

// bitmapExtensionFor returns the extension account when either bin array
// falls outside the pair's own bitmap, and the program ID otherwise, which
// Anchor reads as "no account".
func bitmapExtensionFor(pair solana.PublicKey, lowerIdx, upperIdx int64) (solana.PublicKey, error) {
	if lowerIdx >= minBitmapIndex && upperIdx <= maxBitmapIndex {
		return ProgramID, nil
	}
	return DeriveBitmapExtension(pair)
}

func tokenProgram(flag uint8) solana.PublicKey {
	if flag == 1 {
		return solana.Token2022ProgramID
	}
	return solana.TokenProgramID
}
