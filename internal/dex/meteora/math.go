// internal/dex/meteora/math.go
package meteora

import (
	"math"
	"math/big"
)

// scaleOffset is the Q64.64 fixed point shift used for fee accumulators.
const scaleOffset = 64

// Amounts is what a position holds, in smallest units.
type Amounts struct {
	X, Y       uint64
	FeeX, FeeY uint64
}

// PositionAmounts sums the share of every bin of pos against the bins in arrays.
// Bins whose array is missing are skipped.
func PositionAmounts(pos *PositionState, arrays map[int64]*BinArray) Amounts {
	var out Amounts
	x, y := new(big.Int), new(big.Int)
	feeX, feeY := new(big.Int), new(big.Int)

	for id := pos.LowerBin; id <= pos.UpperBin; id++ {
		fee := pos.Fee(id)
		feeX.Add(feeX, new(big.Int).SetUint64(fee.XPending))
		feeY.Add(feeY, new(big.Int).SetUint64(fee.YPending))

		share := pos.Share(id)
		if share.Sign() == 0 {
			continue
		}
		arr, ok := arrays[BinArrayIndex(id)]
		if !ok {
			continue
		}
		b, ok := arr.Bin(id)
		if !ok || b.LiquiditySupply.Sign() == 0 {
			continue
		}

		x.Add(x, mulDiv(share, b.AmountX, b.LiquiditySupply))
		y.Add(y, mulDiv(share, b.AmountY, b.LiquiditySupply))
		feeX.Add(feeX, accruedFee(share, b.FeeXPerTokenStore, fee.XPerTokenComplete))
		feeY.Add(feeY, accruedFee(share, b.FeeYPerTokenStore, fee.YPerTokenComplete))
	}

	out.X, out.Y = clampU64(x), clampU64(y)
	out.FeeX, out.FeeY = clampU64(feeX), clampU64(feeY)
	return out
}

// mulDiv returns share * amount / supply, rounded down.
func mulDiv(share *big.Int, amount uint64, supply *big.Int) *big.Int {
	v := new(big.Int).Mul(share, new(big.Int).SetUint64(amount))
	return v.Quo(v, supply)
}

// accruedFee is the fee earned since the last checkpoint:
// ((share >> 64) * (stored - complete)) >> 64.
func accruedFee(share, stored, complete *big.Int) *big.Int {
	delta := new(big.Int).Sub(stored, complete)
	if delta.Sign() <= 0 {
		return new(big.Int)
	}
	liq := new(big.Int).Rsh(share, scaleOffset)
	v := liq.Mul(liq, delta)
	return v.Rsh(v, scaleOffset)
}

func clampU64(v *big.Int) uint64 {
	if !v.IsUint64() {
		if v.Sign() < 0 {
			return 0
		}
		return math.MaxUint64
	}
	return v.Uint64()
}

// BinPrice returns the price of X in Y at binID, adjusted to display units.
func BinPrice(binID int32, binStep uint16, decimalsX, decimalsY uint8) float64 {
	raw := math.Pow(1+float64(binStep)/10000, float64(binID))
	return raw * math.Pow10(int(decimalsX)-int(decimalsY))
}
