// internal/domain/strategy.go
package domain

import (
	"fmt"
	"strings"
)

// MaxBinsPerPosition - сколько бинов может охватить одна DLMM-позиция.
const MaxBinsPerPosition = 70

// DefaultRangeWidth is the distance in bins between the active bin and the far end of a new position.
const DefaultRangeWidth int32 = 68

// Shape - распределение ликвидности по диапазону.
type Shape int

const (
	ShapeFlat Shape = iota
	ShapeSkewed
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "spot"
	case ShapeSkewed:
		return "bid-ask"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// ParseShape принимает "spot"/"flat"/"1" и "bid-ask"/"bidask"/"skewed"/"2".
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot", "flat", "1", "":
		return ShapeFlat, nil
	case "bid-ask", "bidask", "skewed", "2":
		return ShapeSkewed, nil
	default:
		return 0, &ValidationError{Field: "shape", Reason: fmt.Sprintf("unknown shape %q", s)}
	}
}

// Funding - актив, которым наполняется новая позиция.
type Funding int

const (
	FundingNative Funding = iota
	FundingToken
)

func (f Funding) String() string {
	if f == FundingToken {
		return "token"
	}
	return "native"
}

// StrategySpec описывает раскладку новой позиции.
type StrategySpec struct {
	Shape      Shape
	RangeWidth int32
	Funding    Funding
}

// Sizing carries the native amount for native-funded positions.
// Token-funded positions always use the whole token balance.
type Sizing struct {
	NativeLamports uint64
}

// Validate проверяет стратегию против размера.
func (s StrategySpec) Validate(sizing Sizing) error {
	if s.Shape != ShapeFlat && s.Shape != ShapeSkewed {
		return &ValidationError{Field: "shape", Reason: "unsupported shape"}
	}
	if s.RangeWidth < 1 || s.RangeWidth >= MaxBinsPerPosition {
		return &ValidationError{
			Field:  "range_width",
			Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxBinsPerPosition-1, s.RangeWidth),
		}
	}
	switch s.Funding {
	case FundingNative:
		if sizing.NativeLamports == 0 {
			return &ValidationError{Field: "sizing", Reason: "native amount must be positive"}
		}
	case FundingToken:
	default:
		return &ValidationError{Field: "funding", Reason: "unsupported funding"}
	}
	return nil
}

// Range возвращает границы бинов позиции вокруг activeBin.
// Ниже активного бина ликвидность в Y, выше в X, поэтому направление
// определяет сторона, на которой лежит вносимый актив.
func (s StrategySpec) Range(activeBin int32, nativeIsX bool) (lower, upper int32) {
	seedIsX := (s.Funding == FundingNative) == nativeIsX
	if seedIsX {
		return activeBin, activeBin + s.RangeWidth
	}
	return activeBin - s.RangeWidth, activeBin
}
