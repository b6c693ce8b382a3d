// internal/blockchain/solbc/priority.go
package solbc

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// PriorityConfig задаёт compute budget транзакции.
type PriorityConfig struct {
	ComputeUnits uint32 // Number of compute units, 0 keeps the runtime default
	PriorityFee  uint64 // Priority fee in micro-lamports per compute unit
}

// TxMode selects how a transaction is submitted.
type TxMode string

const (
	// ModeSafe simulates through preflight and waits for confirmation.
	ModeSafe TxMode = "safe"
	// ModeDegen skips preflight and returns right after submission.
	ModeDegen TxMode = "degen"
)

// ParseTxMode accepts "safe" and "degen"; empty means safe.
func ParseTxMode(s string) (TxMode, error) {
	switch TxMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSafe, "":
		return ModeSafe, nil
	case ModeDegen:
		return ModeDegen, nil
	default:
		return "", fmt.Errorf("unknown transaction mode %q", s)
	}
}

// Instructions returns the compute budget instructions to prepend.
func (p PriorityConfig) Instructions() []solana.Instruction {
	var instructions []solana.Instruction

	if p.ComputeUnits > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitLimitInstruction(p.ComputeUnits).Build())
	}
	if p.PriorityFee > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitPriceInstruction(p.PriorityFee).Build())
	}

	return instructions
}
