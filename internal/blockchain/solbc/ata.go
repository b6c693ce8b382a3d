// internal/blockchain/solbc/ata.go
package solbc

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// AssociatedTokenAddress derives the ATA of owner for mint under tokenProgram.
// A zero tokenProgram means the classic SPL Token program.
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	if tokenProgram.IsZero() {
		tokenProgram = solana.TokenProgramID
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive ATA for %s: %w", mint, err)
	}
	return addr, nil
}

// CreateATAIdempotent creates the ATA of owner for mint unless it already exists.
func CreateATAIdempotent(payer, owner, mint, tokenProgram solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	if tokenProgram.IsZero() {
		tokenProgram = solana.TokenProgramID
	}
	ata, err := AssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	// 1 = CreateIdempotent
	ix := solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(tokenProgram),
		},
		[]byte{1},
	)
	return ix, ata, nil
}

// WrapSOL moves lamports into the WSOL account of owner. The account must exist.
func WrapSOL(owner, wsolAccount solana.PublicKey, lamports uint64) []solana.Instruction {
	return []solana.Instruction{
		system.NewTransferInstruction(lamports, owner, wsolAccount).Build(),
		token.NewSyncNativeInstruction(wsolAccount).Build(),
	}
}

// UnwrapSOL closes the WSOL account of owner, returning lamports to it.
func UnwrapSOL(owner, wsolAccount solana.PublicKey) solana.Instruction {
	return token.NewCloseAccountInstruction(wsolAccount, owner, owner, nil).Build()
}

// TransferChecked builds an SPL transfer under the given token program.
func TransferChecked(
	tokenProgram solana.PublicKey,
	amount uint64,
	decimals uint8,
	source, mint, destination, owner solana.PublicKey,
) (solana.Instruction, error) {
	ix, err := token.NewTransferCheckedInstruction(amount, decimals, source, mint, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}
	if tokenProgram.IsZero() || tokenProgram.Equals(solana.TokenProgramID) {
		return ix, nil
	}

	// Token-2022 shares the instruction layout
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return solana.NewInstruction(tokenProgram, ix.Accounts(), data), nil
}
