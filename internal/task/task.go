// =============================================
// File: internal/task/task.go
// =============================================
package task

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
)

// Workflow - имя шага плана.
type Workflow string

const (
	WorkflowOpen              Workflow = "open"
	WorkflowOpenToken         Workflow = "open-token"
	WorkflowRemove            Workflow = "remove"
	WorkflowReopen            Workflow = "reopen"
	WorkflowClaim             Workflow = "claim"
	WorkflowSwapBuy           Workflow = "swap-buy"
	WorkflowSwapSell          Workflow = "swap-sell"
	WorkflowConsolidateTokens Workflow = "consolidate-tokens"
	WorkflowConsolidateSOL    Workflow = "consolidate-sol"
	WorkflowDistribute        Workflow = "distribute"
	WorkflowWait              Workflow = "wait"
)

func parseWorkflow(s string) (Workflow, error) {
	w := Workflow(s)
	switch w {
	case WorkflowOpen, WorkflowOpenToken, WorkflowRemove, WorkflowReopen, WorkflowClaim,
		WorkflowSwapBuy, WorkflowSwapSell, WorkflowConsolidateTokens, WorkflowConsolidateSOL,
		WorkflowDistribute, WorkflowWait:
		return w, nil
	default:
		return "", fmt.Errorf("unsupported workflow: %q", s)
	}
}

// NeedsPool reports whether the workflow acts on positions of one pool.
func (w Workflow) NeedsPool() bool {
	switch w {
	case WorkflowOpen, WorkflowOpenToken, WorkflowRemove, WorkflowReopen, WorkflowClaim:
		return true
	}
	return false
}

// Task is one step of a batch plan.
type Task struct {
	ID       int
	TaskName string
	Workflow Workflow
	Pool     string
	// Wallets выбирает аккаунты по имени; пусто - все аккаунты.
	Wallets    []string
	AmountSol  float64 // SOL per account for open/reopen/swap-buy, total for distribute (0 = fast distribution)
	Shape      domain.Shape
	RangeWidth int32
	TokenMint  string
	Delay      time.Duration // пауза для шагов wait
	// ContinueOnFailure keeps the plan going when this step leaves accounts unresolved.
	ContinueOnFailure bool
}

// Strategy возвращает раскладку позиции для шагов открытия.
func (t *Task) Strategy() domain.StrategySpec {
	funding := domain.FundingNative
	if t.Workflow == WorkflowOpenToken {
		funding = domain.FundingToken
	}
	return domain.StrategySpec{Shape: t.Shape, RangeWidth: t.RangeWidth, Funding: funding}
}

// Sizing возвращает сумму SOL на аккаунт.
func (t *Task) Sizing() domain.Sizing {
	return domain.Sizing{NativeLamports: domain.SOLToLamports(t.AmountSol)}
}

// Mint разбирает TokenMint. Пустой минт дает nil.
func (t *Task) Mint() (*solana.PublicKey, error) {
	if t.TokenMint == "" {
		return nil, nil
	}
	pk, err := solana.PublicKeyFromBase58(t.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint %q: %w", t.TokenMint, err)
	}
	return &pk, nil
}

// Validate проверяет корректность параметров задачи
func (t *Task) Validate() error {
	if t.TaskName == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if t.Workflow.NeedsPool() {
		if _, err := solana.PublicKeyFromBase58(t.Pool); err != nil {
			return fmt.Errorf("invalid pool %q: %w", t.Pool, err)
		}
	}
	if _, err := t.Mint(); err != nil {
		return err
	}

	switch t.Workflow {
	case WorkflowOpen, WorkflowReopen, WorkflowOpenToken:
		if err := t.Strategy().Validate(t.Sizing()); err != nil {
			return err
		}
	case WorkflowSwapBuy:
		if t.TokenMint == "" {
			return fmt.Errorf("token mint cannot be empty")
		}
		if t.AmountSol <= 0 {
			return fmt.Errorf("amount must be greater than zero")
		}
	case WorkflowDistribute:
		if t.AmountSol < 0 {
			return fmt.Errorf("amount cannot be negative")
		}
	case WorkflowWait:
		if t.Delay <= 0 {
			return fmt.Errorf("wait step needs a positive delay")
		}
	}
	return nil
}
