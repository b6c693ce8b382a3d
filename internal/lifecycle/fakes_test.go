package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/batch"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
)

const testPool = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

// fakeChain - DLMM в памяти с задержками и сбоями по сценарию.
type fakeChain struct {
	mu sync.Mutex

	positions map[string]*domain.Position
	// staleReads: чтения, которые после закрытия еще видят старую позицию.
	staleReads map[string]int
	stale      map[string]*domain.Position
	// lagReads: чтения, которые еще не видят только что открытую позицию.
	lagReads map[string]int
	// readErrs: сколько следующих вызовов GetPosition упадут.
	readErrs map[string]int

	openErr  map[string]error
	closeErr map[string]error

	opens      map[string]int
	closes     map[string]int
	strategies map[string]domain.StrategySpec
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		positions:  make(map[string]*domain.Position),
		staleReads: make(map[string]int),
		stale:      make(map[string]*domain.Position),
		lagReads:   make(map[string]int),
		readErrs:   make(map[string]int),
		openErr:    make(map[string]error),
		closeErr:   make(map[string]error),
		opens:      make(map[string]int),
		closes:     make(map[string]int),
		strategies: make(map[string]domain.StrategySpec),
	}
}

func (f *fakeChain) hold(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.positions[id] = &domain.Position{LowerBin: -68, UpperBin: 0, NativeAmount: 1}
	}
}

func (f *fakeChain) GetPosition(_ context.Context, acc domain.Account, _ solana.PublicKey) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErrs[acc.ID] > 0 {
		f.readErrs[acc.ID]--
		return nil, domain.Transient("get position", errors.New("429 Too Many Requests"))
	}
	if f.staleReads[acc.ID] > 0 && f.stale[acc.ID] != nil {
		f.staleReads[acc.ID]--
		cp := *f.stale[acc.ID]
		return &cp, nil
	}
	pos := f.positions[acc.ID]
	if pos == nil {
		return nil, nil
	}
	if f.lagReads[acc.ID] > 0 {
		f.lagReads[acc.ID]--
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (f *fakeChain) OpenPosition(_ context.Context, acc domain.Account, _ solana.PublicKey, _ domain.Sizing, strategy domain.StrategySpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens[acc.ID]++
	if err := f.openErr[acc.ID]; err != nil {
		return err
	}
	f.positions[acc.ID] = &domain.Position{LowerBin: 0, UpperBin: strategy.RangeWidth, NativeAmount: 1}
	f.strategies[acc.ID] = strategy
	return nil
}

func (f *fakeChain) ClosePosition(_ context.Context, acc domain.Account, _ solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes[acc.ID]++
	if err := f.closeErr[acc.ID]; err != nil {
		return err
	}
	old := f.positions[acc.ID]
	if old == nil {
		return domain.ErrNoPosition
	}
	delete(f.positions, acc.ID)
	if f.staleReads[acc.ID] > 0 {
		f.stale[acc.ID] = old
	}
	return nil
}

func (f *fakeChain) ListPositions(_ context.Context, acc domain.Account) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pos := f.positions[acc.ID]; pos != nil {
		return []domain.Position{*pos}, nil
	}
	return nil, nil
}

func (f *fakeChain) count(m map[string]int, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[id]
}

func (f *fakeChain) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[id] != nil
}

func testAccounts(ids ...string) []domain.Account {
	out := make([]domain.Account, len(ids))
	for i, id := range ids {
		out[i] = domain.Account{ID: id, PublicKey: solana.NewWallet().PublicKey()}
	}
	return out
}

func testConfig() Config {
	return Config{
		OpenSettle:    time.Millisecond,
		RemoveSettle:  time.Millisecond,
		RepollDelay:   time.Millisecond,
		MaxRounds:     5,
		VerifyTries:   3,
		VerifyBackoff: time.Millisecond,
	}
}

func newTestController(chain domain.ChainGateway, policy RetryPolicy, logger *zap.Logger) *Controller {
	exec := batch.NewExecutor(logger, batch.Options{})
	return NewController(chain, exec, policy, testConfig(), nil, logger)
}

var nativeStrategy = domain.StrategySpec{Shape: domain.ShapeFlat, RangeWidth: 68, Funding: domain.FundingNative}
var oneSOL = domain.Sizing{NativeLamports: domain.LamportsPerSOL}
