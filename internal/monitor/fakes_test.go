package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/batch"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/rebalance"
	"go.uber.org/zap"
)

const testPool = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

var testMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

// fakeChain keeps one position per account. The active bin is shared by the
// whole pool and applied at read time.
type fakeChain struct {
	mu sync.Mutex

	active    int32
	positions map[string]*domain.Position
	readErrs  map[string]int
	closeErr  map[string]error

	opens  map[string]int
	closes map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		positions: make(map[string]*domain.Position),
		readErrs:  make(map[string]int),
		closeErr:  make(map[string]error),
		opens:     make(map[string]int),
		closes:    make(map[string]int),
	}
}

func (f *fakeChain) place(id string, pos domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[id] = &pos
}

func (f *fakeChain) setActive(bin int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = bin
}

func (f *fakeChain) GetPosition(_ context.Context, acc domain.Account, _ solana.PublicKey) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErrs[acc.ID] > 0 {
		f.readErrs[acc.ID]--
		return nil, domain.Transient("get position", errors.New("503 Service Unavailable"))
	}
	pos := f.positions[acc.ID]
	if pos == nil {
		return nil, nil
	}
	cp := *pos
	cp.ActiveBin = f.active
	return &cp, nil
}

func (f *fakeChain) OpenPosition(_ context.Context, acc domain.Account, _ solana.PublicKey, _ domain.Sizing, strategy domain.StrategySpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens[acc.ID]++
	f.positions[acc.ID] = &domain.Position{
		LowerBin:     f.active,
		UpperBin:     f.active + strategy.RangeWidth,
		NativeAmount: 1,
		TokenMint:    testMint,
	}
	return nil
}

func (f *fakeChain) ClosePosition(_ context.Context, acc domain.Account, _ solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes[acc.ID]++
	if err := f.closeErr[acc.ID]; err != nil {
		return err
	}
	if f.positions[acc.ID] == nil {
		return domain.ErrNoPosition
	}
	delete(f.positions, acc.ID)
	return nil
}

func (f *fakeChain) ListPositions(context.Context, domain.Account) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeChain) count(m map[string]int, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[id]
}

// fakeFunds is an in-memory token ledger serving the rebalance, swap and
// balance gateways at once.
type fakeFunds struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]map[solana.PublicKey]uint64
	sells    map[string]int
	moves    map[string]int
}

func newFakeFunds() *fakeFunds {
	return &fakeFunds{
		balances: make(map[solana.PublicKey]map[solana.PublicKey]uint64),
		sells:    make(map[string]int),
		moves:    make(map[string]int),
	}
}

func (f *fakeFunds) credit(owner solana.PublicKey, mint solana.PublicKey, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[owner] == nil {
		f.balances[owner] = make(map[solana.PublicKey]uint64)
	}
	f.balances[owner][mint] += amount
}

func (f *fakeFunds) ConsolidateTokens(_ context.Context, src domain.Account, dst solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves[src.ID]++
	if f.balances[dst] == nil {
		f.balances[dst] = make(map[solana.PublicKey]uint64)
	}
	for mint, amount := range f.balances[src.PublicKey] {
		f.balances[dst][mint] += amount
	}
	delete(f.balances, src.PublicKey)
	return nil
}

func (f *fakeFunds) ConsolidateNative(context.Context, domain.Account, solana.PublicKey) error {
	return nil
}

func (f *fakeFunds) DistributeNative(context.Context, domain.Account, []solana.PublicKey, uint64) error {
	return nil
}

func (f *fakeFunds) SellAll(_ context.Context, acc domain.Account, mint *solana.PublicKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells[acc.ID]++
	for m := range f.balances[acc.PublicKey] {
		if mint == nil || m.Equals(*mint) {
			delete(f.balances[acc.PublicKey], m)
		}
	}
	return nil
}

func (f *fakeFunds) Buy(context.Context, domain.Account, solana.PublicKey, uint64) error {
	return nil
}

func (f *fakeFunds) NativeBalance(context.Context, solana.PublicKey) (uint64, error) {
	return 0, nil
}

func (f *fakeFunds) TokenBalances(_ context.Context, owner solana.PublicKey) ([]domain.TokenBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TokenBalance
	for mint, amount := range f.balances[owner] {
		out = append(out, domain.TokenBalance{Mint: mint, Amount: amount, Decimals: 6})
	}
	return out, nil
}

func (f *fakeFunds) held(owner solana.PublicKey) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for _, amount := range f.balances[owner] {
		total += amount
	}
	return total
}

func (f *fakeFunds) soldBy(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sells[id]
}

// recorder replaces the daemon's sleep. hook runs on every call and may
// cancel the context to stop the run.
type recorder struct {
	mu    sync.Mutex
	calls []time.Duration
	hook  func(d time.Duration, n int)
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	n := 0
	for _, c := range r.calls {
		if c == d {
			n++
		}
	}
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(d, n)
	}
	return ctx.Err()
}

func (r *recorder) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == d {
			n++
		}
	}
	return n
}

func testAccounts(ids ...string) []domain.Account {
	out := make([]domain.Account, len(ids))
	for i, id := range ids {
		out[i] = domain.Account{ID: id, PublicKey: solana.NewWallet().PublicKey()}
	}
	return out
}

// Distinct durations let the recorder tell the loops apart.
func testConfig() Config {
	return Config{
		PollInterval:    20 * time.Second,
		ErrorBackoff:    10 * time.Second,
		WatchInterval:   30 * time.Second,
		RotateThreshold: 5,
		LegAttempts:     3,
		LegBackoff:      time.Millisecond,
		CloseSettle:     2 * time.Millisecond,
		OpenSettle:      3 * time.Millisecond,
		RotateShape:     domain.ShapeSkewed,
		RotateWidth:     domain.DefaultRangeWidth,
	}
}

func newTestDaemon(chain *fakeChain, funds *fakeFunds, rec *recorder, logger *zap.Logger) *Daemon {
	var helper *rebalance.Helper
	if funds != nil {
		helper = rebalance.NewHelper(funds, funds, funds, rebalance.RetryConfig{
			Attempts: 3,
			Delay:    time.Millisecond,
			DustUI:   5,
		}, logger)
	}
	d := NewDaemon(chain, helper, batch.NewExecutor(logger, batch.Options{}), testConfig(), nil, logger)
	d.sleep = rec.sleep
	return d
}

func outOfRange() domain.Position {
	return domain.Position{LowerBin: -68, UpperBin: 0, NativeAmount: 0, TokenMint: testMint}
}

func inRange() domain.Position {
	return domain.Position{LowerBin: -68, UpperBin: 0, NativeAmount: 1, TokenMint: testMint}
}
