// internal/bot/overview.go
package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/ui/report"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Positions lists every DLMM position of the selected accounts, valued in SOL
// and, when the price source answers, in USD.
func (a *App) Positions(ctx context.Context, wallets []string) ([]report.PositionRow, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return nil, err
	}

	perAccount := make([][]domain.Position, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())
	for i, acc := range accounts {
		g.Go(func() error {
			positions, err := a.deps.Chain.ListPositions(gctx, acc)
			if err != nil {
				return err
			}
			perAccount[i] = positions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	usd := a.nativeUSD(ctx)
	pools := newPoolCache(a.deps.Chain)
	var rows []report.PositionRow
	for i, acc := range accounts {
		for _, p := range perAccount[i] {
			row := report.PositionRow{Account: acc.ID, Position: p}
			pool, err := pools.get(ctx, p.Pool)
			if err != nil {
				a.logger.Warn("Pool info unavailable, position left unvalued",
					zap.String("pool", p.Pool.String()), zap.Error(err))
			} else {
				row.ValueSOL = positionValueSOL(&p, pool)
				row.ValueUSD = row.ValueSOL * usd
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ErrNoPoolFinder возвращается, когда поиск пулов не подключён.
var ErrNoPoolFinder = errors.New("pool search is not configured")

// Pools ищет SOL-пулы Meteora для mint. Пустой результат не ошибка.
func (a *App) Pools(ctx context.Context, mint solana.PublicKey) ([]domain.Pool, error) {
	if a.deps.Pools == nil {
		return nil, ErrNoPoolFinder
	}
	pools, err := a.deps.Pools.FindPools(ctx, mint)
	if err != nil {
		return nil, err
	}
	a.logger.Info("🔎 Pools found",
		zap.String("mint", mint.String()),
		zap.Int("count", len(pools)))
	return pools, nil
}

// Balances читает балансы SOL и токенов выбранных аккаунтов. Ошибка чтения
// выводится в строке аккаунта.
func (a *App) Balances(ctx context.Context, wallets []string) ([]report.BalanceRow, error) {
	accounts, err := a.accounts(wallets)
	if err != nil {
		return nil, err
	}

	rows := make([]report.BalanceRow, len(accounts))
	var g errgroup.Group
	g.SetLimit(a.concurrency())
	for i, acc := range accounts {
		g.Go(func() error {
			row := report.BalanceRow{Account: acc.ID, Address: acc.PublicKey.String()}
			lamports, err := a.deps.Funds.NativeBalance(ctx, acc.PublicKey)
			if err != nil {
				row.Err = err
				rows[i] = row
				return nil
			}
			row.SOL = domain.LamportsToSOL(lamports)
			row.Tokens, row.Err = a.deps.Funds.TokenBalances(ctx, acc.PublicKey)
			rows[i] = row
			return nil
		})
	}
	_ = g.Wait()
	return rows, nil
}

func (a *App) concurrency() int {
	if a.cfg.BatchConcurrency > 0 {
		return a.cfg.BatchConcurrency
	}
	return 1
}

// nativeUSD возвращает 0, если цены выключены или котировка не удалась.
func (a *App) nativeUSD(ctx context.Context) float64 {
	if a.deps.Prices == nil {
		return 0
	}
	price, err := a.deps.Prices.NativeUSDPrice(ctx)
	if err != nil {
		a.logger.Debug("SOL price unavailable", zap.Error(err))
		return 0
	}
	return price
}

// positionValueSOL оценивает ликвидность и незабранные комиссии по цене пула.
// CurrentPrice - цена X в единицах Y.
func positionValueSOL(p *domain.Position, pool *domain.Pool) float64 {
	native := domain.LamportsToSOL(p.NativeAmount + p.NativeFee)
	tokens := domain.ToUI(p.TokenAmount+p.TokenFee, p.TokenDecimals)
	if tokens == 0 || pool.CurrentPrice <= 0 {
		return native
	}
	if pool.NativeIsX() {
		return native + tokens/pool.CurrentPrice
	}
	return native + tokens*pool.CurrentPrice
}

type poolCache struct {
	reader domain.PoolReader
	mu     sync.Mutex
	pools  map[solana.PublicKey]*domain.Pool
}

func newPoolCache(reader domain.PoolReader) *poolCache {
	return &poolCache{reader: reader, pools: make(map[solana.PublicKey]*domain.Pool)}
}

func (c *poolCache) get(ctx context.Context, addr solana.PublicKey) (*domain.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools[addr]; ok {
		return p, nil
	}
	p, err := c.reader.PoolInfo(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.pools[addr] = p
	return p, nil
}
