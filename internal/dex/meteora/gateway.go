// internal/dex/meteora/gateway.go
package meteora

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
)

// ErrNoTokenBalance: при открытии в токенах нечего вносить.
var ErrNoTokenBalance = errors.New("no token balance to deposit")

// Chain is the read side of solbc.Client used by the gateway.
type Chain interface {
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
	GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) ([][]byte, error)
	FindProgramAccounts(ctx context.Context, programID solana.PublicKey, filters ...solanarpc.RPCFilter) ([]solbc.RawAccount, error)
	GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]domain.TokenBalance, error)
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// Submitter signs and lands transactions.
type Submitter interface {
	Send(
		ctx context.Context,
		payer solana.PrivateKey,
		instructions []solana.Instruction,
		priority solbc.PriorityConfig,
		signers ...solana.PrivateKey,
	) (solana.Signature, error)
}

// PairSource отдает статистику пула. Может быть nil.
type PairSource interface {
	Pair(ctx context.Context, address solana.PublicKey) (*PairInfo, error)
}

// Config sets the compute budget per transaction kind.
type Config struct {
	OpenPriority  solbc.PriorityConfig
	ClosePriority solbc.PriorityConfig
	ClaimPriority solbc.PriorityConfig
}

// DefaultConfig: 1M micro-lamports на открытие и закрытие, 150k на claim.
func DefaultConfig() Config {
	return Config{
		OpenPriority:  solbc.PriorityConfig{ComputeUnits: 400_000, PriorityFee: 1_000_000},
		ClosePriority: solbc.PriorityConfig{ComputeUnits: 400_000, PriorityFee: 1_000_000},
		ClaimPriority: solbc.PriorityConfig{ComputeUnits: 200_000, PriorityFee: 150_000},
	}
}

// Gateway implements the chain side of the position lifecycle on Meteora DLMM.
type Gateway struct {
	chain    Chain
	sender   Submitter
	pairs    PairSource
	metadata *solbc.TokenMetadataCache
	cfg      Config
	logger   *zap.Logger
}

// NewGateway создает Gateway.
func NewGateway(chain Chain, sender Submitter, pairs PairSource, cfg Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		chain:    chain,
		sender:   sender,
		pairs:    pairs,
		metadata: solbc.NewTokenMetadataCache(chain, logger),
		cfg:      cfg,
		logger:   logger.Named("meteora"),
	}
}

var (
	_ domain.ChainGateway = (*Gateway)(nil)
	_ domain.PoolReader   = (*Gateway)(nil)
	_ domain.FeeClaimer   = (*Gateway)(nil)
)

// PoolInfo merges on-chain pair state with API statistics. API failures are
// logged and the on-chain part is returned alone.
func (g *Gateway) PoolInfo(ctx context.Context, pool solana.PublicKey) (*domain.Pool, error) {
	lb, err := g.loadPair(ctx, pool)
	if err != nil {
		return nil, err
	}
	decX, decY, err := g.pairDecimals(ctx, lb)
	if err != nil {
		return nil, err
	}

	out := &domain.Pool{
		Address:      pool,
		Name:         g.pairName(ctx, lb),
		MintX:        lb.MintX,
		MintY:        lb.MintY,
		BinStep:      lb.BinStep,
		ActiveBin:    lb.ActiveID,
		CurrentPrice: BinPrice(lb.ActiveID, lb.BinStep, decX, decY),
	}

	if g.pairs == nil {
		return out, nil
	}
	info, err := g.pairs.Pair(ctx, pool)
	if err != nil {
		g.logger.Warn("Pool stats unavailable", zap.String("pool", pool.String()), zap.Error(err))
		return out, nil
	}
	if info.Name != "" {
		out.Name = info.Name
	}
	out.BaseFeePct = info.BaseFee()
	out.Volume1h = info.Volume.Hour1
	out.Volume24h = info.TradeVolume24h
	out.Fees24h = info.Fees24h
	out.Liquidity = info.LiquidityUSD()
	return out, nil
}

// GetPosition агрегирует все аккаунты позиций acc в пуле.
func (g *Gateway) GetPosition(ctx context.Context, acc domain.Account, pool solana.PublicKey) (*domain.Position, error) {
	states, err := g.positionsOf(ctx, acc.PublicKey, &pool)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	lb, err := g.loadPair(ctx, pool)
	if err != nil {
		return nil, err
	}
	return g.aggregate(ctx, acc.PublicKey, pool, lb, states)
}

// ListPositions возвращает по одной агрегированной позиции на каждый пул с ликвидностью acc.
func (g *Gateway) ListPositions(ctx context.Context, acc domain.Account) ([]domain.Position, error) {
	states, err := g.positionsOf(ctx, acc.PublicKey, nil)
	if err != nil {
		return nil, err
	}

	byPair := make(map[solana.PublicKey][]*PositionState)
	for _, s := range states {
		byPair[s.LbPair] = append(byPair[s.LbPair], s)
	}

	out := make([]domain.Position, 0, len(byPair))
	for pair, group := range byPair {
		lb, err := g.loadPair(ctx, pair)
		if err != nil {
			return nil, err
		}
		pos, err := g.aggregate(ctx, acc.PublicKey, pair, lb, group)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pool.String() < out[j].Pool.String() })
	return out, nil
}

// OpenPosition создает одностороннюю позицию вокруг активного бина.
func (g *Gateway) OpenPosition(
	ctx context.Context,
	acc domain.Account,
	pool solana.PublicKey,
	sizing domain.Sizing,
	strategy domain.StrategySpec,
) error {
	if err := strategy.Validate(sizing); err != nil {
		return err
	}
	lb, err := g.loadPair(ctx, pool)
	if err != nil {
		return err
	}

	nativeIsX := lb.MintX.Equals(domain.NativeMint)
	lower, upper := strategy.Range(lb.ActiveID, nativeIsX)
	seedIsX := (strategy.Funding == domain.FundingNative) == nativeIsX
	seedMint := lb.MintY
	if seedIsX {
		seedMint = lb.MintX
	}

	amount := sizing.NativeLamports
	if strategy.Funding == domain.FundingToken {
		if amount, err = g.tokenBalance(ctx, acc.PublicKey, seedMint); err != nil {
			return err
		}
	}

	accounts, err := g.liquidityAccounts(acc.PublicKey, pool, lb, lower, upper)
	if err != nil {
		return err
	}
	if err := g.ensureBinArrays(ctx, acc, pool, accounts, lower, upper); err != nil {
		return err
	}

	position := solana.NewWallet().PrivateKey
	accounts.Position = position.PublicKey()

	ixs, err := g.ataInstructions(acc.PublicKey, lb)
	if err != nil {
		return err
	}
	seedAccount := accounts.UserTokenY
	if seedIsX {
		seedAccount = accounts.UserTokenX
	}
	wrapped := seedMint.Equals(domain.NativeMint)
	if wrapped {
		ixs = append(ixs, solbc.WrapSOL(acc.PublicKey, seedAccount, amount)...)
	}

	params := AddLiquidityParams{
		ActiveID: lb.ActiveID,
		MinBin:   lower,
		MaxBin:   upper,
		Strategy: StrategyFor(strategy.Shape),
	}
	if seedIsX {
		params.AmountX = amount
	} else {
		params.AmountY = amount
	}
	ixs = append(ixs,
		NewInitializePositionInstruction(acc.PublicKey, accounts.Position, pool, acc.PublicKey, lower, upper-lower+1),
		NewAddLiquidityByStrategyInstruction(accounts, params),
	)
	if wrapped {
		ixs = append(ixs, solbc.UnwrapSOL(acc.PublicKey, seedAccount))
	}

	g.logger.Info("Opening position",
		zap.String("account", acc.ID),
		zap.String("pool", pool.String()),
		zap.Int32("lower_bin", lower),
		zap.Int32("upper_bin", upper),
		zap.Int32("active_bin", lb.ActiveID),
		zap.Uint64("amount", amount),
		zap.Bool("seed_is_x", seedIsX))

	sig, err := g.sender.Send(ctx, acc.PrivateKey, ixs, g.cfg.OpenPriority, position)
	if err != nil {
		return fmt.Errorf("open position for %s: %w", acc.ID, err)
	}
	g.logger.Info("✅ Position opened",
		zap.String("account", acc.ID),
		zap.String("position", accounts.Position.String()),
		zap.String("signature", sig.String()))
	return nil
}

// ClosePosition withdraws everything, claims fees and closes every position
// account of acc in pool. Failures of individual position accounts are joined.
func (g *Gateway) ClosePosition(ctx context.Context, acc domain.Account, pool solana.PublicKey) error {
	states, err := g.positionsOf(ctx, acc.PublicKey, &pool)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return domain.ErrNoPosition
	}
	lb, err := g.loadPair(ctx, pool)
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range states {
		if err := g.closeOne(ctx, acc, pool, lb, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) closeOne(ctx context.Context, acc domain.Account, pool solana.PublicKey, lb *LbPair, s *PositionState) error {
	accounts, err := g.liquidityAccounts(acc.PublicKey, pool, lb, s.LowerBin, s.UpperBin)
	if err != nil {
		return err
	}
	accounts.Position = s.Address

	ixs, err := g.ataInstructions(acc.PublicKey, lb)
	if err != nil {
		return err
	}
	if !s.IsEmpty() {
		ixs = append(ixs,
			NewRemoveLiquidityByRangeInstruction(accounts, s.LowerBin, s.UpperBin, FullBps),
			NewClaimFeeInstruction(accounts),
		)
	}
	ixs = append(ixs, NewClosePositionInstruction(accounts))
	if wsol, ok := wsolAccount(accounts, lb); ok {
		ixs = append(ixs, solbc.UnwrapSOL(acc.PublicKey, wsol))
	}

	sig, err := g.sender.Send(ctx, acc.PrivateKey, ixs, g.cfg.ClosePriority)
	if err != nil {
		return fmt.Errorf("close position %s for %s: %w", s.Address, acc.ID, err)
	}
	g.logger.Info("✅ Position closed",
		zap.String("account", acc.ID),
		zap.String("position", s.Address.String()),
		zap.Bool("was_empty", s.IsEmpty()),
		zap.String("signature", sig.String()))
	return nil
}

// ClaimFees забирает комиссии всех аккаунтов позиций acc в пуле.
// claimed == false, если забирать было нечего.
func (g *Gateway) ClaimFees(ctx context.Context, acc domain.Account, pool solana.PublicKey) (bool, error) {
	states, err := g.positionsOf(ctx, acc.PublicKey, &pool)
	if err != nil {
		return false, err
	}
	if len(states) == 0 {
		return false, nil
	}
	lb, err := g.loadPair(ctx, pool)
	if err != nil {
		return false, err
	}
	arrays, err := g.loadBinArrays(ctx, pool, states)
	if err != nil {
		return false, err
	}

	claimed := false
	var errs []error
	for _, s := range states {
		amounts := PositionAmounts(s, arrays)
		if amounts.FeeX == 0 && amounts.FeeY == 0 {
			continue
		}

		accounts, err := g.liquidityAccounts(acc.PublicKey, pool, lb, s.LowerBin, s.UpperBin)
		if err != nil {
			return claimed, err
		}
		accounts.Position = s.Address
		ixs, err := g.ataInstructions(acc.PublicKey, lb)
		if err != nil {
			return claimed, err
		}
		ixs = append(ixs, NewClaimFeeInstruction(accounts))
		if wsol, ok := wsolAccount(accounts, lb); ok {
			ixs = append(ixs, solbc.UnwrapSOL(acc.PublicKey, wsol))
		}

		sig, err := g.sender.Send(ctx, acc.PrivateKey, ixs, g.cfg.ClaimPriority)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", s.Address, err))
			continue
		}
		claimed = true
		g.logger.Info("✅ Fees claimed",
			zap.String("account", acc.ID),
			zap.Uint64("fee_x", amounts.FeeX),
			zap.Uint64("fee_y", amounts.FeeY),
			zap.String("signature", sig.String()))
	}
	return claimed, errors.Join(errs...)
}

func (g *Gateway) positionsOf(ctx context.Context, owner solana.PublicKey, pair *solana.PublicKey) ([]*PositionState, error) {
	filters := []solanarpc.RPCFilter{
		{Memcmp: &solanarpc.RPCFilterMemcmp{Offset: 0, Bytes: positionDiscriminator}},
		{Memcmp: &solanarpc.RPCFilterMemcmp{Offset: positionOwnerOffset, Bytes: owner.Bytes()}},
	}
	if pair != nil {
		filters = append(filters, solanarpc.RPCFilter{
			Memcmp: &solanarpc.RPCFilterMemcmp{Offset: positionLbPairOffset, Bytes: pair.Bytes()},
		})
	}

	raw, err := g.chain.FindProgramAccounts(ctx, ProgramID, filters...)
	if err != nil {
		return nil, fmt.Errorf("positions of %s: %w", domain.ShortAddress(owner), err)
	}

	out := make([]*PositionState, 0, len(raw))
	for _, r := range raw {
		s, err := DecodePosition(r.Pubkey, r.Data)
		if err != nil {
			g.logger.Warn("Skipping undecodable position", zap.String("position", r.Pubkey.String()), zap.Error(err))
			continue
		}
		// RPC фильтры не гарантированы у всех провайдеров
		if !s.Owner.Equals(owner) || (pair != nil && !s.LbPair.Equals(*pair)) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *Gateway) loadPair(ctx context.Context, pool solana.PublicKey) (*LbPair, error) {
	data, err := g.chain.GetAccountData(ctx, pool)
	if err != nil {
		if solbc.IsAccountNotFoundError(err) {
			return nil, &domain.ValidationError{Field: "pool", Reason: fmt.Sprintf("%s does not exist", pool)}
		}
		return nil, fmt.Errorf("load pair %s: %w", pool, err)
	}
	lb, err := DecodeLbPair(data)
	if err != nil {
		return nil, &domain.ValidationError{Field: "pool", Reason: err.Error()}
	}
	return lb, nil
}

func (g *Gateway) loadBinArrays(ctx context.Context, pool solana.PublicKey, states []*PositionState) (map[int64]*BinArray, error) {
	seen := make(map[int64]struct{})
	var indexes []int64
	for _, s := range states {
		for _, idx := range []int64{BinArrayIndex(s.LowerBin), BinArrayIndex(s.UpperBin)} {
			if _, ok := seen[idx]; !ok {
				seen[idx] = struct{}{}
				indexes = append(indexes, idx)
			}
		}
	}

	addrs := make([]solana.PublicKey, len(indexes))
	for i, idx := range indexes {
		addr, err := DeriveBinArray(pool, idx)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	data, err := g.chain.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("load bin arrays: %w", err)
	}

	out := make(map[int64]*BinArray, len(indexes))
	for i, d := range data {
		if d == nil {
			continue
		}
		arr, err := DecodeBinArray(d)
		if err != nil {
			return nil, fmt.Errorf("bin array %d: %w", indexes[i], err)
		}
		out[arr.Index] = arr
	}
	return out, nil
}

func (g *Gateway) aggregate(
	ctx context.Context,
	owner, pool solana.PublicKey,
	lb *LbPair,
	states []*PositionState,
) (*domain.Position, error) {
	arrays, err := g.loadBinArrays(ctx, pool, states)
	if err != nil {
		return nil, err
	}
	decX, decY, err := g.pairDecimals(ctx, lb)
	if err != nil {
		return nil, err
	}

	nativeIsX := lb.MintX.Equals(domain.NativeMint)
	pos := &domain.Position{
		Owner:     owner,
		Pool:      pool,
		PoolName:  g.pairName(ctx, lb),
		ActiveBin: lb.ActiveID,
		LowerBin:  states[0].LowerBin,
		UpperBin:  states[0].UpperBin,
	}
	if nativeIsX {
		pos.TokenMint, pos.TokenDecimals = lb.MintY, decY
	} else {
		pos.TokenMint, pos.TokenDecimals = lb.MintX, decX
	}

	for _, s := range states {
		pos.Accounts = append(pos.Accounts, s.Address)
		pos.LowerBin = min(pos.LowerBin, s.LowerBin)
		pos.UpperBin = max(pos.UpperBin, s.UpperBin)

		a := PositionAmounts(s, arrays)
		if nativeIsX {
			pos.NativeAmount += a.X
			pos.TokenAmount += a.Y
			pos.NativeFee += a.FeeX
			pos.TokenFee += a.FeeY
		} else {
			pos.TokenAmount += a.X
			pos.NativeAmount += a.Y
			pos.TokenFee += a.FeeX
			pos.NativeFee += a.FeeY
		}
	}

	pos.LowerPrice = BinPrice(pos.LowerBin, lb.BinStep, decX, decY)
	pos.UpperPrice = BinPrice(pos.UpperBin, lb.BinStep, decX, decY)
	return pos, nil
}

func (g *Gateway) pairDecimals(ctx context.Context, lb *LbPair) (uint8, uint8, error) {
	decX, err := g.metadata.Decimals(ctx, lb.MintX)
	if err != nil {
		return 0, 0, err
	}
	decY, err := g.metadata.Decimals(ctx, lb.MintY)
	if err != nil {
		return 0, 0, err
	}
	return decX, decY, nil
}

func (g *Gateway) pairName(ctx context.Context, lb *LbPair) string {
	return g.symbol(ctx, lb.MintX) + "-" + g.symbol(ctx, lb.MintY)
}

func (g *Gateway) symbol(ctx context.Context, mint solana.PublicKey) string {
	md, err := g.metadata.Get(ctx, mint)
	if err != nil || md.Symbol == "" {
		return domain.ShortAddress(mint)
	}
	return md.Symbol
}

func (g *Gateway) tokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	balances, err := g.chain.GetTokenBalances(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("token balances: %w", err)
	}
	var total uint64
	for _, b := range balances {
		if b.Mint.Equals(mint) {
			total += b.Amount
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("%s: %w", domain.ShortAddress(mint), ErrNoTokenBalance)
	}
	return total, nil
}

func (g *Gateway) liquidityAccounts(owner, pool solana.PublicKey, lb *LbPair, lower, upper int32) (*LiquidityAccounts, error) {
	progX, progY := lb.TokenPrograms()
	userX, err := solbc.AssociatedTokenAddress(owner, lb.MintX, progX)
	if err != nil {
		return nil, err
	}
	userY, err := solbc.AssociatedTokenAddress(owner, lb.MintY, progY)
	if err != nil {
		return nil, err
	}

	lowerIdx, upperIdx := BinArrayIndex(lower), BinArrayIndex(upper)
	bal, err := DeriveBinArray(pool, lowerIdx)
	if err != nil {
		return nil, err
	}
	bau, err := DeriveBinArray(pool, upperIdx)
	if err != nil {
		return nil, err
	}
	ext, err := bitmapExtensionFor(pool, lowerIdx, upperIdx)
	if err != nil {
		return nil, err
	}

	return &LiquidityAccounts{
		LbPair:          pool,
		BitmapExtension: ext,
		UserTokenX:      userX,
		UserTokenY:      userY,
		ReserveX:        lb.ReserveX,
		ReserveY:        lb.ReserveY,
		MintX:           lb.MintX,
		MintY:           lb.MintY,
		BinArrayLower:   bal,
		BinArrayUpper:   bau,
		Sender:          owner,
		TokenXProgram:   progX,
		TokenYProgram:   progY,
	}, nil
}

func (g *Gateway) ataInstructions(owner solana.PublicKey, lb *LbPair) ([]solana.Instruction, error) {
	progX, progY := lb.TokenPrograms()
	ixX, _, err := solbc.CreateATAIdempotent(owner, owner, lb.MintX, progX)
	if err != nil {
		return nil, err
	}
	ixY, _, err := solbc.CreateATAIdempotent(owner, owner, lb.MintY, progY)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{ixX, ixY}, nil
}

// ensureBinArrays инициализирует еще не созданные bin array для [lower, upper].
func (g *Gateway) ensureBinArrays(
	ctx context.Context,
	acc domain.Account,
	pool solana.PublicKey,
	accounts *LiquidityAccounts,
	lower, upper int32,
) error {
	addrs := []solana.PublicKey{accounts.BinArrayLower}
	indexes := []int64{BinArrayIndex(lower)}
	if !accounts.BinArrayUpper.Equals(accounts.BinArrayLower) {
		addrs = append(addrs, accounts.BinArrayUpper)
		indexes = append(indexes, BinArrayIndex(upper))
	}

	data, err := g.chain.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return fmt.Errorf("check bin arrays: %w", err)
	}
	var ixs []solana.Instruction
	for i, d := range data {
		if d == nil {
			ixs = append(ixs, NewInitializeBinArrayInstruction(pool, addrs[i], acc.PublicKey, indexes[i]))
		}
	}
	if len(ixs) == 0 {
		return nil
	}

	g.logger.Info("Initializing bin arrays", zap.String("account", acc.ID), zap.Int("count", len(ixs)))
	if _, err := g.sender.Send(ctx, acc.PrivateKey, ixs, g.cfg.OpenPriority); err != nil {
		return fmt.Errorf("initialize bin arrays: %w", err)
	}
	return nil
}

// wsolAccount возвращает WSOL-аккаунт пользователя, если в паре есть SOL.
func wsolAccount(accounts *LiquidityAccounts, lb *LbPair) (solana.PublicKey, bool) {
	switch {
	case lb.MintX.Equals(domain.NativeMint):
		return accounts.UserTokenX, true
	case lb.MintY.Equals(domain.NativeMint):
		return accounts.UserTokenY, true
	}
	return solana.PublicKey{}, false
}
