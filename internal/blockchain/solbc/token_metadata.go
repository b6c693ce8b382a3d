// internal/blockchain/solbc/token_metadata.go
package solbc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const metadataTTL = 30 * time.Minute

// TokenMetadata хранит информацию о токене
type TokenMetadata struct {
	Decimals  uint8
	Symbol    string
	UpdatedAt time.Time
}

// MintReader is the part of Client the cache needs.
type MintReader interface {
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// TokenMetadataCache кэширует decimals и символы минтов.
type TokenMetadataCache struct {
	cache  sync.Map
	reader MintReader
	logger *zap.Logger
	now    func() time.Time
}

func NewTokenMetadataCache(reader MintReader, logger *zap.Logger) *TokenMetadataCache {
	return &TokenMetadataCache{
		reader: reader,
		logger: logger.Named("token-metadata"),
		now:    time.Now,
	}
}

// Get возвращает метаданные минта, читая цепь только при промахе кэша.
func (c *TokenMetadataCache) Get(ctx context.Context, mint solana.PublicKey) (*TokenMetadata, error) {
	if md, ok := c.fromCache(mint); ok {
		return md, nil
	}

	decimals, err := c.reader.GetMintDecimals(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", mint, err)
	}

	md := &TokenMetadata{
		Decimals:  decimals,
		Symbol:    knownSymbol(mint),
		UpdatedAt: c.now(),
	}
	c.cache.Store(mint, md)

	c.logger.Debug("token metadata retrieved",
		zap.String("mint", mint.String()),
		zap.Uint8("decimals", md.Decimals),
		zap.String("symbol", md.Symbol))
	return md, nil
}

// Decimals is a shortcut for Get(...).Decimals.
func (c *TokenMetadataCache) Decimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	md, err := c.Get(ctx, mint)
	if err != nil {
		return 0, err
	}
	return md.Decimals, nil
}

func (c *TokenMetadataCache) fromCache(mint solana.PublicKey) (*TokenMetadata, bool) {
	v, ok := c.cache.Load(mint)
	if !ok {
		return nil, false
	}
	md := v.(*TokenMetadata)
	if c.now().Sub(md.UpdatedAt) >= metadataTTL {
		c.cache.Delete(mint)
		return nil, false
	}
	return md, true
}

func knownSymbol(mint solana.PublicKey) string {
	switch mint.String() {
	case "So11111111111111111111111111111111111111112":
		return "SOL"
	case "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v":
		return "USDC"
	case "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB":
		return "USDT"
	case "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263":
		return "BONK"
	}
	return ""
}
