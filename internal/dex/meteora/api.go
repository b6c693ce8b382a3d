// internal/dex/meteora/api.go
package meteora

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/httpx"
)

// DefaultAPIURL - публичный DLMM API.
const DefaultAPIURL = "https://dlmm-api.meteora.ag"

// PairInfo is the pair payload of GET /pair/{address}.
type PairInfo struct {
	Address           string  `json:"address"`
	Name              string  `json:"name"`
	MintX             string  `json:"mint_x"`
	MintY             string  `json:"mint_y"`
	BinStep           uint16  `json:"bin_step"`
	BaseFeePercentage string  `json:"base_fee_percentage"`
	Liquidity         string  `json:"liquidity"`
	TradeVolume24h    float64 `json:"trade_volume_24h"`
	Fees24h           float64 `json:"fees_24h"`
	CurrentPrice      float64 `json:"current_price"`
	Volume            Volume  `json:"volume"`
}

// Volume - объёмы торгов по окнам, в USD.
type Volume struct {
	Min30 float64 `json:"min_30"`
	Hour1 float64 `json:"hour_1"`
	Hour2 float64 `json:"hour_2"`
}

// PoolFilter отсекает пулы, на которых позиция не окупится.
type PoolFilter struct {
	MinBinStep  uint16
	MinBaseFee  float64
	MinVolume1h float64
}

// DefaultPoolFilter: шаг бина от 80, базовая комиссия от 0.8% и хоть какой-то объём за час.
func DefaultPoolFilter() PoolFilter {
	return PoolFilter{MinBinStep: 80, MinBaseFee: 0.8}
}

// Match проверяет пару против фильтра. Объём за час должен быть строго больше порога.
func (f PoolFilter) Match(p PairInfo) bool {
	return p.BinStep >= f.MinBinStep && p.BaseFee() >= f.MinBaseFee && p.Volume.Hour1 > f.MinVolume1h
}

const searchPageSize = 50

type pairsPage struct {
	Pairs []PairInfo `json:"pairs"`
	Total int        `json:"total"`
}

// BaseFee разбирает строку с процентом комиссии.
func (p PairInfo) BaseFee() float64 {
	return parseFloat(p.BaseFeePercentage)
}

// LiquidityUSD разбирает строку ликвидности.
func (p PairInfo) LiquidityUSD() float64 {
	return parseFloat(p.Liquidity)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// API читает метаданные пар из DLMM HTTP API.
type API struct {
	http    *httpx.Client
	baseURL string
}

// NewAPI creates an API client. An empty baseURL selects DefaultAPIURL.
func NewAPI(client *httpx.Client, baseURL string) *API {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &API{http: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Pair возвращает метаданные пары по адресу.
func (a *API) Pair(ctx context.Context, address solana.PublicKey) (*PairInfo, error) {
	var out PairInfo
	if err := a.http.GetJSON(ctx, fmt.Sprintf("%s/pair/%s", a.baseURL, address), nil, &out); err != nil {
		return nil, fmt.Errorf("pair %s: %w", address, err)
	}
	return &out, nil
}

// SearchPairs возвращает первую страницу пар, в которых встречается mint.
func (a *API) SearchPairs(ctx context.Context, mint solana.PublicKey) ([]PairInfo, error) {
	q := url.Values{}
	q.Set("search_term", mint.String())
	q.Set("limit", strconv.Itoa(searchPageSize))
	q.Set("page", "0")

	var page pairsPage
	if err := a.http.GetJSON(ctx, a.baseURL+"/pair/all_with_pagination?"+q.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("search pairs %s: %w", mint, err)
	}
	return page.Pairs, nil
}

// FindPools ищет SOL-пулы токена, прошедшие DefaultPoolFilter, по убыванию ликвидности.
func (a *API) FindPools(ctx context.Context, mint solana.PublicKey) ([]domain.Pool, error) {
	return a.FindPoolsWith(ctx, mint, DefaultPoolFilter())
}

// FindPoolsWith то же самое с произвольным фильтром.
func (a *API) FindPoolsWith(ctx context.Context, mint solana.PublicKey, filter PoolFilter) ([]domain.Pool, error) {
	pairs, err := a.SearchPairs(ctx, mint)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Pool, 0, len(pairs))
	for _, p := range pairs {
		pool, ok := nativePool(p, mint)
		if !ok || !filter.Match(p) {
			continue
		}
		out = append(out, pool)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Liquidity > out[j].Liquidity })
	return out, nil
}

// nativePool переводит пару в domain.Pool, если это пара mint/SOL. Пары с битыми ключами пропускаем.
func nativePool(p PairInfo, mint solana.PublicKey) (domain.Pool, bool) {
	addr, err := solana.PublicKeyFromBase58(p.Address)
	if err != nil {
		return domain.Pool{}, false
	}
	mintX, errX := solana.PublicKeyFromBase58(p.MintX)
	mintY, errY := solana.PublicKeyFromBase58(p.MintY)
	if errX != nil || errY != nil {
		return domain.Pool{}, false
	}
	native := domain.NativeMint
	if !(mintX.Equals(mint) && mintY.Equals(native)) && !(mintX.Equals(native) && mintY.Equals(mint)) {
		return domain.Pool{}, false
	}
	return domain.Pool{
		Address:      addr,
		Name:         p.Name,
		MintX:        mintX,
		MintY:        mintY,
		BinStep:      p.BinStep,
		BaseFeePct:   p.BaseFee(),
		Volume1h:     p.Volume.Hour1,
		Volume24h:    p.TradeVolume24h,
		Fees24h:      p.Fees24h,
		Liquidity:    p.LiquidityUSD(),
		CurrentPrice: p.CurrentPrice,
	}, true
}
