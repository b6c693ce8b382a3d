// internal/dex/jupiter/api.go
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/httpx"
)

const (
	defaultLiteURL = "https://lite-api.jup.ag/swap/v1"
	defaultProURL  = "https://api.jup.ag/swap/v1"
)

// Quote - часть ответа котировки, которую читает бот. Полный ответ хранится в
// Raw: эндпоинт swap ждет его обратно без изменений.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`

	Raw json.RawMessage `json:"-"`
}

// OutAmountUint разбирает OutAmount.
func (q *Quote) OutAmountUint() uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(q.OutAmount), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// API talks to the Jupiter swap API.
type API struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

// NewAPI создает клиент API. С apiKey используется pro-эндпоинт,
// если baseURL не задан явно.
func NewAPI(client *httpx.Client, baseURL, apiKey string) *API {
	apiKey = strings.TrimSpace(apiKey)
	if baseURL == "" {
		baseURL = defaultLiteURL
		if apiKey != "" {
			baseURL = defaultProURL
		}
	}
	return &API{http: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (a *API) headers() map[string]string {
	if a.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": a.apiKey}
}

// Quote запрашивает лучший маршрут обмена amount из input в output.
func (a *API) Quote(ctx context.Context, input, output solana.PublicKey, amount uint64, slippageBps int) (*Quote, error) {
	vals := url.Values{}
	vals.Set("inputMint", input.String())
	vals.Set("outputMint", output.String())
	vals.Set("amount", strconv.FormatUint(amount, 10))
	vals.Set("slippageBps", strconv.Itoa(slippageBps))

	var raw json.RawMessage
	if err := a.http.GetJSON(ctx, a.baseURL+"/quote?"+vals.Encode(), a.headers(), &raw); err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if q.OutAmountUint() == 0 {
		return nil, fmt.Errorf("quote %s -> %s: no route", input, output)
	}
	q.Raw = raw
	return &q, nil
}

// SwapTransaction returns the unsigned transaction executing quote for user.
func (a *API) SwapTransaction(ctx context.Context, quote *Quote, user solana.PublicKey, priorityLamports uint64) (*solana.Transaction, error) {
	req := swapRequest{
		QuoteResponse:             quote.Raw,
		UserPublicKey:             user.String(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: priorityLamports,
	}
	var resp swapResponse
	if err := a.http.PostJSON(ctx, a.baseURL+"/swap", req, a.headers(), &resp); err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("swap: %w", httpx.ErrEmptyResponse)
	}
	tx, err := solana.TransactionFromBase64(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	return tx, nil
}

// USDCMint - минт, в котором котируется цена SOL.
var USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

// NativeUSDPrice котирует 1 SOL в USDC.
func (a *API) NativeUSDPrice(ctx context.Context) (float64, error) {
	q, err := a.Quote(ctx, solana.SolMint, USDCMint, 1_000_000_000, 50)
	if err != nil {
		return 0, fmt.Errorf("sol price: %w", err)
	}
	return float64(q.OutAmountUint()) / 1e6, nil
}
